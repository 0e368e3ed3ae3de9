package scraper

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/engine"
)

// requestIdleWindow is how long the network must stay quiet for the
// network-idle wait to return.
const requestIdleWindow = 500 * time.Millisecond

const closeTimeout = 5 * time.Second

// Session is one incognito browser context with a single page.
type Session struct {
	browser   *rod.Browser // the incognito context
	page      *rod.Page    // bound to the session lifetime; rebind per call
	router    *rod.HijackRouter
	contextID proto.BrowserBrowserContextID
	cfg       config.EngineConfig
	cancel    context.CancelFunc // ends the page's event stream
	closeOnce sync.Once
}

var _ engine.Session = (*Session)(nil)

// newSession opens an isolated context and a blank page with the stealth
// countermeasures installed. On failure nothing is left open.
//
// rod ties a page's event stream to the context it was created with, so the
// page is created on a context that lives until Close; ctx only bounds the
// setup calls.
func newSession(ctx context.Context, b *Browser) (_ *Session, err error) {
	incognito, err := b.rod.Context(ctx).Incognito()
	if err != nil {
		return nil, err
	}

	life, cancel := context.WithCancel(context.Background())
	s := &Session{
		browser:   incognito.Context(life),
		contextID: incognito.BrowserContextID,
		cfg:       b.cfg,
		cancel:    cancel,
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	stop := context.AfterFunc(ctx, cancel)
	defer func() {
		if !stop() && err == nil {
			err = context.Cause(ctx)
		}
	}()

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}
	s.page = page

	if err := applyStealth(page, b.cfg); err != nil {
		return nil, err
	}
	s.router = setupHijack(page, b.cfg.BlockedResourceTypes)
	return s, nil
}

// Navigate implements engine.Session. For network-idle the idle listener is
// armed before navigation so early requests are not missed.
func (s *Session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)

	switch s.cfg.WaitMode {
	case config.WaitNetworkIdle:
		waitIdle := p.WaitRequestIdle(requestIdleWindow, nil, nil, nil)
		if err := p.Navigate(url); err != nil {
			return err
		}
		waitIdle()
		return ctx.Err()
	default:
		if err := p.Navigate(url); err != nil {
			return err
		}
		return p.Wait(rod.Eval(`() => document.readyState !== 'loading'`))
	}
}

// Locate implements engine.Session.
func (s *Session) Locate(ctx context.Context, t engine.Target) (engine.Element, error) {
	el, err := s.page.Context(ctx).Element(t.Selector())
	if err != nil {
		return nil, err
	}
	return &Element{el: el, page: s.page}, nil
}

// Find implements engine.Session.
func (s *Session) Find(ctx context.Context, t engine.Target) (engine.Element, bool, error) {
	has, el, err := s.page.Context(ctx).Has(t.Selector())
	if err != nil || !has {
		return nil, false, err
	}
	return &Element{el: el, page: s.page}, true, nil
}

// Text implements engine.Session.
func (s *Session) Text(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.body ? document.body.innerText : ''`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// HTML implements engine.Session.
func (s *Session) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

// Screenshot implements engine.Session.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Close implements engine.Session. It disposes the browser context, which
// also closes its page.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.router != nil {
			_ = s.router.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if s.page != nil {
			_ = s.page.Context(ctx).Close()
		}
		err = proto.TargetDisposeBrowserContext{BrowserContextID: s.contextID}.Call(s.browser.Context(ctx))
		s.cancel()
	})
	return err
}

// Element wraps a rod element.
type Element struct {
	el   *rod.Element
	page *rod.Page
}

var _ engine.Element = (*Element)(nil)

// WaitVisible implements engine.Element.
func (e *Element) WaitVisible(ctx context.Context) error {
	return e.el.Context(ctx).WaitVisible()
}

// Click implements engine.Element.
func (e *Element) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

// Type implements engine.Element. Printable ASCII goes through real key
// events; anything else is inserted as composed text.
func (e *Element) Type(ctx context.Context, text string, delay time.Duration) error {
	if err := e.Click(ctx); err != nil {
		return err
	}
	p := e.page.Context(ctx)
	for i, r := range text {
		if i > 0 && delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
		var err error
		if r >= 0x20 && r < 0x7f {
			err = p.Keyboard.Type(input.Key(r))
		} else {
			err = p.InsertText(string(r))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SetValue implements engine.Element.
func (e *Element) SetValue(ctx context.Context, text string) error {
	_, err := e.el.Context(ctx).Eval(`function (v) {
		this.value = v;
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, text)
	return err
}

// OuterHTML implements engine.Element.
func (e *Element) OuterHTML(ctx context.Context) (string, error) {
	return e.el.Context(ctx).HTML()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
