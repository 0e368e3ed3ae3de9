// Package enginetest provides in-memory engine doubles that serve static
// HTML fixtures and count every open and close, for tests of code built on
// package engine.
package enginetest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/engine"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("enginetest: session closed")

	// ErrLost is returned by operations on a killed browser.
	ErrLost = errors.New("enginetest: browser connection lost")
)

// PNG is the screenshot returned when a fixture does not set one.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Fixture describes the registry page a fake session serves.
type Fixture struct {
	// Form is the HTML loaded by Navigate.
	Form string

	// Result replaces the document once the submit control is clicked.
	// Empty keeps the form page.
	Result string

	// ResultDelay postpones the switch to Result after submit.
	ResultDelay time.Duration

	// NavigateErr, if set, is returned by every Navigate.
	NavigateErr error

	Screenshot []byte
}

// Counts is a snapshot of resource bookkeeping.
type Counts struct {
	Launched       int
	BrowsersClosed int
	SessionsOpened int
	SessionsClosed int
}

// OpenSessions is the number of sessions not yet closed.
func (c Counts) OpenSessions() int { return c.SessionsOpened - c.SessionsClosed }

// OpenBrowsers is the number of browsers not yet closed.
func (c Counts) OpenBrowsers() int { return c.Launched - c.BrowsersClosed }

// Launcher is a fake engine.Launcher. Set the exported fields before use.
type Launcher struct {
	Fixture    Fixture
	LaunchErr  error
	SessionErr error

	mu       sync.Mutex
	counts   Counts
	browsers []*Browser
	sessions []*Session
}

var _ engine.Launcher = (*Launcher)(nil)

// Launch implements engine.Launcher.
func (l *Launcher) Launch(ctx context.Context, _ config.EngineConfig) (engine.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	b := &Browser{l: l, done: make(chan struct{})}
	l.browsers = append(l.browsers, b)
	l.counts.Launched++
	return b, nil
}

// Counts returns the current bookkeeping snapshot.
func (l *Launcher) Counts() Counts {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts
}

// Browsers returns every browser launched so far.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// Sessions returns every session opened so far.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}

// SetFixture swaps the fixture used by sessions opened from now on.
func (l *Launcher) SetFixture(f Fixture) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Fixture = f
}

// Browser is a fake engine.Browser.
type Browser struct {
	l        *Launcher
	done     chan struct{}
	doneOnce sync.Once
	closed   bool
}

// NewSession implements engine.Browser.
func (b *Browser) NewSession(ctx context.Context) (engine.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.isLost() {
		return nil, ErrLost
	}
	b.l.mu.Lock()
	defer b.l.mu.Unlock()
	if b.l.SessionErr != nil {
		return nil, b.l.SessionErr
	}
	s := &Session{b: b, fixture: b.l.Fixture}
	b.l.sessions = append(b.l.sessions, s)
	b.l.counts.SessionsOpened++
	return s, nil
}

// Done implements engine.Browser.
func (b *Browser) Done() <-chan struct{} { return b.done }

// Close implements engine.Browser.
func (b *Browser) Close() error {
	b.l.mu.Lock()
	if !b.closed {
		b.closed = true
		b.l.counts.BrowsersClosed++
	}
	b.l.mu.Unlock()
	b.doneOnce.Do(func() { close(b.done) })
	return nil
}

// Kill simulates a crash of the engine process.
func (b *Browser) Kill() {
	b.doneOnce.Do(func() { close(b.done) })
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.l.mu.Lock()
	defer b.l.mu.Unlock()
	return b.closed
}

func (b *Browser) isLost() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Session is a fake engine.Session serving a Fixture.
type Session struct {
	b       *Browser
	fixture Fixture

	mu          sync.Mutex
	form        *html.Node
	result      *html.Node
	navigations int
	submitted   bool
	submittedAt time.Time
	typed       string
	closed      bool
}

var _ engine.Session = (*Session)(nil)

// Navigate implements engine.Session.
func (s *Session) Navigate(ctx context.Context, _ string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if s.fixture.NavigateErr != nil {
		return s.fixture.NavigateErr
	}
	doc, err := html.Parse(strings.NewReader(s.fixture.Form))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form = doc
	s.result = nil
	s.submitted = false
	s.navigations++
	return nil
}

// Locate implements engine.Session.
func (s *Session) Locate(ctx context.Context, t engine.Target) (engine.Element, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		el, ok, err := s.Find(ctx, t)
		if err != nil {
			return nil, err
		}
		if ok {
			return el, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Find implements engine.Session.
func (s *Session) Find(ctx context.Context, t engine.Target) (engine.Element, bool, error) {
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}
	sel, err := cascadia.ParseGroup(t.Selector())
	if err != nil {
		return nil, false, err
	}
	doc := s.document()
	if doc == nil {
		return nil, false, nil
	}
	node := cascadia.Query(doc, sel)
	if node == nil {
		return nil, false, nil
	}
	return &Element{s: s, node: node, role: t.Role}, true, nil
}

// Text implements engine.Session.
func (s *Session) Text(ctx context.Context) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	doc := s.document()
	if doc == nil {
		return "", nil
	}
	return goquery.NewDocumentFromNode(doc).Find("body").Text(), nil
}

// HTML implements engine.Session.
func (s *Session) HTML(ctx context.Context) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	doc := s.document()
	if doc == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Screenshot implements engine.Session.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if s.fixture.Screenshot != nil {
		return s.fixture.Screenshot, nil
	}
	return PNG, nil
}

// Close implements engine.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return nil
	}
	s.b.l.mu.Lock()
	s.b.l.counts.SessionsClosed++
	s.b.l.mu.Unlock()
	return nil
}

// Submitted reports whether the submit control was clicked.
func (s *Session) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// Typed returns the text entered into the query field.
func (s *Session) Typed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typed
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Closed() {
		return ErrClosed
	}
	if s.b.isLost() {
		return ErrLost
	}
	return nil
}

// document returns the page currently displayed.
func (s *Session) document() *html.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.submitted || s.fixture.Result == "" || time.Since(s.submittedAt) < s.fixture.ResultDelay {
		return s.form
	}
	if s.result == nil {
		doc, err := html.Parse(strings.NewReader(s.fixture.Result))
		if err != nil {
			return s.form
		}
		s.result = doc
	}
	return s.result
}

func (s *Session) submit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = true
	s.submittedAt = time.Now()
}

// Element is a fake engine.Element.
type Element struct {
	s    *Session
	node *html.Node
	role engine.Role
}

// WaitVisible implements engine.Element. A hidden element never becomes
// visible, so the call blocks until ctx is done.
func (e *Element) WaitVisible(ctx context.Context) error {
	if err := e.s.check(ctx); err != nil {
		return err
	}
	if !hidden(e.node) {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// Click implements engine.Element.
func (e *Element) Click(ctx context.Context) error {
	if err := e.s.check(ctx); err != nil {
		return err
	}
	if e.role == engine.RoleSubmit {
		e.s.submit()
	}
	return nil
}

// Type implements engine.Element.
func (e *Element) Type(ctx context.Context, text string, _ time.Duration) error {
	if err := e.s.check(ctx); err != nil {
		return err
	}
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.s.typed += text
	return nil
}

// SetValue implements engine.Element.
func (e *Element) SetValue(ctx context.Context, text string) error {
	if err := e.s.check(ctx); err != nil {
		return err
	}
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.s.typed = text
	return nil
}

// OuterHTML implements engine.Element.
func (e *Element) OuterHTML(ctx context.Context) (string, error) {
	if err := e.s.check(ctx); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, e.node); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// hidden reports whether n or an ancestor is hidden by attribute or inline
// style.
func hidden(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		for _, a := range n.Attr {
			switch a.Key {
			case "hidden":
				return true
			case "type":
				if n.Data == "input" && strings.EqualFold(a.Val, "hidden") {
					return true
				}
			case "style":
				style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return true
				}
			}
		}
	}
	return false
}
