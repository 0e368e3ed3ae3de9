// Package scraper implements the engine interfaces on top of a Chromium
// process driven by go-rod.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/engine"
	"github.com/use-agent/regscout/models"
)

// Launcher starts Chromium with the stealth launch flags.
type Launcher struct {
	logger *slog.Logger
}

var _ engine.Launcher = (*Launcher)(nil)

// NewLauncher creates a Launcher. A nil logger uses slog.Default().
func NewLauncher(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{logger: logger}
}

// Launch implements engine.Launcher.
func (rl *Launcher) Launch(ctx context.Context, cfg config.EngineConfig) (engine.Browser, error) {
	l := launcher.New().
		Context(ctx).
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.ProxyEndpoint != "" {
		l = l.Proxy(cfg.ProxyEndpoint)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	for _, arg := range cfg.StealthArgs {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			l.Set(flags.Flag(name), value)
		} else {
			l.Set(flags.Flag(name))
		}
	}
	l.Set(flags.Flag("window-size"), windowSize(cfg.Viewport))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewSearchError(models.ErrCodeEngineStartup, "failed to launch browser", err)
	}
	rl.logger.Info("scraper: browser launched", "controlURL", controlURL, "headless", cfg.Headless)

	b, err := connect(ctx, controlURL, l.Kill)
	if err != nil {
		l.Kill()
		return nil, models.NewSearchError(models.ErrCodeEngineStartup, "failed to connect to browser", err)
	}

	return newBrowser(b, l, cfg, rl.logger), nil
}

// newBrowser wraps a connected rod browser and starts its heartbeat. proc
// may be nil when the process is not ours to kill.
func newBrowser(b *rod.Browser, proc *launcher.Launcher, cfg config.EngineConfig, logger *slog.Logger) *Browser {
	br := &Browser{
		rod:    b,
		proc:   proc,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go br.heartbeat(cfg.HeartbeatInterval)
	return br
}

// connect attaches to the DevTools endpoint at controlURL. The returned
// browser keeps the background context: its event loop must outlive ctx,
// which only bounds the dial. abort is called if ctx ends mid-dial so the
// handshake fails instead of hanging.
func connect(ctx context.Context, controlURL string, abort func()) (*rod.Browser, error) {
	b := rod.New().ControlURL(controlURL)
	stop := context.AfterFunc(ctx, abort)
	err := b.Connect()
	if !stop() {
		return nil, context.Cause(ctx)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func windowSize(v config.Viewport) string {
	return fmt.Sprintf("%d,%d", v.Width, v.Height)
}

// Browser is a connected Chromium process.
type Browser struct {
	rod    *rod.Browser
	proc   *launcher.Launcher
	cfg    config.EngineConfig
	logger *slog.Logger

	done     chan struct{}
	doneOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
}

var _ engine.Browser = (*Browser)(nil)

// heartbeat closes done once the engine stops answering.
func (b *Browser) heartbeat(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		_, err := proto.BrowserGetVersion{}.Call(b.rod.Context(ctx))
		cancel()
		if err != nil {
			select {
			case <-b.stop:
				return
			default:
			}
			b.logger.Warn("scraper: heartbeat failed", "error", err)
			b.markDone()
			return
		}
	}
}

func (b *Browser) markDone() {
	b.doneOnce.Do(func() { close(b.done) })
}

// NewSession implements engine.Browser.
func (b *Browser) NewSession(ctx context.Context) (engine.Session, error) {
	return newSession(ctx, b)
}

// Done implements engine.Browser.
func (b *Browser) Done() <-chan struct{} { return b.done }

// Close implements engine.Browser.
func (b *Browser) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := b.rod.Context(ctx).Close()
	if b.proc != nil {
		b.proc.Kill()
		b.proc.Cleanup()
	}
	b.markDone()
	b.logger.Info("scraper: browser closed")
	return err
}
