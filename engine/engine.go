// Package engine defines the browser abstraction the search core drives and
// the manager that owns engine, context and page lifetimes.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/use-agent/regscout/config"
)

// ErrEngineLost is the cancellation cause of every lease whose engine
// connection died while the lease was open.
var ErrEngineLost = errors.New("browser engine connection lost")

// Launcher starts a browser engine process and connects to it.
type Launcher interface {
	Launch(ctx context.Context, cfg config.EngineConfig) (Browser, error)
}

// Browser is a live connection to one engine process.
type Browser interface {
	// NewSession opens an isolated browsing context (own cookies and
	// storage) with one page, with stealth countermeasures installed
	// before any navigation.
	NewSession(ctx context.Context) (Session, error)

	// Done is closed when the connection is lost or the browser is closed.
	Done() <-chan struct{}

	// Close terminates the engine process.
	Close() error
}

// Session is one isolated browsing context and its page. It is valid until
// Close; no caller may use it afterwards.
type Session interface {
	// Navigate loads url and waits for the configured readiness condition.
	Navigate(ctx context.Context, url string) error

	// Locate waits until an element matching t is present.
	Locate(ctx context.Context, t Target) (Element, error)

	// Find checks once, without waiting, for an element matching t.
	Find(ctx context.Context, t Target) (Element, bool, error)

	// Text returns the rendered text of the document body.
	Text(ctx context.Context) (string, error)

	// HTML returns the serialised document.
	HTML(ctx context.Context) (string, error)

	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close releases the page and its browsing context.
	Close() error
}

// Element is a handle to a DOM node inside a Session.
type Element interface {
	// WaitVisible blocks until the element is rendered and visible.
	WaitVisible(ctx context.Context) error

	Click(ctx context.Context) error

	// Type focuses the element and sends text one key at a time, pausing
	// delay between keys.
	Type(ctx context.Context, text string, delay time.Duration) error

	// SetValue assigns the value directly and fires input and change.
	SetValue(ctx context.Context, text string) error

	OuterHTML(ctx context.Context) (string, error)
}
