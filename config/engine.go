package config

import (
	"fmt"
	"time"
)

// WaitMode selects the navigation readiness condition.
type WaitMode string

const (
	// WaitNetworkIdle waits until in-flight requests settle. Slower, but
	// avoids classifying a half-loaded government page as "no field".
	WaitNetworkIdle WaitMode = "network-idle"

	// WaitDOMContentLoaded returns as soon as the document is parsed.
	WaitDOMContentLoaded WaitMode = "dom-content-loaded"
)

// TypeMode selects how the query is entered into the search field.
type TypeMode string

const (
	// TypeKeys emits one key event per character, separated by TypingDelay.
	TypeKeys TypeMode = "keys"

	// TypeValue assigns the field value directly and fires input/change.
	TypeValue TypeMode = "value"
)

// DefaultUserAgent masquerades as a current desktop Chrome on Windows.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// knownResourceTypes mirrors the resource types the hijack router can block.
var knownResourceTypes = map[string]struct{}{
	"Image":      {},
	"Stylesheet": {},
	"Font":       {},
	"Media":      {},
}

// EngineConfig controls the browser engine and the per-phase deadlines of a
// search. It is a value type: build it once and pass it by value.
type EngineConfig struct {
	// Headless controls whether the browser runs without a visible UI.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in most containers).
	NoSandbox bool // default: true

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// StealthArgs are extra launch flags, "--name=value" or "--name".
	StealthArgs []string

	// UserAgent and AcceptLanguage define the network identity.
	UserAgent      string
	AcceptLanguage string // default: "en-US,en;q=0.9"

	Viewport Viewport

	// ProxyEndpoint routes all browser traffic through an upstream proxy.
	ProxyEndpoint string

	// BlockedResourceTypes lists resource types to abort. Incompatible with
	// WaitNetworkIdle.
	BlockedResourceTypes []string

	WaitMode WaitMode // default: network-idle

	// PoolEngine shares one engine process across requests. Browser
	// contexts are never shared either way.
	PoolEngine bool // default: true

	// MaxSessions bounds concurrently open browsing sessions.
	MaxSessions int // default: 4

	// HeartbeatInterval is how often the shared engine connection is
	// checked.
	HeartbeatInterval time.Duration // default: 5s

	TypeMode    TypeMode      // default: keys
	TypingDelay time.Duration // default: 100ms

	Timeouts Timeouts
}

// Viewport is the emulated window size.
type Viewport struct {
	Width       int     // default: 1920
	Height      int     // default: 1080
	DeviceScale float64 // default: 1
}

// Timeouts are the per-phase deadlines of one search.
type Timeouts struct {
	// Launch bounds engine start and session creation.
	Launch time.Duration // default: 30s

	// Navigation bounds loading the registry search page.
	Navigation time.Duration // default: 30s

	// FieldVisible bounds waiting for the query input to become visible.
	FieldVisible time.Duration // default: 10s

	// PostSubmitSettle is the pause between populating the query and
	// activating submit, letting client-side postback handlers register
	// the input.
	PostSubmitSettle time.Duration // default: 1s

	// OutcomeRace bounds the wait for a terminal page state after submit.
	OutcomeRace time.Duration // default: 15s
}

// DefaultEngine returns the engine defaults.
func DefaultEngine() EngineConfig {
	return EngineConfig{
		Headless:  true,
		NoSandbox: true,
		StealthArgs: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--disable-features=TranslateUI",
			"--no-first-run",
			"--disable-default-apps",
		},
		UserAgent:         DefaultUserAgent,
		AcceptLanguage:    "en-US,en;q=0.9",
		Viewport:          Viewport{Width: 1920, Height: 1080, DeviceScale: 1},
		WaitMode:          WaitNetworkIdle,
		PoolEngine:        true,
		MaxSessions:       4,
		HeartbeatInterval: 5 * time.Second,
		TypeMode:          TypeKeys,
		TypingDelay:       100 * time.Millisecond,
		Timeouts: Timeouts{
			Launch:           30 * time.Second,
			Navigation:       30 * time.Second,
			FieldVisible:     10 * time.Second,
			PostSubmitSettle: time.Second,
			OutcomeRace:      15 * time.Second,
		},
	}
}

// Validate rejects values the engine would otherwise have to ignore.
func (c EngineConfig) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("engine: user agent is required")
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("engine: viewport must be positive, got %dx%d", c.Viewport.Width, c.Viewport.Height)
	}
	if c.Viewport.DeviceScale <= 0 {
		return fmt.Errorf("engine: device scale must be positive, got %v", c.Viewport.DeviceScale)
	}
	switch c.WaitMode {
	case WaitNetworkIdle, WaitDOMContentLoaded:
	default:
		return fmt.Errorf("engine: unknown wait mode %q", c.WaitMode)
	}
	switch c.TypeMode {
	case TypeKeys, TypeValue:
	default:
		return fmt.Errorf("engine: unknown type mode %q", c.TypeMode)
	}
	if c.TypingDelay < 0 {
		return fmt.Errorf("engine: typing delay must not be negative")
	}
	for _, rt := range c.BlockedResourceTypes {
		if _, ok := knownResourceTypes[rt]; !ok {
			return fmt.Errorf("engine: unknown resource type %q", rt)
		}
	}
	// Request interception and request-idle tracking both drive the Fetch
	// domain; together they stall navigation.
	if len(c.BlockedResourceTypes) > 0 && c.WaitMode == WaitNetworkIdle {
		return fmt.Errorf("engine: resource blocking requires wait mode %q", WaitDOMContentLoaded)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("engine: max sessions must be at least 1, got %d", c.MaxSessions)
	}
	if c.PoolEngine && c.HeartbeatInterval <= 0 {
		return fmt.Errorf("engine: heartbeat interval must be positive")
	}
	if c.ProxyEndpoint != "" {
		if err := validProxy(c.ProxyEndpoint); err != nil {
			return err
		}
	}

	t := c.Timeouts
	for name, d := range map[string]time.Duration{
		"launch":        t.Launch,
		"navigation":    t.Navigation,
		"field visible": t.FieldVisible,
		"outcome race":  t.OutcomeRace,
	} {
		if d <= 0 {
			return fmt.Errorf("engine: %s timeout must be positive, got %v", name, d)
		}
	}
	if t.PostSubmitSettle < 0 {
		return fmt.Errorf("engine: settle delay must not be negative")
	}
	return nil
}
