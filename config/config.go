package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Engine      EngineConfig
	Search      SearchConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	Diagnostics DiagnosticsConfig
	Webhook     WebhookConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// SearchConfig controls outcome classification.
type SearchConfig struct {
	// BlockPhrases mark an anti-bot interstitial or access-denied page.
	// Matched case-insensitively against the page text.
	BlockPhrases []string

	// NoResultsPhrases mark a confirmed empty result.
	NoResultsPhrases []string

	// PollInterval is how often each outcome detector re-checks the page.
	PollInterval time.Duration // default: 250ms
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 1

	// Burst is the maximum burst size per API key.
	Burst int // default: 3
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// DiagnosticsConfig controls capture of page artifacts on blocked or failed
// searches.
type DiagnosticsConfig struct {
	// Enabled toggles screenshot capture.
	Enabled bool // default: true

	// MaxEntries bounds the in-memory artifact store.
	MaxEntries int // default: 200

	// TTL is how long an artifact stays retrievable.
	TTL time.Duration // default: 1h

	// DedupeDistance is the simhash Hamming distance under which two
	// snapshots of the same kind count as duplicates. Negative disables.
	DedupeDistance int // default: 3
}

// WebhookConfig controls delivery of diagnostic artifacts to an external
// storage collaborator.
type WebhookConfig struct {
	// URL receives artifact events. Empty disables delivery.
	URL string

	// Secret signs the payload with HMAC-SHA256 when non-empty.
	Secret string
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	engine := DefaultEngine()
	search := DefaultSearch()

	return &Config{
		Server: ServerConfig{
			Host: envOr("REGSCOUT_HOST", "0.0.0.0"),
			Port: envIntOr("REGSCOUT_PORT", 8080),
			Mode: envOr("REGSCOUT_MODE", "release"),
		},
		Engine: EngineConfig{
			Headless:             envBoolOr("REGSCOUT_HEADLESS", engine.Headless),
			NoSandbox:            envBoolOr("REGSCOUT_NO_SANDBOX", engine.NoSandbox),
			BrowserBin:           os.Getenv("REGSCOUT_BROWSER_BIN"),
			StealthArgs:          envSliceOr("REGSCOUT_STEALTH_ARGS", engine.StealthArgs),
			UserAgent:            envOr("REGSCOUT_USER_AGENT", engine.UserAgent),
			AcceptLanguage:       envOr("REGSCOUT_ACCEPT_LANGUAGE", engine.AcceptLanguage),
			Viewport: Viewport{
				Width:       envIntOr("REGSCOUT_VIEWPORT_WIDTH", engine.Viewport.Width),
				Height:      envIntOr("REGSCOUT_VIEWPORT_HEIGHT", engine.Viewport.Height),
				DeviceScale: envFloatOr("REGSCOUT_DEVICE_SCALE", engine.Viewport.DeviceScale),
			},
			ProxyEndpoint:        os.Getenv("REGSCOUT_PROXY"),
			BlockedResourceTypes: envSliceOr("REGSCOUT_BLOCKED_RESOURCES", engine.BlockedResourceTypes),
			WaitMode:             WaitMode(envOr("REGSCOUT_WAIT_MODE", string(engine.WaitMode))),
			PoolEngine:           envBoolOr("REGSCOUT_POOL_ENGINE", engine.PoolEngine),
			MaxSessions:          envIntOr("REGSCOUT_MAX_SESSIONS", engine.MaxSessions),
			HeartbeatInterval:    envDurationOr("REGSCOUT_HEARTBEAT", engine.HeartbeatInterval),
			TypeMode:             TypeMode(envOr("REGSCOUT_TYPE_MODE", string(engine.TypeMode))),
			TypingDelay:          envDurationOr("REGSCOUT_TYPING_DELAY", engine.TypingDelay),
			Timeouts: Timeouts{
				Launch:           envDurationOr("REGSCOUT_LAUNCH_TIMEOUT", engine.Timeouts.Launch),
				Navigation:       envDurationOr("REGSCOUT_NAV_TIMEOUT", engine.Timeouts.Navigation),
				FieldVisible:     envDurationOr("REGSCOUT_FIELD_TIMEOUT", engine.Timeouts.FieldVisible),
				PostSubmitSettle: envDurationOr("REGSCOUT_SETTLE_DELAY", engine.Timeouts.PostSubmitSettle),
				OutcomeRace:      envDurationOr("REGSCOUT_OUTCOME_TIMEOUT", engine.Timeouts.OutcomeRace),
			},
		},
		Search: SearchConfig{
			BlockPhrases:     envSliceOr("REGSCOUT_BLOCK_PHRASES", search.BlockPhrases),
			NoResultsPhrases: envSliceOr("REGSCOUT_NO_RESULTS_PHRASES", search.NoResultsPhrases),
			PollInterval:     envDurationOr("REGSCOUT_POLL_INTERVAL", search.PollInterval),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("REGSCOUT_AUTH_ENABLED", true),
			APIKeys: envSliceOr("REGSCOUT_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("REGSCOUT_RATE_RPS", 1.0),
			Burst:             envIntOr("REGSCOUT_RATE_BURST", 3),
		},
		Log: LogConfig{
			Level:  envOr("REGSCOUT_LOG_LEVEL", "info"),
			Format: envOr("REGSCOUT_LOG_FORMAT", "json"),
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:        envBoolOr("REGSCOUT_DIAGNOSTICS", true),
			MaxEntries:     envIntOr("REGSCOUT_DIAGNOSTICS_MAX", 200),
			TTL:            envDurationOr("REGSCOUT_DIAGNOSTICS_TTL", time.Hour),
			DedupeDistance: envIntOr("REGSCOUT_DIAGNOSTICS_DEDUPE", 3),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("REGSCOUT_WEBHOOK_URL"),
			Secret: os.Getenv("REGSCOUT_WEBHOOK_SECRET"),
		},
	}
}

// DefaultSearch returns the classification defaults. The phrase lists are a
// starting point and are expected to grow as new interstitials are seen.
func DefaultSearch() SearchConfig {
	return SearchConfig{
		BlockPhrases: []string{
			"access denied",
			"just a moment",
			"checking your browser",
			"attention required",
			"request unsuccessful",
			"the requested url was rejected",
			"are you a robot",
			"verify you are human",
			"captcha",
			"incapsula incident",
		},
		NoResultsPhrases: []string{
			"no records found",
			"no results found",
		},
		PollInterval: 250 * time.Millisecond,
	}
}

// Validate checks the classification settings.
func (c SearchConfig) Validate() error {
	if len(c.BlockPhrases) == 0 && len(c.NoResultsPhrases) == 0 {
		return fmt.Errorf("search: at least one block or no-results phrase is required")
	}
	for _, p := range append(append([]string{}, c.BlockPhrases...), c.NoResultsPhrases...) {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("search: empty phrase")
		}
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("search: poll interval must be positive, got %v", c.PollInterval)
	}
	return nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

// validProxy accepts http, https, socks4 and socks5 proxy URLs with a host.
func validProxy(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("engine: invalid proxy endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks4", "socks5":
	default:
		return fmt.Errorf("engine: unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("engine: proxy endpoint %q has no host", raw)
	}
	return nil
}
