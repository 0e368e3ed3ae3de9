// Package webhook delivers signed JSON events to an external endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SignatureHeader carries "sha256=<hex HMAC of the body>" when a secret is
// configured.
const SignatureHeader = "X-Regscout-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string      `json:"type"` // e.g. "diagnostic.captured"
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// defaultDelays are the waits before each attempt of DeliverAsync.
var defaultDelays = []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second}

// Sender posts events to one endpoint.
type Sender struct {
	URL    string
	Secret string

	// Client defaults to a client with a 10s timeout.
	Client *http.Client

	// Delays overrides the retry schedule of DeliverAsync.
	Delays []time.Duration

	Logger *slog.Logger
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends an event synchronously.
func (s *Sender) Deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Regscout-Webhook/1.0")
	if s.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(s.Secret, body))
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// DeliverAsync sends an event in the background, retrying on failure. The
// returned channel receives the final error (nil on success) and is closed.
func (s *Sender) DeliverAsync(event *Event) <-chan error {
	done := make(chan error, 1)
	delays := s.Delays
	if delays == nil {
		delays = defaultDelays
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	go func() {
		defer close(done)
		var err error
		for attempt, delay := range delays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = s.Deliver(ctx, event)
			cancel()
			if err == nil {
				logger.Info("webhook delivered",
					"url", s.URL,
					"event", event.Type,
					"id", event.ID,
					"attempt", attempt+1,
				)
				done <- nil
				return
			}
			logger.Warn("webhook delivery failed",
				"url", s.URL,
				"event", event.Type,
				"id", event.ID,
				"attempt", attempt+1,
				"error", err,
			)
		}
		logger.Error("webhook delivery exhausted all retries",
			"url", s.URL,
			"event", event.Type,
			"id", event.ID,
		)
		done <- err
	}()
	return done
}
