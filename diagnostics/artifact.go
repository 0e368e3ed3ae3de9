// Package diagnostics captures what the page looked like when a search was
// blocked or failed, and hands the capture to storage collaborators.
package diagnostics

import (
	"context"
	"time"

	"github.com/use-agent/regscout/models"
)

// Artifact is one page capture. PNG is opaque to this package.
type Artifact struct {
	ID           string             `json:"id"`
	Kind         models.OutcomeKind `json:"kind"`
	Code         string             `json:"code,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	Jurisdiction string             `json:"jurisdiction"`
	Query        string             `json:"query"`
	URL          string             `json:"url,omitempty"`
	CapturedAt   time.Time          `json:"captured_at"`

	PNG         []byte `json:"png,omitempty"`
	Snapshot    string `json:"snapshot,omitempty"` // page as markdown
	Fingerprint uint64 `json:"fingerprint"`
}

// ShouldCapture reports whether an outcome kind warrants a capture.
func ShouldCapture(kind models.OutcomeKind) bool {
	return kind == models.OutcomeBlocked || kind == models.OutcomeTransientError
}

// Sink persists artifacts. Put returns the ID under which the artifact can
// be retrieved, which may belong to an earlier near-identical capture.
type Sink interface {
	Put(ctx context.Context, a *Artifact) (string, error)
}

// MultiSink fans an artifact out to every sink and returns the ID from the
// first one that accepts it.
type MultiSink []Sink

// Put implements Sink.
func (m MultiSink) Put(ctx context.Context, a *Artifact) (string, error) {
	var (
		id       string
		firstErr error
	)
	for _, s := range m {
		got, err := s.Put(ctx, a)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if id == "" {
			id = got
		}
	}
	if id == "" {
		return "", firstErr
	}
	return id, nil
}
