package engine

import (
	"math"
	"sync"
	"time"
)

// Engine health scoring.
//
// Scoring rules:
//   - Success: errScore -= 0.5 (min 0)
//   - Failure: errScore += 1.0
//
// Retirement triggers (any one):
//   - errScore >= 3.0
//   - useCount >= 200
//   - age >= 50 minutes
//
// A retired engine stops receiving new sessions and is closed once its last
// lease is released; the next Acquire launches a replacement.
const (
	retireErrScore = 3.0
	retireUseCount = 200
	retireAge      = 50 * time.Minute
)

// health tracks the reliability of one engine process.
type health struct {
	mu       sync.Mutex
	errScore float64
	useCount int
	created  time.Time
}

func newHealth() *health {
	return &health{created: time.Now()}
}

func (h *health) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.useCount++
	h.errScore = math.Max(0, h.errScore-0.5)
}

func (h *health) recordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.useCount++
	h.errScore += 1.0
}

func (h *health) shouldRetire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.errScore >= retireErrScore {
		return true
	}
	if h.useCount >= retireUseCount {
		return true
	}
	return time.Since(h.created) >= retireAge
}

func (h *health) snapshot() (uses int, age time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.useCount, time.Since(h.created)
}
