package diagnostics

import (
	"context"
	"sync"
	"time"
)

// Store is a bounded in-memory Sink. Entries expire after ttl; when full the
// oldest entry is evicted. A capture of the same kind and jurisdiction whose
// fingerprint is within dedupeDistance of a stored one is not stored again;
// Put returns the existing ID instead. It is safe for concurrent use.
type Store struct {
	mu             sync.RWMutex
	byID           map[string]*Artifact
	order          []string // insertion order, oldest first
	maxEntries     int
	ttl            time.Duration
	dedupeDistance int

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewStore creates a Store. A background goroutine evicts expired entries
// every minute until Close. A negative dedupeDistance disables dedupe.
func NewStore(maxEntries int, ttl time.Duration, dedupeDistance int) *Store {
	if maxEntries < 1 {
		maxEntries = 1
	}
	s := &Store{
		byID:           make(map[string]*Artifact),
		maxEntries:     maxEntries,
		ttl:            ttl,
		dedupeDistance: dedupeDistance,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go s.cleanupLoop(time.Minute)
	return s
}

// Put implements Sink.
func (s *Store) Put(_ context.Context, a *Artifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked(time.Now())
	if id, ok := s.duplicateLocked(a); ok {
		return id, nil
	}
	for len(s.order) >= s.maxEntries {
		delete(s.byID, s.order[0])
		s.order = s.order[1:]
	}
	s.byID[a.ID] = a
	s.order = append(s.order, a.ID)
	return a.ID, nil
}

// Get returns a stored artifact that has not expired.
func (s *Store) Get(id string) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok || s.expired(a, time.Now()) {
		return nil, false
	}
	return a, true
}

// Len returns the number of stored artifacts, including expired ones not
// yet evicted.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Close stops the cleanup goroutine.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Store) duplicateLocked(a *Artifact) (string, bool) {
	if s.dedupeDistance < 0 || a.Snapshot == "" {
		return "", false
	}
	for i := len(s.order) - 1; i >= 0; i-- {
		prev := s.byID[s.order[i]]
		if prev.Kind != a.Kind || prev.Jurisdiction != a.Jurisdiction || prev.Snapshot == "" {
			continue
		}
		if Distance(prev.Fingerprint, a.Fingerprint) <= s.dedupeDistance {
			return prev.ID, true
		}
	}
	return "", false
}

func (s *Store) expired(a *Artifact, now time.Time) bool {
	return s.ttl > 0 && now.Sub(a.CapturedAt) > s.ttl
}

func (s *Store) evictExpiredLocked(now time.Time) {
	keep := s.order[:0]
	for _, id := range s.order {
		if s.expired(s.byID[id], now) {
			delete(s.byID, id)
			continue
		}
		keep = append(keep, id)
	}
	s.order = keep
}

func (s *Store) cleanupLoop(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			s.evictExpiredLocked(now)
			s.mu.Unlock()
		}
	}
}
