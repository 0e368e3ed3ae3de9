package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/models"
)

const (
	limiterIdleTTL    = time.Hour
	limiterSweepEvery = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per identity. Idle entries are swept
// inline on access, at most every limiterSweepEvery.
type limiterSet struct {
	mu        sync.Mutex
	cfg       config.RateLimitConfig
	limiters  map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

func (s *limiterSet) get(identity string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= limiterSweepEvery {
		cutoff := now.Add(-limiterIdleTTL)
		for id, e := range s.limiters {
			if e.lastSeen.Before(cutoff) {
				delete(s.limiters, id)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.limiters[identity]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)}
		s.limiters[identity] = e
	}
	e.lastSeen = now
	return e.limiter
}

// RateLimit returns per-identity (API key or IP) token-bucket rate limiting
// middleware powered by golang.org/x/time/rate. Every search holds a
// browser session for seconds, so the default budget is small.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	set := &limiterSet{
		cfg:       cfg,
		limiters:  make(map[string]*limiterEntry),
		lastSweep: time.Now(),
		now:       time.Now,
	}

	return func(c *gin.Context) {
		// Prefer API key as identity (set by auth middleware); fall back to IP.
		identity := c.GetString(IdentityKey)
		if identity == "" {
			identity = c.ClientIP()
		}

		if !set.get(identity).Allow() {
			abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimited, "rate limit exceeded, please slow down")
			return
		}
		c.Next()
	}
}
