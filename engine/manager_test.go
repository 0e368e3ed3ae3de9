package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/engine"
	"github.com/use-agent/regscout/engine/enginetest"
	"github.com/use-agent/regscout/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newManager(t *testing.T, l *enginetest.Launcher, mutate func(*config.EngineConfig)) *engine.Manager {
	t.Helper()
	cfg := config.DefaultEngine()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := engine.NewManager(l, cfg, quiet)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func closeManager(t *testing.T, m *engine.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManager_PooledEngineIsReused(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := &enginetest.Launcher{}
	m := newManager(t, l, nil)

	for i := 0; i < 3; i++ {
		lease, err := m.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		lease.Release(true)
	}

	c := l.Counts()
	if c.Launched != 1 {
		t.Errorf("launched %d engines, want 1", c.Launched)
	}
	if c.SessionsOpened != 3 || c.OpenSessions() != 0 {
		t.Errorf("sessions opened=%d open=%d, want 3 and 0", c.SessionsOpened, c.OpenSessions())
	}
	if c.OpenBrowsers() != 1 {
		t.Errorf("pooled engine should stay up between leases, open browsers=%d", c.OpenBrowsers())
	}

	closeManager(t, m)
	if got := l.Counts().OpenBrowsers(); got != 0 {
		t.Errorf("open browsers after Close = %d", got)
	}
}

func TestManager_DedicatedEnginePerLease(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := &enginetest.Launcher{}
	m := newManager(t, l, func(c *config.EngineConfig) { c.PoolEngine = false })
	defer closeManager(t, m)

	a, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := l.Counts().Launched; got != 2 {
		t.Fatalf("launched %d engines, want 2", got)
	}

	a.Release(true)
	b.Release(false)

	c := l.Counts()
	if c.OpenBrowsers() != 0 || c.OpenSessions() != 0 {
		t.Errorf("resources left open: %+v", c)
	}
}

func TestManager_LaunchFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := &enginetest.Launcher{LaunchErr: errors.New("no chromium")}
	m := newManager(t, l, func(c *config.EngineConfig) { c.MaxSessions = 1 })
	defer closeManager(t, m)

	_, err := m.Acquire(context.Background())
	if got := models.CodeOf(err, ""); got != models.ErrCodeEngineStartup {
		t.Fatalf("error code = %q (%v), want %s", got, err, models.ErrCodeEngineStartup)
	}

	// The slot taken by the failed attempt must have been returned.
	l.LaunchErr = nil
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after recovery: %v", err)
	}
	lease.Release(true)

	if c := l.Counts(); c.OpenSessions() != 0 {
		t.Errorf("open sessions = %d", c.OpenSessions())
	}
}

func TestManager_SessionFailureKeepsEngine(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := &enginetest.Launcher{SessionErr: errors.New("target crashed")}
	m := newManager(t, l, nil)
	defer closeManager(t, m)

	if _, err := m.Acquire(context.Background()); err == nil {
		t.Fatal("expected session error")
	}
	l.SessionErr = nil
	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	lease.Release(true)

	if got := l.Counts().Launched; got != 1 {
		t.Errorf("launched %d engines, want 1", got)
	}
}

func TestManager_EngineLostFailsInFlightLeases(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := &enginetest.Launcher{}
	m := newManager(t, l, nil)
	defer closeManager(t, m)

	a, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	l.Browsers()[0].Kill()

	for _, lease := range []*engine.Lease{a, b} {
		select {
		case <-lease.Context().Done():
		case <-time.After(2 * time.Second):
			t.Fatal("lease context not cancelled after engine loss")
		}
		if !errors.Is(lease.Err(), engine.ErrEngineLost) {
			t.Errorf("lease.Err() = %v, want ErrEngineLost", lease.Err())
		}
	}

	// The engine is relaunched before new work arrives.
	eventually(t, "engine restart", func() bool { return l.Counts().Launched == 2 })

	a.Release(false)
	b.Release(false)

	c, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after restart: %v", err)
	}
	if c.Err() != nil {
		t.Errorf("fresh lease reports %v", c.Err())
	}
	c.Release(true)

	counts := l.Counts()
	if counts.Launched != 2 {
		t.Errorf("launched %d engines, want 2", counts.Launched)
	}
	if counts.OpenSessions() != 0 {
		t.Errorf("open sessions = %d", counts.OpenSessions())
	}
	if !l.Browsers()[0].Closed() {
		t.Error("lost engine was not closed")
	}
	if got := m.Stats().EngineRestarts; got != 1 {
		t.Errorf("EngineRestarts = %d, want 1", got)
	}
}

func TestManager_MaxSessionsBlocks(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := &enginetest.Launcher{}
	m := newManager(t, l, func(c *config.EngineConfig) { c.MaxSessions = 1 })
	defer closeManager(t, m)

	held, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx); err == nil {
		t.Fatal("Acquire should block while the only slot is held")
	}
	if got := m.Stats().ActiveSessions; got != 1 {
		t.Errorf("ActiveSessions = %d, want 1", got)
	}

	held.Release(true)
	held.Release(true) // idempotent

	next, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	next.Release(true)

	if c := l.Counts(); c.SessionsClosed != 2 {
		t.Errorf("SessionsClosed = %d, want 2", c.SessionsClosed)
	}
}

func TestManager_RetiresUnhealthyEngine(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := &enginetest.Launcher{}
	m := newManager(t, l, nil)
	defer closeManager(t, m)

	for i := 0; i < 3; i++ {
		lease, err := m.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		lease.Release(false)
	}

	if !l.Browsers()[0].Closed() {
		t.Fatal("engine with three consecutive failures should be retired and closed")
	}

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	lease.Release(true)
	if got := l.Counts().Launched; got != 2 {
		t.Errorf("launched %d engines, want 2", got)
	}
}

func TestManager_CloseForcesRelease(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := &enginetest.Launcher{}
	m := newManager(t, l, nil)

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Close(ctx); err == nil {
		t.Error("Close should report sessions that had to be forced")
	}
	if !l.Sessions()[0].Closed() {
		t.Error("open session was not closed by Close")
	}
	lease.Release(true) // owner's deferred release is harmless

	if _, err := m.Acquire(context.Background()); err == nil {
		t.Error("Acquire after Close should fail")
	}
	if c := l.Counts(); c.OpenBrowsers() != 0 || c.OpenSessions() != 0 {
		t.Errorf("resources left open: %+v", c)
	}
}

func TestNewManager_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultEngine()
	cfg.MaxSessions = 0
	if _, err := engine.NewManager(&enginetest.Launcher{}, cfg, quiet); err == nil {
		t.Error("expected validation error")
	}
}
