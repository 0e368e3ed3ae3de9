package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/models"
)

var errLeaseReleased = errors.New("lease released")

// engineHandle wraps one Browser with its bookkeeping. Fields other than
// browser, health and stop are guarded by Manager.mu.
type engineHandle struct {
	browser Browser
	health  *health

	inUse     int
	dedicated bool // launched for a single lease (PoolEngine off)
	retiring  bool
	lost      bool

	stop      chan struct{}
	closeOnce sync.Once
}

// Lease is exclusive ownership of one browsing session. Release it exactly
// once, on every exit path; further calls are no-ops.
type Lease struct {
	ID      int64
	Session Session

	ctx    context.Context
	cancel context.CancelCauseFunc
	engine *engineHandle
	m      *Manager
	once   sync.Once
}

// Context is cancelled with cause ErrEngineLost if the engine dies while the
// lease is open, and when the lease is released.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// Err returns ErrEngineLost if the engine connection was lost during the
// lease, otherwise nil.
func (l *Lease) Err() error {
	if cause := context.Cause(l.ctx); errors.Is(cause, ErrEngineLost) {
		return cause
	}
	return nil
}

// Release closes the session and returns the slot. success feeds the
// engine health score.
func (l *Lease) Release(success bool) {
	l.once.Do(func() {
		l.m.release(l, success)
	})
}

// Manager owns the engine process, the browsing sessions opened on it, and
// guarantees their release. With PoolEngine set, one engine is shared by
// all leases; sessions are never shared. It is safe for concurrent use.
type Manager struct {
	launcher Launcher
	cfg      config.EngineConfig
	logger   *slog.Logger

	sem      chan struct{}
	launchMu sync.Mutex // serialises shared engine launches

	mu     sync.Mutex
	shared *engineHandle
	leases map[int64]*Lease
	closed bool

	nextID   atomic.Int64
	launches atomic.Int64
	wg       sync.WaitGroup // open leases
	watchers sync.WaitGroup
}

// NewManager creates a Manager. The engine is launched lazily by the first
// Acquire, or eagerly by Warm.
func NewManager(launcher Launcher, cfg config.EngineConfig, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		launcher: launcher,
		cfg:      cfg,
		logger:   logger,
		sem:      make(chan struct{}, cfg.MaxSessions),
		leases:   make(map[int64]*Lease),
	}, nil
}

// Acquire opens a fresh browsing session, launching the engine if needed.
// It blocks while MaxSessions leases are open. Errors carry
// models.ErrCodeEngineStartup.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, models.NewSearchError(models.ErrCodeEngineStartup,
			"timed out waiting for a free browser session", ctx.Err())
	}

	lease, err := m.acquire(ctx)
	if err != nil {
		<-m.sem
		return nil, err
	}
	return lease, nil
}

func (m *Manager) acquire(ctx context.Context) (*Lease, error) {
	launchCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Launch)
	defer cancel()

	eh, err := m.engineFor(launchCtx)
	if err != nil {
		return nil, err
	}

	sess, err := eh.browser.NewSession(launchCtx)
	if err != nil {
		m.releaseEngine(eh, false, true)
		return nil, models.NewSearchError(models.ErrCodeEngineStartup, "failed to open browsing session", err)
	}

	leaseCtx, leaseCancel := context.WithCancelCause(ctx)
	l := &Lease{
		ID:      m.nextID.Add(1),
		Session: sess,
		ctx:     leaseCtx,
		cancel:  leaseCancel,
		engine:  eh,
		m:       m,
	}

	m.mu.Lock()
	lost := eh.lost
	m.leases[l.ID] = l
	m.wg.Add(1)
	m.mu.Unlock()

	// The engine may have died between NewSession and registration, in
	// which case its watcher has already cancelled the other leases.
	if lost {
		leaseCancel(ErrEngineLost)
	}

	m.logger.Debug("manager: session opened", "lease", l.ID)
	return l, nil
}

// engineFor returns an engine with inUse already incremented.
func (m *Manager) engineFor(ctx context.Context) (*engineHandle, error) {
	if !m.cfg.PoolEngine {
		if m.isClosed() {
			return nil, models.NewSearchError(models.ErrCodeEngineStartup, "session manager is closed", nil)
		}
		b, err := m.launch(ctx)
		if err != nil {
			return nil, err
		}
		eh := m.track(b)
		m.mu.Lock()
		eh.dedicated = true
		eh.inUse = 1
		m.mu.Unlock()
		return eh, nil
	}

	m.launchMu.Lock()
	defer m.launchMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, models.NewSearchError(models.ErrCodeEngineStartup, "session manager is closed", nil)
	}
	if eh := m.shared; eh != nil && !eh.lost && !eh.retiring {
		eh.inUse++
		m.mu.Unlock()
		return eh, nil
	}
	m.mu.Unlock()

	b, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}
	eh := m.track(b)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.closeEngine(eh)
		return nil, models.NewSearchError(models.ErrCodeEngineStartup, "session manager is closed", nil)
	}
	m.shared = eh
	eh.inUse = 1
	m.mu.Unlock()
	return eh, nil
}

func (m *Manager) launch(ctx context.Context) (Browser, error) {
	start := time.Now()
	b, err := m.launcher.Launch(ctx, m.cfg)
	if err != nil {
		m.logger.Error("manager: engine launch failed", "error", err)
		return nil, models.NewSearchError(models.ErrCodeEngineStartup, "failed to launch browser engine", err)
	}
	n := m.launches.Add(1)
	m.logger.Info("manager: engine launched",
		"launches", n,
		"pooled", m.cfg.PoolEngine,
		"took", time.Since(start).Round(time.Millisecond),
	)
	return b, nil
}

// track wraps b and starts its loss watcher.
func (m *Manager) track(b Browser) *engineHandle {
	eh := &engineHandle{
		browser: b,
		health:  newHealth(),
		stop:    make(chan struct{}),
	}
	m.watchers.Add(1)
	go m.watch(eh)
	return eh
}

// watch fails every lease on eh when its connection drops, and relaunches
// the shared engine so the next request finds one ready.
func (m *Manager) watch(eh *engineHandle) {
	defer m.watchers.Done()

	select {
	case <-eh.stop:
		return
	case <-eh.browser.Done():
	}

	select {
	case <-eh.stop:
		// Closed by us, not lost.
		return
	default:
	}

	m.mu.Lock()
	eh.lost = true
	wasShared := m.shared == eh
	if wasShared {
		m.shared = nil
	}
	var victims []*Lease
	for _, l := range m.leases {
		if l.engine == eh {
			victims = append(victims, l)
		}
	}
	closeNow := eh.inUse == 0
	closed := m.closed
	m.mu.Unlock()

	m.logger.Warn("manager: engine connection lost", "inFlight", len(victims))
	for _, l := range victims {
		l.cancel(ErrEngineLost)
	}
	if closeNow {
		m.closeEngine(eh)
	}

	if wasShared && !closed {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeouts.Launch)
		defer cancel()
		if err := m.Warm(ctx); err != nil {
			m.logger.Warn("manager: engine restart failed, next request will retry", "error", err)
		}
	}
}

// Warm ensures the shared engine is running. It is a no-op when engine
// pooling is off.
func (m *Manager) Warm(ctx context.Context) error {
	if !m.cfg.PoolEngine {
		return nil
	}
	eh, err := m.engineFor(ctx)
	if err != nil {
		return err
	}
	m.releaseEngine(eh, false, false)
	return nil
}

func (m *Manager) release(l *Lease, success bool) {
	if err := l.Session.Close(); err != nil {
		m.logger.Warn("manager: failed to close session", "lease", l.ID, "error", err)
	}
	l.cancel(errLeaseReleased)

	m.mu.Lock()
	delete(m.leases, l.ID)
	m.mu.Unlock()

	m.releaseEngine(l.engine, success, true)
	m.logger.Debug("manager: session released", "lease", l.ID, "success", success)

	m.wg.Done()
	<-m.sem
}

// releaseEngine drops one use of eh and closes it if nothing else needs it.
func (m *Manager) releaseEngine(eh *engineHandle, success, record bool) {
	if record {
		if success {
			eh.health.recordSuccess()
		} else {
			eh.health.recordFailure()
		}
	}

	m.mu.Lock()
	eh.inUse--
	if !eh.dedicated && !eh.retiring && !eh.lost && eh.health.shouldRetire() {
		eh.retiring = true
		if m.shared == eh {
			m.shared = nil
		}
		uses, age := eh.health.snapshot()
		m.logger.Info("manager: retiring engine", "uses", uses, "age", age.Round(time.Second))
	}
	closeNow := eh.inUse == 0 && (eh.dedicated || eh.retiring || eh.lost || m.closed)
	m.mu.Unlock()

	if closeNow {
		m.closeEngine(eh)
	}
}

func (m *Manager) closeEngine(eh *engineHandle) {
	eh.closeOnce.Do(func() {
		close(eh.stop)
		if err := eh.browser.Close(); err != nil {
			m.logger.Debug("manager: engine close returned error", "error", err)
		}
	})
}

// Stats returns a snapshot of the manager's state.
func (m *Manager) Stats() models.PoolStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := models.PoolStats{
		MaxSessions:    m.cfg.MaxSessions,
		ActiveSessions: len(m.leases),
	}
	if launches := m.launches.Load(); m.cfg.PoolEngine && launches > 1 {
		stats.EngineRestarts = launches - 1
	}
	if eh := m.shared; eh != nil && !eh.lost {
		uses, age := eh.health.snapshot()
		stats.EngineRunning = true
		stats.EngineUses = uses
		stats.EngineAge = age.Round(time.Second).String()
	}
	return stats
}

// Close stops accepting leases, waits for open leases until ctx is done,
// and terminates the engine.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("manager: %d sessions still open: %w", len(m.openLeases()), ctx.Err())
		for _, l := range m.openLeases() {
			l.Release(false)
		}
		<-drained
	}

	m.launchMu.Lock()
	m.mu.Lock()
	eh := m.shared
	m.shared = nil
	m.mu.Unlock()
	m.launchMu.Unlock()
	if eh != nil {
		m.closeEngine(eh)
	}

	m.watchers.Wait()
	m.logger.Info("manager: closed")
	return err
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) openLeases() []*Lease {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Lease, 0, len(m.leases))
	for _, l := range m.leases {
		out = append(out, l)
	}
	return out
}
