package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/engine"
	"github.com/use-agent/regscout/models"
)

// Flow drives the search form: navigate, fill the query field, settle,
// submit. Every step has its own deadline from the engine config.
type Flow struct {
	cfg    config.EngineConfig
	logger *slog.Logger
}

// NewFlow creates a Flow.
func NewFlow(cfg config.EngineConfig, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{cfg: cfg, logger: logger}
}

// Run submits query on sess. It returns once the submit control has been
// activated; the caller classifies what follows. If the query field never
// becomes visible, Run fails with INTERACTION_TIMEOUT without submitting.
func (f *Flow) Run(ctx context.Context, sess engine.Session, j Jurisdiction, query string) error {
	// ── 1. Navigate ──────────────────────────────────────────────────
	start := time.Now()
	navCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeouts.Navigation)
	err := sess.Navigate(navCtx, j.URL)
	cancel()
	if err != nil {
		return categorizeError(err, models.ErrCodeNavigation, "navigation to registry search page failed")
	}
	f.logger.Debug("flow: page loaded", "jurisdiction", j.Code, "took", time.Since(start).Round(time.Millisecond))

	// ── 2. Locate the query field and wait until it is visible ───────
	fieldCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeouts.FieldVisible)
	defer cancel()
	field, err := sess.Locate(fieldCtx, j.Input)
	if err != nil {
		return categorizeError(err, models.ErrCodeInteractionTimeout, "search field "+j.Input.String()+" not found")
	}
	if err := field.WaitVisible(fieldCtx); err != nil {
		return categorizeError(err, models.ErrCodeInteractionTimeout, "search field "+j.Input.String()+" never became visible")
	}

	// ── 3. Populate ──────────────────────────────────────────────────
	switch f.cfg.TypeMode {
	case config.TypeValue:
		err = field.SetValue(ctx, query)
	default:
		err = field.Type(ctx, query, f.cfg.TypingDelay)
	}
	if err != nil {
		return categorizeError(err, models.ErrCodeInteractionTimeout, "failed to enter query")
	}

	// ── 4. Settle for client-side postback handlers ──────────────────
	if err := sleep(ctx, f.cfg.Timeouts.PostSubmitSettle); err != nil {
		return categorizeError(err, models.ErrCodeInteractionTimeout, "cancelled while settling")
	}

	// ── 5. Submit ────────────────────────────────────────────────────
	submitCtx, cancelSubmit := context.WithTimeout(ctx, f.cfg.Timeouts.FieldVisible)
	defer cancelSubmit()
	btn, err := sess.Locate(submitCtx, j.Submit)
	if err != nil {
		return categorizeError(err, models.ErrCodeInteractionTimeout, "submit control "+j.Submit.String()+" not found")
	}
	if err := btn.Click(submitCtx); err != nil {
		return categorizeError(err, models.ErrCodeInteractionTimeout, "failed to activate submit control")
	}
	f.logger.Debug("flow: submitted", "jurisdiction", j.Code)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
