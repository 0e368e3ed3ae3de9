// Package search runs one registry name search end to end: form flow,
// outcome race and result extraction on a leased browser session.
package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/diagnostics"
	"github.com/use-agent/regscout/engine"
	"github.com/use-agent/regscout/models"
)

// captureTimeout bounds the diagnostic screenshot and snapshot.
const captureTimeout = 10 * time.Second

// Options configures optional Service collaborators.
type Options struct {
	// Registry defaults to DefaultRegistry().
	Registry Registry

	// Sink receives diagnostic artifacts for blocked and failed searches.
	// Nil disables capture.
	Sink diagnostics.Sink

	Logger *slog.Logger
}

// Service is the search core. It is safe for concurrent use; every call
// gets its own browsing session.
type Service struct {
	manager    *engine.Manager
	registry   Registry
	flow       *Flow
	classifier *Classifier
	capturer   *diagnostics.Capturer
	sink       diagnostics.Sink
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewService wires a Service onto manager.
func NewService(manager *engine.Manager, engineCfg config.EngineConfig, searchCfg config.SearchConfig, opts Options) (*Service, error) {
	if err := engineCfg.Validate(); err != nil {
		return nil, err
	}
	if err := searchCfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if err := opts.Registry.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Service{
		manager:    manager,
		registry:   opts.Registry,
		flow:       NewFlow(engineCfg, opts.Logger),
		classifier: NewClassifier(searchCfg, engineCfg.Timeouts.OutcomeRace, opts.Logger),
		sink:       opts.Sink,
		validate:   validator.New(),
		logger:     opts.Logger,
	}
	if s.sink != nil {
		s.capturer = diagnostics.NewCapturer()
	}
	return s, nil
}

// Registry returns the jurisdictions this service can search.
func (s *Service) Registry() Registry { return s.registry }

// Search runs one query against one jurisdiction's registry. The error is
// non-nil only when the request is unusable (INVALID_INPUT or
// UNSUPPORTED_JURISDICTION), detected before any browser work. Every other
// failure is reported as an outcome. The browsing session is released
// before Search returns.
func (s *Service) Search(ctx context.Context, query, jurisdiction string) (models.Outcome, error) {
	req := models.SearchRequest{Query: query, Jurisdiction: jurisdiction}
	req.Defaults()
	if err := s.validate.Struct(req); err != nil {
		return models.Outcome{}, models.NewSearchError(models.ErrCodeInvalidInput, invalidMessage(err), err)
	}
	j, err := s.registry.Lookup(req.Jurisdiction)
	if err != nil {
		return models.Outcome{}, err
	}

	start := time.Now()
	out := s.run(ctx, req, j)

	attrs := []any{
		"jurisdiction", j.Code,
		"outcome", out.Kind,
		"records", len(out.Records),
		"took", time.Since(start).Round(time.Millisecond),
	}
	switch out.Kind {
	case models.OutcomeBlocked:
		s.logger.Warn("search: blocked", append(attrs, "reason", out.Reason, "diagnostic", out.DiagnosticID)...)
	case models.OutcomeTransientError:
		s.logger.Warn("search: failed", append(attrs, "code", out.Code, "error", out.Message, "diagnostic", out.DiagnosticID)...)
	default:
		s.logger.Info("search: done", attrs...)
	}
	return out, nil
}

func (s *Service) run(ctx context.Context, req models.SearchRequest, j Jurisdiction) (out models.Outcome) {
	lease, err := s.manager.Acquire(ctx)
	if err != nil {
		return transient(err, models.ErrCodeEngineStartup)
	}
	defer func() { lease.Release(out.Terminal()) }()

	out = s.interact(lease.Context(), lease.Session, req, j)

	if lost := lease.Err(); lost != nil {
		return models.TransientError(models.ErrCodeEngineLost, lost.Error())
	}
	if s.sink != nil && diagnostics.ShouldCapture(out.Kind) {
		out.DiagnosticID = s.capture(lease.Context(), lease.Session, req, j, out)
	}
	return out
}

func (s *Service) interact(ctx context.Context, sess engine.Session, req models.SearchRequest, j Jurisdiction) models.Outcome {
	if err := s.flow.Run(ctx, sess, j, req.Query); err != nil {
		return transient(err, models.ErrCodeInteractionTimeout)
	}

	v, err := s.classifier.Classify(ctx, sess, j.Table)
	if err != nil {
		return transient(err, models.ErrCodeOutcomeTimeout)
	}

	switch v.Kind {
	case models.OutcomeSuccess:
		records, err := Extract(ctx, v.Table, j.Code)
		if err != nil {
			return transient(err, models.ErrCodeExtraction)
		}
		return models.Success(records)
	case models.OutcomeBlocked:
		return models.Blocked(v.Phrase)
	default:
		return models.NoResults()
	}
}

// capture stores a diagnostic artifact and returns its ID, or "" if
// nothing could be stored. Failures here never change the outcome.
func (s *Service) capture(ctx context.Context, sess engine.Session, req models.SearchRequest, j Jurisdiction, out models.Outcome) string {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	defer cancel()

	a, err := s.capturer.Capture(cctx, sess)
	if a == nil {
		s.logger.Debug("search: diagnostic capture failed", "error", err)
		return ""
	}
	a.Kind = out.Kind
	a.Code = out.Code
	a.Reason = out.Reason
	a.Jurisdiction = j.Code
	a.Query = req.Query
	a.URL = j.URL

	id, err := s.sink.Put(cctx, a)
	if err != nil {
		s.logger.Warn("search: failed to store diagnostic", "error", err)
		return ""
	}
	return id
}

// transient converts an interaction error into a TransientError outcome.
func transient(err error, fallback string) models.Outcome {
	var se *models.SearchError
	if errors.As(err, &se) {
		msg := se.Message
		if se.Err != nil {
			msg += ": " + se.Err.Error()
		}
		return models.TransientError(se.Code, msg)
	}
	return models.TransientError(fallback, err.Error())
}

func invalidMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid search request"
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Query":
		if fe.Tag() == "required" {
			return "query must not be empty"
		}
		return "query must be at most 200 characters"
	case "Jurisdiction":
		return "jurisdiction must be a two-letter code"
	}
	return "invalid search request"
}
