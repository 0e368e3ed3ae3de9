package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/engine"
	"github.com/use-agent/regscout/models"
)

// finalInspectTimeout bounds the one-shot page inspection after the race
// deadline.
const finalInspectTimeout = 3 * time.Second

// Verdict is the classified state of the page after submission.
type Verdict struct {
	Kind models.OutcomeKind

	// Table is set for OutcomeSuccess.
	Table engine.Element

	// Phrase is the matched phrase for OutcomeBlocked and OutcomeNoResults.
	Phrase string
}

type signalKind int

const (
	signalTable signalKind = iota
	signalEmpty
	signalBlock
)

type signal struct {
	kind   signalKind
	table  engine.Element
	phrase string
}

// Classifier races the results, no-records and block detectors against one
// deadline.
//
// A results table wins as soon as it is seen, whatever phrases matched
// before it. Phrase matches are only held: challenge pages clear themselves
// and the form page can still show an old "no records" label while the new
// results load. At the deadline a held block phrase wins over a held
// no-records phrase. With nothing held the page text is inspected once and
// OUTCOME_TIMEOUT is returned if that matches nothing either.
type Classifier struct {
	search  config.SearchConfig
	timeout time.Duration
	logger  *slog.Logger
}

// NewClassifier creates a Classifier bounded by timeout.
func NewClassifier(search config.SearchConfig, timeout time.Duration, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{search: search, timeout: timeout, logger: logger}
}

// Classify determines the outcome of the page shown by sess. The returned
// error is a SearchError with OUTCOME_TIMEOUT when no detector fired, or
// INTERACTION_TIMEOUT when ctx itself ended.
func (c *Classifier) Classify(ctx context.Context, sess engine.Session, table engine.Target) (Verdict, error) {
	raceCtx, cancel := context.WithTimeout(ctx, c.timeout)

	signals := make(chan signal, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.detectTable(raceCtx, sess, table, signals) }()
	go func() { defer wg.Done(); c.detectPhrase(raceCtx, sess, signalEmpty, c.search.NoResultsPhrases, signals) }()
	go func() { defer wg.Done(); c.detectPhrase(raceCtx, sess, signalBlock, c.search.BlockPhrases, signals) }()
	defer func() {
		cancel()
		wg.Wait()
	}()

	var block, empty *signal
	held := func() (Verdict, bool) {
		switch {
		case block != nil:
			return Verdict{Kind: models.OutcomeBlocked, Phrase: block.phrase}, true
		case empty != nil:
			return Verdict{Kind: models.OutcomeNoResults, Phrase: empty.phrase}, true
		}
		return Verdict{}, false
	}

	for {
		select {
		case s := <-signals:
			switch s.kind {
			case signalTable:
				return Verdict{Kind: models.OutcomeSuccess, Table: s.table}, nil
			case signalBlock:
				block = &s
			case signalEmpty:
				empty = &s
			}

		case <-raceCtx.Done():
			if err := ctx.Err(); err != nil {
				return Verdict{}, categorizeError(context.Cause(ctx), models.ErrCodeInteractionTimeout, "cancelled while waiting for the outcome")
			}
			// A table seen in the last poll still wins.
			for drained := false; !drained; {
				select {
				case s := <-signals:
					switch s.kind {
					case signalTable:
						return Verdict{Kind: models.OutcomeSuccess, Table: s.table}, nil
					case signalBlock:
						block = &s
					case signalEmpty:
						empty = &s
					}
				default:
					drained = true
				}
			}
			if v, ok := held(); ok {
				return v, nil
			}
			return c.inspect(ctx, sess)
		}
	}
}

// inspect checks the page text once after the race deadline.
func (c *Classifier) inspect(ctx context.Context, sess engine.Session) (Verdict, error) {
	ictx, cancel := context.WithTimeout(ctx, finalInspectTimeout)
	defer cancel()

	text, err := sess.Text(ictx)
	if err != nil {
		c.logger.Debug("classifier: final inspection failed", "error", err)
	}
	if p := engine.MatchPhrase(text, c.search.BlockPhrases); p != "" {
		return Verdict{Kind: models.OutcomeBlocked, Phrase: p}, nil
	}
	if p := engine.MatchPhrase(text, c.search.NoResultsPhrases); p != "" {
		return Verdict{Kind: models.OutcomeNoResults, Phrase: p}, nil
	}
	return Verdict{}, models.NewSearchError(models.ErrCodeOutcomeTimeout,
		"no results table, no-records text or block page appeared before the deadline", nil)
}

func (c *Classifier) detectTable(ctx context.Context, sess engine.Session, t engine.Target, out chan<- signal) {
	c.poll(ctx, func() bool {
		el, ok, err := sess.Find(ctx, t)
		if err != nil {
			c.logDetectorError("results", err)
			return false
		}
		if ok {
			out <- signal{kind: signalTable, table: el}
		}
		return ok
	})
}

func (c *Classifier) detectPhrase(ctx context.Context, sess engine.Session, kind signalKind, phrases []string, out chan<- signal) {
	if len(phrases) == 0 {
		return
	}
	c.poll(ctx, func() bool {
		text, err := sess.Text(ctx)
		if err != nil {
			c.logDetectorError("phrase", err)
			return false
		}
		if p := engine.MatchPhrase(text, phrases); p != "" {
			out <- signal{kind: kind, phrase: p}
			return true
		}
		return false
	})
}

// poll runs check immediately and then every PollInterval until it reports
// done or ctx ends.
func (c *Classifier) poll(ctx context.Context, check func() bool) {
	t := time.NewTicker(c.search.PollInterval)
	defer t.Stop()
	for {
		if ctx.Err() != nil || check() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// logDetectorError logs errors that are expected while the page is
// replaced by the post-submit document.
func (c *Classifier) logDetectorError(detector string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	c.logger.Debug("classifier: detector check failed", "detector", detector, "error", err)
}
