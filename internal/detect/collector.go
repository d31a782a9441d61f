package detect

import (
	"context"
	"time"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// NER outcomes reported on Candidates.
const (
	NEROK          = "ok"
	NERDisabled    = "disabled"
	NERSkipped     = "skipped"
	NERUnavailable = "unavailable"
	NERTimeout     = "timeout"
	NERError       = "error"
)

type CollectorConfig struct {
	NEREnabled bool
	MaxBytes   int
	Timeout    time.Duration
	MinScore   float64
}

// Candidates are the unreconciled spans of one text, kept per source.
type Candidates struct {
	Pattern    []Entity
	NER        []Entity
	NEROutcome string
}

// Sources returns the candidate lists in a fixed order.
func (c Candidates) Sources() [][]Entity {
	return [][]Entity{c.Pattern, c.NER}
}

// Collector runs the pattern detector and the NER detector over the same
// text. A failing detector contributes an empty list; only cancellation of
// the caller's context is returned as an error.
type Collector struct {
	Patterns Detector
	NER      Detector
	Config   CollectorConfig
}

func (c *Collector) Collect(ctx context.Context, text string) (Candidates, error) {
	var out Candidates
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if c.Patterns == nil {
			return nil
		}
		entities, err := c.Patterns.Detect(gctx, text)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			zerolog.Ctx(ctx).Warn().Err(err).Msg("pattern detection failed, continuing without pattern spans")
			return nil
		}
		out.Pattern = entities
		return nil
	})
	g.Go(func() error {
		entities, outcome := c.runNER(gctx, text)
		out.NER = entities
		out.NEROutcome = outcome
		return nil
	})
	if err := g.Wait(); err != nil {
		return Candidates{}, err
	}
	if err := ctx.Err(); err != nil {
		return Candidates{}, err
	}
	return out, nil
}

func (c *Collector) runNER(ctx context.Context, text string) ([]Entity, string) {
	if !c.Config.NEREnabled || c.NER == nil {
		return nil, NERDisabled
	}
	if !shouldRunNER(text) || (c.Config.MaxBytes > 0 && len(text) > c.Config.MaxBytes) {
		return nil, NERSkipped
	}
	nerCtx := ctx
	cancel := func() {}
	if c.Config.Timeout > 0 {
		nerCtx, cancel = context.WithTimeout(ctx, c.Config.Timeout)
	}
	defer cancel()

	logger := zerolog.Ctx(ctx)
	entities, err := c.NER.Detect(nerCtx, text)
	switch {
	case err == nil:
	case errors.Is(err, ErrNERUnavailable):
		// The load error is cached and was logged when it first happened.
		logger.Debug().Err(err).Msg("ner unavailable")
		return nil, NERUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Dur("timeout", c.Config.Timeout).Msg("ner inference timed out, falling back to pattern spans only")
		return nil, NERTimeout
	default:
		logger.Warn().Err(err).Msg("ner inference failed, falling back to pattern spans only")
		return nil, NERError
	}

	kept := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.Score >= c.Config.MinScore {
			kept = append(kept, e)
		}
	}
	if len(entities) > 0 && len(kept) == 0 {
		logger.Debug().
			Int("detected", len(entities)).
			Float64("min_score", c.Config.MinScore).
			Msg("all ner entities filtered out by min_score")
	}
	return kept, NEROK
}

// shouldRunNER skips text that does not look like natural language.
func shouldRunNER(text string) bool {
	if len(text) < 8 {
		return false
	}
	total, letters, spaces := 0.0, 0.0, 0.0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) {
			letters++
		}
		if unicode.IsSpace(r) {
			spaces++
		}
	}
	return (letters/total) > 0.4 && (spaces/total) > 0.05
}
