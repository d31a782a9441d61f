package sanitizer

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"piimask/internal/detect"
	"piimask/internal/trace"
)

// Result is the outcome of masking one text. MaskedText is derived from
// InputText and Spans alone.
type Result struct {
	InputText  string          `json:"input_text"`
	Spans      []detect.Entity `json:"reconciled_spans"`
	MaskedText string          `json:"masked_text"`
	Dropped    []Dropped       `json:"-"`
	NEROutcome string          `json:"-"`
}

// Collector supplies candidate spans for a text.
type Collector interface {
	Collect(ctx context.Context, text string) (detect.Candidates, error)
}

// Observer receives per-request measurements, e.g. for metrics.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveResult(res *Result)
}

const (
	StageDetect    = "detect"
	StageReconcile = "reconcile"
	StageMask      = "mask"
)

type Sanitizer struct {
	collector  Collector
	reconciler *Reconciler
	observer   Observer
}

type Option func(*Sanitizer)

func WithPriorities(p PriorityTable) Option {
	return func(s *Sanitizer) { s.reconciler = NewReconciler(p) }
}

func WithObserver(o Observer) Option {
	return func(s *Sanitizer) { s.observer = o }
}

func New(collector Collector, opts ...Option) *Sanitizer {
	s := &Sanitizer{collector: collector, reconciler: NewReconciler(DefaultPriorities())}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply reconciles the given candidate lists against text with the default
// priority table and masks the result.
func Apply(text string, sources ...[]detect.Entity) (*Result, error) {
	return New(nil).Apply(text, sources...)
}

func (s *Sanitizer) Apply(text string, sources ...[]detect.Entity) (*Result, error) {
	res, err := s.apply(context.Background(), text, sources)
	if err != nil {
		return nil, err
	}
	s.observeResult(res)
	return res, nil
}

// Sanitize collects candidates for text and masks them.
func (s *Sanitizer) Sanitize(ctx context.Context, text string) (*Result, error) {
	if s.collector == nil {
		return nil, errors.New("sanitizer has no collector")
	}
	tr, _ := trace.FromContext(ctx)
	detectStart := time.Now()
	candidates, err := s.collector.Collect(ctx, text)
	detectEnd := time.Now()
	if err != nil {
		return nil, errors.Wrap(err, "collect candidates")
	}
	s.observeStage(StageDetect, detectEnd.Sub(detectStart))
	if tr != nil {
		tr.DetectStart, tr.DetectEnd = detectStart, detectEnd
		tr.NEROutcome = candidates.NEROutcome
	}

	res, err := s.apply(ctx, text, candidates.Sources())
	if err != nil {
		return nil, err
	}
	res.NEROutcome = candidates.NEROutcome
	s.observeResult(res)
	return res, nil
}

func (s *Sanitizer) apply(ctx context.Context, text string, sources [][]detect.Entity) (*Result, error) {
	tr, _ := trace.FromContext(ctx)

	reconcileStart := time.Now()
	spans, dropped := s.reconciler.Reconcile(text, Pool(sources...))
	reconcileEnd := time.Now()
	s.observeStage(StageReconcile, reconcileEnd.Sub(reconcileStart))

	logger := zerolog.Ctx(ctx)
	for _, d := range dropped {
		if d.Reason == ReasonInvalid {
			logger.Debug().
				Str("classification", d.Entity.Classification).
				Int("start", d.Entity.Start).
				Int("end", d.Entity.End).
				Str("source", d.Entity.Source).
				Msg("dropped invalid span")
		}
	}

	masked, err := Mask(text, spans)
	maskEnd := time.Now()
	if err != nil {
		return nil, errors.Wrap(err, "mask text")
	}
	s.observeStage(StageMask, maskEnd.Sub(reconcileEnd))
	if tr != nil {
		tr.ReconcileStart, tr.ReconcileEnd = reconcileStart, reconcileEnd
		tr.MaskStart, tr.MaskEnd = reconcileEnd, maskEnd
	}

	return &Result{InputText: text, Spans: spans, MaskedText: masked, Dropped: dropped}, nil
}

func (s *Sanitizer) observeStage(stage string, d time.Duration) {
	if s.observer != nil {
		s.observer.ObserveStage(stage, d)
	}
}

func (s *Sanitizer) observeResult(res *Result) {
	if s.observer != nil {
		s.observer.ObserveResult(res)
	}
}
