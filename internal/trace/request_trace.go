package trace

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type requestTraceContextKey string

const traceContextKey requestTraceContextKey = "trace"

// DefaultSampleRate is the fraction of requests whose timings are logged.
const DefaultSampleRate = 0.1

// RequestTrace records stage timestamps of one masking request. All methods
// accept a nil receiver.
type RequestTrace struct {
	ID string

	Start time.Time

	DetectStart    time.Time
	DetectEnd      time.Time
	ReconcileStart time.Time
	ReconcileEnd   time.Time
	MaskStart      time.Time
	MaskEnd        time.Time
	ClassifyStart  time.Time
	ClassifyEnd    time.Time

	NEROutcome string
	Sampled    bool

	logOnce sync.Once
}

func NewRequestTrace(sampleRate float64) *RequestTrace {
	return NewRequestTraceWithID(uuid.NewString(), sampleRate)
}

// NewRequestTraceWithID reuses a caller supplied request id, such as an
// incoming X-Request-ID header.
func NewRequestTraceWithID(id string, sampleRate float64) *RequestTrace {
	if id == "" {
		id = uuid.NewString()
	}
	return &RequestTrace{
		ID:      id,
		Start:   time.Now(),
		Sampled: mathrand.Float64() < sampleRate,
	}
}

func WithContext(ctx context.Context, tr *RequestTrace) context.Context {
	if tr == nil {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey, tr)
}

func FromContext(ctx context.Context) (*RequestTrace, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(traceContextKey).(*RequestTrace)
	return tr, ok
}

// Timings are stage durations derived from a trace.
type Timings struct {
	Detect    time.Duration
	Reconcile time.Duration
	Mask      time.Duration
	Classify  time.Duration
	Total     time.Duration
}

func (t *RequestTrace) TimingsAt(end time.Time) Timings {
	if t == nil {
		return Timings{}
	}
	return Timings{
		Detect:    durationBetween(t.DetectStart, t.DetectEnd),
		Reconcile: durationBetween(t.ReconcileStart, t.ReconcileEnd),
		Mask:      durationBetween(t.MaskStart, t.MaskEnd),
		Classify:  durationBetween(t.ClassifyStart, t.ClassifyEnd),
		Total:     durationBetween(t.Start, end),
	}
}

// LogAt writes the stage timings once, and only for sampled traces.
func (t *RequestTrace) LogAt(logger *zerolog.Logger, end time.Time) {
	if t == nil || !t.Sampled || logger == nil {
		return
	}
	t.logOnce.Do(func() {
		tm := t.TimingsAt(end)
		logger.Info().
			Str("request_id", t.ID).
			Dur("total", tm.Total).
			Dur("detect", tm.Detect).
			Dur("reconcile", tm.Reconcile).
			Dur("mask", tm.Mask).
			Dur("classify", tm.Classify).
			Str("ner", t.NEROutcome).
			Msg("request trace")
	})
}

func durationBetween(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
