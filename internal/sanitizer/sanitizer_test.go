package sanitizer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piimask/internal/detect"
	"piimask/internal/trace"
)

func TestApplyEmailScenario(t *testing.T) {
	text := "Contact me at a@b.com or 1234567890123456"
	email := spanOf(t, text, "a@b.com", "email")

	res, err := Apply(text, []detect.Entity{email}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Contact me at [email] or 1234567890123456", res.MaskedText)
	assert.Equal(t, text, res.InputText)
	require.Len(t, res.Spans, 1)
	assert.Len(t, res.MaskedText, expectedLength(text, res.Spans))
}

func TestApplyOverlappingSameStartScenario(t *testing.T) {
	text := "1234 5678 9012 belongs to me"
	res, err := Apply(text,
		[]detect.Entity{{Classification: "aadhar_num", Start: 0, End: 10}},
		[]detect.Entity{{Classification: "full_name", Start: 0, End: 8}},
	)
	require.NoError(t, err)
	require.Len(t, res.Spans, 1)
	assert.Equal(t, "aadhar_num", res.Spans[0].Classification)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, ReasonOverlap, res.Dropped[0].Reason)
	assert.Equal(t, "[aadhar_num]9012 belongs to me", res.MaskedText)
}

func TestApplyEmptyCandidatesScenario(t *testing.T) {
	text := "Nothing sensitive in here."
	res, err := Apply(text, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, text, res.MaskedText)
	assert.Empty(t, res.Spans)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"input_text":"Nothing sensitive in here.","reconciled_spans":[],"masked_text":"Nothing sensitive in here."}`, string(raw))
}

func TestApplyThreeSpansOfDifferentLengths(t *testing.T) {
	text := "Ann called 555-0100 on 01-02-1990 about card 4111111111111111."
	name := spanOf(t, text, "Ann", "full_name")
	phone := spanOf(t, text, "555-0100", "phone_number")
	dob := spanOf(t, text, "01-02-1990", "dob")
	res, err := Apply(text, []detect.Entity{dob, phone}, []detect.Entity{name})
	require.NoError(t, err)

	assert.Equal(t, "[full_name] called [phone_number] on [dob] about card 4111111111111111.", res.MaskedText)
	assert.Len(t, res.MaskedText, expectedLength(text, res.Spans))

	// Each placeholder lands at its original start shifted by the drift of
	// every earlier replacement.
	offset := 0
	for _, s := range res.Spans {
		p := Placeholder(s.Classification)
		assert.Equal(t, p, res.MaskedText[s.Start+offset:s.Start+offset+len(p)])
		offset += len(p) - (s.End - s.Start)
	}
}

func TestApplyIsIdempotentOnMaskedText(t *testing.T) {
	d := detect.MustDefaultPatternDetector()
	ctx := context.Background()
	text := "Reach me at jane@example.com today"

	first, err := d.Detect(ctx, text)
	require.NoError(t, err)
	once, err := Apply(text, first)
	require.NoError(t, err)
	require.Equal(t, "Reach me at [email] today", once.MaskedText)

	second, err := d.Detect(ctx, once.MaskedText)
	require.NoError(t, err)
	twice, err := Apply(once.MaskedText, second)
	require.NoError(t, err)
	assert.Equal(t, once.MaskedText, twice.MaskedText)
	assert.Empty(t, twice.Spans)
}

type fixedCollector struct {
	candidates detect.Candidates
	err        error
}

func (f fixedCollector) Collect(context.Context, string) (detect.Candidates, error) {
	return f.candidates, f.err
}

type recordingObserver struct {
	stages  map[string]int
	results []*Result
}

func (r *recordingObserver) ObserveStage(stage string, _ time.Duration) {
	if r.stages == nil {
		r.stages = map[string]int{}
	}
	r.stages[stage]++
}

func (r *recordingObserver) ObserveResult(res *Result) {
	r.results = append(r.results, res)
}

func TestSanitizeUsesCollectorAndRecordsTrace(t *testing.T) {
	text := "Call Bob Stone at 9876543210"
	c := fixedCollector{candidates: detect.Candidates{
		Pattern:    []detect.Entity{{Classification: "phone_number", Start: 18, End: 28, Source: detect.SourcePattern}},
		NER:        []detect.Entity{{Classification: "full_name", Start: 5, End: 14, Source: detect.SourceNER}},
		NEROutcome: detect.NEROK,
	}}
	obs := &recordingObserver{}
	s := New(c, WithObserver(obs))
	tr := trace.NewRequestTrace(0)

	res, err := s.Sanitize(trace.WithContext(context.Background(), tr), text)
	require.NoError(t, err)
	assert.Equal(t, "Call [full_name] at [phone_number]", res.MaskedText)
	assert.Equal(t, detect.NEROK, res.NEROutcome)

	assert.Equal(t, map[string]int{StageDetect: 1, StageReconcile: 1, StageMask: 1}, obs.stages)
	require.Len(t, obs.results, 1)
	assert.False(t, tr.DetectEnd.IsZero())
	assert.False(t, tr.MaskEnd.IsZero())
	assert.Equal(t, detect.NEROK, tr.NEROutcome)
}

func TestSanitizeCollectorError(t *testing.T) {
	s := New(fixedCollector{err: context.Canceled})
	_, err := s.Sanitize(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSanitizeWithoutCollector(t *testing.T) {
	_, err := New(nil).Sanitize(context.Background(), "text")
	require.Error(t, err)
}

func TestSanitizerWithPriorities(t *testing.T) {
	s := New(nil, WithPriorities(NewPriorityTable(map[string]int{"dob": 0})))
	res, err := s.Apply("01-02-1990", []detect.Entity{
		{Classification: "phone_number", Start: 0, End: 10},
		{Classification: "dob", Start: 0, End: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, "[dob]", res.MaskedText)
}

func TestApplyReportsResultToObserver(t *testing.T) {
	obs := &recordingObserver{}
	s := New(nil, WithObserver(obs))

	res, err := s.Apply("mail a@b.com", []detect.Entity{
		{Classification: "email", Start: 5, End: 12, Source: detect.SourcePattern},
		{Classification: "dob", Start: 40, End: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, "mail [email]", res.MaskedText)

	require.Len(t, obs.results, 1)
	assert.Same(t, res, obs.results[0])
	assert.Len(t, obs.results[0].Dropped, 1)
	assert.Equal(t, map[string]int{StageReconcile: 1, StageMask: 1}, obs.stages)
}
