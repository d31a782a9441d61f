package detect

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	entities []Entity
	err      error
	wait     bool
}

func (s stubDetector) Detect(ctx context.Context, _ string) ([]Entity, error) {
	if s.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.entities, s.err
}

const naturalText = "Hello, my name is Jane Doe and you can reach me at jane@example.com"

func TestCollectorKeepsSourcesSeparate(t *testing.T) {
	c := &Collector{
		Patterns: stubDetector{entities: []Entity{{Classification: "email", Start: 51, End: 67}}},
		NER:      stubDetector{entities: []Entity{{Classification: FullNameClassification, Start: 18, End: 26, Score: 0.9}}},
		Config:   CollectorConfig{NEREnabled: true, MinScore: 0.5},
	}
	got, err := c.Collect(context.Background(), naturalText)
	require.NoError(t, err)
	require.Len(t, got.Pattern, 1)
	require.Len(t, got.NER, 1)
	assert.Equal(t, NEROK, got.NEROutcome)
	assert.Len(t, got.Sources(), 2)
}

func TestCollectorFiltersNERByMinScore(t *testing.T) {
	c := &Collector{
		NER: stubDetector{entities: []Entity{
			{Classification: FullNameClassification, Start: 18, End: 26, Score: 0.4},
			{Classification: FullNameClassification, Start: 0, End: 5, Score: 0.8},
		}},
		Config: CollectorConfig{NEREnabled: true, MinScore: 0.7},
	}
	got, err := c.Collect(context.Background(), naturalText)
	require.NoError(t, err)
	require.Len(t, got.NER, 1)
	assert.Equal(t, 0, got.NER[0].Start)
}

func TestCollectorNEROutcomes(t *testing.T) {
	tests := []struct {
		name string
		c    Collector
		text string
		want string
	}{
		{name: "disabled", c: Collector{NER: stubDetector{}}, text: naturalText, want: NERDisabled},
		{name: "not natural language", c: Collector{NER: stubDetector{}, Config: CollectorConfig{NEREnabled: true}}, text: "1234-5678-9012-3456", want: NERSkipped},
		{name: "too large", c: Collector{NER: stubDetector{}, Config: CollectorConfig{NEREnabled: true, MaxBytes: 10}}, text: naturalText, want: NERSkipped},
		{name: "unavailable", c: Collector{NER: stubDetector{err: errors.Mark(errors.New("model missing"), ErrNERUnavailable)}, Config: CollectorConfig{NEREnabled: true}}, text: naturalText, want: NERUnavailable},
		{name: "error", c: Collector{NER: stubDetector{err: errors.New("boom")}, Config: CollectorConfig{NEREnabled: true}}, text: naturalText, want: NERError},
		{name: "timeout", c: Collector{NER: stubDetector{wait: true}, Config: CollectorConfig{NEREnabled: true, Timeout: 5 * time.Millisecond}}, text: naturalText, want: NERTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.c.Collect(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.NEROutcome)
			assert.Empty(t, got.NER)
		})
	}
}

func TestCollectorPatternFailureDegrades(t *testing.T) {
	c := &Collector{Patterns: stubDetector{err: errors.New("bad pattern")}}
	got, err := c.Collect(context.Background(), naturalText)
	require.NoError(t, err)
	assert.Empty(t, got.Pattern)
}

func TestCollectorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &Collector{Patterns: MustDefaultPatternDetector()}
	_, err := c.Collect(ctx, naturalText)
	require.ErrorIs(t, err, context.Canceled)
}

func TestShouldRunNER(t *testing.T) {
	assert.True(t, shouldRunNER("my name is John Smith"))
	assert.False(t, shouldRunNER("short"))
	assert.False(t, shouldRunNER("4111-1111-1111-1111"))
}
