// Package audit appends one JSON line per masking request. Entries record
// classifications and placeholders only, never the masked values.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"piimask/internal/detect"
	"piimask/internal/sanitizer"
)

type Entry struct {
	Timestamp   string        `json:"timestamp"`
	RequestID   string        `json:"request_id"`
	Endpoint    string        `json:"endpoint"`
	StatusCode  int           `json:"status_code"`
	InputBytes  int           `json:"input_bytes"`
	MaskedItems []MaskedItem  `json:"masked_items,omitempty"`
	Dropped     DroppedCounts `json:"dropped"`
	Category    string        `json:"category,omitempty"`
	NEROutcome  string        `json:"ner_outcome,omitempty"`

	DetectLatencyMs    float64 `json:"detect_latency_ms,omitempty"`
	ReconcileLatencyMs float64 `json:"reconcile_latency_ms,omitempty"`
	MaskLatencyMs      float64 `json:"mask_latency_ms,omitempty"`
	ClassifyLatencyMs  float64 `json:"classify_latency_ms,omitempty"`
	TotalLatencyMs     float64 `json:"total_latency_ms,omitempty"`
}

type MaskedItem struct {
	Type        string `json:"type"`
	Placeholder string `json:"placeholder"`
	Source      string `json:"source,omitempty"`
}

type DroppedCounts struct {
	Invalid int `json:"invalid"`
	Overlap int `json:"overlap"`
}

// FromResult fills the masking fields of an entry from res.
func FromResult(res *sanitizer.Result) Entry {
	var e Entry
	if res == nil {
		return e
	}
	e.InputBytes = len(res.InputText)
	e.NEROutcome = res.NEROutcome
	e.MaskedItems = maskedItems(res.Spans)
	for _, d := range res.Dropped {
		switch d.Reason {
		case sanitizer.ReasonInvalid:
			e.Dropped.Invalid++
		case sanitizer.ReasonOverlap:
			e.Dropped.Overlap++
		}
	}
	return e
}

func maskedItems(spans []detect.Entity) []MaskedItem {
	if len(spans) == 0 {
		return nil
	}
	out := make([]MaskedItem, 0, len(spans))
	for _, s := range spans {
		out = append(out, MaskedItem{
			Type:        s.Classification,
			Placeholder: sanitizer.Placeholder(s.Classification),
			Source:      s.Source,
		})
	}
	return out
}

func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type Logger interface {
	Log(entry Entry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Log(Entry) error { return nil }

type JSONLLogger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewJSONLLogger(path string) (*JSONLLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create log dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "create audit log")
	}
	_ = f.Close()
	return &JSONLLogger{path: path, now: time.Now}, nil
}

func (l *JSONLLogger) Path() string { return l.path }

func (l *JSONLLogger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open audit log")
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(entry); err != nil {
		return errors.Wrap(err, "write audit log")
	}
	return nil
}
