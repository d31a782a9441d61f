package detect

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// FullNameClassification is the label emitted for person entities.
const FullNameClassification = "full_name"

var ErrNERUnavailable = errors.New("onnx ner unavailable")

type ONNXNERConfig struct {
	ModelDir string
	MaxBytes int
	// Backend selects the inference runtime: "native" (onnxruntime_go, needs
	// the onnxruntime build tag) or "python". Empty picks the build default.
	Backend string
	// LibraryPath points at the onnxruntime shared library for the native backend.
	LibraryPath string
}

type nerSession interface {
	Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error)
}

type ONNXNERDetector struct {
	cfg       ONNXNERConfig
	once      sync.Once
	loadErr   error
	labels    map[int]string
	tokenizer *WordPieceTokenizer
	session   nerSession
}

func NewONNXNERDetector(cfg ONNXNERConfig) *ONNXNERDetector {
	if cfg.ModelDir == "" {
		cfg.ModelDir = DefaultNERModelDir()
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 32 * 1024
	}
	return &ONNXNERDetector{cfg: cfg}
}

// DefaultNERModelDir prefers ~/.piimask/models/ner_en and falls back to a
// models/ner_en directory relative to the working directory.
func DefaultNERModelDir() string {
	home, err := os.UserHomeDir()
	if err == nil {
		preferred := filepath.Join(home, ".piimask", "models", "ner_en")
		if _, statErr := os.Stat(filepath.Join(preferred, "model.onnx")); statErr == nil {
			return preferred
		}
	}
	return filepath.Join("models", "ner_en")
}

func (d *ONNXNERDetector) init() error {
	d.once.Do(func() {
		if d.session != nil {
			return
		}
		modelPath := filepath.Join(d.cfg.ModelDir, "model.onnx")
		if _, err := os.Stat(modelPath); err != nil {
			d.loadErr = errors.Wrap(err, "model missing")
			return
		}
		labels, err := loadLabels(filepath.Join(d.cfg.ModelDir, "labels.json"))
		if err != nil {
			d.loadErr = errors.Wrap(err, "load labels")
			return
		}
		tok, err := NewWordPieceTokenizer(filepath.Join(d.cfg.ModelDir, "tokenizer.json"))
		if err != nil {
			d.loadErr = errors.Wrap(err, "load tokenizer")
			return
		}
		session, err := createONNXSession(d.cfg, modelPath, len(labels))
		if err != nil {
			d.loadErr = errors.Wrap(err, "create onnx session")
			return
		}
		d.labels = labels
		d.tokenizer = tok
		d.session = session
	})
	return d.loadErr
}

func loadLabels(path string) (map[int]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var byKey map[string]string
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, err
	}
	labels := make(map[int]string, len(byKey))
	for k, v := range byKey {
		idx, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, errors.Wrapf(err, "label index %q", k)
		}
		labels[idx] = v
	}
	if len(labels) == 0 {
		return nil, errors.New("no labels")
	}
	return labels, nil
}

func (d *ONNXNERDetector) Detect(ctx context.Context, text string) ([]Entity, error) {
	if len(text) == 0 || len(text) > d.cfg.MaxBytes {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.init(); err != nil {
		return nil, errors.Mark(err, ErrNERUnavailable)
	}
	enc := d.tokenizer.Encode(text)
	if len(enc.Words) == 0 {
		return nil, nil
	}
	logits, err := d.session.Run(ctx, enc.InputIDs, enc.AttentionMask, enc.TokenTypeIDs)
	if err != nil {
		return nil, errors.Wrap(err, "ner inference")
	}
	if len(logits) != len(enc.InputIDs) {
		return nil, errors.Newf("ner inference returned %d rows for %d tokens", len(logits), len(enc.InputIDs))
	}
	labels, scores := d.wordLabels(enc, logits)
	return spansToEntities(text, mergeBIO(enc.Words, labels, scores)), nil
}

// wordLabels assigns each word the label of its first sub-token. Words that
// were truncated away by the sequence limit stay "O".
func (d *ONNXNERDetector) wordLabels(enc *TokenizerOutput, logits [][]float32) ([]string, []float64) {
	labels := make([]string, len(enc.Words))
	scores := make([]float64, len(enc.Words))
	for i := range labels {
		labels[i] = "O"
	}
	seen := make([]bool, len(enc.Words))
	for ti, wi := range enc.TokenToWordIdx {
		if wi < 0 || seen[wi] {
			continue
		}
		seen[wi] = true
		idx, p := argmax(softmax(logits[ti]))
		if label, ok := d.labels[idx]; ok {
			labels[wi] = label
			scores[wi] = p
		}
	}
	return labels, scores
}

func spansToEntities(text string, spans []bioSpan) []Entity {
	out := make([]Entity, 0, len(spans))
	for _, s := range spans {
		if !isPersonType(s.Type) {
			continue
		}
		out = append(out, Entity{
			Classification: FullNameClassification,
			Start:          s.Start,
			End:            s.End,
			Text:           text[s.Start:s.End],
			Score:          s.Score,
			Source:         SourceNER,
		})
	}
	return out
}
