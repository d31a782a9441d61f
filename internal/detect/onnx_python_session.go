package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

const defaultPythonInterpreter = "python3"

// pythonONNXSession scores one token sequence per call in a short-lived
// python3 process with the onnxruntime package, for hosts without the native
// shared library. Each row of the returned logits has numLabels entries.
type pythonONNXSession struct {
	interpreter string
	modelPath   string
	numLabels   int
}

type pythonInferRequest struct {
	ModelPath     string  `json:"model_path"`
	NumLabels     int     `json:"num_labels"`
	InputIDs      []int64 `json:"input_ids"`
	AttentionMask []int64 `json:"attention_mask"`
	TokenTypeIDs  []int64 `json:"token_type_ids"`
}

type pythonInferResponse struct {
	Logits [][]float32 `json:"logits"`
	// MissingDeps is set when numpy or onnxruntime cannot be imported.
	MissingDeps bool   `json:"missing_deps"`
	Error       string `json:"error"`
}

func newPythonONNXSession(modelPath string, numLabels int) *pythonONNXSession {
	return &pythonONNXSession{interpreter: defaultPythonInterpreter, modelPath: modelPath, numLabels: numLabels}
}

func (s *pythonONNXSession) Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error) {
	interpreter, err := exec.LookPath(s.interpreter)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "python interpreter %q", s.interpreter), ErrNERUnavailable)
	}
	payload, err := json.Marshal(pythonInferRequest{
		ModelPath:     s.modelPath,
		NumLabels:     s.numLabels,
		InputIDs:      inputIDs,
		AttentionMask: attentionMask,
		TokenTypeIDs:  tokenTypeIDs,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode inference request")
	}

	cmd := exec.CommandContext(ctx, interpreter, "-c", pythonNERScript)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Wrapf(err, "python ner process: %s", msg)
		}
		return nil, errors.Wrap(err, "python ner process")
	}
	return decodePythonLogits(stdout.Bytes(), len(inputIDs), s.numLabels)
}

// decodePythonLogits checks that the script produced one row of numLabels
// scores per input token.
func decodePythonLogits(raw []byte, seqLen, numLabels int) ([][]float32, error) {
	var resp pythonInferResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "parse python ner output")
	}
	if resp.MissingDeps {
		return nil, errors.Mark(errors.Newf("python ner backend: %s", resp.Error), ErrNERUnavailable)
	}
	if resp.Error != "" {
		return nil, errors.Newf("python ner backend: %s", resp.Error)
	}
	if len(resp.Logits) != seqLen {
		return nil, errors.Newf("python ner backend returned %d rows for %d tokens", len(resp.Logits), seqLen)
	}
	for i, row := range resp.Logits {
		if len(row) != numLabels {
			return nil, errors.Newf("python ner backend row %d has %d scores, labels.json has %d", i, len(row), numLabels)
		}
	}
	return resp.Logits, nil
}

// pythonNERScript reads one pythonInferRequest on stdin and writes one
// pythonInferResponse on stdout. Inputs the export does not name are zeros.
const pythonNERScript = `
import json
import sys

try:
    import numpy as np
    import onnxruntime as ort
except Exception as exc:
    print(json.dumps({"missing_deps": True, "error": "numpy and onnxruntime are required: %s" % exc}))
    sys.exit(0)

try:
    req = json.load(sys.stdin)
    sess = ort.InferenceSession(req["model_path"], providers=["CPUExecutionProvider"])
    seq_len = len(req["input_ids"])
    by_suffix = {
        "input_ids": req["input_ids"],
        "attention_mask": req["attention_mask"],
        "token_type_ids": req["token_type_ids"],
    }
    feed = {}
    for inp in sess.get_inputs():
        values = next((v for k, v in by_suffix.items() if k in inp.name), [0] * seq_len)
        feed[inp.name] = np.array([values], dtype=np.int64)

    scores = sess.run(None, feed)[0][0]
    if scores.shape[-1] != req["num_labels"]:
        raise ValueError("model emits %d labels, expected %d" % (scores.shape[-1], req["num_labels"]))
    print(json.dumps({"logits": scores.astype(np.float32).tolist()}))
except Exception as exc:
    print(json.dumps({"error": str(exc)}))
`
