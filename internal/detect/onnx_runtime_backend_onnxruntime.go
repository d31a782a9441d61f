//go:build onnxruntime

package detect

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

type nativeONNXSession struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	numLabels  int
}

func createONNXSession(cfg ONNXNERConfig, modelPath string, numLabels int) (nerSession, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), "python") {
		return newPythonONNXSession(modelPath, numLabels), nil
	}
	ortInitOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, errors.Wrap(ortInitErr, "initialize onnxruntime")
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrap(err, "inspect model")
	}
	if len(outputs) == 0 {
		return nil, errors.New("model has no outputs")
	}
	inputNames := make([]string, 0, len(inputs))
	for _, in := range inputs {
		inputNames = append(inputNames, in.Name)
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	return &nativeONNXSession{session: session, inputNames: inputNames, numLabels: numLabels}, nil
}

func (s *nativeONNXSession) Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seqLen := int64(len(inputIDs))
	shape := ort.NewShape(1, seqLen)

	inputs := make([]ort.Value, 0, len(s.inputNames))
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()
	for _, name := range s.inputNames {
		data := make([]int64, seqLen)
		switch {
		case strings.Contains(name, "input_ids"):
			copy(data, inputIDs)
		case strings.Contains(name, "attention_mask"):
			copy(data, attentionMask)
		case strings.Contains(name, "token_type_ids"):
			copy(data, tokenTypeIDs)
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, errors.Wrapf(err, "input tensor %s", name)
		}
		inputs = append(inputs, t)
	}

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seqLen, int64(s.numLabels)))
	if err != nil {
		return nil, errors.Wrap(err, "output tensor")
	}
	defer func() { _ = out.Destroy() }()

	if err := s.session.Run(inputs, []ort.Value{out}); err != nil {
		return nil, errors.Wrap(err, "run session")
	}
	flat := out.GetData()
	logits := make([][]float32, seqLen)
	for i := range logits {
		row := make([]float32, s.numLabels)
		copy(row, flat[i*s.numLabels:(i+1)*s.numLabels])
		logits[i] = row
	}
	return logits, nil
}
