//go:build !onnxruntime

package detect

import (
	"strings"

	"github.com/cockroachdb/errors"
)

func createONNXSession(cfg ONNXNERConfig, modelPath string, numLabels int) (nerSession, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), "native") {
		return nil, errors.Mark(errors.New("native ONNX backend requires build tag 'onnxruntime'"), ErrNERUnavailable)
	}
	return newPythonONNXSession(modelPath, numLabels), nil
}
