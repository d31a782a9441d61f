//go:build !onnxruntime

package detect

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateONNXSession_NativeRequestedWithoutTag(t *testing.T) {
	_, err := createONNXSession(ONNXNERConfig{Backend: "native"}, "/tmp/model.onnx", 9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNERUnavailable))
}

func TestCreateONNXSession_DefaultsToPython(t *testing.T) {
	s, err := createONNXSession(ONNXNERConfig{}, "/tmp/model.onnx", 9)
	require.NoError(t, err)
	require.IsType(t, &pythonONNXSession{}, s)
	assert.Equal(t, 9, s.(*pythonONNXSession).numLabels)
}
