package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileEmpty(t *testing.T) {
	p := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	entries, err := ParseFile(p)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseFileMissing(t *testing.T) {
	entries, err := ParseFile(filepath.Join(t.TempDir(), "absent.log"))
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestParseFileSkipsMalformedLines(t *testing.T) {
	p := filepath.Join(t.TempDir(), "audit.log")
	body := `{"request_id":"a","endpoint":"/v1/mask","status_code":200}
not json
{"request_id":"b","endpoint":"/classify","status_code":400}
`
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	entries, err := ParseFile(p)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].RequestID)
	assert.Equal(t, 400, entries[1].StatusCode)
}
