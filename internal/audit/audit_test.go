package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piimask/internal/detect"
	"piimask/internal/sanitizer"
)

func TestFromResultNeverRecordsValues(t *testing.T) {
	res, err := sanitizer.Apply("mail a@b.com now",
		[]detect.Entity{
			{Classification: "email", Start: 5, End: 12, Source: detect.SourcePattern},
			{Classification: "phone_number", Start: 5, End: 9},
			{Classification: "dob", Start: 40, End: 50},
		})
	require.NoError(t, err)

	e := FromResult(res)
	assert.Equal(t, 16, e.InputBytes)
	assert.Equal(t, []MaskedItem{{Type: "email", Placeholder: "[email]", Source: detect.SourcePattern}}, e.MaskedItems)
	assert.Equal(t, DroppedCounts{Invalid: 1, Overlap: 1}, e.Dropped)
	assert.Equal(t, Entry{}, FromResult(nil))
}

func TestJSONLLoggerAppendsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	l, err := NewJSONLLogger(path)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, l.Log(Entry{RequestID: "r1", Endpoint: "/v1/mask", StatusCode: 200,
		MaskedItems: []MaskedItem{{Type: "email", Placeholder: "[email]"}}}))
	require.NoError(t, l.Log(Entry{RequestID: "r2", Endpoint: "/classify", StatusCode: 200, Category: "Incident"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(raw), "\n"))
	assert.NotContains(t, string(raw), "a@b.com")

	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-01-02T03:04:05Z", entries[0].Timestamp)
	assert.Equal(t, "Incident", entries[1].Category)
}

func TestMillis(t *testing.T) {
	assert.InDelta(t, 1.5, Millis(1500*time.Microsecond), 1e-9)
}
