package sanitizer

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piimask/internal/detect"
)

func spanOf(t *testing.T, text, needle, classification string) detect.Entity {
	t.Helper()
	i := strings.Index(text, needle)
	require.GreaterOrEqual(t, i, 0, "%q not in %q", needle, text)
	return detect.Entity{Classification: classification, Start: i, End: i + len(needle), Text: needle}
}

func expectedLength(text string, spans []detect.Entity) int {
	n := len(text)
	for _, s := range spans {
		n += len(Placeholder(s.Classification)) - (s.End - s.Start)
	}
	return n
}

func TestMaskNoSpansReturnsInput(t *testing.T) {
	out, err := Mask("nothing to hide", nil)
	require.NoError(t, err)
	assert.Equal(t, "nothing to hide", out)
}

func TestMaskSequentialSpansTrackDrift(t *testing.T) {
	text := "Hi Jo, mail averylongaddress@example.org or call 12345 today"
	spans := []detect.Entity{
		spanOf(t, text, "Jo", "full_name"),
		spanOf(t, text, "averylongaddress@example.org", "email"),
		spanOf(t, text, "12345", "phone_number"),
	}
	out, err := Mask(text, spans)
	require.NoError(t, err)
	assert.Equal(t, "Hi [full_name], mail [email] or call [phone_number] today", out)
	assert.Len(t, out, expectedLength(text, spans))
}

func TestMaskSpanAtTextBoundaries(t *testing.T) {
	text := "a@b.com x 99/99"
	out, err := Mask(text, []detect.Entity{span("email", 0, 7), span("dob", 10, 15)})
	require.NoError(t, err)
	assert.Equal(t, "[email] x [dob]", out)
}

func TestMaskAdjacentSpans(t *testing.T) {
	out, err := Mask("abcdef", []detect.Entity{span("x", 0, 3), span("yy", 3, 6)})
	require.NoError(t, err)
	assert.Equal(t, "[x][yy]", out)
}

func TestMaskRejectsPreconditionViolations(t *testing.T) {
	text := "0123456789"
	tests := []struct {
		name  string
		spans []detect.Entity
	}{
		{name: "end past text", spans: []detect.Entity{span("email", 5, 11)}},
		{name: "negative start", spans: []detect.Entity{span("email", -1, 2)}},
		{name: "overlap", spans: []detect.Entity{span("email", 0, 5), span("dob", 4, 6)}},
		{name: "unsorted", spans: []detect.Entity{span("email", 6, 8), span("dob", 0, 2)}},
		{name: "empty", spans: []detect.Entity{span("email", 3, 3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Mask(text, tt.spans)
			require.Error(t, err)
			assert.Empty(t, out)
			assert.True(t, IsOutOfRangeSpan(err))
			assert.True(t, errors.HasAssertionFailure(err))
		})
	}
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "[credit_debit_no]", Placeholder("credit_debit_no"))
}
