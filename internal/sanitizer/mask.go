package sanitizer

import (
	"strings"

	"github.com/cockroachdb/errors"

	"piimask/internal/detect"
)

// ErrOutOfRangeSpan marks a Mask precondition violation: a span that ends
// past the text, or that starts before the previous span ended.
var ErrOutOfRangeSpan = errors.New("out of range span")

func IsOutOfRangeSpan(err error) bool {
	return errors.Is(err, ErrOutOfRangeSpan)
}

func outOfRangeSpan(i int, s detect.Entity, textLen, prevEnd int) error {
	return errors.Mark(
		errors.AssertionFailedf("span %d %s [%d,%d) invalid for text of length %d after offset %d",
			i, s.Classification, s.Start, s.End, textLen, prevEnd),
		ErrOutOfRangeSpan)
}

func Placeholder(classification string) string {
	return "[" + classification + "]"
}

// Mask replaces every span with its placeholder. spans must be sorted by
// Start and pairwise disjoint, as returned by Reconcile; Mask does not sort.
//
// offset is the drift between original coordinates and the rewritten text:
// span i lands at Start+offset in the output.
func Mask(text string, spans []detect.Entity) (string, error) {
	if len(spans) == 0 {
		return text, nil
	}
	var b strings.Builder
	b.Grow(len(text))
	offset := 0
	prevEnd := 0
	for i, s := range spans {
		if s.Start < prevEnd || s.Start >= s.End || s.End > len(text) {
			return "", outOfRangeSpan(i, s, len(text), prevEnd)
		}
		b.WriteString(text[prevEnd:s.Start])
		if adjStart := s.Start + offset; b.Len() != adjStart {
			return "", errors.AssertionFailedf("span %d: output at %d, expected %d", i, b.Len(), adjStart)
		}
		placeholder := Placeholder(s.Classification)
		b.WriteString(placeholder)
		offset += len(placeholder) - (s.End - s.Start)
		prevEnd = s.End
	}
	b.WriteString(text[prevEnd:])
	return b.String(), nil
}
