package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVocab() map[string]int {
	return map[string]int{
		"[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3,
		"my": 4, "name": 5, "is": 6, "john": 7, "smith": 8,
		"sm": 9, "##ith": 10, "call": 11, "me": 12,
	}
}

func TestSplitWordsWithOffsets(t *testing.T) {
	out := splitWordsWithOffsets("My name is John Smith.")
	require.Len(t, out, 5)
	assert.Equal(t, Token{Text: "John", Start: 11, End: 15}, out[3])
	assert.Equal(t, Token{Text: "Smith", Start: 16, End: 21}, out[4])
}

func TestWordPieceEncodeMapsSubTokensToWords(t *testing.T) {
	tok, err := newWordPieceTokenizer(map[string]int{"[UNK]": 1, "[CLS]": 2, "[SEP]": 3, "sm": 9, "##ith": 10, "john": 7}, true)
	require.NoError(t, err)

	enc := tok.Encode("John Smith xyz")
	assert.Equal(t, []int64{2, 7, 9, 10, 1, 3}, enc.InputIDs)
	assert.Equal(t, []int{-1, 0, 1, 1, 2, -1}, enc.TokenToWordIdx)
	assert.Len(t, enc.AttentionMask, len(enc.InputIDs))
	assert.Len(t, enc.TokenTypeIDs, len(enc.InputIDs))
}

func TestWordPieceTokenizerRequiresSpecialTokens(t *testing.T) {
	_, err := newWordPieceTokenizer(map[string]int{"[UNK]": 1, "[CLS]": 2}, true)
	require.ErrorContains(t, err, "[SEP]")
}

func TestMergeBIO(t *testing.T) {
	tokens := []Token{{Text: "John", Start: 0, End: 4}, {Text: "Smith", Start: 5, End: 10}, {Text: "Acme", Start: 14, End: 18}}
	labels := []string{"B-PER", "I-PER", "B-ORG"}
	scores := []float64{0.9, 0.8, 0.85}
	spans := mergeBIO(tokens, labels, scores)
	require.Len(t, spans, 2)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, 10, spans[0].End)
	assert.Equal(t, "PER", spans[0].Type)
	assert.InDelta(t, 0.85, spans[0].Score, 1e-9)
}

func TestMergeBIOInsideAfterOutsideStartsSpan(t *testing.T) {
	tokens := []Token{{Text: "hi", Start: 0, End: 2}, {Text: "Ann", Start: 3, End: 6}}
	spans := mergeBIO(tokens, []string{"O", "I-PER"}, []float64{0.1, 0.7})
	require.Len(t, spans, 1)
	assert.Equal(t, 3, spans[0].Start)
}
