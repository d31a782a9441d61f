package detect

import (
	"encoding/json"
	"math"
	"os"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

// Token is a word of the input text with its byte offsets.
type Token struct {
	Text       string
	Start, End int
}

type WordPieceTokenizer struct {
	vocab      map[string]int
	unkID      int
	clsID      int
	sepID      int
	maxWordLen int
	maxSeqLen  int
	lowercase  bool
}

// TokenizerOutput holds model inputs plus the mapping from each sub-token
// back to the word it came from (-1 for [CLS] and [SEP]).
type TokenizerOutput struct {
	InputIDs       []int64
	AttentionMask  []int64
	TokenTypeIDs   []int64
	TokenToWordIdx []int
	Words          []Token
}

type tokenizerJSON struct {
	Model struct {
		Vocab map[string]int `json:"vocab"`
	} `json:"model"`
	Normalizer struct {
		Lowercase *bool `json:"lowercase"`
	} `json:"normalizer"`
}

func NewWordPieceTokenizer(tokenizerPath string) (*WordPieceTokenizer, error) {
	vocab, lowercase, err := loadTokenizerConfig(tokenizerPath)
	if err != nil {
		return nil, err
	}
	return newWordPieceTokenizer(vocab, lowercase)
}

func newWordPieceTokenizer(vocab map[string]int, lowercase bool) (*WordPieceTokenizer, error) {
	ids := make([]int, 3)
	for i, special := range []string{"[UNK]", "[CLS]", "[SEP]"} {
		id, ok := vocab[special]
		if !ok {
			return nil, errors.Newf("tokenizer vocab is missing %s", special)
		}
		ids[i] = id
	}
	return &WordPieceTokenizer{
		vocab:      vocab,
		unkID:      ids[0],
		clsID:      ids[1],
		sepID:      ids[2],
		maxWordLen: 100,
		maxSeqLen:  512,
		lowercase:  lowercase,
	}, nil
}

func loadTokenizerConfig(path string) (map[string]int, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	var cfg tokenizerJSON
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false, err
	}
	if len(cfg.Model.Vocab) == 0 {
		return nil, false, errors.New("tokenizer.json model.vocab is empty")
	}
	lowercase := true
	if cfg.Normalizer.Lowercase != nil {
		lowercase = *cfg.Normalizer.Lowercase
	}
	return cfg.Model.Vocab, lowercase, nil
}

func (t *WordPieceTokenizer) Encode(text string) *TokenizerOutput {
	words := splitWordsWithOffsets(text)
	out := &TokenizerOutput{
		InputIDs:       []int64{int64(t.clsID)},
		AttentionMask:  []int64{1},
		TokenTypeIDs:   []int64{0},
		TokenToWordIdx: []int{-1},
		Words:          words,
	}
	for wi, word := range words {
		if len(out.InputIDs) >= t.maxSeqLen-1 {
			break
		}
		for _, pieceID := range t.wordToPieces(word.Text) {
			if len(out.InputIDs) >= t.maxSeqLen-1 {
				break
			}
			out.InputIDs = append(out.InputIDs, int64(pieceID))
			out.AttentionMask = append(out.AttentionMask, 1)
			out.TokenTypeIDs = append(out.TokenTypeIDs, 0)
			out.TokenToWordIdx = append(out.TokenToWordIdx, wi)
		}
	}
	out.InputIDs = append(out.InputIDs, int64(t.sepID))
	out.AttentionMask = append(out.AttentionMask, 1)
	out.TokenTypeIDs = append(out.TokenTypeIDs, 0)
	out.TokenToWordIdx = append(out.TokenToWordIdx, -1)
	return out
}

func (t *WordPieceTokenizer) wordToPieces(word string) []int {
	if word == "" {
		return []int{t.unkID}
	}
	normalized := word
	if t.lowercase {
		normalized = strings.ToLower(word)
	}
	runes := []rune(normalized)
	if len(runes) > t.maxWordLen {
		return []int{t.unkID}
	}
	if id, ok := t.vocab[normalized]; ok {
		return []int{id}
	}
	ids := make([]int, 0)
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
			end--
		}
		if found == -1 {
			return []int{t.unkID}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

func splitWordsWithOffsets(text string) []Token {
	tokens := make([]Token, 0)
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, Token{Text: text[start:i], Start: start, End: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: text[start:], Start: start, End: len(text)})
	}
	return tokens
}

func softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(l))
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(float64(l) - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(probs []float64) (int, float64) {
	best, bestIdx := -1.0, -1
	for i, p := range probs {
		if p > best {
			best, bestIdx = p, i
		}
	}
	return bestIdx, best
}

type bioSpan struct {
	Type       string
	Start, End int
	Score      float64
}

// mergeBIO folds per-word BIO labels into typed spans. A span's score is the
// mean of its words' scores.
func mergeBIO(tokens []Token, labels []string, scores []float64) []bioSpan {
	out := make([]bioSpan, 0)
	var cur *bioSpan
	curCount := 0.0
	flush := func() {
		if cur == nil {
			return
		}
		cur.Score = cur.Score / math.Max(1, curCount)
		out = append(out, *cur)
		cur = nil
		curCount = 0
	}
	for i := range tokens {
		label := labels[i]
		if label == "O" || label == "" {
			flush()
			continue
		}
		prefix, typ, ok := strings.Cut(label, "-")
		if !ok || (prefix != "I" && prefix != "B") {
			flush()
			continue
		}
		if prefix == "B" || cur == nil || cur.Type != typ {
			flush()
			cur = &bioSpan{Type: typ, Start: tokens[i].Start, End: tokens[i].End, Score: scores[i]}
			curCount = 1
			continue
		}
		cur.End = tokens[i].End
		cur.Score += scores[i]
		curCount++
	}
	flush()
	return out
}

func isPersonType(t string) bool {
	switch strings.ToUpper(t) {
	case "PER", "PERSON":
		return true
	default:
		return false
	}
}
