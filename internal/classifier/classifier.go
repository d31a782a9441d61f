// Package classifier assigns a support-ticket category to masked email text.
package classifier

import (
	"context"
	"strings"
	"unicode"
)

type Category string

const (
	Incident Category = "Incident"
	Request  Category = "Request"
	Change   Category = "Change"
	Problem  Category = "Problem"
)

// Categories lists every category in tie-break order.
var Categories = []Category{Incident, Request, Change, Problem}

type Classifier interface {
	Classify(ctx context.Context, text string) (Category, error)
}

// KeywordClassifier scores each category by keyword hits and returns the
// best one. Text without any hit is a Request.
type KeywordClassifier struct {
	keywords map[Category][]string
}

var defaultKeywords = map[Category][]string{
	Incident: {
		"outage", "down", "not working", "crash", "crashed", "error", "failed",
		"failure", "unavailable", "urgent", "broken", "cannot access", "can't access",
		"breach", "disruption", "stopped",
	},
	Request: {
		"request", "please", "could you", "can you", "would like", "need access",
		"information", "help", "inquiry", "question", "provide", "new account",
	},
	Change: {
		"change", "update", "upgrade", "modify", "migrate", "migration", "replace",
		"switch", "configure", "reconfigure", "install", "deploy", "schedule",
	},
	Problem: {
		"problem", "issue", "recurring", "again", "keeps", "intermittent",
		"repeatedly", "root cause", "slow", "persistent", "still",
	},
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{keywords: defaultKeywords}
}

func (c *KeywordClassifier) Classify(ctx context.Context, text string) (Category, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	normalized := " " + normalize(text) + " "
	best, bestScore := Request, 0
	for _, cat := range Categories {
		score := 0
		for _, kw := range c.keywords[cat] {
			score += strings.Count(normalized, " "+kw+" ")
		}
		if score > bestScore {
			best, bestScore = cat, score
		}
	}
	return best, nil
}

// normalize lowercases text and collapses everything except letters, digits
// and apostrophes into single spaces.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
