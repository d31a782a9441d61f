package detect

import (
	"context"
	_ "embed"
	"os"
	"regexp"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatternsYAML []byte

// PatternSpec is one entry of a pattern file.
type PatternSpec struct {
	Classification string  `yaml:"classification"`
	Pattern        string  `yaml:"pattern"`
	Score          float64 `yaml:"score"`
	// DigitBoundary rejects matches that are directly preceded or followed by
	// a digit. RE2 has no look-around, so this stands in for (?<!\d)...(?!\d).
	DigitBoundary bool `yaml:"digit_boundary"`
}

type patternFile struct {
	Patterns []PatternSpec `yaml:"patterns"`
}

type compiledPattern struct {
	spec PatternSpec
	re   *regexp.Regexp
}

type PatternDetector struct {
	patterns []compiledPattern
}

// DefaultPatterns returns the embedded pattern set.
func DefaultPatterns() ([]PatternSpec, error) {
	return ParsePatterns(defaultPatternsYAML)
}

func ParsePatterns(data []byte) ([]PatternSpec, error) {
	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, errors.Wrap(err, "parse pattern file")
	}
	if len(pf.Patterns) == 0 {
		return nil, errors.New("pattern file has no patterns")
	}
	return pf.Patterns, nil
}

// LoadPatternFile reads an operator pattern file that replaces the embedded set.
func LoadPatternFile(path string) ([]PatternSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read pattern file %s", path)
	}
	return ParsePatterns(data)
}

func NewPatternDetector(specs []PatternSpec) (*PatternDetector, error) {
	d := &PatternDetector{patterns: make([]compiledPattern, 0, len(specs))}
	for _, s := range specs {
		if s.Classification == "" {
			return nil, errors.Newf("pattern %q has no classification", s.Pattern)
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "compile pattern for %s", s.Classification)
		}
		d.patterns = append(d.patterns, compiledPattern{spec: s, re: re})
	}
	return d, nil
}

// MustDefaultPatternDetector panics if the embedded pattern set does not compile.
func MustDefaultPatternDetector() *PatternDetector {
	specs, err := DefaultPatterns()
	if err != nil {
		panic(err)
	}
	d, err := NewPatternDetector(specs)
	if err != nil {
		panic(err)
	}
	return d
}

// Classifications lists the labels this detector can emit, in file order.
func (d *PatternDetector) Classifications() []string {
	out := make([]string, 0, len(d.patterns))
	for _, p := range d.patterns {
		out = append(out, p.spec.Classification)
	}
	return out
}

func (d *PatternDetector) Detect(ctx context.Context, text string) ([]Entity, error) {
	out := make([]Entity, 0)
	for _, p := range d.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, findPatternMatches(text, p)...)
	}
	return out, nil
}

func findPatternMatches(text string, p compiledPattern) []Entity {
	indexes := p.re.FindAllStringIndex(text, -1)
	entities := make([]Entity, 0, len(indexes))
	for _, idx := range indexes {
		if idx[0] >= idx[1] {
			continue
		}
		if p.spec.DigitBoundary && touchesDigit(text, idx[0], idx[1]) {
			continue
		}
		entities = append(entities, Entity{
			Classification: p.spec.Classification,
			Start:          idx[0],
			End:            idx[1],
			Text:           text[idx[0]:idx[1]],
			Score:          p.spec.Score,
			Source:         SourcePattern,
		})
	}
	return entities
}

func touchesDigit(text string, start, end int) bool {
	if start > 0 && isASCIIDigit(text[start-1]) {
		return true
	}
	return end < len(text) && isASCIIDigit(text[end])
}

func isASCIIDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
