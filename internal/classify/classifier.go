package classify

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type Label string

const (
	LabelCareNeeded Label = "care_needed"
	LabelFactQuery  Label = "fact_query"
	LabelHomework   Label = "homework"
	LabelSearch     Label = "search"
	LabelPractice   Label = "practice"
	LabelChat       Label = "chat"
	LabelGeneral    Label = "general"
)

const (
	shortTextConfidence = 0.6
	defaultConfidence   = 0.5
)

type Result struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	Matched    string  `json:"matched,omitempty"`
}

type bucket struct {
	label        Label
	confidence   float64
	suppressible bool
	phrases      []string
}

// Classifier maps turn text to a scenario label. It holds no mutable state and
// is safe for concurrent use.
type Classifier struct {
	crisis     []string
	pairs      [][2]string
	negations  []string
	buckets    []bucket
	shortRunes int
}

func New(rules Rules) *Classifier {
	c := &Classifier{shortRunes: rules.ShortTextRunes}
	c.crisis = normalizeAll(rules.Crisis.Phrases)
	for _, p := range rules.Crisis.Pairs {
		if len(p) != 2 {
			continue
		}
		c.pairs = append(c.pairs, [2]string{normalize(p[0]), normalize(p[1])})
	}
	c.negations = normalizeAll(rules.Negations)
	for _, b := range rules.Buckets {
		c.buckets = append(c.buckets, bucket{
			label:        b.Label,
			confidence:   b.Confidence,
			suppressible: b.Suppressible,
			phrases:      normalizeAll(b.Phrases),
		})
	}
	return c
}

// NewDefault builds a classifier from the embedded rules.
func NewDefault() *Classifier {
	return New(DefaultRules())
}

// Classify walks the rule ladder top to bottom and returns the first match:
// crisis override, keyword buckets in priority order (negation suppresses
// only suppressible buckets), short-text fallback, then general.
func (c *Classifier) Classify(text string) Result {
	norm := normalize(text)
	padded := " " + norm + " "

	for _, phrase := range c.crisis {
		if containsPhrase(padded, phrase) {
			return Result{Label: LabelCareNeeded, Confidence: 1.0, Matched: phrase}
		}
	}
	for _, pair := range c.pairs {
		if containsPhrase(padded, pair[0]) && containsPhrase(padded, pair[1]) {
			return Result{Label: LabelCareNeeded, Confidence: 1.0, Matched: pair[0] + "+" + pair[1]}
		}
	}

	negated := false
	for _, n := range c.negations {
		if containsPhrase(padded, n) {
			negated = true
			break
		}
	}

	for _, b := range c.buckets {
		if b.suppressible && negated {
			continue
		}
		for _, phrase := range b.phrases {
			if containsPhrase(padded, phrase) {
				return Result{Label: b.label, Confidence: b.confidence, Matched: phrase}
			}
		}
	}

	if norm != "" && utf8.RuneCountInString(strings.TrimSpace(text)) < c.shortRunes {
		return Result{Label: LabelFactQuery, Confidence: shortTextConfidence}
	}
	return Result{Label: LabelGeneral, Confidence: defaultConfidence}
}

func containsPhrase(padded, phrase string) bool {
	return phrase != "" && strings.Contains(padded, " "+phrase+" ")
}

// normalize lowercases, turns punctuation into spaces and collapses runs of
// whitespace. Apostrophes survive so contractions stay one token.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "’", "'")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if n := normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}
