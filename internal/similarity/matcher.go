package similarity

import "strings"

// Rule scores a normalised title against a normalised query. A rule that does
// not apply returns 0.
type Rule interface {
	Name() string
	Score(title, query string, context []string) float64
}

// Weights holds the score each default rule yields when it applies
type Weights struct {
	Exact     float64 `json:"exact" yaml:"exact"`
	Prefix    float64 `json:"prefix" yaml:"prefix"`
	Substring float64 `json:"substring" yaml:"substring"`
	Word      float64 `json:"word" yaml:"word"`
	Context   float64 `json:"context" yaml:"context"`
}

// DefaultWeights returns the default rule scores
func DefaultWeights() Weights {
	return Weights{
		Exact:     1.0,
		Prefix:    0.9,
		Substring: 0.8,
		Word:      0.7,
		Context:   0.5,
	}
}

// DefaultRules returns the rule chain in priority order
func DefaultRules(w Weights) []Rule {
	return []Rule{
		ExactRule{Weight: w.Exact},
		PrefixRule{Weight: w.Prefix},
		SubstringRule{Weight: w.Substring},
		WordRule{Weight: w.Word},
		ContextRule{Weight: w.Context},
	}
}

// Matcher applies an ordered rule chain; the first rule that applies wins
type Matcher struct {
	rules []Rule
}

// NewMatcher creates a matcher over rules, or the default chain when none are given
func NewMatcher(rules ...Rule) *Matcher {
	if len(rules) == 0 {
		rules = DefaultRules(DefaultWeights())
	}
	return &Matcher{rules: rules}
}

// Rules returns the rule chain
func (m *Matcher) Rules() []Rule {
	return m.rules
}

// MatchScore returns the score of the highest-priority rule that applies to
// title and query, in [0,1]. Empty title or query scores 0.
func (m *Matcher) MatchScore(title, query string, context []string) float64 {
	score, _ := m.Explain(title, query, context)
	return score
}

// Explain is MatchScore that also names the rule that fired
func (m *Matcher) Explain(title, query string, context []string) (float64, string) {
	t, q := Normalize(title), Normalize(query)
	if t == "" || q == "" {
		return 0, ""
	}

	words := make([]string, 0, len(context))
	for _, c := range context {
		if n := Normalize(c); n != "" {
			words = append(words, n)
		}
	}

	for _, rule := range m.rules {
		if s := rule.Score(t, q, words); s > 0 {
			return clamp01(s), rule.Name()
		}
	}
	return 0, ""
}

// ExactRule fires on equal strings
type ExactRule struct{ Weight float64 }

func (r ExactRule) Name() string { return "exact" }

func (r ExactRule) Score(title, query string, _ []string) float64 {
	if title == query {
		return r.Weight
	}
	return 0
}

// PrefixRule fires when the title starts with the query
type PrefixRule struct{ Weight float64 }

func (r PrefixRule) Name() string { return "prefix" }

func (r PrefixRule) Score(title, query string, _ []string) float64 {
	if strings.HasPrefix(title, query) {
		return r.Weight
	}
	return 0
}

// SubstringRule fires when the title contains the query anywhere
type SubstringRule struct{ Weight float64 }

func (r SubstringRule) Name() string { return "substring" }

func (r SubstringRule) Score(title, query string, _ []string) float64 {
	if strings.Contains(title, query) {
		return r.Weight
	}
	return 0
}

// WordRule fires when every query word is a whole word of the title, in any order
type WordRule struct{ Weight float64 }

func (r WordRule) Name() string { return "word" }

func (r WordRule) Score(title, query string, _ []string) float64 {
	titleWords := wordSet(title)
	queryWords := Tokens(query)
	if len(queryWords) == 0 {
		return 0
	}
	for _, w := range queryWords {
		if !titleWords[w] {
			return 0
		}
	}
	return r.Weight
}

// ContextRule scales Weight by the fraction of context words longer than two
// characters found among the title words
type ContextRule struct{ Weight float64 }

func (r ContextRule) Name() string { return "context" }

func (r ContextRule) Score(title, _ string, context []string) float64 {
	return r.Weight * ContextOverlap(title, context)
}

// ContextOverlap returns the fraction of context words (longer than two
// characters) that appear as whole words of title
func ContextOverlap(title string, context []string) float64 {
	titleWords := wordSet(title)
	considered, hits := 0, 0
	for _, c := range context {
		for _, w := range Tokens(c) {
			if len([]rune(w)) <= 2 {
				continue
			}
			considered++
			if titleWords[w] {
				hits++
			}
		}
	}
	if considered == 0 {
		return 0
	}
	return float64(hits) / float64(considered)
}

func wordSet(s string) map[string]bool {
	words := Tokens(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
