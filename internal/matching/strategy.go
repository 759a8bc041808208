package matching

import (
	"math"
	"strings"

	"lerian-entity-resolver/internal/similarity"
	"lerian-entity-resolver/internal/types"
)

// Strategy names
const (
	StrategyID         = "id"
	StrategyExactTitle = "exact_title"
	StrategyFuzzy      = "fuzzy"
	StrategyContext    = "context"
)

// Tier scores of the default strategies, on the engine's [0,100] scale
const (
	IDScore         = 100.0
	ExactTitleScore = 90.0
	FuzzyScore      = 80.0
	ContextScore    = 30.0
)

// Criteria describes what a caller is looking for
type Criteria struct {
	ID      string
	Query   string
	Context []string
}

// Strategy scores one entity against the criteria on a [0,100] scale; 0 means
// the strategy does not match
type Strategy interface {
	Name() string
	Score(e types.Entity, c Criteria) float64
}

// IDStrategy matches on direct id equality
type IDStrategy struct{}

func (IDStrategy) Name() string { return StrategyID }

func (IDStrategy) Score(e types.Entity, c Criteria) float64 {
	if c.ID != "" && e.ID == c.ID {
		return IDScore
	}
	return 0
}

// ExactTitleStrategy matches on case-insensitive equality of the raw title
type ExactTitleStrategy struct{}

func (ExactTitleStrategy) Name() string { return StrategyExactTitle }

func (ExactTitleStrategy) Score(e types.Entity, c Criteria) float64 {
	q := strings.TrimSpace(c.Query)
	if q != "" && strings.EqualFold(strings.TrimSpace(e.Title), q) {
		return ExactTitleScore
	}
	return 0
}

// FuzzyStrategy matches on bidirectional containment of the glyph-stripped
// title and query, falling back to edit-distance similarity above Floor
type FuzzyStrategy struct {
	Matcher *similarity.Matcher
	Floor   float64
}

func (s FuzzyStrategy) Name() string { return StrategyFuzzy }

func (s FuzzyStrategy) Score(e types.Entity, c Criteria) float64 {
	return FuzzyScore * s.Strength(e.Title, c.Query)
}

// Strength returns the fuzzy match strength of title against query in [0,1]
func (s FuzzyStrategy) Strength(title, query string) float64 {
	m := s.Matcher
	if m == nil {
		m = similarity.NewMatcher()
	}
	forward := m.MatchScore(title, query, nil)
	backward := m.MatchScore(query, title, nil)
	best := math.Max(forward, backward)

	if sim := similarity.Similarity(title, query); sim >= s.Floor {
		best = math.Max(best, sim)
	}
	return best
}

// ContextStrategy matches context words longer than two characters against the
// title words
type ContextStrategy struct{}

func (ContextStrategy) Name() string { return StrategyContext }

func (ContextStrategy) Score(e types.Entity, c Criteria) float64 {
	return ContextScore * similarity.ContextOverlap(e.Title, c.Context)
}
