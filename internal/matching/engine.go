// Package matching ranks provider entities against a query by pooling the
// scores of several independent strategies, and offers suggestions and
// near-duplicate clustering on top of the same primitives.
package matching

import (
	"fmt"
	"sort"

	"lerian-entity-resolver/internal/similarity"
	"lerian-entity-resolver/internal/types"
)

// StrategyRecent labels suggestions produced by the most-recent fallback
const StrategyRecent = "recent"

// Config holds the floors used by the engine
type Config struct {
	FuzzyFloor       float64 `json:"fuzzy_floor"`
	SuggestionFloor  float64 `json:"suggestion_floor"`
	ClusterThreshold float64 `json:"cluster_threshold"`
	MaxRanked        int     `json:"max_ranked"`
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		FuzzyFloor:       0.6,
		SuggestionFloor:  0.3,
		ClusterThreshold: 0.8,
		MaxRanked:        5,
	}
}

// Ranked is one scored candidate
type Ranked struct {
	Entity   types.Entity `json:"entity"`
	Score    float64      `json:"score"`
	Strategy string       `json:"strategy"`
}

// Engine pools strategy scores into a ranking
type Engine struct {
	config     Config
	matcher    *similarity.Matcher
	strategies []Strategy
}

// NewEngine creates an engine. Without explicit strategies the default pool
// (id, exact title, fuzzy, context) is used, in that priority order.
func NewEngine(config Config, strategies ...Strategy) *Engine {
	if config.MaxRanked <= 0 {
		config.MaxRanked = DefaultConfig().MaxRanked
	}
	matcher := similarity.NewMatcher()
	if len(strategies) == 0 {
		strategies = []Strategy{
			IDStrategy{},
			ExactTitleStrategy{},
			FuzzyStrategy{Matcher: matcher, Floor: config.FuzzyFloor},
			ContextStrategy{},
		}
	}
	return &Engine{
		config:     config,
		matcher:    matcher,
		strategies: strategies,
	}
}

// Strategies returns the strategy pool in priority order
func (e *Engine) Strategies() []Strategy {
	return e.strategies
}

// RankedMatch scores every entity with every strategy, keeps the best score
// per entity id and returns the top MaxRanked candidates, highest first.
// Ties keep strategy priority order, then input order.
func (e *Engine) RankedMatch(entities []types.Entity, criteria Criteria) []Ranked {
	byID := make(map[string]int, len(entities))
	hits := make([]Ranked, 0, len(entities))

	for i, entity := range entities {
		key := entity.ID
		if key == "" {
			key = fmt.Sprintf("#%d", i)
		}

		for _, strategy := range e.strategies {
			score := strategy.Score(entity, criteria)
			if score <= 0 {
				continue
			}
			candidate := Ranked{Entity: entity, Score: clampScore(score), Strategy: strategy.Name()}

			if idx, seen := byID[key]; seen {
				if candidate.Score > hits[idx].Score {
					hits[idx] = candidate
				}
				continue
			}
			byID[key] = len(hits)
			hits = append(hits, candidate)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > e.config.MaxRanked {
		hits = hits[:e.config.MaxRanked]
	}
	return hits
}

// FindBestMatch returns the top-ranked entity for query, or nil when no
// strategy matched anything
func (e *Engine) FindBestMatch(entities []types.Entity, query string, context []string) *Ranked {
	ranked := e.RankedMatch(entities, Criteria{Query: query, Context: context})
	if len(ranked) == 0 {
		return nil
	}
	best := ranked[0]
	return &best
}

// Suggest returns up to limit entities whose fuzzy strength against query
// exceeds the suggestion floor. When none qualify it falls back to the most
// recent entities by due date.
func (e *Engine) Suggest(entities []types.Entity, query string, limit int) []Ranked {
	if limit <= 0 {
		limit = e.config.MaxRanked
	}

	fuzzy := FuzzyStrategy{Matcher: e.matcher, Floor: e.config.FuzzyFloor}
	suggestions := make([]Ranked, 0, limit)
	if query != "" {
		for _, entity := range entities {
			strength := fuzzy.Strength(entity.Title, query)
			if strength > e.config.SuggestionFloor {
				suggestions = append(suggestions, Ranked{
					Entity:   entity,
					Score:    clampScore(FuzzyScore * strength),
					Strategy: StrategyFuzzy,
				})
			}
		}
	}

	if len(suggestions) == 0 {
		return MostRecent(entities, limit)
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}

// MostRecent returns up to limit entities ordered by due date, newest first;
// undated entities come last in input order
func MostRecent(entities []types.Entity, limit int) []Ranked {
	ordered := make([]types.Entity, len(entities))
	copy(ordered, entities)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Due, ordered[j].Due
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	out := make([]Ranked, 0, len(ordered))
	for _, entity := range ordered {
		out = append(out, Ranked{Entity: entity, Strategy: StrategyRecent})
	}
	return out
}

// Cluster groups near-duplicate entities with greedy single-link grouping: an
// entity joins a group when its title similarity to any member reaches
// threshold. Only groups with at least two members are returned.
func (e *Engine) Cluster(entities []types.Entity, threshold float64) [][]types.Entity {
	if threshold <= 0 {
		threshold = e.config.ClusterThreshold
	}

	assigned := make([]bool, len(entities))
	var clusters [][]types.Entity

	for seed := range entities {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		members := []int{seed}

		for grew := true; grew; {
			grew = false
			for candidate := range entities {
				if assigned[candidate] {
					continue
				}
				for _, member := range members {
					if similarity.Similarity(entities[member].Title, entities[candidate].Title) >= threshold {
						assigned[candidate] = true
						members = append(members, candidate)
						grew = true
						break
					}
				}
			}
		}

		if len(members) < 2 {
			continue
		}
		sort.Ints(members)
		group := make([]types.Entity, 0, len(members))
		for _, idx := range members {
			group = append(group, entities[idx])
		}
		clusters = append(clusters, group)
	}

	return clusters
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > IDScore {
		return IDScore
	}
	return score
}
