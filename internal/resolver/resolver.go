// Package resolver maps vague references such as "the event" or "that task"
// onto one concrete entity, using the user's active reference context, the
// conversation pattern and the matching engine. It never guesses: a candidate
// is accepted only when both its score and the confidence clear their gates.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	reserrors "lerian-entity-resolver/internal/errors"
	"lerian-entity-resolver/internal/logging"
	"lerian-entity-resolver/internal/matching"
	"lerian-entity-resolver/internal/monitoring"
	"lerian-entity-resolver/internal/patterns"
	"lerian-entity-resolver/internal/refcontext"
	"lerian-entity-resolver/internal/similarity"
	"lerian-entity-resolver/internal/types"
)

// Status tags the outcome of a resolution
type Status string

const (
	StatusAccepted     Status = "accepted"
	StatusNoContext    Status = "no_context"
	StatusRejected     Status = "rejected"
	StatusNoCandidates Status = "no_candidates"
)

// Match is a scored candidate
type Match struct {
	Entity     types.Entity `json:"entity"`
	Score      float64      `json:"score"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning,omitempty"`
	Signals    []string     `json:"signals,omitempty"`
}

// Resolution is the outcome of ResolveReference. Match is set when the
// status is accepted, and carries the best rejected candidate when rejected.
type Resolution struct {
	Status  Status                             `json:"status"`
	Match   *Match                             `json:"match,omitempty"`
	Message string                             `json:"message"`
	Context *refcontext.ActiveReferenceContext `json:"context,omitempty"`
}

// Accepted reports whether a single entity was resolved
func (r Resolution) Accepted() bool {
	return r.Status == StatusAccepted && r.Match != nil
}

// UpdateOutcome is the programmatic answer to an update request
type UpdateOutcome struct {
	Success       bool          `json:"success"`
	Message       string        `json:"message"`
	MatchedEntity *types.Entity `json:"matched_entity,omitempty"`
	Confidence    float64       `json:"confidence"`
}

// Resolver resolves references for many users; it is safe for concurrent use
// when its store is
type Resolver struct {
	store    refcontext.Store
	engine   *matching.Engine
	analyzer *patterns.Analyzer
	history  patterns.HistorySource
	config   Config
	logger   *logging.ComponentLogger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// Option configures a Resolver
type Option func(*Resolver)

// WithHistorySource supplies history when requests carry none
func WithHistorySource(source patterns.HistorySource) Option {
	return func(r *Resolver) { r.history = source }
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(r *Resolver) { r.logger = logging.NewComponentLogger(logger, "resolver") }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a resolver. Nil engine or analyzer fall back to defaults.
func New(store refcontext.Store, engine *matching.Engine, analyzer *patterns.Analyzer, config Config, opts ...Option) *Resolver {
	if engine == nil {
		engine = matching.NewEngine(matching.DefaultConfig())
	}
	if analyzer == nil {
		analyzer = patterns.NewAnalyzer(patterns.DefaultConfig())
	}
	r := &Resolver{
		store:    store,
		engine:   engine,
		analyzer: analyzer,
		config:   config,
		logger:   logging.NewComponentLogger(nil, "resolver"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the resolver configuration
func (r *Resolver) Config() Config {
	return r.config
}

// view is the pattern and behavior a resolution is scored against
type view struct {
	pattern  patterns.ConversationPattern
	behavior patterns.BehaviorType
	live     bool
}

// ResolveReference resolves referenceText against entities. The error is
// reserved for context store failures; every other outcome is a Resolution.
func (r *Resolver) ResolveReference(ctx context.Context, userID types.UserID, referenceText string, entities []types.Entity) (Resolution, error) {
	if err := userID.Validate(); err != nil {
		return Resolution{}, reserrors.NewRequiredFieldError("user_id")
	}

	stored, err := r.store.Get(ctx, userID)
	if errors.Is(err, refcontext.ErrContextNotFound) {
		return r.finish(ctx, Resolution{Status: StatusNoContext, Message: noContextMessage(referenceText)}), nil
	}
	if err != nil {
		r.logger.WithContext(ctx).LogError("Failed to load reference context", err, "user_id", userID.String())
		return Resolution{}, reserrors.NewContextStoreError("get", err)
	}
	if stored.Expired(r.now()) {
		if err := r.store.Delete(ctx, userID); err != nil {
			r.logger.WithContext(ctx).LogError("Failed to drop expired reference context", err, "user_id", userID.String())
		}
		return r.finish(ctx, Resolution{Status: StatusNoContext, Message: noContextMessage(referenceText)}), nil
	}

	if len(entities) == 0 {
		return r.finish(ctx, Resolution{
			Status:  StatusNoCandidates,
			Message: fmt.Sprintf("I couldn't find any items to match %q against right now.", strings.TrimSpace(referenceText)),
			Context: stored,
		}), nil
	}

	v := r.currentView(ctx, userID, stored)

	candidates := r.engine.RankedMatch(entities, matching.Criteria{
		ID:      stored.EntityID,
		Query:   stored.Title,
		Context: similarity.Tokens(referenceText),
	})
	pool := make([]types.Entity, 0, len(candidates))
	for _, c := range candidates {
		pool = append(pool, c.Entity)
	}
	if len(pool) == 0 {
		pool = entities
	}

	var best *Match
	for _, entity := range pool {
		score, signals := r.score(entity, stored, v)
		if best == nil || score > best.Score {
			best = &Match{Entity: entity, Score: score, Signals: signals}
		}
	}

	confidence, confidenceSignals := r.confidence(v)
	best.Confidence = confidence

	if best.Score >= r.config.MinScore && confidence >= r.config.MinConfidence {
		best.Reasoning = reasoning(best, confidenceSignals)
		return r.finish(ctx, Resolution{
			Status:  StatusAccepted,
			Match:   best,
			Message: fmt.Sprintf("I think you mean %q.", similarity.StripGlyphs(best.Entity.Title)),
			Context: stored,
		}), nil
	}

	return r.finish(ctx, Resolution{
		Status:  StatusRejected,
		Match:   best,
		Message: rejectedMessage(stored),
		Context: stored,
	}), nil
}

func (r *Resolver) finish(ctx context.Context, res Resolution) Resolution {
	scored := res.Match != nil
	confidence := 0.0
	if scored {
		confidence = res.Match.Confidence
	}
	r.metrics.RecordResolution(string(res.Status), confidence, scored)
	r.logger.WithContext(ctx).Debug("Reference resolved",
		"status", string(res.Status),
		"confidence", confidence,
	)
	return res
}

// currentView analyses the request's conversation when there is one and
// otherwise falls back to the snapshot frozen into the stored context
func (r *Resolver) currentView(ctx context.Context, userID types.UserID, stored *refcontext.ActiveReferenceContext) view {
	conv, ok, err := patterns.Resolve(ctx, r.history, userID)
	if err != nil {
		r.logger.WithContext(ctx).LogError("Failed to load conversation history", err, "user_id", userID.String())
	}
	if !ok || err != nil {
		return view{pattern: stored.Pattern, behavior: stored.Behavior}
	}
	return view{
		pattern:  r.analyzer.AnalyzePatterns(conv.Messages, conv.Memories),
		behavior: r.analyzer.ClassifyBehavior(conv.Messages, conv.Memories),
		live:     true,
	}
}

// score adds up the signals linking entity to the stored context, clamped to [0,1]
func (r *Resolver) score(entity types.Entity, stored *refcontext.ActiveReferenceContext, v view) (float64, []string) {
	var score float64
	var signals []string

	title, storedTitle := similarity.Normalize(entity.Title), similarity.Normalize(stored.Title)
	switch {
	case title != "" && title == storedTitle:
		score += r.config.TitleEqualityWeight
		signals = append(signals, "title matches the last item we discussed")
	case title != "" && storedTitle != "" && (strings.Contains(title, storedTitle) || strings.Contains(storedTitle, title)):
		score += r.config.TitleContainmentWeight
		signals = append(signals, "title overlaps the last item we discussed")
	}

	if stored.Date != "" && entity.DateKey() == stored.Date {
		score += r.config.DateWeight
		signals = append(signals, fmt.Sprintf("same date (%s)", stored.Date))
	}

	if v.pattern.Aligns(entity.Kind) {
		score += r.config.DomainWeight
		signals = append(signals, fmt.Sprintf("fits a %s conversation", strings.ReplaceAll(string(v.pattern.Classification), "_", "-")))
	}

	if agent, ok := v.pattern.PreferredAgent(); ok {
		if kind, known := patterns.AgentKind(agent); known && kind == entity.Kind {
			score += r.config.AgentWeight
			signals = append(signals, fmt.Sprintf("handled by the preferred agent (%s)", agent))
		}
	}

	if v.pattern.ContextDepth > r.config.DepthBonusThreshold {
		score += r.config.DepthBonus
		signals = append(signals, "deep conversation context")
	}

	if v.behavior == patterns.BehaviorPowerUser {
		score += r.config.PowerUserBonus
		signals = append(signals, "power user")
	}

	return clamp01(score), signals
}

// confidence is computed from the conversation alone, independently of the
// candidate's score
func (r *Resolver) confidence(v view) (float64, []string) {
	depth := math.Min(v.pattern.ContextDepth, patterns.MaxContextDepth)
	c := r.config.BaseConfidence + r.config.DepthConfidence*depth/patterns.MaxContextDepth
	signals := []string{fmt.Sprintf("context depth %.1f", depth)}

	if adj, ok := r.config.BehaviorAdjustments[v.behavior]; ok && adj != 0 {
		c += adj
		signals = append(signals, strings.ReplaceAll(string(v.behavior), "_", " "))
	}

	if v.pattern.Classification == patterns.CalendarLeaning && v.pattern.Frequency.Calendar > r.config.CalendarFrequencyMin {
		c += r.config.CalendarBonus
		signals = append(signals, "strong calendar pattern")
	}

	return clamp01(c), signals
}

// ProcessUpdate resolves the target of an update message
func (r *Resolver) ProcessUpdate(ctx context.Context, userID types.UserID, updateMessage string, entities []types.Entity) (UpdateOutcome, error) {
	res, err := r.ResolveReference(ctx, userID, updateMessage, entities)
	if err != nil {
		return UpdateOutcome{
			Message: "I couldn't check what we were last working on. Please try again in a moment.",
		}, err
	}

	out := UpdateOutcome{Message: res.Message}
	if res.Match != nil {
		out.Confidence = res.Match.Confidence
	}
	if res.Accepted() {
		entity := res.Match.Entity
		out.Success = true
		out.MatchedEntity = &entity
		out.Message = fmt.Sprintf("Got it, updating %q.", similarity.StripGlyphs(entity.Title))
	}
	return out, nil
}

// UpdateContext records entity as the user's active reference, freezing the
// current conversation analysis into it
func (r *Resolver) UpdateContext(ctx context.Context, userID types.UserID, entity types.Entity, originMessage string) error {
	if err := userID.Validate(); err != nil {
		return reserrors.NewRequiredFieldError("user_id")
	}

	conv, ok, err := patterns.Resolve(ctx, r.history, userID)
	if err != nil {
		r.logger.WithContext(ctx).LogError("Failed to load conversation history", err, "user_id", userID.String())
		conv, ok = patterns.Conversation{}, false
	}

	pattern := r.analyzer.AnalyzePatterns(conv.Messages, conv.Memories)
	behavior := patterns.BehaviorUnknown
	if ok {
		behavior = r.analyzer.ClassifyBehavior(conv.Messages, conv.Memories)
	}
	rc := refcontext.New(userID, entity, originMessage, pattern, behavior, r.now(), r.config.ContextTTL)

	if err := r.store.Set(ctx, rc); err != nil {
		r.logger.WithContext(ctx).LogError("Failed to store reference context", err, "user_id", userID.String())
		return reserrors.NewContextStoreError("set", err)
	}
	return nil
}

// ClearContext forgets the user's active reference
func (r *Resolver) ClearContext(ctx context.Context, userID types.UserID) error {
	if err := r.store.Delete(ctx, userID); err != nil {
		return reserrors.NewContextStoreError("delete", err)
	}
	return nil
}

func reasoning(m *Match, confidenceSignals []string) string {
	signals := "no direct signal"
	if len(m.Signals) > 0 {
		signals = strings.Join(m.Signals, "; ")
	}
	return fmt.Sprintf("Matched %q (score %.2f): %s. Confidence %.2f from %s.",
		similarity.StripGlyphs(m.Entity.Title), m.Score, signals, m.Confidence, strings.Join(confidenceSignals, ", "))
}

func noContextMessage(reference string) string {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "I'm not sure which item you mean. Could you tell me its name?"
	}
	return fmt.Sprintf("I'm not sure which item you mean by %q. Could you tell me its name or when it is?", reference)
}

func rejectedMessage(stored *refcontext.ActiveReferenceContext) string {
	if stored.Date != "" {
		return fmt.Sprintf("I'm not confident which item you mean. The last one we talked about was %q on %s. Is that the one, or could you name the item you want?", stored.Title, stored.Date)
	}
	return fmt.Sprintf("I'm not confident which item you mean. The last one we talked about was %q. Is that the one, or could you name the item you want?", stored.Title)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
