// Package engine ties the resolver, the batch orchestrator and the formatter
// into the request flow used by the HTTP and MCP surfaces: validate, resolve
// reference phrases, execute, refresh the active reference, render text.
package engine

import (
	"context"
	"strings"

	"lerian-entity-resolver/internal/batch"
	reserrors "lerian-entity-resolver/internal/errors"
	"lerian-entity-resolver/internal/formatter"
	"lerian-entity-resolver/internal/logging"
	"lerian-entity-resolver/internal/matching"
	"lerian-entity-resolver/internal/patterns"
	"lerian-entity-resolver/internal/provider"
	"lerian-entity-resolver/internal/resolver"
	"lerian-entity-resolver/internal/similarity"
	"lerian-entity-resolver/internal/types"
	"lerian-entity-resolver/internal/validation"
)

// DefaultSuggestionLimit bounds Suggest when the caller passes no limit
const DefaultSuggestionLimit = 5

// Request is one execution request
type Request struct {
	UserID     types.UserID      `json:"user_id"`
	Operations []types.Operation `json:"operations"`
	// Message is the user message that triggered the request; it becomes
	// the origin message of the refreshed reference context
	Message string `json:"message,omitempty"`
	// Entities is the entity set the caller already fetched. When nil the
	// engine asks its entity source.
	Entities []types.Entity `json:"entities,omitempty"`
	// Bounded selects windowed concurrent execution
	Bounded        bool `json:"bounded,omitempty"`
	MaxConcurrency int  `json:"max_concurrency,omitempty"`
}

// Response is the outcome of Execute
type Response struct {
	Result *types.BatchResult `json:"result"`
	// Resolutions holds, per operation index, how a reference phrase was
	// resolved
	Resolutions map[int]resolver.Resolution `json:"resolutions,omitempty"`
	Text        string                      `json:"text"`
}

// ResolveResponse is the outcome of Resolve
type ResolveResponse struct {
	Resolution resolver.Resolution `json:"resolution"`
	Text       string              `json:"text"`
}

// PatternReport describes the current conversation of a user
type PatternReport struct {
	Pattern  patterns.ConversationPattern `json:"pattern"`
	Behavior patterns.BehaviorType        `json:"behavior"`
	// HasHistory is false when no conversation was available
	HasHistory bool `json:"has_history"`
}

// SuggestResponse lists candidates for an unmatched query
type SuggestResponse struct {
	Suggestions []matching.Ranked `json:"suggestions"`
	Text        string            `json:"text"`
}

// ClusterResponse lists groups of similar entities
type ClusterResponse struct {
	Groups [][]types.Entity `json:"groups"`
	Text   string           `json:"text"`
}

// Engine is the facade used by the transports; it is safe for concurrent use
type Engine struct {
	resolver     *resolver.Resolver
	orchestrator *batch.Orchestrator
	matcher      *matching.Engine
	analyzer     *patterns.Analyzer
	entities     provider.EntitySource
	history      patterns.HistorySource
	publisher    Publisher
	logger       *logging.ComponentLogger
}

// Option configures an Engine
type Option func(*Engine)

// WithHistorySource sets the fallback conversation source used by Patterns
func WithHistorySource(source patterns.HistorySource) Option {
	return func(e *Engine) { e.history = source }
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.NewComponentLogger(logger, "engine") }
}

// New creates an engine. entities may be nil when every caller supplies
// its own entity set.
func New(res *resolver.Resolver, orchestrator *batch.Orchestrator, matcher *matching.Engine, analyzer *patterns.Analyzer, entities provider.EntitySource, opts ...Option) *Engine {
	if matcher == nil {
		matcher = matching.NewEngine(matching.DefaultConfig())
	}
	if analyzer == nil {
		analyzer = patterns.NewAnalyzer(patterns.DefaultConfig())
	}
	e := &Engine{
		resolver:     res,
		orchestrator: orchestrator,
		matcher:      matcher,
		analyzer:     analyzer,
		entities:     entities,
		logger:       logging.NewComponentLogger(nil, "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a batch of operations. Reference phrases in entity mutation
// payloads ({"reference": "the event"}) are resolved to entity ids first;
// unresolved phrases fail their item with the resolver's guidance. After
// execution every successful entity mutation refreshes the user's active
// reference, in input order, so the last one wins.
func (e *Engine) Execute(ctx context.Context, req Request) (*Response, error) {
	if res := validation.ValidateUserID(req.UserID); !res.IsValid {
		return nil, reserrors.NewRequiredFieldError("user_id")
	}
	if res := validation.ValidateBatchEnvelope(req.Operations, e.orchestrator.Config().MaxBatchSize); !res.IsValid {
		return nil, reserrors.NewSystemicError(res.Errors[0], res.Errors)
	}

	loader := &entityLoader{engine: e, userID: req.UserID, entities: req.Entities, loaded: req.Entities != nil}

	ops, resolutions, err := e.resolveReferences(ctx, req, loader)
	if err != nil {
		return nil, err
	}

	// deleted entities are gone afterwards; keep them for the context refresh
	if hasType(ops, types.OperationDeleteEntity) {
		if _, err := loader.before(ctx); err != nil {
			e.logger.WithContext(ctx).LogError("Failed to load entities", err, "user_id", req.UserID.String())
		}
	}

	var result *types.BatchResult
	if req.Bounded {
		result, err = e.orchestrator.ExecuteBatchBounded(ctx, ops, req.UserID, batch.Options{MaxConcurrency: req.MaxConcurrency})
	} else {
		result, err = e.orchestrator.ExecuteBatch(ctx, ops, req.UserID)
	}
	if err != nil {
		return nil, err
	}

	explainUnresolved(result, resolutions)
	e.publishBatch(result)
	e.refreshContext(ctx, req, result, loader)

	return &Response{
		Result:      result,
		Resolutions: resolutions,
		Text:        formatter.Batch(result),
	}, nil
}

// resolveReferences returns ops with reference phrases replaced by entity
// ids. The input slice and payloads are not modified.
func (e *Engine) resolveReferences(ctx context.Context, req Request, loader *entityLoader) ([]types.Operation, map[int]resolver.Resolution, error) {
	ops := req.Operations
	var resolutions map[int]resolver.Resolution

	for i, op := range req.Operations {
		phrase, ok := referencePhrase(op)
		if !ok {
			continue
		}

		entities, err := loader.before(ctx)
		if err != nil {
			return nil, nil, err
		}
		res, err := e.resolver.ResolveReference(ctx, req.UserID, phrase, entities)
		if err != nil {
			return nil, nil, err
		}

		if resolutions == nil {
			resolutions = make(map[int]resolver.Resolution)
			ops = append([]types.Operation(nil), req.Operations...)
		}
		resolutions[i] = res
		if res.Accepted() {
			payload := make(map[string]interface{}, len(op.Payload))
			for k, v := range op.Payload {
				payload[k] = v
			}
			delete(payload, "reference")
			payload["id"] = res.Match.Entity.ID
			ops[i] = types.Operation{Type: op.Type, Payload: payload}
		}
	}
	return ops, resolutions, nil
}

// referencePhrase returns the phrase of an entity mutation that names its
// target only through a reference
func referencePhrase(op types.Operation) (string, bool) {
	if !op.Type.IsEntityMutation() || op.Type == types.OperationCreateEntity || op.Payload == nil {
		return "", false
	}
	p, err := validation.DecodeEntityMutation(op.Payload)
	if err != nil {
		return "", false
	}
	if strings.TrimSpace(p.ID) != "" || strings.TrimSpace(p.Title) != "" {
		return "", false
	}
	phrase := strings.TrimSpace(p.Reference)
	return phrase, phrase != ""
}

func hasType(ops []types.Operation, opType types.OperationType) bool {
	for _, op := range ops {
		if op.Type == opType {
			return true
		}
	}
	return false
}

func explainUnresolved(result *types.BatchResult, resolutions map[int]resolver.Resolution) {
	for i := range result.Failed {
		item := &result.Failed[i]
		res, ok := resolutions[item.Index]
		if !ok || res.Accepted() || item.Kind != types.FailureValidation {
			continue
		}
		item.Error = res.Message
		item.Errors = []string{res.Message}
	}
}

// refreshContext records the entity of every successful entity mutation as
// the active reference, in index order
func (e *Engine) refreshContext(ctx context.Context, req Request, result *types.BatchResult, loader *entityLoader) {
	log := e.logger.WithContext(ctx)

	for _, item := range result.Successful {
		if !item.Type.IsEntityMutation() {
			continue
		}
		entity := loader.locate(ctx, item)
		if err := e.resolver.UpdateContext(ctx, req.UserID, entity, req.Message); err != nil {
			log.LogError("Failed to refresh reference context", err,
				"index", item.Index,
				"entity_id", entity.ID,
			)
			continue
		}
		e.publish(Event{Type: EventContextUpdated, UserID: req.UserID, BatchID: result.ID, Data: entity})
	}
}

// Resolve maps a reference phrase onto an entity
func (e *Engine) Resolve(ctx context.Context, userID types.UserID, reference string, entities []types.Entity) (*ResolveResponse, error) {
	loader := &entityLoader{engine: e, userID: userID, entities: entities, loaded: entities != nil}
	candidates, err := loader.before(ctx)
	if err != nil {
		return nil, err
	}

	res, err := e.resolver.ResolveReference(ctx, userID, reference, candidates)
	if err != nil {
		return nil, err
	}
	return &ResolveResponse{Resolution: res, Text: formatter.Resolution(res)}, nil
}

// ProcessUpdate resolves the target of an update message
func (e *Engine) ProcessUpdate(ctx context.Context, userID types.UserID, message string, entities []types.Entity) (resolver.UpdateOutcome, error) {
	loader := &entityLoader{engine: e, userID: userID, entities: entities, loaded: entities != nil}
	candidates, err := loader.before(ctx)
	if err != nil {
		return resolver.UpdateOutcome{}, err
	}
	return e.resolver.ProcessUpdate(ctx, userID, message, candidates)
}

// ClearContext forgets the user's active reference
func (e *Engine) ClearContext(ctx context.Context, userID types.UserID) error {
	if res := validation.ValidateUserID(userID); !res.IsValid {
		return reserrors.NewRequiredFieldError("user_id")
	}
	if err := e.resolver.ClearContext(ctx, userID); err != nil {
		return err
	}
	e.publish(Event{Type: EventContextCleared, UserID: userID})
	return nil
}

// Patterns analyses the conversation attached to ctx, or the one from the
// history source
func (e *Engine) Patterns(ctx context.Context, userID types.UserID) (*PatternReport, error) {
	conv, ok, err := patterns.Resolve(ctx, e.history, userID)
	if err != nil {
		return nil, reserrors.NewInternalError("failed to load conversation history", err)
	}
	return &PatternReport{
		Pattern:    e.analyzer.AnalyzePatterns(conv.Messages, conv.Memories),
		Behavior:   e.analyzer.ClassifyBehavior(conv.Messages, conv.Memories),
		HasHistory: ok,
	}, nil
}

// Suggest proposes entities close to query, falling back to the most
// recent ones
func (e *Engine) Suggest(ctx context.Context, userID types.UserID, query string, limit int, entities []types.Entity) (*SuggestResponse, error) {
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}
	loader := &entityLoader{engine: e, userID: userID, entities: entities, loaded: entities != nil}
	candidates, err := loader.before(ctx)
	if err != nil {
		return nil, err
	}

	list := e.matcher.Suggest(candidates, query, limit)
	return &SuggestResponse{Suggestions: list, Text: formatter.Suggestions(list)}, nil
}

// Clusters groups entities with similar titles; threshold <= 0 uses the
// engine default
func (e *Engine) Clusters(ctx context.Context, userID types.UserID, threshold float64, entities []types.Entity) (*ClusterResponse, error) {
	loader := &entityLoader{engine: e, userID: userID, entities: entities, loaded: entities != nil}
	candidates, err := loader.before(ctx)
	if err != nil {
		return nil, err
	}

	groups := e.matcher.Cluster(candidates, threshold)
	if groups == nil {
		groups = [][]types.Entity{}
	}
	return &ClusterResponse{Groups: groups, Text: formatter.Clusters(groups)}, nil
}

// entityLoader fetches the entity set at most once per phase of a request
type entityLoader struct {
	engine   *Engine
	userID   types.UserID
	entities []types.Entity
	loaded   bool

	after       []types.Entity
	afterLoaded bool
}

func (l *entityLoader) before(ctx context.Context) ([]types.Entity, error) {
	if l.loaded {
		return l.entities, nil
	}
	l.loaded = true
	if l.engine.entities == nil {
		return nil, nil
	}

	entities, err := l.engine.entities.Entities(ctx, l.userID)
	if err != nil {
		return nil, reserrors.WrapCollaboratorError(err, "list_entities")
	}
	l.entities = entities
	return entities, nil
}

// locate finds the entity a successful item touched: in the refreshed set,
// then in the set seen before execution, else built from the payload
func (l *entityLoader) locate(ctx context.Context, item types.SucceededItem) types.Entity {
	if !l.afterLoaded {
		l.afterLoaded = true
		if l.engine.entities != nil {
			if entities, err := l.engine.entities.Entities(ctx, l.userID); err == nil {
				l.after = entities
			} else {
				l.engine.logger.WithContext(ctx).LogError("Failed to refresh entities", err)
			}
		}
	}

	id := item.EntityID
	if id == "" {
		id, _ = item.Payload["id"].(string)
	}
	title, _ := item.Payload["title"].(string)

	for _, set := range [][]types.Entity{l.after, l.entities} {
		if e, ok := find(set, id, title); ok {
			return e
		}
	}
	return fromPayload(id, item)
}

func find(entities []types.Entity, id, title string) (types.Entity, bool) {
	if id != "" {
		for _, e := range entities {
			if e.ID == id {
				return e, true
			}
		}
		return types.Entity{}, false
	}
	if title == "" {
		return types.Entity{}, false
	}
	want := similarity.Normalize(title)
	for _, e := range entities {
		if similarity.Normalize(e.Title) == want {
			return e, true
		}
	}
	return types.Entity{}, false
}

func fromPayload(id string, item types.SucceededItem) types.Entity {
	entity := types.Entity{ID: id, Kind: types.KindTask}
	for _, key := range []string{"description", "title"} {
		if v, ok := item.Payload[key].(string); ok && v != "" {
			entity.Title = v
			break
		}
	}
	if kind, ok := item.Payload["kind"].(string); ok && types.EntityKind(kind).Valid() {
		entity.Kind = types.EntityKind(kind)
	}
	if p, err := validation.DecodeEntityCreate(item.Payload); err == nil && p.DueDate != "" {
		if due, err := types.ParseDue(p.DueDate, p.DueTime, nil); err == nil {
			entity.Due = due
		}
	}
	return entity
}
