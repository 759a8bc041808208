package resolver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-entity-resolver/internal/config"
	reserrors "lerian-entity-resolver/internal/errors"
	"lerian-entity-resolver/internal/logging"
	"lerian-entity-resolver/internal/monitoring"
	"lerian-entity-resolver/internal/patterns"
	"lerian-entity-resolver/internal/refcontext"
	"lerian-entity-resolver/internal/types"
)

// regularConversation classifies as calendar-leaning, regular user, depth 1.2
func regularConversation() patterns.Conversation {
	return patterns.Conversation{
		Messages: []patterns.Message{
			{Role: "user", Content: "can you book a doctor appointment tomorrow", Agent: "calendar"},
			{Role: "assistant", Content: "added it to your calendar", Agent: "calendar"},
			{Role: "user", Content: "thanks"},
			{Role: "user", Content: "sounds good"},
		},
	}
}

func newUserConversation() patterns.Conversation {
	return patterns.Conversation{
		Messages: []patterns.Message{{Role: "user", Content: "hi"}},
	}
}

func newResolver(t *testing.T, opts ...Option) (*Resolver, *refcontext.MemoryStore) {
	t.Helper()
	store := refcontext.NewMemoryStore(100, time.Hour)
	return New(store, nil, nil, DefaultConfig(), opts...), store
}

func remember(t *testing.T, r *Resolver, ctx context.Context, user types.UserID, entity types.Entity) {
	t.Helper()
	require.NoError(t, r.UpdateContext(ctx, user, entity, "create "+entity.Title))
}

func TestResolveReference_StoredContextMatches(t *testing.T) {
	r, _ := newResolver(t)
	ctx := patterns.WithConversation(context.Background(), regularConversation())
	doctor := types.Entity{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent}

	remember(t, r, ctx, "u1", doctor)

	res, err := r.ResolveReference(context.Background(), "u1", "the event", []types.Entity{doctor})
	require.NoError(t, err)
	require.True(t, res.Accepted(), res.Message)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, "1", res.Match.Entity.ID)
	assert.GreaterOrEqual(t, res.Match.Score, 0.8)
	assert.GreaterOrEqual(t, res.Match.Confidence, 0.4)
	assert.Contains(t, res.Match.Reasoning, "Doctor Appointment")
	assert.NotEmpty(t, res.Match.Signals)
}

func TestResolveReference_NoContext(t *testing.T) {
	r, _ := newResolver(t)
	entities := []types.Entity{{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent}}

	res, err := r.ResolveReference(context.Background(), "nobody", "the event", entities)
	require.NoError(t, err)
	assert.False(t, res.Accepted())
	assert.Equal(t, StatusNoContext, res.Status)
	assert.Nil(t, res.Match)
	assert.Contains(t, res.Message, "the event")

	out, err := r.ProcessUpdate(context.Background(), "nobody", "move the event", entities)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Nil(t, out.MatchedEntity)
	assert.NotEmpty(t, out.Message)
}

func TestResolveReference_RequiresUser(t *testing.T) {
	r, _ := newResolver(t)
	_, err := r.ResolveReference(context.Background(), "  ", "the event", nil)
	require.Error(t, err)

	var stdErr *reserrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, reserrors.ErrorCodeRequiredField, stdErr.ErrorInfo.Code)
}

func TestResolveReference_NoCandidates(t *testing.T) {
	r, _ := newResolver(t)
	ctx := patterns.WithConversation(context.Background(), regularConversation())
	remember(t, r, ctx, "u1", types.Entity{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent})

	res, err := r.ResolveReference(context.Background(), "u1", "the event", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusNoCandidates, res.Status)
	assert.Nil(t, res.Match)
	assert.NotNil(t, res.Context)
}

func TestResolveReference_WithoutHistory(t *testing.T) {
	r, store := newResolver(t)
	doctor := types.Entity{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent}

	remember(t, r, context.Background(), "user", doctor)

	rc, err := store.Get(context.Background(), "user")
	require.NoError(t, err)
	assert.Equal(t, patterns.BehaviorUnknown, rc.Behavior)

	res, err := r.ResolveReference(context.Background(), "user", "the event", []types.Entity{doctor})
	require.NoError(t, err)
	require.True(t, res.Accepted(), res.Message)
	assert.Equal(t, "1", res.Match.Entity.ID)
	assert.GreaterOrEqual(t, res.Match.Score, 0.8)
	assert.InDelta(t, 0.5, res.Match.Confidence, 1e-9)
}

func TestResolveReference_NewUserRejected(t *testing.T) {
	r, _ := newResolver(t)
	due := time.Date(2024, 5, 2, 14, 0, 0, 0, time.UTC)
	doctor := types.Entity{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent, Due: &due}

	// one message: a new user, confidence 0.5 + 0.009 depth - 0.2
	ctx := patterns.WithConversation(context.Background(), newUserConversation())
	remember(t, r, ctx, "u1", doctor)

	res, err := r.ResolveReference(ctx, "u1", "the event", []types.Entity{doctor})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	require.NotNil(t, res.Match)
	assert.GreaterOrEqual(t, res.Match.Score, 0.8)
	assert.InDelta(t, 0.309, res.Match.Confidence, 1e-9)
	assert.Contains(t, res.Message, "Doctor Appointment")
	assert.Contains(t, res.Message, "2024-05-02")
}

func TestFromAppConfig(t *testing.T) {
	app := config.DefaultConfig()
	assert.Equal(t, DefaultConfig(), FromAppConfig(app))
	assert.Equal(t, DefaultConfig(), FromAppConfig(nil))

	app.Resolver.NewUserAdjustment = 0
	app.Resolver.BaseConfidence = 0.45
	app.Resolver.CalendarFrequencyMin = 2
	app.Resolver.DepthBonusThreshold = 1
	cfg := FromAppConfig(app)
	assert.Equal(t, 0.45, cfg.BaseConfidence)
	assert.Equal(t, 0.0, cfg.BehaviorAdjustments[patterns.BehaviorNewUser])
	assert.Equal(t, 0.2, cfg.BehaviorAdjustments[patterns.BehaviorPowerUser])
	assert.Equal(t, 2, cfg.CalendarFrequencyMin)
	assert.Equal(t, 1.0, cfg.DepthBonusThreshold)

	// Without the new user penalty the same conversation clears the gate
	r := New(refcontext.NewMemoryStore(100, time.Hour), nil, nil, cfg)
	doctor := types.Entity{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent}
	ctx := patterns.WithConversation(context.Background(), newUserConversation())
	remember(t, r, ctx, "u1", doctor)

	res, err := r.ResolveReference(ctx, "u1", "the event", []types.Entity{doctor})
	require.NoError(t, err)
	require.True(t, res.Accepted(), res.Message)
	assert.InDelta(t, 0.459, res.Match.Confidence, 1e-9)
}

func TestResolveReference_LowScoreRejected(t *testing.T) {
	r, _ := newResolver(t)
	ctx := patterns.WithConversation(context.Background(), regularConversation())
	remember(t, r, ctx, "u1", types.Entity{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent})

	gym := types.Entity{ID: "2", Title: "Gym", Kind: types.KindTask}
	res, err := r.ResolveReference(ctx, "u1", "the event", []types.Entity{gym})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	require.NotNil(t, res.Match)
	assert.Less(t, res.Match.Score, 0.3)
	assert.GreaterOrEqual(t, res.Match.Confidence, 0.4)
}

func TestResolveReference_PicksBestScore(t *testing.T) {
	r, _ := newResolver(t)
	ctx := patterns.WithConversation(context.Background(), regularConversation())
	due := time.Date(2024, 5, 2, 14, 0, 0, 0, time.UTC)
	other := time.Date(2024, 6, 9, 10, 0, 0, 0, time.UTC)

	remember(t, r, ctx, "u1", types.Entity{ID: "1", Title: "🩺 Doctor Appointment", Kind: types.KindEvent, Due: &due})

	entities := []types.Entity{
		{ID: "7", Title: "Doctor Appointment follow-up", Kind: types.KindEvent, Due: &other},
		{ID: "8", Title: "doctor appointment", Kind: types.KindEvent, Due: &due},
	}
	res, err := r.ResolveReference(ctx, "u1", "that appointment", entities)
	require.NoError(t, err)
	require.True(t, res.Accepted(), res.Message)
	assert.Equal(t, "8", res.Match.Entity.ID)
	assert.Equal(t, 1.0, res.Match.Score)
}

func TestResolveReference_ExpiredContextIsAbsent(t *testing.T) {
	now := time.Now()
	clock := now
	r, store := newResolver(t, WithClock(func() time.Time { return clock }))
	ctx := patterns.WithConversation(context.Background(), regularConversation())
	doctor := types.Entity{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent}

	remember(t, r, ctx, "u1", doctor)
	clock = now.Add(DefaultConfig().ContextTTL + time.Minute)

	res, err := r.ResolveReference(ctx, "u1", "the event", []types.Entity{doctor})
	require.NoError(t, err)
	assert.Equal(t, StatusNoContext, res.Status)
	assert.Equal(t, 0, store.Len())
}

type undeletableStore struct{ *refcontext.MemoryStore }

func (undeletableStore) Delete(context.Context, types.UserID) error {
	return errors.New("disk full")
}

func TestResolveReference_ExpiredDeleteFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	now := time.Now()
	clock := now
	store := undeletableStore{refcontext.NewMemoryStore(100, time.Hour)}
	r := New(store, nil, nil, DefaultConfig(),
		WithClock(func() time.Time { return clock }),
		WithLogger(logging.NewLoggerWithOptions(logging.Options{Level: logging.INFO, JSON: true, Output: &buf})),
	)
	ctx := patterns.WithConversation(context.Background(), regularConversation())
	doctor := types.Entity{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent}

	remember(t, r, ctx, "u1", doctor)
	clock = now.Add(DefaultConfig().ContextTTL + time.Minute)

	res, err := r.ResolveReference(ctx, "u1", "the event", []types.Entity{doctor})
	require.NoError(t, err)
	assert.Equal(t, StatusNoContext, res.Status)
	assert.Contains(t, buf.String(), "Failed to drop expired reference context")
	assert.Contains(t, buf.String(), "disk full")
	assert.Equal(t, 1, store.Len())
}

func TestResolveReference_LiveHistoryOverridesSnapshot(t *testing.T) {
	r, _ := newResolver(t)
	doctor := types.Entity{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent}

	// snapshot taken while the user looked new
	remember(t, r, patterns.WithConversation(context.Background(), newUserConversation()), "u1", doctor)

	res, err := r.ResolveReference(context.Background(), "u1", "the event", []types.Entity{doctor})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)

	ctx := patterns.WithConversation(context.Background(), regularConversation())
	res, err = r.ResolveReference(ctx, "u1", "the event", []types.Entity{doctor})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
}

func TestResolveReference_HistorySource(t *testing.T) {
	history := patterns.NewStaticHistory()
	history.Put("u1", regularConversation())
	r, _ := newResolver(t, WithHistorySource(history))
	doctor := types.Entity{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent}

	remember(t, r, context.Background(), "u1", doctor)

	res, err := r.ResolveReference(context.Background(), "u1", "the event", []types.Entity{doctor})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
}

func TestConfidence(t *testing.T) {
	r, _ := newResolver(t)

	tests := []struct {
		name string
		v    view
		want float64
	}{
		{"new user no depth", view{behavior: patterns.BehaviorNewUser}, 0.3},
		{"unknown behavior", view{behavior: patterns.BehaviorUnknown}, 0.5},
		{"regular user", view{behavior: patterns.BehaviorRegularUser, pattern: patterns.ConversationPattern{ContextDepth: 5}}, 0.75},
		{"help seeker", view{behavior: patterns.BehaviorHelpSeeker}, 0.4},
		{"power user full depth", view{behavior: patterns.BehaviorPowerUser, pattern: patterns.ConversationPattern{ContextDepth: 10}}, 1.0},
		{"calendar heavy", view{
			behavior: patterns.BehaviorRegularUser,
			pattern: patterns.ConversationPattern{
				Classification: patterns.CalendarLeaning,
				Frequency:      patterns.Frequency{Calendar: 6},
			},
		}, 0.75},
		{"calendar light", view{
			behavior: patterns.BehaviorRegularUser,
			pattern: patterns.ConversationPattern{
				Classification: patterns.CalendarLeaning,
				Frequency:      patterns.Frequency{Calendar: 5},
			},
		}, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, signals := r.confidence(tt.v)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.NotEmpty(t, signals)
		})
	}
}

func TestScore_Signals(t *testing.T) {
	r, _ := newResolver(t)
	due := time.Date(2024, 5, 2, 14, 0, 0, 0, time.UTC)
	stored := &refcontext.ActiveReferenceContext{Title: "Standup", Date: "2024-05-02"}

	tests := []struct {
		name   string
		entity types.Entity
		v      view
		want   float64
	}{
		{"equal title", types.Entity{Title: "standup", Kind: types.KindTask}, view{}, 0.8},
		{"containment", types.Entity{Title: "Standup with team", Kind: types.KindTask}, view{}, 0.6},
		{"date only", types.Entity{Title: "Retro", Kind: types.KindTask, Due: &due}, view{}, 0.4},
		{"domain aligned", types.Entity{Title: "Retro", Kind: types.KindEvent},
			view{pattern: patterns.ConversationPattern{Classification: patterns.CalendarLeaning}}, 0.1},
		{"agent aligned", types.Entity{Title: "Retro", Kind: types.KindTask},
			view{pattern: patterns.ConversationPattern{AgentPreferences: map[string]int{"todo-agent": 3}}}, 0.1},
		{"deep power user", types.Entity{Title: "Retro", Kind: types.KindTask},
			view{behavior: patterns.BehaviorPowerUser, pattern: patterns.ConversationPattern{ContextDepth: 6}}, 0.15},
		{"clamped", types.Entity{Title: "Standup", Kind: types.KindEvent, Due: &due},
			view{pattern: patterns.ConversationPattern{Classification: patterns.CalendarLeaning}}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := r.score(tt.entity, stored, tt.v)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestProcessUpdate_Accepted(t *testing.T) {
	r, _ := newResolver(t)
	ctx := patterns.WithConversation(context.Background(), regularConversation())
	doctor := types.Entity{ID: "1", Title: "Doctor Appointment", Kind: types.KindEvent}
	remember(t, r, ctx, "u1", doctor)

	out, err := r.ProcessUpdate(ctx, "u1", "move it to 3pm", []types.Entity{doctor})
	require.NoError(t, err)
	assert.True(t, out.Success)
	require.NotNil(t, out.MatchedEntity)
	assert.Equal(t, "1", out.MatchedEntity.ID)
	assert.GreaterOrEqual(t, out.Confidence, 0.4)
}

func TestUpdateContext_FreezesAnalysis(t *testing.T) {
	r, store := newResolver(t)
	conv := regularConversation()
	ctx := patterns.WithConversation(context.Background(), conv)

	remember(t, r, ctx, "u1", types.Entity{ID: "1", Title: "🎓 Study Session", Kind: types.KindEvent})

	// later turns do not change what was stored
	conv.Messages[0].Agent = "tasks"

	rc, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Study Session", rc.Title)
	assert.Equal(t, patterns.BehaviorRegularUser, rc.Behavior)
	assert.Equal(t, patterns.CalendarLeaning, rc.Pattern.Classification)
	assert.Equal(t, 2, rc.Pattern.AgentPreferences["calendar"])
	assert.InDelta(t, 1.2, rc.ContextDepth, 1e-9)

	require.NoError(t, r.ClearContext(context.Background(), "u1"))
	_, err = store.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, refcontext.ErrContextNotFound)
}

type failingStore struct{ err error }

func (s failingStore) Get(context.Context, types.UserID) (*refcontext.ActiveReferenceContext, error) {
	return nil, s.err
}
func (s failingStore) Set(context.Context, *refcontext.ActiveReferenceContext) error { return s.err }
func (s failingStore) Delete(context.Context, types.UserID) error                  { return s.err }

func TestResolver_StoreFailures(t *testing.T) {
	r := New(failingStore{err: errors.New("connection refused")}, nil, nil, DefaultConfig())
	ctx := context.Background()

	_, err := r.ResolveReference(ctx, "u1", "the event", []types.Entity{{ID: "1", Title: "x"}})
	var stdErr *reserrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, reserrors.ErrorCodeContextStore, stdErr.ErrorInfo.Code)

	out, err := r.ProcessUpdate(ctx, "u1", "move it", nil)
	assert.Error(t, err)
	assert.False(t, out.Success)

	err = r.UpdateContext(ctx, "u1", types.Entity{ID: "1", Title: "x"}, "create x")
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, reserrors.ErrorCodeContextStore, stdErr.ErrorInfo.Code)

	assert.Error(t, r.ClearContext(ctx, "u1"))
}

func TestResolver_RecordsMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics()
	r, _ := newResolver(t, WithMetrics(metrics))

	_, err := r.ResolveReference(context.Background(), "u1", "the event", nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `entity_resolver_resolver_resolutions_total{status="no_context"} 1`)
}
