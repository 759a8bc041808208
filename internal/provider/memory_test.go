package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-entity-resolver/internal/types"
)

var _ Collaborator = (*MemoryProvider)(nil)
var _ EntitySource = (*MemoryProvider)(nil)

func TestMemoryProvider_EntityLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(nil)

	out, err := p.CreateEntity(ctx, types.EntityCreatePayload{
		Description: " Doctor Appointment ",
		DueDate:     "2024-05-02",
		DueTime:     "14:00",
		Notes:       "bring card",
	}, "u1")
	require.NoError(t, err)
	require.True(t, out.Success)
	require.NotEmpty(t, out.ID)

	entities, err := p.Entities(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	e := entities[0]
	assert.Equal(t, "Doctor Appointment", e.Title)
	assert.Equal(t, types.KindEvent, e.Kind)
	assert.Equal(t, "2024-05-02", e.DateKey())
	assert.Equal(t, "14:00", e.TimeKey())
	assert.Equal(t, StatusOpen, e.Status)
	assert.Equal(t, "bring card", e.Payload["notes"])

	out, err = p.UpdateEntity(ctx, types.EntityRef{Title: "doctor appointment"},
		map[string]interface{}{"due_time": "15:30", "location": "clinic"}, "u1")
	require.NoError(t, err)
	require.True(t, out.Success, out.Errors)

	out, err = p.CompleteEntity(ctx, types.EntityRef{ID: e.ID}, map[string]interface{}{"note": "ok"}, "u1")
	require.NoError(t, err)
	require.True(t, out.Success)

	entities, _ = p.Entities(ctx, "u1")
	assert.Equal(t, "15:30", entities[0].TimeKey())
	assert.Equal(t, "clinic", entities[0].Payload["location"])
	assert.Equal(t, StatusCompleted, entities[0].Status)

	out, err = p.CompleteEntity(ctx, types.EntityRef{ID: e.ID}, nil, "u1")
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Errors[0], "already completed")

	out, err = p.DeleteEntity(ctx, types.EntityRef{ID: e.ID}, "u1")
	require.NoError(t, err)
	assert.True(t, out.Success)

	entities, _ = p.Entities(ctx, "u1")
	assert.Empty(t, entities)
}

func TestMemoryProvider_Rejections(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(nil)
	p.Seed("u1",
		types.Entity{ID: "a", Title: "🎓 Study Session", Kind: types.KindEvent},
		types.Entity{ID: "b", Title: "Study session", Kind: types.KindTask},
	)

	tests := []struct {
		name string
		call func() (*Outcome, error)
	}{
		{"unknown id", func() (*Outcome, error) { return p.DeleteEntity(ctx, types.EntityRef{ID: "zzz"}, "u1") }},
		{"ambiguous title", func() (*Outcome, error) {
			return p.CompleteEntity(ctx, types.EntityRef{Title: "study session"}, nil, "u1")
		}},
		{"unknown title", func() (*Outcome, error) {
			return p.UpdateEntity(ctx, types.EntityRef{Title: "gym"}, map[string]interface{}{"title": "x"}, "u1")
		}},
		{"bad patch", func() (*Outcome, error) {
			return p.UpdateEntity(ctx, types.EntityRef{ID: "a"}, map[string]interface{}{"title": ""}, "u1")
		}},
		{"missing list", func() (*Outcome, error) {
			return p.CreateEntity(ctx, types.EntityCreatePayload{Description: "x", ListID: "nope"}, "u1")
		}},
		{"time without date", func() (*Outcome, error) {
			return p.CreateEntity(ctx, types.EntityCreatePayload{Description: "x", DueTime: "10:00"}, "u1")
		}},
		{"rename missing list", func() (*Outcome, error) {
			return p.UpdateList(ctx, types.ListPayload{ID: "nope", NewTitle: "x"}, "u1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.call()
			require.NoError(t, err)
			assert.False(t, out.Success)
			assert.NotEmpty(t, out.Errors)
		})
	}

	// a rejected patch leaves the entity untouched
	entities, _ := p.Entities(ctx, "u1")
	assert.Equal(t, "🎓 Study Session", entities[0].Title)
}

func TestMemoryProvider_Lists(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(nil)

	out, err := p.CreateList(ctx, types.ListPayload{Title: "Work"}, "u1")
	require.NoError(t, err)
	require.True(t, out.Success)
	listID := out.ID

	out, _ = p.CreateList(ctx, types.ListPayload{Title: "work"}, "u1")
	assert.False(t, out.Success)

	out, _ = p.CreateEntity(ctx, types.EntityCreatePayload{Description: "Report", ListID: listID}, "u1")
	require.True(t, out.Success)

	out, _ = p.UpdateList(ctx, types.ListPayload{Title: "Work", NewTitle: "Office"}, "u1")
	require.True(t, out.Success)
	assert.Equal(t, []List{{ID: listID, Title: "Office"}}, p.Lists("u1"))

	out, _ = p.DeleteList(ctx, types.ListPayload{ID: listID}, "u1")
	require.True(t, out.Success)
	assert.Empty(t, p.Lists("u1"))

	entities, _ := p.Entities(ctx, "u1")
	assert.Empty(t, entities, "entities filed under a deleted list go with it")
}

func TestMemoryProvider_UsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(time.UTC)
	p.Seed("u1", types.Entity{Title: "Mine"})

	entities, err := p.Entities(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, entities)

	out, _ := p.DeleteEntity(ctx, types.EntityRef{Title: "Mine"}, "u2")
	assert.False(t, out.Success)
}

func TestMemoryProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewMemoryProvider(nil)
	_, err := p.CreateEntity(ctx, types.EntityCreatePayload{Description: "x"}, "u1")
	assert.ErrorIs(t, err, context.Canceled)
}
