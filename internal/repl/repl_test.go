package repl

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-entity-resolver/internal/di"
	"lerian-entity-resolver/internal/provider"
)

func newTestREPL(t *testing.T, script string) (*REPL, *bytes.Buffer, *di.Container) {
	t.Helper()
	color.NoColor = true

	c, err := di.NewContainer(context.Background(), nil, di.WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })

	var out bytes.Buffer
	r, err := NewREPL(Deps{
		Engine:   c.Engine,
		History:  c.History,
		Store:    c.Store,
		Entities: c.Entities,
		Logger:   c.Logger,
	}, "u1", WithIO(strings.NewReader(script), &out), WithAgent("calendar"))
	require.NoError(t, err)
	return r, &out, c
}

func TestNewREPL_RequiresEngine(t *testing.T) {
	_, err := NewREPL(Deps{}, "u1")
	assert.Error(t, err)
}

func TestREPL_ReferenceLifecycle(t *testing.T) {
	script := strings.Join([]string{
		"add Dentist appointment due:2024-05-03 kind:event",
		"resolve it",
		":context",
		"done it",
		"list",
		":forget",
		"resolve it",
		":quit",
		"add never reached",
	}, "\n")
	r, out, c := newTestREPL(t, script)

	require.NoError(t, r.Start(context.Background()))
	text := out.String()

	assert.Contains(t, text, "All 1 operation completed.")
	assert.Contains(t, text, `I think you mean "Dentist appointment" on 2024-05-03`)
	assert.Contains(t, text, `Active reference: "Dentist appointment" (event) on 2024-05-03`)
	assert.Contains(t, text, "["+provider.StatusCompleted+"]")
	assert.Contains(t, text, "Active reference cleared")
	assert.Contains(t, text, "I'm not sure which item you mean")
	assert.Contains(t, text, "Goodbye!")
	assert.NotContains(t, text, "never reached")

	entities, err := c.Entities.Entities(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, entities, 1)

	session := r.Session()
	assert.Len(t, session.History, 8)
	// five operation lines, each answered by the assistant
	assert.Len(t, session.Conversation.Messages, 10)
	assert.Equal(t, "calendar", session.Conversation.Messages[1].Agent)
}

func TestREPL_ErrorsAreReported(t *testing.T) {
	r, out, _ := newTestREPL(t, ":bogus\nadd\nedit it\n:save\n")

	require.NoError(t, r.Start(context.Background()))
	text := out.String()

	assert.Contains(t, text, "Error: unknown command: :bogus")
	assert.Contains(t, text, "Error: usage: add")
	assert.Contains(t, text, "Error: usage: edit")
	assert.Contains(t, text, "Error: filename required")
	assert.Equal(t, "unknown command: :bogus", r.Session().History[0].Error)
}

func TestREPL_SaveAndLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "session.json")

	r, _, _ := newTestREPL(t, "hello there\nadd Buy milk\n:save "+file+"\n")
	require.NoError(t, r.Start(context.Background()))
	_, err := os.Stat(file)
	require.NoError(t, err)

	loaded, out, c := newTestREPL(t, ":load "+file+"\npatterns\n")
	require.NoError(t, loaded.Start(context.Background()))

	assert.Contains(t, out.String(), "Loaded 4 messages for u1")
	assert.Contains(t, out.String(), "Behavior: regular_user")

	conv, err := c.History.History(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 6)
}

func TestREPL_Batch(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ops.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"operations": [
		{"type": "create_entity", "payload": {"description": "Buy milk"}},
		{"type": "create_entity", "payload": {"description": ""}},
		{"type": "create_list", "payload": {"title": "Errands"}}
	]}`), 0o600))

	r, out, _ := newTestREPL(t, "batch "+file+" bounded\nbatch missing.json\n")
	require.NoError(t, r.Start(context.Background()))

	assert.Contains(t, out.String(), "Completed 2 of 3 operations.")
	assert.Contains(t, out.String(), "Error: failed to read batch file")
}

func TestCreatePayload(t *testing.T) {
	tests := []struct {
		input    string
		expected map[string]interface{}
	}{
		{"Buy milk", map[string]interface{}{"description": "Buy milk"}},
		{
			"Team sync due:2024-05-03 at:15:00 kind:event",
			map[string]interface{}{"description": "Team sync", "due_date": "2024-05-03", "due_time": "15:00", "kind": "event"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, createPayload(tt.input))
		})
	}
}

func TestSplitPatch(t *testing.T) {
	reference, patch := splitPatch("the dentist title=Dentist_visit due_date=2024-05-04")
	assert.Equal(t, "the dentist", reference)
	assert.Equal(t, map[string]interface{}{"title": "Dentist visit", "due_date": "2024-05-04"}, patch)

	reference, patch = splitPatch("the dentist")
	assert.Equal(t, "the dentist", reference)
	assert.Empty(t, patch)
}

func TestOperationHelp(t *testing.T) {
	help := OperationHelp()
	assert.Contains(t, help, "create_entity")
	assert.Contains(t, help, "Delete List")
}
