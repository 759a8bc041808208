package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-entity-resolver/internal/config"
	"lerian-entity-resolver/internal/di"
	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/types"
)

type fixture struct {
	dir     string
	factory func(context.Context, io.Writer) (*di.Container, error)
}

// newFixture backs every invocation with the same sqlite file, so the
// reference context outlives each container
func newFixture(t *testing.T) *fixture {
	t.Helper()
	color.NoColor = true
	dir := t.TempDir()

	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("ops.json", `[{"type": "create_entity", "payload": {"description": "Dentist appointment", "kind": "event"}}]`)
	write("entities.json", `[
		{"id": "e1", "title": "Dentist appointment", "kind": "event"},
		{"id": "e2", "title": "Buy milk", "kind": "task"}
	]`)
	write("conversation.json", `{"messages": [
		{"role": "user", "content": "book the dentist", "agent": "calendar"},
		{"role": "assistant", "content": "booked", "agent": "calendar"},
		{"role": "user", "content": "thanks"},
		{"role": "assistant", "content": "anything else?", "agent": "calendar"}
	]}`)

	return &fixture{
		dir: dir,
		factory: func(ctx context.Context, logs io.Writer) (*di.Container, error) {
			cfg := config.DefaultConfig()
			cfg.Store.Provider = config.StoreSQLite
			cfg.Store.SQLitePath = filepath.Join(dir, "context.db")
			return di.NewContainer(ctx, cfg, di.WithLogOutput(logs))
		},
	}
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cli := newCLI(f.factory)
	var out bytes.Buffer
	cli.RootCmd.SetOut(&out)
	cli.RootCmd.SetErr(&out)
	cli.RootCmd.SetArgs(args)
	err := cli.Execute(context.Background())
	return out.String(), err
}

func TestReferenceSurvivesInvocations(t *testing.T) {
	f := newFixture(t)
	withChat := []string{"-u", "u1", "--conversation", f.path("conversation.json")}

	out, err := f.run(t, append([]string{"execute", f.path("ops.json"), "-m", "book the dentist"}, withChat...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "All 1 operation completed.")

	out, err = f.run(t, append([]string{"resolve", "move", "it", "--entities", f.path("entities.json")}, withChat...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `I think you mean "Dentist appointment"`)

	out, err = f.run(t, append([]string{"update", "push it back an hour", "--entities", f.path("entities.json"), "-o", "json"}, withChat...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)
	assert.Contains(t, out, `"id": "e1"`)

	out, err = f.run(t, "forget", "-u", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Active reference cleared.")

	out, err = f.run(t, append([]string{"resolve", "it", "--entities", f.path("entities.json")}, withChat...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "I'm not sure which item you mean")
}

func TestCommands(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name        string
		args        []string
		contains    string
		expectedErr string
	}{
		{
			name:     "operations",
			args:     []string{"operations"},
			contains: "Complete Entity",
		},
		{
			name:     "operations as json",
			args:     []string{"operations", "-o", "json"},
			contains: `"delete_list"`,
		},
		{
			name:     "suggest",
			args:     []string{"suggest", "milk", "--entities", f.path("entities.json"), "-o", "json"},
			contains: `"Buy milk"`,
		},
		{
			name:     "operations as table",
			args:     []string{"operations", "-o", "table"},
			contains: "update_list",
		},
		{
			name:     "suggest as table",
			args:     []string{"suggest", "milk", "--entities", f.path("entities.json"), "-o", "table"},
			contains: "Buy milk",
		},
		{
			name:     "patterns as table falls back to text",
			args:     []string{"patterns", "-u", "u1", "-o", "table", "--conversation", f.path("conversation.json")},
			contains: "Behavior: regular_user",
		},
		{
			name:     "clusters",
			args:     []string{"clusters", "--entities", f.path("entities.json"), "-o", "json"},
			contains: `"groups": []`,
		},
		{
			name:     "patterns",
			args:     []string{"patterns", "-u", "u1", "--conversation", f.path("conversation.json")},
			contains: "Behavior: regular_user",
		},
		{
			name:     "patterns without history",
			args:     []string{"patterns", "-u", "u1"},
			contains: "No conversation available.",
		},
		{
			name:        "missing batch file",
			args:        []string{"execute", f.path("missing.json")},
			expectedErr: "failed to read",
		},
		{
			name:        "resolve needs a phrase",
			args:        []string{"resolve"},
			expectedErr: "requires at least 1 arg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.run(t, tt.args...)
			if tt.expectedErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, tt.contains)
		})
	}
}

func TestSessionCommand(t *testing.T) {
	f := newFixture(t)

	cli := newCLI(f.factory)
	var out bytes.Buffer
	cli.RootCmd.SetIn(strings.NewReader("add Water plants\n:context\n:quit\n"))
	cli.RootCmd.SetOut(&out)
	cli.RootCmd.SetArgs([]string{"session", "-u", "u2"})

	require.NoError(t, cli.Execute(context.Background()))
	assert.Contains(t, out.String(), "All 1 operation completed.")
	assert.Contains(t, out.String(), `Active reference: "Water plants"`)
}

func TestBatchTable(t *testing.T) {
	var out bytes.Buffer
	now := time.Now()
	done, err := writeTable(&out, &engine.Response{Result: &types.BatchResult{
		Successful: []types.SucceededItem{{Index: 1, Type: types.OperationCreateList, EntityID: "list-1", Attempts: 1}},
		Failed:     []types.FailedItem{{Index: 0, Type: types.OperationCreateEntity, Kind: types.FailureValidation, Error: "description is required"}},
		Summary:    types.BatchSummary{Total: 2, Successful: 1, Failed: 1, Mode: types.ModeSequential, StartTime: now, EndTime: now},
	}})
	require.NoError(t, err)
	assert.True(t, done)

	text := out.String()
	assert.Less(t, strings.Index(text, "create_entity"), strings.Index(text, "create_list"))
	assert.Contains(t, text, "list-1")
	assert.Contains(t, text, "Total: 2, succeeded: 1, failed: 1 (sequential")

	done, err = writeTable(&out, map[string]string{})
	assert.NoError(t, err)
	assert.False(t, done)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
