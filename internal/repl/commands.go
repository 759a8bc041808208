package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/formatter"
	"lerian-entity-resolver/internal/refcontext"
	"lerian-entity-resolver/internal/types"
)

// handleInteractiveCommand handles operation words; anything else is small talk
func (r *REPL) handleInteractiveCommand(ctx context.Context, input string) (string, error) {
	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])
	rest := strings.TrimSpace(strings.TrimPrefix(input, parts[0]))
	user := r.session.UserID

	switch command {
	case "add":
		if rest == "" {
			return "", errors.New("usage: add <description> [due:YYYY-MM-DD] [at:HH:MM] [kind:event]")
		}
		return r.execute(ctx, input, false, types.Operation{Type: types.OperationCreateEntity, Payload: createPayload(rest)})

	case "done":
		if rest == "" {
			return "", errors.New("usage: done <reference>")
		}
		return r.execute(ctx, input, false, types.Operation{
			Type:    types.OperationCompleteEntity,
			Payload: map[string]interface{}{"reference": rest},
		})

	case "edit":
		reference, patch := splitPatch(rest)
		if reference == "" || len(patch) == 0 {
			return "", errors.New("usage: edit <reference> field=value ...")
		}
		return r.execute(ctx, input, false, types.Operation{
			Type:    types.OperationUpdateEntity,
			Payload: map[string]interface{}{"reference": reference, "patch": patch},
		})

	case "delete":
		if rest == "" {
			return "", errors.New("usage: delete <reference>")
		}
		return r.execute(ctx, input, false, types.Operation{
			Type:    types.OperationDeleteEntity,
			Payload: map[string]interface{}{"reference": rest},
		})

	case "list":
		return r.handleListCommand(ctx)

	case "resolve":
		if rest == "" {
			return "", errors.New("usage: resolve <reference>")
		}
		resp, err := r.deps.Engine.Resolve(ctx, user, rest, nil)
		if err != nil {
			return "", err
		}
		return resp.Text, nil

	case "update":
		if rest == "" {
			return "", errors.New("usage: update <message>")
		}
		outcome, err := r.deps.Engine.ProcessUpdate(ctx, user, rest, nil)
		if err != nil {
			return "", err
		}
		if outcome.Success {
			return fmt.Sprintf("%s (%d%% confident)", outcome.Message, int(outcome.Confidence*100+0.5)), nil
		}
		return outcome.Message, nil

	case "suggest":
		resp, err := r.deps.Engine.Suggest(ctx, user, rest, 0, nil)
		if err != nil {
			return "", err
		}
		return resp.Text, nil

	case "clusters":
		resp, err := r.deps.Engine.Clusters(ctx, user, 0, nil)
		if err != nil {
			return "", err
		}
		return resp.Text, nil

	case "patterns":
		return r.handlePatternsCommand(ctx)

	case "batch":
		args := strings.Fields(rest)
		if len(args) == 0 {
			return "", errors.New("usage: batch <file.json> [bounded]")
		}
		ops, err := ReadOperations(args[0])
		if err != nil {
			return "", err
		}
		bounded := len(args) > 1 && args[1] == "bounded"
		return r.execute(ctx, input, bounded, ops...)

	default:
		return "Noted.", nil
	}
}

func (r *REPL) execute(ctx context.Context, message string, bounded bool, ops ...types.Operation) (string, error) {
	resp, err := r.deps.Engine.Execute(ctx, engine.Request{
		UserID:     r.session.UserID,
		Operations: ops,
		Message:    message,
		Bounded:    bounded,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (r *REPL) handleListCommand(ctx context.Context) (string, error) {
	if r.deps.Entities == nil {
		return "", errors.New("no entity source configured")
	}
	entities, err := r.deps.Entities.Entities(ctx, r.session.UserID)
	if err != nil {
		return "", err
	}
	if len(entities) == 0 {
		return "No items yet.", nil
	}

	var b strings.Builder
	for i, e := range entities {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %-8s %s", shortID(e.ID), e.Kind, e.Title)
		if date := e.DateKey(); date != "" {
			b.WriteString("  " + date)
			if clock := e.TimeKey(); clock != "" {
				b.WriteString(" " + clock)
			}
		}
		if e.Status != "" {
			b.WriteString("  [" + e.Status + "]")
		}
	}
	return b.String(), nil
}

func (r *REPL) handlePatternsCommand(ctx context.Context) (string, error) {
	report, err := r.deps.Engine.Patterns(ctx, r.session.UserID)
	if err != nil {
		return "", err
	}
	if !report.HasHistory {
		return "No conversation yet.", nil
	}

	p := report.Pattern
	out := fmt.Sprintf("Conversation: %s\nBehavior: %s\nContext depth: %.1f",
		p.Classification, report.Behavior, p.ContextDepth)
	if agent, ok := p.PreferredAgent(); ok {
		out += "\nPreferred agent: " + agent
	}
	return out, nil
}

func (r *REPL) printContext(ctx context.Context) error {
	if r.deps.Store == nil {
		return errors.New("no context store configured")
	}
	rc, err := r.deps.Store.Get(ctx, r.session.UserID)
	if errors.Is(err, refcontext.ErrContextNotFound) {
		r.printInfo("No active reference")
		return nil
	}
	if err != nil {
		return err
	}

	line := fmt.Sprintf("Active reference: %q (%s)", rc.Title, rc.Kind)
	if rc.Date != "" {
		line += " on " + rc.Date
	}
	r.printInfo(line)
	r.printInfo(fmt.Sprintf("Expires: %s", rc.ExpiresAt.Format("2006-01-02 15:04")))
	return nil
}

// createPayload pulls due:, at: and kind: tokens out of a description
func createPayload(text string) map[string]interface{} {
	payload := make(map[string]interface{})
	var words []string
	for _, word := range strings.Fields(text) {
		switch {
		case strings.HasPrefix(word, "due:"):
			payload["due_date"] = strings.TrimPrefix(word, "due:")
		case strings.HasPrefix(word, "at:"):
			payload["due_time"] = strings.TrimPrefix(word, "at:")
		case strings.HasPrefix(word, "kind:"):
			payload["kind"] = strings.TrimPrefix(word, "kind:")
		default:
			words = append(words, word)
		}
	}
	payload["description"] = strings.Join(words, " ")
	return payload
}

// splitPatch separates field=value tokens from the reference phrase
func splitPatch(text string) (string, map[string]interface{}) {
	patch := make(map[string]interface{})
	var words []string
	for _, word := range strings.Fields(text) {
		if key, value, ok := strings.Cut(word, "="); ok && key != "" {
			patch[key] = strings.ReplaceAll(value, "_", " ")
			continue
		}
		words = append(words, word)
	}
	return strings.Join(words, " "), patch
}

// ReadOperations accepts either a bare array or {"operations": [...]}
func ReadOperations(filename string) ([]types.Operation, error) {
	data, err := os.ReadFile(filename) // #nosec G304 -- path typed by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var ops []types.Operation
	if err := json.Unmarshal(data, &ops); err == nil {
		return ops, nil
	}
	var wrapped struct {
		Operations []types.Operation `json:"operations"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode batch file: %w", err)
	}
	return wrapped.Operations, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// OperationHelp lists the operation types with their labels
func OperationHelp() string {
	lines := make([]string, 0, len(types.AllOperationTypes()))
	for _, t := range types.AllOperationTypes() {
		lines = append(lines, fmt.Sprintf("  %-16s %s", t, formatter.OperationLabel(t)))
	}
	return strings.Join(lines, "\n")
}
