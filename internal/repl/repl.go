// Package repl provides an interactive session for resolving references and
// running entity operations against the engine.
package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/logging"
	"lerian-entity-resolver/internal/patterns"
	"lerian-entity-resolver/internal/provider"
	"lerian-entity-resolver/internal/refcontext"
	"lerian-entity-resolver/internal/types"
)

// errQuit ends the loop without reporting an error
var errQuit = errors.New("quit")

// Session represents an interactive session. Every line typed outside the
// ":" commands becomes part of the conversation the pattern analyzer sees.
type Session struct {
	ID           string                `json:"id"`
	UserID       types.UserID          `json:"user_id"`
	Agent        string                `json:"agent,omitempty"`
	Conversation patterns.Conversation `json:"conversation"`
	History      []Command             `json:"history"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	mu           sync.RWMutex
}

// Command represents a command executed in the session
type Command struct {
	Input     string    `json:"input"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Deps are the services a session talks to
type Deps struct {
	Engine   *engine.Engine
	History  *patterns.StaticHistory
	Store    refcontext.Store
	Entities provider.EntitySource
	Logger   logging.Logger
}

// REPL represents the Read-Eval-Print Loop interface
type REPL struct {
	session     *Session
	deps        Deps
	logger      *logging.ComponentLogger
	input       io.Reader
	output      io.Writer
	promptColor *color.Color
	outputColor *color.Color
	errorColor  *color.Color
	infoColor   *color.Color
}

// Option configures a REPL
type Option func(*REPL)

// WithIO replaces stdin and stdout
func WithIO(in io.Reader, out io.Writer) Option {
	return func(r *REPL) {
		r.input = in
		r.output = out
	}
}

// WithAgent tags assistant turns with an agent name
func WithAgent(agent string) Option {
	return func(r *REPL) { r.session.Agent = agent }
}

// NewREPL creates a new REPL instance for userID
func NewREPL(deps Deps, userID types.UserID, opts ...Option) (*REPL, error) {
	if deps.Engine == nil || deps.History == nil {
		return nil, errors.New("repl requires an engine and a history source")
	}

	now := time.Now()
	r := &REPL{
		session: &Session{
			ID:        uuid.New().String(),
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		deps:        deps,
		logger:      logging.NewComponentLogger(deps.Logger, "repl"),
		input:       os.Stdin,
		output:      os.Stdout,
		promptColor: color.New(color.FgCyan, color.Bold),
		outputColor: color.New(color.FgGreen),
		errorColor:  color.New(color.FgRed),
		infoColor:   color.New(color.FgYellow),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Session returns the live session
func (r *REPL) Session() *Session {
	return r.session
}

// Start runs the loop until EOF, :quit or ctx is cancelled
func (r *REPL) Start(ctx context.Context) error {
	r.printWelcome()

	scanner := bufio.NewScanner(r.input)
	for {
		if err := ctx.Err(); err != nil {
			return r.shutdown()
		}

		r.showPrompt()
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("input error: %w", err)
			}
			return r.shutdown()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if err := r.processCommand(ctx, input); err != nil {
			if errors.Is(err, errQuit) {
				return r.shutdown()
			}
			r.printError(fmt.Sprintf("Error: %v", err))
		}
	}
}

// processCommand runs one line and records it
func (r *REPL) processCommand(ctx context.Context, input string) error {
	cmd := Command{Input: input, Timestamp: time.Now()}

	if strings.HasPrefix(input, ":") {
		err := r.handleSpecialCommand(ctx, input)
		if err != nil && !errors.Is(err, errQuit) {
			cmd.Error = err.Error()
		}
		r.addToHistory(cmd)
		return err
	}

	r.recordTurn("user", input, "")
	output, err := r.handleInteractiveCommand(ctx, input)
	cmd.Output = output
	if err != nil {
		cmd.Error = err.Error()
		r.recordTurn("assistant", err.Error(), r.session.Agent)
	} else {
		r.recordTurn("assistant", output, r.session.Agent)
	}
	r.addToHistory(cmd)
	if err != nil {
		return err
	}
	r.printOutput(output)
	return nil
}

// handleSpecialCommand handles session commands starting with ":"
func (r *REPL) handleSpecialCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	command, args := parts[0], parts[1:]

	switch command {
	case ":help", ":h":
		r.printHelp()
		return nil

	case ":quit", ":q", ":exit":
		return errQuit

	case ":user":
		if len(args) == 0 {
			r.printInfo("Current user: " + r.session.UserID.String())
			return nil
		}
		r.switchUser(types.UserID(args[0]))
		r.printInfo("Switched to user " + args[0])
		return nil

	case ":agent":
		r.session.mu.Lock()
		r.session.Agent = strings.Join(args, " ")
		r.session.mu.Unlock()
		r.printInfo("Agent set to " + strings.Join(args, " "))
		return nil

	case ":context", ":ctx":
		return r.printContext(ctx)

	case ":forget":
		if err := r.deps.Engine.ClearContext(ctx, r.session.UserID); err != nil {
			return err
		}
		r.printInfo("Active reference cleared")
		return nil

	case ":history", ":hist":
		r.printHistory()
		return nil

	case ":save":
		if len(args) == 0 {
			return errors.New("filename required")
		}
		return r.saveSession(args[0])

	case ":load":
		if len(args) == 0 {
			return errors.New("filename required")
		}
		return r.loadSession(args[0])

	case ":status":
		r.printStatus()
		return nil

	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// recordTurn appends a message to the conversation and publishes it to the
// history source
func (r *REPL) recordTurn(role, content, agent string) {
	r.session.mu.Lock()
	r.session.Conversation.Messages = append(r.session.Conversation.Messages, patterns.Message{
		Role:      role,
		Content:   content,
		Agent:     agent,
		Timestamp: time.Now(),
	})
	r.session.UpdatedAt = time.Now()
	conv := r.session.Conversation
	user := r.session.UserID
	r.session.mu.Unlock()

	r.deps.History.Put(user, conv)
}

func (r *REPL) switchUser(userID types.UserID) {
	r.session.mu.Lock()
	defer r.session.mu.Unlock()
	r.session.UserID = userID
	r.session.Conversation = patterns.Conversation{}
	r.session.UpdatedAt = time.Now()
}

func (r *REPL) addToHistory(cmd Command) {
	r.session.mu.Lock()
	defer r.session.mu.Unlock()
	r.session.History = append(r.session.History, cmd)
}

// saveSession writes the session as JSON
func (r *REPL) saveSession(filename string) error {
	r.session.mu.RLock()
	data, err := json.MarshalIndent(r.session, "", "  ")
	r.session.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	r.printInfo("Session saved to " + filename)
	return nil
}

// loadSession restores the user and conversation of a saved session
func (r *REPL) loadSession(filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304 -- path typed by the operator
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}

	var saved Session
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}

	r.session.mu.Lock()
	r.session.UserID = saved.UserID
	r.session.Agent = saved.Agent
	r.session.Conversation = saved.Conversation
	r.session.UpdatedAt = time.Now()
	conv := r.session.Conversation
	r.session.mu.Unlock()

	r.deps.History.Put(saved.UserID, conv)
	r.printInfo(fmt.Sprintf("Loaded %d messages for %s", len(conv.Messages), saved.UserID))
	return nil
}

func (r *REPL) shutdown() error {
	r.logger.Info("Session ended", "session_id", r.session.ID, "commands", len(r.session.History))
	r.printInfo("Goodbye!")
	return nil
}

func (r *REPL) showPrompt() {
	_, _ = r.promptColor.Fprintf(r.output, "%s> ", r.session.UserID)
}

func (r *REPL) printWelcome() {
	_, _ = r.infoColor.Fprintln(r.output, "Entity resolver session "+r.session.ID)
	_, _ = r.infoColor.Fprintln(r.output, "Type :help for commands")
}

func (r *REPL) printOutput(s string) {
	_, _ = r.outputColor.Fprintln(r.output, s)
}

func (r *REPL) printError(s string) {
	_, _ = r.errorColor.Fprintln(r.output, s)
}

func (r *REPL) printInfo(s string) {
	_, _ = r.infoColor.Fprintln(r.output, s)
}

func (r *REPL) printHelp() {
	r.printInfo(`Session commands:
  :user [id]       show or switch the user
  :agent <name>    tag assistant turns with an agent
  :context         show the active reference
  :forget          clear the active reference
  :history         show executed commands
  :save <file>     save the session
  :load <file>     restore user and conversation
  :status          show session status
  :quit            leave

Operations:
  add <description> [due:YYYY-MM-DD] [at:HH:MM] [kind:task|event|reminder]
  done <reference>
  edit <reference> field=value ...
  delete <reference>
  list
  resolve <reference>
  update <message>
  suggest <query>
  clusters
  patterns
  batch <file.json> [bounded]

Anything else is recorded as conversation.`)
}

func (r *REPL) printHistory() {
	r.session.mu.RLock()
	defer r.session.mu.RUnlock()
	for i, cmd := range r.session.History {
		line := fmt.Sprintf("%3d  %s  %s", i+1, cmd.Timestamp.Format("15:04:05"), cmd.Input)
		if cmd.Error != "" {
			r.printError(line + "  (" + cmd.Error + ")")
			continue
		}
		r.printInfo(line)
	}
}

func (r *REPL) printStatus() {
	r.session.mu.RLock()
	defer r.session.mu.RUnlock()
	r.printInfo(fmt.Sprintf("Session: %s\nUser: %s\nAgent: %s\nMessages: %d\nCommands: %d\nUp: %s",
		r.session.ID, r.session.UserID, r.session.Agent,
		len(r.session.Conversation.Messages), len(r.session.History),
		time.Since(r.session.CreatedAt).Round(time.Second)))
}
