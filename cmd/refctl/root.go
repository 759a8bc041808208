package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"lerian-entity-resolver/internal/config"
	"lerian-entity-resolver/internal/di"
	"lerian-entity-resolver/internal/patterns"
	"lerian-entity-resolver/internal/types"
)

// CLI represents the command-line interface
type CLI struct {
	RootCmd *cobra.Command

	container    *di.Container
	newContainer func(ctx context.Context, logs io.Writer) (*di.Container, error)

	userID       string
	outputFormat string
	verbose      bool
	entitiesFile string
	convFile     string
}

// NewCLI creates the CLI; containers are built from the environment configuration
func NewCLI() *CLI {
	return newCLI(func(ctx context.Context, logs io.Writer) (*di.Container, error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		return di.NewContainer(ctx, cfg, di.WithLogOutput(logs))
	})
}

func newCLI(factory func(context.Context, io.Writer) (*di.Container, error)) *CLI {
	c := &CLI{newContainer: factory}
	c.setupRootCommand()
	c.setupCommands()
	return c
}

// setupRootCommand configures the root command
func (c *CLI) setupRootCommand() {
	c.RootCmd = &cobra.Command{
		Use:   "refctl",
		Short: "Entity resolver CLI - resolve references and run entity operations",
		Long: `refctl talks to the entity resolver engine directly.

It resolves phrases like "it" or "the meeting" to concrete items, runs
batches of entity and list operations, and inspects conversation patterns.
Reference context survives between invocations when a sqlite or redis
context store is configured.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.container != nil {
				return nil
			}
			logs := io.Discard
			if c.verbose {
				logs = cmd.ErrOrStderr()
			}
			container, err := c.newContainer(cmd.Context(), logs)
			if err != nil {
				return err
			}
			c.container = container
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.container == nil {
				return nil
			}
			err := c.container.Shutdown()
			c.container = nil
			return err
		},
		SilenceUsage: true,
	}

	flags := c.RootCmd.PersistentFlags()
	flags.StringVarP(&c.userID, "user", "u", envOr("REFCTL_USER", "local"), "User whose context is used")
	flags.StringVarP(&c.outputFormat, "output", "o", "text", "Output format (text, json, table)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Log to stderr")
	flags.StringVar(&c.entitiesFile, "entities", "", "JSON file with the candidate entities")
	flags.StringVar(&c.convFile, "conversation", "", "JSON file with the recent conversation")
}

// setupCommands adds all subcommands to root
func (c *CLI) setupCommands() {
	c.RootCmd.AddCommand(
		c.createResolveCommand(),
		c.createUpdateCommand(),
		c.createExecuteCommand(),
		c.createSuggestCommand(),
		c.createClustersCommand(),
		c.createPatternsCommand(),
		c.createForgetCommand(),
		c.createOperationsCommand(),
		c.createSessionCommand(),
	)
}

// Execute runs the root command
func (c *CLI) Execute(ctx context.Context) error {
	return c.RootCmd.ExecuteContext(ctx)
}

func (c *CLI) user() types.UserID {
	return types.UserID(c.userID)
}

// requestContext attaches the --conversation file to ctx
func (c *CLI) requestContext(ctx context.Context) (context.Context, error) {
	if c.convFile == "" {
		return ctx, nil
	}
	var conv patterns.Conversation
	if err := readJSON(c.convFile, &conv); err != nil {
		return nil, err
	}
	return patterns.WithConversation(ctx, conv), nil
}

// entities returns the --entities file, or nil to use the entity source
func (c *CLI) entities() ([]types.Entity, error) {
	if c.entitiesFile == "" {
		return nil, nil
	}
	var list []types.Entity
	if err := readJSON(c.entitiesFile, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// render prints text in colour, v as JSON with --output json, or v as a
// table with --output table when it has a tabular form
func (c *CLI) render(cmd *cobra.Command, ok bool, text string, v interface{}) error {
	out := cmd.OutOrStdout()
	switch c.outputFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "table":
		if done, err := writeTable(out, v); done {
			return err
		}
	}

	paint := color.New(color.FgGreen)
	if !ok {
		paint = color.New(color.FgYellow)
	}
	_, err := paint.Fprintln(out, text)
	return err
}

func readJSON(filename string, v interface{}) error {
	data, err := os.ReadFile(filename) // #nosec G304 -- path given on the command line
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
