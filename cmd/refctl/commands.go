package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/repl"
	"lerian-entity-resolver/internal/types"
)

func (c *CLI) createResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <reference>",
		Short: "Resolve a reference phrase to one item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := c.requestContext(cmd.Context())
			if err != nil {
				return err
			}
			entities, err := c.entities()
			if err != nil {
				return err
			}

			resp, err := c.container.Engine.Resolve(ctx, c.user(), strings.Join(args, " "), entities)
			if err != nil {
				return err
			}
			return c.render(cmd, resp.Resolution.Accepted(), resp.Text, resp)
		},
	}
}

func (c *CLI) createUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update <message>",
		Short: "Find the item an update message refers to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := c.requestContext(cmd.Context())
			if err != nil {
				return err
			}
			entities, err := c.entities()
			if err != nil {
				return err
			}

			outcome, err := c.container.Engine.ProcessUpdate(ctx, c.user(), strings.Join(args, " "), entities)
			if err != nil {
				return err
			}
			return c.render(cmd, outcome.Success, outcome.Message, outcome)
		},
	}
}

func (c *CLI) createExecuteCommand() *cobra.Command {
	var (
		bounded        bool
		maxConcurrency int
		message        string
	)

	cmd := &cobra.Command{
		Use:   "execute <operations.json>",
		Short: "Run a batch of operations from a JSON file",
		Long: `Run a batch of operations. The file holds either an array of
{"type": ..., "payload": ...} objects or {"operations": [...]}.

Entity mutations may name their target with {"reference": "the meeting"}.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := repl.ReadOperations(args[0])
			if err != nil {
				return err
			}
			ctx, err := c.requestContext(cmd.Context())
			if err != nil {
				return err
			}
			entities, err := c.entities()
			if err != nil {
				return err
			}

			resp, err := c.container.Engine.Execute(ctx, engine.Request{
				UserID:         c.user(),
				Operations:     ops,
				Message:        message,
				Entities:       entities,
				Bounded:        bounded,
				MaxConcurrency: maxConcurrency,
			})
			if err != nil {
				return err
			}
			return c.render(cmd, resp.Result.AllSucceeded(), resp.Text, resp)
		},
	}

	cmd.Flags().BoolVar(&bounded, "bounded", false, "Run operations in concurrent windows")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "Window size for bounded mode (0 uses the configured value)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "User message that triggered the batch")
	return cmd
}

func (c *CLI) createSuggestCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "suggest [query]",
		Short: "Suggest items close to a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			entities, err := c.entities()
			if err != nil {
				return err
			}
			resp, err := c.container.Engine.Suggest(cmd.Context(), c.user(), strings.Join(args, " "), limit, entities)
			if err != nil {
				return err
			}
			return c.render(cmd, len(resp.Suggestions) > 0, resp.Text, resp)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", engine.DefaultSuggestionLimit, "Maximum suggestions")
	return cmd
}

func (c *CLI) createClustersCommand() *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "clusters",
		Short: "Group items with similar titles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entities, err := c.entities()
			if err != nil {
				return err
			}
			resp, err := c.container.Engine.Clusters(cmd.Context(), c.user(), threshold, entities)
			if err != nil {
				return err
			}
			return c.render(cmd, true, resp.Text, resp)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Similarity threshold (0 uses the configured value)")
	return cmd
}

func (c *CLI) createPatternsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "Analyse the conversation of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := c.requestContext(cmd.Context())
			if err != nil {
				return err
			}
			report, err := c.container.Engine.Patterns(ctx, c.user())
			if err != nil {
				return err
			}

			text := "No conversation available."
			if report.HasHistory {
				text = fmt.Sprintf("Conversation: %s\nBehavior: %s\nContext depth: %.1f",
					report.Pattern.Classification, report.Behavior, report.Pattern.ContextDepth)
			}
			return c.render(cmd, report.HasHistory, text, report)
		},
	}
}

func (c *CLI) createForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Clear the active reference of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.container.Engine.ClearContext(cmd.Context(), c.user()); err != nil {
				return err
			}
			return c.render(cmd, true, "Active reference cleared.", map[string]interface{}{"cleared": true, "user_id": c.user()})
		},
	}
}

func (c *CLI) createOperationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List the supported operation types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.render(cmd, true, repl.OperationHelp(), types.AllOperationTypes())
		},
	}
}

func (c *CLI) createSessionCommand() *cobra.Command {
	var agent string

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Start an interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			r, err := repl.NewREPL(repl.Deps{
				Engine:   c.container.Engine,
				History:  c.container.History,
				Store:    c.container.Store,
				Entities: c.container.Entities,
				Logger:   c.container.Logger,
			}, c.user(), repl.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()), repl.WithAgent(agent))
			if err != nil {
				return err
			}
			return r.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "Agent name recorded on assistant turns")
	return cmd
}

func printFailure(err error) {
	_, _ = color.New(color.FgRed).Fprintln(os.Stderr, "Error: "+err.Error())
}
