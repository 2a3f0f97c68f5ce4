package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/pkg/agent"
	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/mcp"
	"github.com/loomworks/loom/pkg/tools"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		agentName    string
		systemPrompt string
		continueRun  bool
		showThinking bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run the agent with a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			log := newLogger(cfg, opts.verbose)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			root, err := os.Getwd()
			if err != nil {
				return err
			}
			builtins, err := tools.DefaultBuiltins(root, cfg.Shell.Allow)
			if err != nil {
				return err
			}

			var manager *mcp.Manager
			if len(cfg.MCPServers) > 0 {
				manager = mcp.NewManager(log)
				manager.Start(ctx, cfg.MCPServers)
				defer manager.Stop()
			}

			dispatcher := tools.NewDispatcher(tools.DispatcherConfig{
				MCP:      manager,
				Builtins: builtins,
				Logger:   log,
			})

			router := llm.NewRouter(llm.RouterConfig{
				BackendURL:    cfg.Backend.URL,
				BackendAPIKey: cfg.Backend.APIKey,
				ForceManaged:  cfg.Backend.ForceManaged,
				Logger:        log,
			}, llm.NewCooldownStore())

			engine := agent.NewEngine(agent.EngineConfig{
				Router:     router,
				Dispatcher: dispatcher,
				Logger:     log,
				StepBudget: cfg.Agent.StepBudget,
			})

			def, err := loadAgentDefinition(agentName)
			if err != nil {
				return err
			}
			if def.Model == "" || opts.model != "" {
				def.Model = cfg.Model
			}
			if systemPrompt != "" {
				def.SystemPrompt = systemPrompt
			} else if def.SystemPrompt == "" {
				def.SystemPrompt = cfg.Agent.SystemPrompt
			}

			req := agent.RunRequest{
				Agent:   *def,
				Prompt:  args[0],
				OnEvent: printEvent(showThinking),
			}

			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if continueRun {
				prev, err := db.LatestRun(ctx, agentName)
				if err != nil {
					return err
				}
				req.PreviousRun = prev
			}

			run := engine.Run(ctx, req)
			fmt.Println()

			if err := db.SaveRun(context.WithoutCancel(ctx), run, agentName, cfg.Model, args[0]); err != nil {
				log.Warn().Err(err).Msg("failed to persist run")
			}

			if run.Output.Type == agent.OutputError {
				return fmt.Errorf("%s", run.Output.Message)
			}
			log.Info().Str("run", run.RunID).
				Float64("credits", run.SessionState.MainAgent.CreditsUsed).
				Msg("run complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&agentName, "agent", "a", "default", "agent name for run history")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt override")
	cmd.Flags().BoolVarP(&continueRun, "continue", "c", false, "continue from the agent's latest run")
	cmd.Flags().BoolVar(&showThinking, "thinking", false, "print reasoning deltas")
	return cmd
}

// loadAgentDefinition resolves a named agent from <config>/agents/. An
// unknown name is not an error: it runs with defaults and still keys the
// run history.
func loadAgentDefinition(name string) (*agent.Definition, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	def, err := agent.LoadDefinition(filepath.Join(dir, "agents"), name)
	if err != nil {
		return nil, err
	}
	if def == nil {
		def = &agent.Definition{Name: name}
	}
	return def, nil
}

// printEvent streams normalized events to the terminal. Reasoning is dimmed
// and only shown on request.
func printEvent(showThinking bool) func(llm.Event) {
	return func(event llm.Event) {
		switch event.Type {
		case llm.EventReasoningDelta:
			if showThinking {
				fmt.Fprint(os.Stderr, event.Text)
			}
		case llm.EventReasoningEnd:
			if showThinking {
				fmt.Fprintln(os.Stderr)
			}
		case llm.EventTextDelta:
			fmt.Print(event.Text)
		case llm.EventToolCall:
			if event.Tool != nil {
				fmt.Fprintf(os.Stderr, "\n[tool: %s]\n", event.Tool.Name)
			}
		case llm.EventError:
			fmt.Fprintf(os.Stderr, "\n[recoverable: %v]\n", event.Err)
		}
	}
}
