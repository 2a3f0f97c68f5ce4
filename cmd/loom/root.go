// Command loom runs LLM-backed coding agents from the terminal.
package main

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/store"
)

type rootOptions struct {
	verbose      bool
	model        string
	forceManaged bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "loom",
		Short:         "Run LLM-backed coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVarP(&opts.model, "model", "m", "", "model id (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.forceManaged, "managed", false, "force the managed backend path")

	cmd.AddCommand(
		newRunCmd(opts),
		newRunsCmd(opts),
		newModelsCmd(opts),
		newLoginCmd(),
	)
	return cmd
}

// loadConfig merges the config file with root-level flag overrides.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.forceManaged {
		cfg.Backend.ForceManaged = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, verbose bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func openStore() (*store.Store, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	return store.Open(filepath.Join(dir, "runs.db"))
}
