package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/pkg/llm"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available from the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			provider := llm.NewBackendProvider(cfg.Backend.URL, cfg.Backend.APIKey, cfg.Model)
			models, err := provider.ListModels(cmd.Context())
			if err != nil {
				return err
			}

			sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
			for _, m := range models {
				marker := " "
				if m.ID == cfg.Model {
					marker = "*"
				}
				fmt.Printf("%s %-48s %s\n", marker, m.ID, m.OwnedBy)
			}
			return nil
		},
	}
}
