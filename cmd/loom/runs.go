package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			for _, r := range records {
				prompt := r.Prompt
				if len(prompt) > 60 {
					prompt = prompt[:57] + "..."
				}
				fmt.Printf("%s  %s  %-8s  %-7s  %6.1fcr  %s\n",
					r.CreatedAt.Format("2006-01-02 15:04"),
					r.ID[:8], r.Agent, r.OutputType, r.Credits, prompt)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
