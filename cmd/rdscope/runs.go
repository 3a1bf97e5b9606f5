package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rdscope/rdscope-go/internal/storage"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs <owner/repo>",
	Short: "List past analysis runs for a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		audit, err := storage.NewStore(cfg, logger)
		if err != nil {
			return err
		}
		defer audit.Close()

		runs, err := audit.ListRuns(cmd.Context(), args[0], runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded for", args[0])
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "RUN\tSTATE\tSTARTED\tPROCESSED\tSKIPPED\tFAILED\tINCLUDED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				r.RunID, r.State, r.StartedAt.Format("2006-01-02 15:04"),
				r.Processed, r.Skipped, r.FailedUnits, r.Included)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list")
}
