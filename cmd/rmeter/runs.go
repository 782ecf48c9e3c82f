package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rmeter/rmeter/internal/history"
)

var flagRunsDB string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored test runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(flagRunsDB)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.ListRuns(50)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no stored runs")
			return nil
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-24s %6d req  %8.2f req/s  mean %6.1fms  errors %.1f%%",
				e.StartedAt.Format("2006-01-02 15:04:05"), e.PlanName,
				e.TotalRequests, e.RequestsPerSecond, e.MeanResponseMs, e.ErrorRate*100)
			if e.ErrorRate > 0 {
				color.Yellow("%s  %s", e.RunID, line)
			} else {
				fmt.Printf("%s  %s\n", e.RunID, line)
			}
		}
		return nil
	},
}

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id> <output-file>",
	Short: "Export a stored run as csv, json or html",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id: %w", err)
		}

		store, err := history.Open(flagRunsDB)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.GetRun(runID)
		if err != nil {
			return err
		}
		return exportRun(run, args[1], flagFormat)
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id: %w", err)
		}

		store, err := history.Open(flagRunsDB)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteRun(runID); err != nil {
			return err
		}
		fmt.Println("deleted", runID)
		return nil
	},
}

// defaultHistoryPath is the history database the runs commands open unless
// --db points elsewhere.
func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rmeter-history.db"
	}
	return home + "/.rmeter/history.db"
}

func init() {
	runsCmd.PersistentFlags().StringVar(&flagRunsDB, "db", defaultHistoryPath(), "history database path")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsExportCmd)
	runsCmd.AddCommand(runsDeleteCmd)

	runsExportCmd.Flags().StringVar(&flagFormat, "format", "", "report format: csv, json or html (default from extension)")
}
