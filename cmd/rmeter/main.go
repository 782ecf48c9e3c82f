package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmeter/rmeter/internal/logging"
)

var (
	version = "0.1.0"

	flagVerbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rmeter",
	Short: "rmeter - declarative HTTP load testing",
	Long: `rmeter executes declarative test plans against HTTP endpoints: it spawns
concurrent virtual users with ramp-up and loop semantics, evaluates
assertions and extractors on every response, and aggregates latency
percentiles into a final summary.

Plans are .rmeter (JSON) or YAML files describing thread groups, requests,
variables and CSV data sources.

Examples:
  rmeter run plan.rmeter                 # headless run, summary on stdout
  rmeter run plan.rmeter --watch         # live terminal dashboard
  rmeter run plan.rmeter --out report.html
  rmeter validate plan.rmeter            # check a plan without running it
  rmeter serve --plan plan.rmeter        # expose the HTTP control surface`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Name() == "serve" {
			logging.InitJSON(flagVerbose)
		} else {
			logging.Init(flagVerbose)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runsCmd)
}
