package main

import (
	"github.com/spf13/cobra"

	"github.com/rmeter/rmeter/internal/engine"
	"github.com/rmeter/rmeter/internal/history"
	"github.com/rmeter/rmeter/internal/logging"
	"github.com/rmeter/rmeter/internal/plan"
	"github.com/rmeter/rmeter/internal/results"
	"github.com/rmeter/rmeter/internal/server"
)

var (
	flagAddr       string
	flagServePlans []string
	flagServeDB    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the engine over an HTTP control surface",
	Long: `Starts the control server: JSON endpoints for start/stop/status/results,
a WebSocket event stream on /ws, and Prometheus metrics on /metrics.

Plans given with --plan are registered at startup and started by their ID
via POST /api/test/start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		controller := engine.NewController()

		log := logging.WithComponent("serve")
		for _, path := range flagServePlans {
			p, err := plan.Load(path)
			if err != nil {
				return err
			}
			controller.RegisterPlan(p)
			log.WithField("plan", p.Name).WithField("plan_id", p.ID).Info("plan registered")
		}

		var store *history.Store
		if flagServeDB != "" {
			var err error
			store, err = history.Open(flagServeDB)
			if err != nil {
				return err
			}
			defer store.Close()

			controller.OnRunComplete = func(run *results.TestRunResult) {
				if err := store.SaveRun(run); err != nil {
					logging.WithComponent("history").WithError(err).Error("failed to store run")
				}
			}
		}

		return server.New(controller, store).ListenAndServe(flagAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "127.0.0.1:8931", "listen address of the control server")
	serveCmd.Flags().StringArrayVar(&flagServePlans, "plan", nil, "plan file to register (repeatable)")
	serveCmd.Flags().StringVar(&flagServeDB, "history", "", "SQLite database for finished runs")
}
