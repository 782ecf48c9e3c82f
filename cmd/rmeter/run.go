package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rmeter/rmeter/internal/engine"
	"github.com/rmeter/rmeter/internal/history"
	"github.com/rmeter/rmeter/internal/logging"
	"github.com/rmeter/rmeter/internal/plan"
	"github.com/rmeter/rmeter/internal/results"
	"github.com/rmeter/rmeter/internal/tui"
)

var (
	flagWatch     bool
	flagOut       string
	flagFormat    string
	flagHistoryDB string
)

var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Execute a test plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.Load(args[0])
		if err != nil {
			return err
		}
		if errs := plan.Validate(p); len(errs) > 0 {
			return fmt.Errorf("plan is invalid:\n  %s", joinLines(errs))
		}

		controller := engine.NewController()
		controller.RegisterPlan(p)

		var store *history.Store
		if flagHistoryDB != "" {
			store, err = history.Open(flagHistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()
		}

		var exportErr error
		controller.OnRunComplete = func(run *results.TestRunResult) {
			if store != nil {
				if err := store.SaveRun(run); err != nil {
					logging.WithComponent("history").WithError(err).Error("failed to store run")
				}
			}
			if flagOut != "" {
				exportErr = exportRun(run, flagOut, flagFormat)
			}
		}

		events, cancel := controller.Events().Subscribe()
		defer cancel()

		if err := controller.Start(p.ID); err != nil {
			return err
		}

		if flagWatch {
			model := tui.NewModel(p.Name, events, func(force bool) {
				if force {
					_ = controller.ForceStop()
				} else {
					_ = controller.Stop()
				}
			})
			if _, err := tea.NewProgram(model).Run(); err != nil {
				return err
			}
			controller.Wait()
		} else {
			runHeadless(controller, events)
			controller.Wait()
		}

		if exportErr != nil {
			return exportErr
		}
		info := controller.StatusInfo()
		if info.Status == engine.StatusError {
			return fmt.Errorf("run finished in error state")
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <plan-file>",
	Short: "Validate a test plan without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.Load(args[0])
		if err != nil {
			return err
		}
		if errs := plan.Validate(p); len(errs) > 0 {
			return fmt.Errorf("plan is invalid:\n  %s", joinLines(errs))
		}
		color.Green("plan %q is valid (%d thread groups)", p.Name, len(p.ThreadGroups))
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "show a live terminal dashboard")
	runCmd.Flags().StringVarP(&flagOut, "out", "o", "", "write a report to this file after the run")
	runCmd.Flags().StringVar(&flagFormat, "format", "", "report format: csv, json or html (default from --out extension)")
	runCmd.Flags().StringVar(&flagHistoryDB, "history", "", "SQLite database to append the finished run to")
}

// runHeadless consumes engine events without a TUI: SIGINT requests a
// cooperative stop (twice forces), and the summary is printed at the end.
func runHeadless(controller *engine.Controller, events <-chan engine.Event) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		stops := 0
		for range sigCh {
			if stops == 0 {
				fmt.Fprintln(os.Stderr, "stopping… (interrupt again to force)")
				_ = controller.Stop()
			} else {
				_ = controller.ForceStop()
			}
			stops++
		}
	}()

	for ev := range events {
		switch ev.Type {
		case engine.EventProgress:
			p := ev.Progress
			fmt.Printf("\r%-100s", fmt.Sprintf(
				"completed=%d errors=%d vus=%d rps=%.1f mean=%.1fms p95=%.1fms",
				p.CompletedRequests, p.TotalErrors, p.ActiveVUs, p.CurrentRPS, p.MeanMs, p.P95Ms))
		case engine.EventComplete:
			fmt.Print("\r")
			printSummary(ev.Summary)
			return
		}
	}
}

func printSummary(s *results.Summary) {
	bold := color.New(color.Bold)
	bold.Printf("\n=== %s ===\n", s.PlanName)
	fmt.Printf("Duration:        %s\n", s.FinishedAt.Sub(s.StartedAt).Round(10*time.Millisecond).String())
	fmt.Printf("Total requests:  %d\n", s.TotalRequests)
	color.Green("Successful:      %d", s.SuccessfulRequests)
	if s.FailedRequests > 0 {
		color.Red("Failed:          %d (%.1f%%)", s.FailedRequests, s.ErrorRate()*100)
	} else {
		fmt.Printf("Failed:          0\n")
	}
	fmt.Printf("Throughput:      %.2f req/s\n", s.RequestsPerSecond)
	fmt.Printf("Response times:  min=%dms mean=%.1fms p50=%dms p95=%dms p99=%dms max=%dms\n",
		s.MinResponseMs, s.MeanResponseMs, s.P50ResponseMs, s.P95ResponseMs, s.P99ResponseMs, s.MaxResponseMs)
	fmt.Printf("Bytes received:  %d\n", s.TotalBytesReceived)
}

// exportRun writes the report, inferring the format from the file extension
// when --format is not given.
func exportRun(run *results.TestRunResult, path, format string) error {
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			format = "csv"
		case ".html", ".htm":
			format = "html"
		default:
			format = "json"
		}
	}
	data, err := results.Export(run, results.ExportFormat(format))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logging.WithComponent("export").
		WithField("path", path).
		WithField("format", format).
		Info("report written")
	return nil
}

func joinLines(errs []error) string {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = err.Error()
	}
	return strings.Join(lines, "\n  ")
}
