// Package engine runs test plans: it schedules thread groups of virtual
// users, funnels their results through the aggregator, and exposes the
// start/stop control surface and event stream.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rmeter/rmeter/internal/csvdata"
	"github.com/rmeter/rmeter/internal/httpclient"
	"github.com/rmeter/rmeter/internal/logging"
	"github.com/rmeter/rmeter/internal/metrics"
	"github.com/rmeter/rmeter/internal/plan"
	"github.com/rmeter/rmeter/internal/results"
	"github.com/rmeter/rmeter/internal/stats"
)

const (
	// resultQueueSize bounds the channel between virtual users and the
	// aggregator task. Senders block when it is full so counts stay exact.
	resultQueueSize = 4096

	// progressInterval is the cadence of test-progress events.
	progressInterval = 500 * time.Millisecond
)

// StatusInfo is the reply of the status query: the state kind plus live
// counters.
type StatusInfo struct {
	Status    Status  `json:"status"`
	Completed uint64  `json:"completed_requests"`
	Errors    uint64  `json:"total_errors"`
	ActiveVUs int     `json:"active_vus"`
	ElapsedMs int64   `json:"elapsed_ms"`
	RPS       float64 `json:"current_rps"`
}

// runContext is all run-scoped state. It is created at start and replaced
// wholesale on the next start, so teardown is deterministic.
type runContext struct {
	plan       *plan.TestPlan
	aggregator *stats.Aggregator
	client     *httpclient.Client

	hardCancel context.CancelFunc
	stopOnce   sync.Once
	stopCh     chan struct{}

	activeVUs atomic.Int32
	collected []results.Result
	fatalMsg  atomic.Value // string
	doneCh    chan struct{}
}

func (rc *runContext) requestStop() {
	rc.stopOnce.Do(func() { close(rc.stopCh) })
}

// Controller owns the canonical engine state machine and allows at most one
// active run per controller.
type Controller struct {
	mu     sync.Mutex
	status Status
	plans  map[uuid.UUID]*plan.TestPlan
	run    *runContext

	bus *Bus

	// OnRunComplete, when set, receives the full run result after the
	// summary event. Used to wire history storage and report export.
	OnRunComplete func(*results.TestRunResult)
}

// NewController creates an idle controller with an empty plan registry.
func NewController() *Controller {
	return &Controller{
		status: StatusIdle,
		plans:  make(map[uuid.UUID]*plan.TestPlan),
		bus:    NewBus(),
	}
}

// Events returns the controller's event bus.
func (c *Controller) Events() *Bus {
	return c.bus
}

// RegisterPlan makes a plan startable by ID. The plan must already be
// validated by the caller or it will be rejected at start.
func (c *Controller) RegisterPlan(p *plan.TestPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[p.ID] = p
}

// Start begins executing the identified plan. It returns immediately after
// spawning the run; progress arrives through the event stream.
func (c *Controller) Start(planID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusRunning || c.status == StatusStopping {
		return newError(ErrAlreadyRunning, "a test is already running; stop it before starting a new one")
	}
	if c.status != StatusIdle {
		return newError(ErrInvalidState, "engine must be reset before starting a new run (state: %s)", c.status)
	}

	p, ok := c.plans[planID]
	if !ok {
		return newError(ErrPlanNotFound, "no plan with ID %s", planID)
	}
	if !p.HasRunnableWork() {
		return newError(ErrPlanEmpty, "plan %q has no enabled thread group with an enabled request", p.Name)
	}
	if errs := plan.Validate(p); len(errs) > 0 {
		return newError(ErrValidation, "plan validation failed: %s", joinErrors(errs))
	}

	hardCtx, hardCancel := context.WithCancel(context.Background())
	rc := &runContext{
		plan:       p,
		aggregator: stats.NewAggregator(),
		client:     httpclient.NewClient(totalThreads(p)),
		hardCancel: hardCancel,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	c.run = rc
	c.setStatusLocked(StatusRunning)
	metrics.RunsStarted.Inc()

	logging.WithComponent("controller").
		WithField("plan", p.Name).
		WithField("plan_id", p.ID).
		Info("test run started")

	go c.executeRun(hardCtx, rc)
	return nil
}

// Stop requests cooperative cancellation: no new iteration begins and
// in-flight requests get a bounded grace window.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRunning {
		return newError(ErrNotRunning, "no test is currently running")
	}
	c.setStatusLocked(StatusStopping)
	c.publishProgress(c.run)
	c.run.requestStop()
	return nil
}

// ForceStop cancels the run immediately. In-flight requests are dropped and
// emit no result; the summary covers whatever completed before the call.
func (c *Controller) ForceStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRunning && c.status != StatusStopping {
		return newError(ErrNotRunning, "no test is currently running")
	}
	c.run.requestStop()
	c.run.hardCancel()
	return nil
}

// StatusInfo reports the current state and counters.
func (c *Controller) StatusInfo() StatusInfo {
	c.mu.Lock()
	status := c.status
	rc := c.run
	c.mu.Unlock()

	info := StatusInfo{Status: status}
	if rc != nil {
		snap := rc.aggregator.Snapshot(int(rc.activeVUs.Load()))
		info.Completed = snap.CompletedRequests
		info.Errors = snap.TotalErrors
		info.ActiveVUs = snap.ActiveVUs
		info.ElapsedMs = snap.ElapsedMs
		info.RPS = snap.CurrentRPS
	}
	return info
}

// Progress returns the live snapshot of the current (or last) run, or nil
// when no run has been started since the last reset.
func (c *Controller) Progress() *results.Progress {
	c.mu.Lock()
	rc := c.run
	c.mu.Unlock()

	if rc == nil {
		return nil
	}
	snap := rc.aggregator.Snapshot(int(rc.activeVUs.Load()))
	return &snap
}

// TimeSeries returns the per-second buckets of the current (or last) run.
func (c *Controller) TimeSeries() []results.TimeBucket {
	c.mu.Lock()
	rc := c.run
	c.mu.Unlock()

	if rc == nil {
		return nil
	}
	return rc.aggregator.TimeSeries()
}

// Reset clears the finished run context and returns the engine to idle.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.status.Terminal() {
		return newError(ErrInvalidState, "reset is only valid after a run completed (state: %s)", c.status)
	}
	c.run = nil
	c.setStatusLocked(StatusIdle)
	return nil
}

// Wait blocks until the current run has fully finished. It returns
// immediately when no run is active.
func (c *Controller) Wait() {
	c.mu.Lock()
	rc := c.run
	c.mu.Unlock()
	if rc != nil {
		<-rc.doneCh
	}
}

// setStatusLocked transitions the state machine and publishes the event.
// Caller must hold the mutex.
func (c *Controller) setStatusLocked(s Status) {
	c.status = s
	c.bus.Publish(Event{Type: EventStatus, Status: s})
}

// executeRun is the run orchestrator: it spawns one scheduler per enabled
// group, drains results into the aggregator, and emits the terminal events.
func (c *Controller) executeRun(hardCtx context.Context, rc *runContext) {
	defer close(rc.doneCh)

	resultCh := make(chan *results.Result, resultQueueSize)
	dataSet := csvdata.NewDataSet(rc.plan.CsvDataSources)
	planVars, globalVars := planVariableLayers(rc.plan)

	// One scheduler per enabled thread group, all started concurrently.
	var groups sync.WaitGroup
	for _, tg := range rc.plan.EnabledGroups() {
		runner := &groupRunner{
			planID:     rc.plan.ID,
			group:      tg,
			client:     rc.client,
			dataSet:    dataSet,
			planVars:   planVars,
			globalVars: globalVars,
			resultCh:   resultCh,
			activeVUs:  &rc.activeVUs,
			onFatal:    func(msg string) { c.fatal(rc, msg) },
		}
		groups.Add(1)
		go func() {
			defer groups.Done()
			runner.run(hardCtx, rc.stopCh)
		}()
	}

	// The channel closes when every virtual user has terminated, which ends
	// the aggregation loop below.
	go func() {
		groups.Wait()
		close(resultCh)
	}()

	// Progress reporter.
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.publishProgress(rc)
			case <-rc.doneCh:
				return
			case <-hardCtx.Done():
				return
			}
		}
	}()

	// Aggregation loop — the single consumer of the result queue.
	for result := range resultCh {
		rc.aggregator.Record(result.ElapsedMs, result.Failed(), result.SizeBytes)
		metrics.ObserveResult(result.ThreadGroupName, result.ElapsedMs, result.Failed(), result.SizeBytes)
		rc.collected = append(rc.collected, *result)
		c.bus.Publish(Event{Type: EventResult, Result: result})
	}

	// Final status: error when a scheduler died, completed otherwise (both
	// for natural completion and for stop/force-stop).
	final := StatusCompleted
	if msg, ok := rc.fatalMsg.Load().(string); ok && msg != "" {
		final = StatusError
	}

	c.mu.Lock()
	// A fatal transition may already have published the error status.
	if c.status != StatusError {
		c.setStatusLocked(final)
	}
	c.mu.Unlock()

	// Publish one last progress snapshot on the transition, then the
	// summary — emitted exactly once per run, partial data included.
	c.publishProgress(rc)
	summary := rc.aggregator.Summary(rc.plan.ID, rc.plan.Name)
	c.bus.Publish(Event{Type: EventComplete, Summary: &summary})

	logging.WithComponent("controller").
		WithField("plan", rc.plan.Name).
		WithField("total_requests", summary.TotalRequests).
		WithField("failed_requests", summary.FailedRequests).
		Info("test run finished")

	if c.OnRunComplete != nil {
		c.OnRunComplete(&results.TestRunResult{
			RunID:      uuid.New(),
			Summary:    summary,
			TimeSeries: rc.aggregator.TimeSeries(),
			Results:    rc.collected,
		})
	}
}

// fatal records a scheduler failure and transitions the engine to error.
// The run still drains and emits its terminal events with partial data.
func (c *Controller) fatal(rc *runContext, msg string) {
	rc.fatalMsg.Store(msg)
	logging.WithComponent("controller").Error(msg)

	c.mu.Lock()
	if !c.status.Terminal() {
		c.setStatusLocked(StatusError)
	}
	c.mu.Unlock()

	// Abort whatever is still running; results already queued still count.
	rc.requestStop()
	rc.hardCancel()
}

func (c *Controller) publishProgress(rc *runContext) {
	snap := rc.aggregator.Snapshot(int(rc.activeVUs.Load()))
	c.bus.Publish(Event{Type: EventProgress, Progress: &snap})
}

// planVariableLayers splits the plan's variable definitions into the plan
// and global resolver layers. Group-scoped definitions attached at plan
// level fall through to the plan layer.
func planVariableLayers(p *plan.TestPlan) (planVars, globalVars map[string]string) {
	for _, v := range p.Variables {
		switch v.Scope {
		case plan.ScopeGlobal:
			if globalVars == nil {
				globalVars = make(map[string]string)
			}
			globalVars[v.Name] = v.Value
		default:
			if planVars == nil {
				planVars = make(map[string]string)
			}
			planVars[v.Name] = v.Value
		}
	}
	return planVars, globalVars
}

func totalThreads(p *plan.TestPlan) int {
	total := 0
	for _, tg := range p.EnabledGroups() {
		total += tg.NumThreads
	}
	return total
}

func joinErrors(errs []error) string {
	msg := ""
	for i, err := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return msg
}

func formatPanic(group string, r interface{}) string {
	return fmt.Sprintf("scheduler for thread group %q panicked: %v", group, r)
}
