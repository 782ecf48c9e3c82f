package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmeter/rmeter/internal/csvdata"
	"github.com/rmeter/rmeter/internal/httpclient"
	"github.com/rmeter/rmeter/internal/logging"
	"github.com/rmeter/rmeter/internal/metrics"
	"github.com/rmeter/rmeter/internal/pipeline"
	"github.com/rmeter/rmeter/internal/plan"
	"github.com/rmeter/rmeter/internal/results"
	"github.com/rmeter/rmeter/internal/vars"

	"github.com/google/uuid"
)

// groupRunner spawns and supervises the virtual users of one thread group.
type groupRunner struct {
	planID     uuid.UUID
	group      plan.ThreadGroup
	client     *httpclient.Client
	dataSet    *csvdata.DataSet
	planVars   map[string]string
	globalVars map[string]string

	resultCh  chan<- *results.Result
	activeVUs *atomic.Int32

	onFatal func(msg string)
}

// run starts num_threads virtual users with ramp-up staggering and returns
// when all of them have terminated. Virtual user i starts at
// i * ramp_up / num_threads after the group start; duration loops measure
// from the moment the first virtual user starts.
func (g *groupRunner) run(hardCtx context.Context, stopCh <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil && g.onFatal != nil {
			g.onFatal(formatPanic(g.group.Name, r))
		}
	}()

	requests := g.group.EnabledRequests()
	if len(requests) == 0 || g.group.NumThreads < 1 {
		return
	}

	groupVars := variableMap(g.group.Variables)
	pipe := pipeline.New(g.client, g.planID, g.group.Name)

	n := g.group.NumThreads
	var step time.Duration
	if g.group.RampUpSeconds > 0 {
		step = time.Duration(g.group.RampUpSeconds) * time.Second / time.Duration(n)
	}

	log := logging.WithComponent("scheduler")
	log.WithField("thread_group", g.group.Name).
		WithField("num_threads", n).
		Debug("starting thread group")

	groupStart := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if i > 0 && step > 0 {
			if !sleepInterruptible(hardCtx, stopCh, step) {
				break
			}
		}
		if cancelled(hardCtx, stopCh) {
			break
		}

		vu := &virtualUser{
			index:    i,
			requests: requests,
			pipeline: pipe,
			resolver: vars.NewResolver(groupVars, g.planVars, g.globalVars),
			cursor:   g.dataSet.NewCursor(),
			loop:     g.group.LoopCount,
			resultCh: g.resultCh,
			onCsvExhausted: func(source string) {
				metrics.CsvExhaustedWarnings.WithLabelValues(source).Inc()
				log.WithField("source", source).
					WithField("thread_group", g.group.Name).
					Warn("CSV source exhausted; serving last row")
			},
		}

		wg.Add(1)
		g.activeVUs.Add(1)
		metrics.ActiveVirtualUsers.Inc()
		go func() {
			defer func() {
				g.activeVUs.Add(-1)
				metrics.ActiveVirtualUsers.Dec()
				wg.Done()
			}()
			vu.run(hardCtx, stopCh, groupStart)
		}()
	}

	wg.Wait()
	log.WithField("thread_group", g.group.Name).Debug("thread group finished")
}

// sleepInterruptible waits for d unless the run is cancelled first. It
// returns false when interrupted.
func sleepInterruptible(hardCtx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-hardCtx.Done():
		return false
	case <-stopCh:
		return false
	}
}

func cancelled(hardCtx context.Context, stopCh <-chan struct{}) bool {
	select {
	case <-hardCtx.Done():
		return true
	case <-stopCh:
		return true
	default:
		return false
	}
}

// variableMap folds variable definitions into a name→value map.
func variableMap(defs []plan.Variable) map[string]string {
	if len(defs) == 0 {
		return nil
	}
	m := make(map[string]string, len(defs))
	for _, v := range defs {
		m[v.Name] = v.Value
	}
	return m
}
