package engine

import (
	"context"
	"time"

	"github.com/rmeter/rmeter/internal/csvdata"
	"github.com/rmeter/rmeter/internal/pipeline"
	"github.com/rmeter/rmeter/internal/plan"
	"github.com/rmeter/rmeter/internal/results"
	"github.com/rmeter/rmeter/internal/vars"
)

// stopGrace is how long an in-flight request may run on after a cooperative
// stop before its context is cancelled.
const stopGrace = 5 * time.Second

// virtualUser issues the group's requests sequentially in closed-loop
// fashion: the next request starts only after the previous one completed.
type virtualUser struct {
	index    int
	requests []plan.HTTPRequest
	pipeline *pipeline.Pipeline
	resolver *vars.Resolver
	cursor   *csvdata.Cursor
	loop     plan.LoopCount

	resultCh       chan<- *results.Result
	onCsvExhausted func(source string)
}

// run executes the loop policy until it terminates or the run is cancelled.
// hardCtx cancellation (force stop) drops the in-flight request and emits no
// result for it; stopCh (cooperative stop) lets the in-flight request finish
// within stopGrace and prevents any further iteration.
//
// groupStart anchors duration-mode loops: ramp-up delay is additive, the
// clock starts when the group's first virtual user started.
func (vu *virtualUser) run(hardCtx context.Context, stopCh <-chan struct{}, groupStart time.Time) {
	// Dispatch context: cancelled immediately on force stop, or stopGrace
	// after a cooperative stop.
	dispatchCtx, cancelDispatch := context.WithCancel(hardCtx)
	defer cancelDispatch()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-stopCh:
			t := time.NewTimer(stopGrace)
			defer t.Stop()
			select {
			case <-t.C:
				cancelDispatch()
			case <-hardCtx.Done():
				cancelDispatch()
			case <-done:
			}
		case <-hardCtx.Done():
			cancelDispatch()
		case <-done:
		}
	}()

	switch vu.loop.Type {
	case plan.LoopFinite:
		for i := uint64(0); i < vu.loop.Count; i++ {
			if cancelled(hardCtx, stopCh) {
				return
			}
			if !vu.iterate(hardCtx, dispatchCtx, stopCh) {
				return
			}
		}
	case plan.LoopDuration:
		deadline := groupStart.Add(time.Duration(vu.loop.Seconds) * time.Second)
		for time.Now().Before(deadline) {
			if cancelled(hardCtx, stopCh) {
				return
			}
			if !vu.iterate(hardCtx, dispatchCtx, stopCh) {
				return
			}
		}
	case plan.LoopInfinite:
		for {
			if cancelled(hardCtx, stopCh) {
				return
			}
			if !vu.iterate(hardCtx, dispatchCtx, stopCh) {
				return
			}
		}
	}
}

// iterate runs one pass over the request list. It returns false when the
// virtual user should terminate without starting another iteration.
func (vu *virtualUser) iterate(hardCtx, dispatchCtx context.Context, stopCh <-chan struct{}) bool {
	// Draw one row per CSV source; the bindings live for this iteration and
	// replace whatever the previous iteration bound.
	vu.resolver.BeginIteration(vu.cursor.NextBindings(vu.onCsvExhausted))

	for i := range vu.requests {
		if cancelled(hardCtx, stopCh) {
			return false
		}

		result, bindings := vu.pipeline.Execute(dispatchCtx, &vu.requests[i], vu.resolver)

		// Force stop mid-request: the result is dropped, not emitted.
		select {
		case <-hardCtx.Done():
			return false
		default:
		}

		// Back-pressure: block until the aggregator accepts the result;
		// results are never dropped outside of force stop.
		select {
		case vu.resultCh <- result:
		case <-hardCtx.Done():
			return false
		}

		// Extracted values shadow outer scopes for the rest of the iteration.
		vu.resolver.BindAll(bindings)
	}
	return true
}
