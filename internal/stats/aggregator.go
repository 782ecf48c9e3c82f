// Package stats folds per-request results into live progress snapshots, a
// per-second time series, and the terminal run summary.
package stats

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rmeter/rmeter/internal/results"
)

// ewmaHorizon is the smoothing horizon of the live requests-per-second rate.
const ewmaHorizon = 2 * time.Second

// Aggregator accumulates the running statistics of one test run. All writes
// come from the single aggregator task; the mutex makes on-demand snapshot
// reads from the control surface safe.
type Aggregator struct {
	mu sync.Mutex

	totalRequests uint64
	totalErrors   uint64
	sumMs         int64
	minMs         int64
	maxMs         int64
	totalBytes    uint64

	start     time.Time
	startedAt time.Time

	p95       *P2Estimator
	reservoir *Reservoir

	// EWMA rate state, refreshed on snapshot reads.
	rate          float64
	rateInit      bool
	lastRateCount uint64
	lastRateAt    time.Time

	buckets map[int64]*bucket
}

type bucket struct {
	requests uint64
	errors   uint64
	sumMs    int64
	minMs    int64
	maxMs    int64
}

// NewAggregator creates an aggregator, capturing the run's start instant.
func NewAggregator() *Aggregator {
	now := time.Now()
	return &Aggregator{
		minMs:      -1,
		start:      now,
		startedAt:  now.UTC(),
		p95:        NewP2Estimator(0.95),
		reservoir:  NewReservoir(DefaultReservoirSize),
		lastRateAt: now,
		buckets:    make(map[int64]*bucket),
	}
}

// Record folds one completed request into the running statistics. A request
// counts as an error when it failed at the transport level or any assertion
// failed.
func (a *Aggregator) Record(elapsedMs int64, failed bool, sizeBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalRequests++
	if failed {
		a.totalErrors++
	}
	a.sumMs += elapsedMs
	if a.minMs < 0 || elapsedMs < a.minMs {
		a.minMs = elapsedMs
	}
	if elapsedMs > a.maxMs {
		a.maxMs = elapsedMs
	}
	if sizeBytes > 0 {
		a.totalBytes += uint64(sizeBytes)
	}

	a.p95.Observe(float64(elapsedMs))
	a.reservoir.Observe(elapsedMs)

	second := int64(time.Since(a.start) / time.Second)
	b, ok := a.buckets[second]
	if !ok {
		b = &bucket{minMs: -1}
		a.buckets[second] = b
	}
	b.requests++
	if failed {
		b.errors++
	}
	b.sumMs += elapsedMs
	if b.minMs < 0 || elapsedMs < b.minMs {
		b.minMs = elapsedMs
	}
	if elapsedMs > b.maxMs {
		b.maxMs = elapsedMs
	}
}

// Snapshot returns the live progress view. activeVUs is supplied by the
// caller because the aggregator does not track scheduler state.
func (a *Aggregator) Snapshot(activeVUs int) results.Progress {
	a.mu.Lock()
	defer a.mu.Unlock()

	mean := 0.0
	if a.totalRequests > 0 {
		mean = float64(a.sumMs) / float64(a.totalRequests)
	}
	minMs := a.minMs
	if minMs < 0 {
		minMs = 0
	}

	return results.Progress{
		CompletedRequests: a.totalRequests,
		TotalErrors:       a.totalErrors,
		ActiveVUs:         activeVUs,
		ElapsedMs:         time.Since(a.start).Milliseconds(),
		CurrentRPS:        a.refreshRate(),
		MeanMs:            mean,
		P95Ms:             a.p95.Value(),
		MinMs:             minMs,
		MaxMs:             a.maxMs,
	}
}

// refreshRate advances the EWMA requests-per-second estimate to now.
// Caller must hold the mutex.
func (a *Aggregator) refreshRate() float64 {
	now := time.Now()
	dt := now.Sub(a.lastRateAt)
	if dt < 50*time.Millisecond {
		return a.rate
	}
	instant := float64(a.totalRequests-a.lastRateCount) / dt.Seconds()
	alpha := 1 - math.Exp(-dt.Seconds()/ewmaHorizon.Seconds())
	if !a.rateInit {
		a.rate = instant
		a.rateInit = true
	} else {
		a.rate += alpha * (instant - a.rate)
	}
	a.lastRateCount = a.totalRequests
	a.lastRateAt = now
	return a.rate
}

// Summary builds the terminal report. Percentiles are exact over the full
// sample set when the run stayed under the reservoir capacity, and computed
// over a uniform 100 000-sample reservoir otherwise.
func (a *Aggregator) Summary(planID uuid.UUID, planName string) results.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	finishedAt := time.Now().UTC()
	total := a.totalRequests
	failed := a.totalErrors
	mean := 0.0
	if total > 0 {
		mean = float64(a.sumMs) / float64(total)
	}
	minMs := a.minMs
	if minMs < 0 {
		minMs = 0
	}

	elapsed := finishedAt.Sub(a.startedAt).Seconds()
	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed
	}

	pct := a.reservoir.Percentiles(50, 95, 99)

	return results.Summary{
		PlanID:             planID,
		PlanName:           planName,
		StartedAt:          a.startedAt,
		FinishedAt:         finishedAt,
		TotalRequests:      total,
		SuccessfulRequests: total - failed,
		FailedRequests:     failed,
		MinResponseMs:      minMs,
		MaxResponseMs:      a.maxMs,
		MeanResponseMs:     mean,
		P50ResponseMs:      pct[0],
		P95ResponseMs:      pct[1],
		P99ResponseMs:      pct[2],
		RequestsPerSecond:  rps,
		TotalBytesReceived: a.totalBytes,
	}
}

// TimeSeries returns the per-second buckets sorted by second.
func (a *Aggregator) TimeSeries() []results.TimeBucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]results.TimeBucket, 0, len(a.buckets))
	for second, b := range a.buckets {
		avg := 0.0
		if b.requests > 0 {
			avg = float64(b.sumMs) / float64(b.requests)
		}
		minMs := b.minMs
		if minMs < 0 {
			minMs = 0
		}
		out = append(out, results.TimeBucket{
			Second:   second,
			Requests: b.requests,
			Errors:   b.errors,
			AvgMs:    avg,
			MinMs:    minMs,
			MaxMs:    b.maxMs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Second < out[j].Second })
	return out
}
