// Package results defines the records the engine emits: per-request results,
// progress snapshots, per-second buckets, and the terminal summary.
package results

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmeter/rmeter/internal/assertions"
	"github.com/rmeter/rmeter/internal/extract"
)

// MaxStoredBody caps the response body preserved on a result record.
const MaxStoredBody = 4096

// Result is the record produced for every executed request.
type Result struct {
	ID              uuid.UUID `json:"id"`
	PlanID          uuid.UUID `json:"plan_id"`
	ThreadGroupName string    `json:"thread_group_name"`
	RequestID       uuid.UUID `json:"request_id"`
	RequestName     string    `json:"request_name"`
	Timestamp       time.Time `json:"timestamp"`
	Method          string    `json:"method"`
	// URL is the fully resolved URL that was requested.
	URL string `json:"url"`
	// StatusCode is 0 when the request never produced a response.
	StatusCode int   `json:"status_code"`
	ElapsedMs  int64 `json:"elapsed_ms"`
	SizeBytes  int64 `json:"size_bytes"`
	// AssertionsPassed is true iff every assertion outcome passed
	// (vacuously true with no assertions).
	AssertionsPassed bool `json:"assertions_passed"`
	// Error carries the transport failure, empty otherwise.
	Error string `json:"error,omitempty"`

	AssertionOutcomes  []assertions.Outcome `json:"assertion_outcomes,omitempty"`
	ExtractionOutcomes []extract.Outcome    `json:"extraction_outcomes,omitempty"`

	// ResponseHeaders uses lowercased names.
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	// ResponseBody is truncated to MaxStoredBody.
	ResponseBody string `json:"response_body,omitempty"`
}

// Failed reports whether this result counts as a failure: a transport error
// or any failed assertion.
func (r *Result) Failed() bool {
	return r.Error != "" || !r.AssertionsPassed
}

// TruncateBody clips a body to MaxStoredBody for storage on the record.
func TruncateBody(body []byte) string {
	if len(body) <= MaxStoredBody {
		return string(body)
	}
	return string(body[:MaxStoredBody]) + "…[truncated]"
}

// Progress is the periodic snapshot of a running test.
type Progress struct {
	CompletedRequests uint64  `json:"completed_requests"`
	TotalErrors       uint64  `json:"total_errors"`
	ActiveVUs         int     `json:"active_vus"`
	ElapsedMs         int64   `json:"elapsed_ms"`
	CurrentRPS        float64 `json:"current_rps"`
	MeanMs            float64 `json:"mean_ms"`
	P95Ms             float64 `json:"p95_ms"`
	MinMs             int64   `json:"min_ms"`
	MaxMs             int64   `json:"max_ms"`
}

// TimeBucket is one per-second entry of the run's time series.
type TimeBucket struct {
	Second   int64   `json:"second"`
	Requests uint64  `json:"requests"`
	Errors   uint64  `json:"errors"`
	AvgMs    float64 `json:"avg_ms"`
	MinMs    int64   `json:"min_ms"`
	MaxMs    int64   `json:"max_ms"`
}

// Summary is the terminal report emitted once per run.
type Summary struct {
	PlanID             uuid.UUID `json:"plan_id"`
	PlanName           string    `json:"plan_name"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	TotalRequests      uint64    `json:"total_requests"`
	SuccessfulRequests uint64    `json:"successful_requests"`
	FailedRequests     uint64    `json:"failed_requests"`
	MinResponseMs      int64     `json:"min_response_ms"`
	MaxResponseMs      int64     `json:"max_response_ms"`
	MeanResponseMs     float64   `json:"mean_response_ms"`
	P50ResponseMs      int64     `json:"p50_response_ms"`
	P95ResponseMs      int64     `json:"p95_response_ms"`
	P99ResponseMs      int64     `json:"p99_response_ms"`
	RequestsPerSecond  float64   `json:"requests_per_second"`
	TotalBytesReceived uint64    `json:"total_bytes_received"`
}

// ErrorRate is failed/total, or 0 before any requests.
func (s *Summary) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.FailedRequests) / float64(s.TotalRequests)
}

// TestRunResult bundles everything a finished run produced, suitable for
// export and history storage.
type TestRunResult struct {
	RunID      uuid.UUID    `json:"run_id"`
	Summary    Summary      `json:"summary"`
	TimeSeries []TimeBucket `json:"time_series"`
	Results    []Result     `json:"request_results"`
}
