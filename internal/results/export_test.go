package results

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func sampleRun() *TestRunResult {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &TestRunResult{
		RunID: uuid.New(),
		Summary: Summary{
			PlanID:             uuid.New(),
			PlanName:           "api, smoke",
			StartedAt:          started,
			FinishedAt:         started.Add(5 * time.Second),
			TotalRequests:      10,
			SuccessfulRequests: 9,
			FailedRequests:     1,
			MinResponseMs:      5,
			MaxResponseMs:      90,
			MeanResponseMs:     22.5,
			P50ResponseMs:      20,
			P95ResponseMs:      80,
			P99ResponseMs:      88,
			RequestsPerSecond:  2,
			TotalBytesReceived: 2048,
		},
		TimeSeries: []TimeBucket{{Second: 0, Requests: 10, Errors: 1, AvgMs: 22.5, MinMs: 5, MaxMs: 90}},
		Results: []Result{
			{
				RequestName: "get \"home\"", ThreadGroupName: "group,one",
				Timestamp: started, Method: "GET", URL: "http://example.com",
				StatusCode: 200, ElapsedMs: 20, SizeBytes: 128, AssertionsPassed: true,
			},
			{
				RequestName: "broken", ThreadGroupName: "group,one",
				Timestamp: started.Add(time.Second), Method: "GET", URL: "http://example.com/x",
				StatusCode: 0, ElapsedMs: 90, AssertionsPassed: false, Error: "dial tcp: refused",
			},
		},
	}
}

func TestExportCSV_SummaryAndRows(t *testing.T) {
	out := ExportCSV(sampleRun())

	if !strings.Contains(out, "# rmeter test run — api, smoke") {
		t.Error("missing summary comment header")
	}
	if !strings.Contains(out, "# Total requests: 10") {
		t.Error("missing totals comment")
	}
	if !strings.Contains(out, "timestamp,request_name,thread_group,method,url,status_code,elapsed_ms,size_bytes,success,error") {
		t.Error("missing column header")
	}
	// Fields with commas or quotes must be escaped by the CSV writer.
	if !strings.Contains(out, `"group,one"`) {
		t.Error("comma-carrying field must be quoted")
	}
	if !strings.Contains(out, "dial tcp: refused") {
		t.Error("error column must be present")
	}

	// One header row + two data rows after the comment block.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	dataLines := 0
	for _, line := range lines {
		if line != "" && !strings.HasPrefix(line, "#") {
			dataLines++
		}
	}
	if dataLines != 3 {
		t.Errorf("expected header + 2 rows, got %d lines", dataLines)
	}
}

func TestExportJSON_Roundtrip(t *testing.T) {
	run := sampleRun()
	data, err := ExportJSON(run)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	var decoded TestRunResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("exported JSON must decode back: %v", err)
	}
	if decoded.RunID != run.RunID || decoded.Summary.TotalRequests != 10 {
		t.Error("roundtrip lost data")
	}
	if len(decoded.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(decoded.Results))
	}
}

func TestExportHTML_EscapesAndRenders(t *testing.T) {
	run := sampleRun()
	run.Summary.PlanName = `<script>alert("x")</script>`
	out := ExportHTML(run)

	if strings.Contains(out, `<script>alert`) {
		t.Error("plan name must be HTML-escaped")
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Error("expected escaped plan name in output")
	}
	if !strings.Contains(out, "<h2>Per-second series</h2>") {
		t.Error("expected time-series section")
	}
	if !strings.Contains(out, "dial tcp: refused") {
		t.Error("expected failure reason in request table")
	}
}

func TestExport_UnknownFormat(t *testing.T) {
	if _, err := Export(sampleRun(), ExportFormat("pdf")); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTruncateBody(t *testing.T) {
	small := []byte("short")
	if TruncateBody(small) != "short" {
		t.Error("short bodies pass through")
	}

	big := make([]byte, MaxStoredBody+100)
	for i := range big {
		big[i] = 'x'
	}
	out := TruncateBody(big)
	if len(out) <= MaxStoredBody && !strings.HasSuffix(out, "[truncated]") {
		t.Errorf("expected truncation marker, got %d bytes", len(out))
	}
	if !strings.HasSuffix(out, "…[truncated]") {
		t.Error("expected truncation suffix")
	}
}

func TestResultFailed(t *testing.T) {
	r := &Result{AssertionsPassed: true}
	if r.Failed() {
		t.Error("clean result is not failed")
	}
	r = &Result{AssertionsPassed: false}
	if !r.Failed() {
		t.Error("failed assertion marks the result failed")
	}
	r = &Result{AssertionsPassed: true, Error: "timeout"}
	if !r.Failed() {
		t.Error("transport error marks the result failed")
	}
}

func TestSummaryErrorRate(t *testing.T) {
	s := &Summary{}
	if s.ErrorRate() != 0 {
		t.Error("empty summary has zero error rate")
	}
	s = &Summary{TotalRequests: 4, FailedRequests: 1}
	if s.ErrorRate() != 0.25 {
		t.Errorf("expected 0.25, got %f", s.ErrorRate())
	}
}
