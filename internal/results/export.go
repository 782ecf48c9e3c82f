package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
)

// ExportFormat names a report output format.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
	FormatHTML ExportFormat = "html"
)

// Export renders a finished run in the requested format.
func Export(run *TestRunResult, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatCSV:
		return []byte(ExportCSV(run)), nil
	case FormatJSON:
		return ExportJSON(run)
	case FormatHTML:
		return []byte(ExportHTML(run)), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// ExportJSON renders the full run as pretty-printed JSON.
func ExportJSON(run *TestRunResult) ([]byte, error) {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode run: %w", err)
	}
	return append(data, '\n'), nil
}

// ExportCSV renders the run as CSV: summary comment lines, a header row, and
// one data row per request result.
func ExportCSV(run *TestRunResult) string {
	s := &run.Summary
	duration := s.FinishedAt.Sub(s.StartedAt).Seconds()

	var b strings.Builder
	fmt.Fprintf(&b, "# rmeter test run — %s\n", s.PlanName)
	fmt.Fprintf(&b, "# Run ID: %s\n", run.RunID)
	fmt.Fprintf(&b, "# Started:  %s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "# Finished: %s\n", s.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "# Duration: %.3fs\n", duration)
	fmt.Fprintf(&b, "# Total requests: %d\n", s.TotalRequests)
	fmt.Fprintf(&b, "# Successful: %d\n", s.SuccessfulRequests)
	fmt.Fprintf(&b, "# Failed: %d (%.2f%%)\n", s.FailedRequests, s.ErrorRate()*100)
	fmt.Fprintf(&b, "# Throughput: %.2f req/s\n", s.RequestsPerSecond)
	fmt.Fprintf(&b, "# Mean response: %.2fms\n", s.MeanResponseMs)
	fmt.Fprintf(&b, "# P50: %dms  P95: %dms  P99: %dms\n", s.P50ResponseMs, s.P95ResponseMs, s.P99ResponseMs)
	fmt.Fprintf(&b, "# Min: %dms  Max: %dms\n", s.MinResponseMs, s.MaxResponseMs)
	b.WriteString("\n")

	w := csv.NewWriter(&b)
	_ = w.Write([]string{
		"timestamp", "request_name", "thread_group", "method", "url",
		"status_code", "elapsed_ms", "size_bytes", "success", "error",
	})
	for i := range run.Results {
		r := &run.Results[i]
		_ = w.Write([]string{
			r.Timestamp.Format(time.RFC3339Nano),
			r.RequestName,
			r.ThreadGroupName,
			r.Method,
			r.URL,
			strconv.Itoa(r.StatusCode),
			strconv.FormatInt(r.ElapsedMs, 10),
			strconv.FormatInt(r.SizeBytes, 10),
			strconv.FormatBool(!r.Failed()),
			r.Error,
		})
	}
	w.Flush()
	return b.String()
}

// ExportHTML renders a standalone report page: summary table, per-second
// chart data, and the request table.
func ExportHTML(run *TestRunResult) string {
	s := &run.Summary

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>rmeter — %s</title>\n", html.EscapeString(s.PlanName))
	b.WriteString(`<style>
body { font-family: -apple-system, Segoe UI, sans-serif; margin: 2rem; color: #222; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #ccc; padding: 0.35rem 0.7rem; text-align: left; }
th { background: #f4f4f4; }
.fail { color: #b00020; }
.ok { color: #1a7f37; }
</style>
</head>
<body>
`)
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(s.PlanName))
	fmt.Fprintf(&b, "<p>Run %s · %s → %s</p>\n",
		run.RunID,
		s.StartedAt.Format(time.RFC3339),
		s.FinishedAt.Format(time.RFC3339))

	b.WriteString("<h2>Summary</h2>\n<table>\n")
	row := func(name, value string) {
		fmt.Fprintf(&b, "<tr><th>%s</th><td>%s</td></tr>\n", html.EscapeString(name), html.EscapeString(value))
	}
	row("Total requests", strconv.FormatUint(s.TotalRequests, 10))
	row("Successful", strconv.FormatUint(s.SuccessfulRequests, 10))
	row("Failed", fmt.Sprintf("%d (%.2f%%)", s.FailedRequests, s.ErrorRate()*100))
	row("Throughput", fmt.Sprintf("%.2f req/s", s.RequestsPerSecond))
	row("Mean", fmt.Sprintf("%.2f ms", s.MeanResponseMs))
	row("Min / Max", fmt.Sprintf("%d / %d ms", s.MinResponseMs, s.MaxResponseMs))
	row("P50 / P95 / P99", fmt.Sprintf("%d / %d / %d ms", s.P50ResponseMs, s.P95ResponseMs, s.P99ResponseMs))
	row("Bytes received", strconv.FormatUint(s.TotalBytesReceived, 10))
	b.WriteString("</table>\n")

	if len(run.TimeSeries) > 0 {
		b.WriteString("<h2>Per-second series</h2>\n<table>\n")
		b.WriteString("<tr><th>Second</th><th>Requests</th><th>Errors</th><th>Avg ms</th><th>Min ms</th><th>Max ms</th></tr>\n")
		for _, e := range run.TimeSeries {
			fmt.Fprintf(&b, "<tr><td>%d</td><td>%d</td><td>%d</td><td>%.1f</td><td>%d</td><td>%d</td></tr>\n",
				e.Second, e.Requests, e.Errors, e.AvgMs, e.MinMs, e.MaxMs)
		}
		b.WriteString("</table>\n")
	}

	if len(run.Results) > 0 {
		b.WriteString("<h2>Requests</h2>\n<table>\n")
		b.WriteString("<tr><th>Time</th><th>Group</th><th>Request</th><th>Status</th><th>Elapsed ms</th><th>Result</th></tr>\n")
		for i := range run.Results {
			r := &run.Results[i]
			state := "<td class=\"ok\">ok</td>"
			if r.Failed() {
				reason := r.Error
				if reason == "" {
					reason = "assertion failed"
				}
				state = fmt.Sprintf("<td class=\"fail\">%s</td>", html.EscapeString(reason))
			}
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td>%s</tr>\n",
				r.Timestamp.Format("15:04:05.000"),
				html.EscapeString(r.ThreadGroupName),
				html.EscapeString(r.RequestName),
				r.StatusCode,
				r.ElapsedMs,
				state)
		}
		b.WriteString("</table>\n")
	}

	b.WriteString("</body>\n</html>\n")
	return b.String()
}
