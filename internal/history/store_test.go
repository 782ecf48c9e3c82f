package history

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rmeter/rmeter/internal/results"
)

func sampleRun() *results.TestRunResult {
	started := time.Now().UTC().Add(-10 * time.Second).Truncate(time.Second)
	finished := started.Add(10 * time.Second)
	return &results.TestRunResult{
		RunID: uuid.New(),
		Summary: results.Summary{
			PlanID:             uuid.New(),
			PlanName:           "checkout flow",
			StartedAt:          started,
			FinishedAt:         finished,
			TotalRequests:      100,
			SuccessfulRequests: 95,
			FailedRequests:     5,
			MinResponseMs:      3,
			MaxResponseMs:      250,
			MeanResponseMs:     42.5,
			P50ResponseMs:      40,
			P95ResponseMs:      120,
			P99ResponseMs:      200,
			RequestsPerSecond:  10,
			TotalBytesReceived: 123456,
		},
		TimeSeries: []results.TimeBucket{
			{Second: 0, Requests: 50, Errors: 2, AvgMs: 40, MinMs: 3, MaxMs: 100},
			{Second: 1, Requests: 50, Errors: 3, AvgMs: 45, MinMs: 5, MaxMs: 250},
		},
		Results: []results.Result{
			{
				ID: uuid.New(), PlanID: uuid.New(), ThreadGroupName: "g",
				RequestName: "get", Timestamp: started, Method: "GET",
				URL: "http://example.com", StatusCode: 200, ElapsedMs: 40,
				SizeBytes: 128, AssertionsPassed: true,
			},
			{
				ID: uuid.New(), PlanID: uuid.New(), ThreadGroupName: "g",
				RequestName: "get", Timestamp: started.Add(time.Second), Method: "GET",
				URL: "http://example.com", StatusCode: 0, ElapsedMs: 90,
				AssertionsPassed: false, Error: "connection refused",
			},
		},
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGetRun(t *testing.T) {
	store := openTestStore(t)
	run := sampleRun()

	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	loaded, err := store.GetRun(run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if loaded.Summary.PlanName != "checkout flow" {
		t.Errorf("unexpected plan name %q", loaded.Summary.PlanName)
	}
	if loaded.Summary.TotalRequests != 100 || loaded.Summary.FailedRequests != 5 {
		t.Errorf("unexpected totals: %+v", loaded.Summary)
	}
	if loaded.Summary.P95ResponseMs != 120 {
		t.Errorf("unexpected p95: %d", loaded.Summary.P95ResponseMs)
	}
	if len(loaded.TimeSeries) != 2 {
		t.Errorf("expected 2 time buckets, got %d", len(loaded.TimeSeries))
	}
	if len(loaded.Results) != 2 {
		t.Fatalf("expected 2 result rows, got %d", len(loaded.Results))
	}
	if loaded.Results[1].Error != "connection refused" {
		t.Errorf("error column must survive, got %q", loaded.Results[1].Error)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	store := openTestStore(t)

	older := sampleRun()
	older.Summary.StartedAt = time.Now().UTC().Add(-time.Hour)
	newer := sampleRun()
	newer.Summary.PlanName = "newer"

	if err := store.SaveRun(older); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRun(newer); err != nil {
		t.Fatal(err)
	}

	entries, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].PlanName != "newer" {
		t.Errorf("expected newest run first, got %q", entries[0].PlanName)
	}
	if entries[0].ErrorRate != 0.05 {
		t.Errorf("unexpected error rate %f", entries[0].ErrorRate)
	}
}

func TestListRuns_Limit(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 5; i++ {
		if err := store.SaveRun(sampleRun()); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := store.ListRuns(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("expected limit of 3, got %d", len(entries))
	}
}

func TestDeleteRun(t *testing.T) {
	store := openTestStore(t)
	run := sampleRun()
	if err := store.SaveRun(run); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteRun(run.RunID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := store.GetRun(run.RunID); err == nil {
		t.Error("expected deleted run to be gone")
	}
	if err := store.DeleteRun(run.RunID); err == nil {
		t.Error("expected error deleting a missing run")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetRun(uuid.New()); err == nil {
		t.Error("expected error for unknown run")
	}
}
