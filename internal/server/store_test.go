package server

import (
	"testing"

	"github.com/Violet-Asuka/openai-api-tester/internal/probe"
)

func TestMemoryStoreRunLifecycle(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := RunMeta{
		RunID:       "run_test_1",
		Status:      "queued",
		Source:      "test",
		CreatorType: "admin",
		CreatedAt:   nowRFC3339(),
	}
	if err := store.CreateRun(meta); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	event, err := store.AppendRunEvent(meta.RunID, "queue", "queued", nil)
	if err != nil {
		t.Fatalf("AppendRunEvent error: %v", err)
	}
	if event.Seq != 1 {
		t.Fatalf("expected first seq=1, got %d", event.Seq)
	}
	updated, err := store.UpdateRun(meta.RunID, func(item *RunMeta) {
		item.Status = "running"
	})
	if err != nil {
		t.Fatalf("UpdateRun error: %v", err)
	}
	if updated.Status != "running" {
		t.Fatalf("expected status running, got %s", updated.Status)
	}
}

func TestMemoryStoreEventCursor(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	if err := store.CreateRun(RunMeta{RunID: "run_cursor", Status: "queued", CreatedAt: nowRFC3339()}); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.AppendRunEvent("run_cursor", "test_result", "done", nil); err != nil {
			t.Fatalf("AppendRunEvent error: %v", err)
		}
	}
	events := store.ListRunEvents("run_cursor", 1)
	if len(events) != 2 {
		t.Fatalf("expected 2 events after seq 1, got %d", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected event seqs: %d, %d", events[0].Seq, events[1].Seq)
	}
}

func TestMemoryStoreMetricsOverview(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	report := probe.Report{
		Results: []probe.Result{
			{Type: probe.TypeConnection, Status: probe.StatusSuccess, DurationMS: 40},
			{Type: probe.TypeChat, Status: probe.StatusError, DurationMS: 60},
		},
		Passed: 1,
		Failed: 1,
	}
	runs := []RunMeta{
		{RunID: "run_a", Status: "pass", CreatedAt: nowRFC3339(), EstimatedCost: 0.5},
		{RunID: "run_b", Status: "fail", CreatedAt: nowRFC3339(), EstimatedCost: 0.25, Report: &report},
		{RunID: "run_c", Status: "running", CreatedAt: nowRFC3339()},
	}
	for _, run := range runs {
		if err := store.CreateRun(run); err != nil {
			t.Fatalf("CreateRun %s error: %v", run.RunID, err)
		}
	}
	overview := store.GetMetricsOverview()
	if overview.TotalRuns != 3 {
		t.Fatalf("TotalRuns=%d want 3", overview.TotalRuns)
	}
	if overview.PassRuns != 1 || overview.FailRuns != 1 || overview.RunningRuns != 1 {
		t.Fatalf("unexpected status counts: %+v", overview)
	}
	if overview.EstimatedCostUSD != 0.75 {
		t.Fatalf("EstimatedCostUSD=%v want 0.75", overview.EstimatedCostUSD)
	}
}
