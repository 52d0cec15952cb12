package probe

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
)

func TestLatencyProbeAllSuccess(t *testing.T) {
	client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeChatContent(w, "hi")
	})

	result, err := LatencyProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test", LatencyIterations: 6})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success || result.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if !strings.Contains(result.Response.Content, "Successful Requests: 6/6") {
		t.Fatalf("content=%q", result.Response.Content)
	}
	if result.Response.Metrics["success_rate"] != "100.0%" {
		t.Fatalf("metrics=%+v", result.Response.Metrics)
	}
}

func TestLatencyProbePartialFailure(t *testing.T) {
	var calls atomic.Int64
	client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"bad gateway"}}`))
			return
		}
		writeChatContent(w, "hi")
	})

	result, err := LatencyProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test", LatencyIterations: 10})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	// 9/10 succeeded: still usable, status degrades to info.
	if !result.Success {
		t.Fatalf("partial failure should keep success=true, got %+v", result)
	}
	if result.Status != StatusInfo {
		t.Fatalf("status=%s want info for 90%%", result.Status)
	}
	if !strings.Contains(result.Response.Content, "Failed Requests: 1/10") {
		t.Fatalf("content=%q", result.Response.Content)
	}
	if !strings.Contains(result.Response.Content, "bad gateway") {
		t.Fatalf("failure reason should be listed, content=%q", result.Response.Content)
	}
}

func TestLatencyProbeAllFailed(t *testing.T) {
	client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	result, err := LatencyProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test", LatencyIterations: 4})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success || result.Status != StatusError {
		t.Fatalf("expected error result, got %+v", result)
	}
}
