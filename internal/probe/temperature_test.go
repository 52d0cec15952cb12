package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
)

// sequencedChat serves one canned content per request in arrival order,
// cycling when exhausted.
func sequencedChat(contents []string) http.HandlerFunc {
	var mu sync.Mutex
	next := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		content := contents[next%len(contents)]
		next++
		mu.Unlock()
		writeChatContent(w, content)
	}
}

func TestTemperatureProbeConsistencyFormula(t *testing.T) {
	// 10 samples with 3 distinct answers: ((10-3)+1)/10 = 80%.
	contents := []string{"42", "42", "42", "42", "42", "42", "42", "42", "17", "99"}
	client := mockClient(t, sequencedChat(contents))

	result, err := TemperatureProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Status != StatusInfo {
		t.Fatalf("status=%s want info for 80%%", result.Status)
	}
	if result.Response == nil || !strings.HasPrefix(result.Response.Content, "Consistency Rate: 80.0%") {
		t.Fatalf("unexpected content %q", result.Response.Content)
	}
	if got := result.Response.Metrics["consistency_rate"]; got != "80.0%" {
		t.Fatalf("consistency_rate=%v want 80.0%%", got)
	}
	if got := result.Response.Metrics["unique_responses"]; got != 3 {
		t.Fatalf("unique_responses=%v want 3", got)
	}
}

func TestTemperatureProbePerfectConsistency(t *testing.T) {
	client := mockClient(t, sequencedChat([]string{"54"}))

	result, err := TemperatureProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status=%s want success for 100%%", result.Status)
	}
}

func TestTemperatureProbeSendsFixedLowTemperature(t *testing.T) {
	var mu sync.Mutex
	var temperatures []float64
	client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Temperature *float64 `json:"temperature"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		if req.Temperature != nil {
			temperatures = append(temperatures, *req.Temperature)
		}
		mu.Unlock()
		writeChatContent(w, "7")
	})

	if _, err := (TemperatureProbe{}).Run(context.Background(), client, RunConfig{Model: "gpt-test"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(temperatures) != defaultTemperatureIterations {
		t.Fatalf("got %d temperature values, want %d", len(temperatures), defaultTemperatureIterations)
	}
	for _, temp := range temperatures {
		if temp != defaultFixedTemperature {
			t.Fatalf("temperature=%v want %v", temp, defaultFixedTemperature)
		}
	}
}

func TestTemperatureProbeExcessiveFailures(t *testing.T) {
	// 3 of 10 replies are not bare numbers; the 20% cutoff trips.
	contents := []string{"42", "42", "42", "42", "42", "42", "42", "the answer is 42", "I think 42", "forty-two"}
	client := mockClient(t, sequencedChat(contents))

	result, err := TemperatureProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success || result.Status != StatusError {
		t.Fatalf("expected error result, got %+v", result)
	}
	if !strings.Contains(result.Error, "too many failed requests: 3/10") {
		t.Fatalf("error=%q", result.Error)
	}
	if result.Response == nil {
		t.Fatal("failure details should still carry a response")
	}
}

func TestBareNumberRe(t *testing.T) {
	valid := []string{"42", "-7", "3.14", "-0.5", "0"}
	invalid := []string{"", "42.", "4 2", "answer: 42", "42%", "1e5"}
	for _, s := range valid {
		if !bareNumberRe.MatchString(s) {
			t.Errorf("%q should match", s)
		}
	}
	for _, s := range invalid {
		if bareNumberRe.MatchString(s) {
			t.Errorf("%q should not match", s)
		}
	}
}
