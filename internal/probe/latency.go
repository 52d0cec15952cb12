package probe

import (
	"context"
	"fmt"
	"sort"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

// LatencyProbe fires a batch of concurrent single-shot completions and
// reports the latency distribution of the successes. Each sample carries
// its own 30s timeout beneath the external signal, so one slow or dead
// sample degrades the statistics instead of aborting the batch.
type LatencyProbe struct{}

func (p LatencyProbe) Name() TestType {
	return TypeLatency
}

func (p LatencyProbe) Run(ctx context.Context, client *openai.Client, cfg RunConfig) (Result, error) {
	iterations := cfg.latencyIterations()

	samples, err := fanOut(ctx, iterations, cfg.sampleTimeout(), func(sampleCtx context.Context, index int) (string, error) {
		request := openai.ChatRequest{
			Model: cfg.Model,
			Messages: []openai.Message{
				{Role: "user", Content: "Only say hi"},
			},
			MaxTokens: ptrInt(10),
		}
		_, _, reqErr := client.CreateChatCompletion(sampleCtx, request)
		if reqErr != nil {
			return "", reqErr
		}
		return "", nil
	})
	if err != nil {
		return Result{}, err
	}

	succeeded, failed := splitSamples(samples)
	successRate := float64(len(succeeded)) / float64(iterations) * 100

	latencies := make([]float64, 0, len(succeeded))
	for _, sample := range succeeded {
		latencies = append(latencies, float64(sample.DurationMS))
	}
	avg, median, min, max := latencyStats(latencies)

	content := fmt.Sprintf("Test Results:\nSuccessful Requests: %d/%d\nFailed Requests: %d/%d",
		len(succeeded), iterations, len(failed), iterations)
	if len(succeeded) > 0 {
		content += fmt.Sprintf("\n\nAverage Latency: %s\nMedian Latency: %s\nMin Latency: %s\nMax Latency: %s",
			millis(avg), millis(median), millis(min), millis(max))
	}
	for _, failure := range failed {
		content += fmt.Sprintf("\nRequest %d: %s", failure.Index+1, failure.Error)
	}

	response := newResponse(cfg, TypeLatency, content, map[string]any{
		"latency_details": map[string]any{
			"total_tests":      iterations,
			"successful_tests": len(succeeded),
			"failed_tests":     len(failed),
			"average":          millis(avg),
			"median":           millis(median),
			"min":              millis(min),
			"max":              millis(max),
			"samples":          samplesToRaw(succeeded),
			"failures":         samplesToRaw(failed),
		},
	})
	response.Metrics = map[string]any{
		"success_rate":   percent(successRate),
		"avg_latency":    millis(avg),
		"median_latency": millis(median),
		"min_latency":    millis(min),
		"max_latency":    millis(max),
	}

	return Result{
		Type:     TypeLatency,
		Success:  len(succeeded) > 0,
		Status:   statusForRate(successRate),
		Response: response,
	}, nil
}

func latencyStats(latencies []float64) (avg, median, min, max float64) {
	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)

	total := 0.0
	for _, v := range sorted {
		total += v
	}
	avg = total / float64(len(sorted))
	n := len(sorted)
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		median = sorted[n/2]
	}
	return avg, median, sorted[0], sorted[n-1]
}
