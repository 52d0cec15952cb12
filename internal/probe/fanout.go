package probe

import (
	"context"
	"sync"
	"time"
)

// fanOut fires n samples concurrently and joins all outcomes; a single
// sample failure never short-circuits the batch. Each sample runs under
// its own timeout layered beneath ctx, so an expired sample timeout is
// recorded as that sample's failure while cancellation of ctx itself
// aborts every in-flight sample at once and surfaces as the returned
// error. The returned slice is ordered by sample index, not by
// completion.
func fanOut(ctx context.Context, n int, sampleTimeout time.Duration, fn func(ctx context.Context, index int) (string, error)) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}

	samples := make([]Sample, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			sampleCtx, cancel := context.WithTimeout(ctx, sampleTimeout)
			defer cancel()

			start := time.Now()
			value, err := fn(sampleCtx, index)
			elapsed := time.Since(start).Milliseconds()
			if err != nil {
				samples[index] = Sample{
					Index:      index,
					Error:      err.Error(),
					DurationMS: elapsed,
				}
				return
			}
			samples[index] = Sample{
				Index:      index,
				Success:    true,
				Value:      value,
				DurationMS: elapsed,
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	return samples, nil
}

func splitSamples(samples []Sample) (succeeded, failed []Sample) {
	for _, sample := range samples {
		if sample.Success {
			succeeded = append(succeeded, sample)
		} else {
			failed = append(failed, sample)
		}
	}
	return succeeded, failed
}

func samplesToRaw(samples []Sample) []map[string]any {
	out := make([]map[string]any, 0, len(samples))
	for _, sample := range samples {
		entry := map[string]any{
			"index":       sample.Index,
			"duration_ms": sample.DurationMS,
		}
		if sample.Success {
			entry["value"] = sample.Value
		} else {
			entry["error"] = sample.Error
		}
		out = append(out, entry)
	}
	return out
}
