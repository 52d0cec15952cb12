package probe

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

const (
	temperatureSystemPrompt = "You're an associative thinker. The user gives you a sequence of 6 numbers. Your task is to figure out and provide the 7th number directly, without explaining how you got there."
	defaultSequencePrompt   = "5, 15, 77, 19, 53, 54,"

	// More than this share of outright sample failures means the run is
	// reported as an error instead of scoring the survivors.
	temperatureFailureCutoff = 0.2
)

var bareNumberRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// TemperatureProbe repeats one deterministic numeric-continuation prompt
// at a fixed low temperature and measures how often the endpoint gives
// the same answer. A reply that is not a bare number counts as a sample
// failure, not merely an inconsistent answer.
type TemperatureProbe struct{}

func (p TemperatureProbe) Name() TestType {
	return TypeTemperature
}

func (p TemperatureProbe) Run(ctx context.Context, client *openai.Client, cfg RunConfig) (Result, error) {
	iterations := cfg.temperatureIterations()
	temperature := cfg.fixedTemperature()
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultSequencePrompt
	}

	samples, err := fanOut(ctx, iterations, cfg.sampleTimeout(), func(sampleCtx context.Context, index int) (string, error) {
		request := openai.ChatRequest{
			Model: cfg.Model,
			Messages: []openai.Message{
				{Role: "system", Content: temperatureSystemPrompt},
				{Role: "user", Content: prompt},
			},
			Temperature: ptrFloat64(temperature),
		}
		resp, _, reqErr := client.CreateChatCompletion(sampleCtx, request)
		if reqErr != nil {
			return "", reqErr
		}
		content, ok := resp.FirstContent()
		if !ok {
			return "", errors.New(malformedResponseMessage)
		}
		trimmed := strings.TrimSpace(content)
		if !bareNumberRe.MatchString(trimmed) {
			return "", fmt.Errorf("response is not a bare number: %q", firstN(trimmed, 40))
		}
		return trimmed, nil
	})
	if err != nil {
		return Result{}, err
	}

	succeeded, failed := splitSamples(samples)
	details := map[string]any{
		"temperature":      temperature,
		"total_tests":      iterations,
		"successful_tests": len(succeeded),
		"failed_tests":     len(failed),
		"samples":          samplesToRaw(succeeded),
		"failures":         samplesToRaw(failed),
	}

	if float64(len(failed)) > temperatureFailureCutoff*float64(iterations) {
		result := failResult(TypeTemperature, fmt.Sprintf("too many failed requests: %d/%d", len(failed), iterations))
		result.Response = newResponse(cfg, TypeTemperature, "Consistency test failed - excessive request failures", map[string]any{
			"temperature_details": details,
		})
		return result, nil
	}

	unique := map[string]struct{}{}
	var totalTime float64
	for _, sample := range succeeded {
		unique[sample.Value] = struct{}{}
		totalTime += float64(sample.DurationMS)
	}
	consistency := (float64(iterations-len(unique)) + 1) / float64(iterations) * 100
	avgTime := 0.0
	if len(succeeded) > 0 {
		avgTime = totalTime / float64(len(succeeded))
	}

	details["unique_responses"] = len(unique)
	details["consistency_rate"] = percent(consistency)
	details["average_response_time"] = millis(avgTime)

	var content string
	switch {
	case consistency >= 100:
		content = "Fully consistent: output is stable at the low temperature setting."
	case consistency >= 80:
		content = "High consistency: output is mostly stable with minor variation."
	default:
		content = "Low consistency: output is unstable; check the model or the prompt."
	}
	content = fmt.Sprintf("Consistency Rate: %s\n%s", percent(consistency), content)

	response := newResponse(cfg, TypeTemperature, content, map[string]any{
		"temperature_details": details,
	})
	response.Metrics = map[string]any{
		"consistency_rate":      percent(consistency),
		"unique_responses":      len(unique),
		"average_response_time": millis(avgTime),
	}

	return Result{
		Type:     TypeTemperature,
		Success:  len(succeeded) > 0,
		Status:   statusForRate(consistency),
		Response: response,
	}, nil
}
