package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

// calculatorHandler answers every problem with a calculate_math call
// whose arguments echo the expression embedded in the prompt.
func calculatorHandler(t *testing.T) http.HandlerFunc {
	argsByKeyword := map[string]mathToolArgs{
		"15 * 27":    {Expression: "15 * 27 + 49 / 7", OperationType: "basic"},
		"3x + 7":     {Expression: "3x + 7 = 22", OperationType: "equation"},
		"derivative": {Expression: "d/dx(x^3 + 2x^2 - 5x + 3)", OperationType: "derivative"},
		"two dice":   {Expression: "probability of rolling a sum of 7 with two dice", OperationType: "probability"},
		"log₁₀(100)": {Expression: "√(169) * log₁₀(100) + π^2", OperationType: "complex"},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "calculate_math" {
			t.Errorf("request must offer calculate_math, got %+v", req.Tools)
		}
		prompt, _ := req.Messages[0].Content.(string)
		for keyword, args := range argsByKeyword {
			if strings.Contains(prompt, keyword) {
				payload, _ := json.Marshal(args)
				writeChatToolCall(w, "calculate_math", string(payload))
				return
			}
		}
		t.Errorf("no canned answer for prompt %q", prompt)
	}
}

func TestMathProbeToolUsage(t *testing.T) {
	client := mockClient(t, calculatorHandler(t))

	result, err := MathProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success || result.Status != StatusSuccess {
		t.Fatalf("expected full tool usage success, got %+v", result)
	}
	if got := result.Response.Metrics["tool_usage_rate"]; got != 100.0 {
		t.Fatalf("tool_usage_rate=%v want 100", got)
	}
}

func TestMathProbeGraded(t *testing.T) {
	client := mockClient(t, calculatorHandler(t))

	result, err := MathProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test", GradeMath: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success || result.Status != StatusSuccess {
		t.Fatalf("expected all checks to pass, got %+v", result)
	}
	if got := result.Response.Metrics["accuracy_rate"]; got != 100.0 {
		t.Fatalf("accuracy_rate=%v want 100", got)
	}
	if !strings.Contains(result.Response.Content, "5/5 calculation checks passed") {
		t.Fatalf("content=%q", result.Response.Content)
	}
}

func TestMathProbeNoToolCalls(t *testing.T) {
	client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeChatContent(w, "The answer is 412.")
	})

	result, err := MathProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatalf("no tool calls at all should fail the probe, got %+v", result)
	}
	if result.Status != StatusError {
		t.Fatalf("status=%s want error for 0%% usage", result.Status)
	}
}

func TestGradeMathSamplesPartial(t *testing.T) {
	wrongArgs, _ := json.Marshal(mathToolArgs{Expression: "1 + 1", OperationType: "basic"})
	samples := []Sample{
		{Index: 0, Success: true, Value: `{"expression":"15 * 27 + 49 / 7","operation_type":"basic"}`},
		{Index: 1, Success: true, Value: string(wrongArgs)},
		{Index: 2, Success: false, Error: "no tool call"},
	}
	grades := gradeMathSamples(samples)
	if len(grades) != 3 {
		t.Fatalf("len(grades)=%d", len(grades))
	}
	if grades[0]["pass"] != true {
		t.Fatalf("correct calculation should pass: %+v", grades[0])
	}
	if grades[1]["pass"] != false {
		t.Fatalf("wrong expression should fail the check: %+v", grades[1])
	}
	if grades[2]["pass"] != false || grades[2]["error"] != "no tool call" {
		t.Fatalf("failed sample should carry its error: %+v", grades[2])
	}
}
