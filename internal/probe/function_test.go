package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

func TestFunctionProbeThreePhases(t *testing.T) {
	var mu sync.Mutex
	var requests []openai.ChatRequest
	client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		requests = append(requests, req)
		callNumber := len(requests)
		mu.Unlock()
		if callNumber == 1 {
			writeChatToolCall(w, "get_weather", `{"location":"San Francisco","unit":"celsius"}`)
			return
		}
		writeChatContent(w, "It is 20 degrees and sunny in San Francisco.")
	})

	result, err := FunctionProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success || result.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Response.Content != "It is 20 degrees and sunny in San Francisco." {
		t.Fatalf("content=%q", result.Response.Content)
	}

	if len(requests) != 2 {
		t.Fatalf("want 2 requests, got %d", len(requests))
	}
	first := requests[0]
	if len(first.Tools) != 1 || first.Tools[0].Function.Name != "get_weather" {
		t.Fatalf("first request should offer get_weather, got %+v", first.Tools)
	}
	if first.ToolChoice != "auto" {
		t.Fatalf("tool_choice=%v want auto", first.ToolChoice)
	}

	followUp := requests[1]
	if len(followUp.Messages) != 3 {
		t.Fatalf("follow-up should carry user+assistant+tool messages, got %d", len(followUp.Messages))
	}
	assistant := followUp.Messages[1]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
		t.Fatalf("assistant message must echo the tool call: %+v", assistant)
	}
	toolMsg := followUp.Messages[2]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("tool result must be addressed by tool_call_id: %+v", toolMsg)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(toolMsg.Content.(string)), &payload); err != nil {
		t.Fatalf("tool message content is not JSON: %v", err)
	}
	if payload["conditions"] != "sunny" {
		t.Fatalf("tool message should carry the mock weather result, got %v", payload)
	}
}

func TestFunctionProbeRefusalVsDecline(t *testing.T) {
	cases := []struct {
		name        string
		answer      string
		wantSuccess bool
	}{
		{name: "explicit refusal", answer: "I cannot use tools; function calling is not supported here.", wantSuccess: false},
		{name: "plain answer", answer: "The weather in San Francisco is usually mild.", wantSuccess: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeChatContent(w, tc.answer)
			})
			result, err := FunctionProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test"})
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if result.Success != tc.wantSuccess {
				t.Fatalf("success=%v want %v for %q", result.Success, tc.wantSuccess, tc.answer)
			}
			if !tc.wantSuccess && result.Error != "Function calling is not supported by the current API or model" {
				t.Fatalf("error=%q", result.Error)
			}
		})
	}
}

func TestFunctionProbeInvalidArguments(t *testing.T) {
	client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeChatToolCall(w, "get_weather", "{broken")
	})
	result, err := FunctionProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success || result.Status != StatusError {
		t.Fatalf("unparseable arguments must fail, got %+v", result)
	}
}
