package probe

import (
	"context"
	"encoding/json"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

const defaultFunctionPrompt = "What's the weather like in San Francisco?"

func weatherTool() openai.Tool {
	return openai.Tool{
		Type: "function",
		Function: openai.FunctionDefinition{
			Name:        "get_weather",
			Description: "Get the current weather information for a location",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{
						"type":        "string",
						"description": "The city or location to get weather for",
					},
					"unit": map[string]any{
						"type":        "string",
						"enum":        []string{"celsius", "fahrenheit"},
						"description": "Temperature unit",
					},
				},
				"required": []string{"location"},
			},
		},
	}
}

// mockWeatherResult is the fixed local execution outcome; the probe
// never calls a real weather service.
func mockWeatherResult() map[string]any {
	return map[string]any{
		"temperature": 20,
		"conditions":  "sunny",
		"humidity":    "65%",
		"wind":        "10 km/h",
	}
}

// FunctionProbe exercises the three-phase tool-calling protocol: offer a
// tool, execute any emitted call against a deterministic local mock, and
// thread the result back as a tool_call_id-addressed tool message for
// the final natural-language answer.
type FunctionProbe struct{}

func (p FunctionProbe) Name() TestType {
	return TypeFunction
}

func (p FunctionProbe) Run(ctx context.Context, client *openai.Client, cfg RunConfig) (Result, error) {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultFunctionPrompt
	}

	// Phase 1: offer the tool.
	request := openai.ChatRequest{
		Model: cfg.Model,
		Messages: []openai.Message{
			{Role: "user", Content: prompt},
		},
		Tools:       []openai.Tool{weatherTool()},
		ToolChoice:  "auto",
		Temperature: ptrFloat64(0),
	}
	first, _, err := client.CreateChatCompletion(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, context.Cause(ctx)
		}
		return failResult(TypeFunction, summarizeError(err)), nil
	}

	toolCall, ok := first.FirstToolCall()
	if !ok {
		content, _ := first.FirstContent()
		if looksLikeRefusal(content) {
			result := failResult(TypeFunction, "Function calling is not supported by the current API or model")
			result.Response = newResponse(cfg, TypeFunction, content, map[string]any{
				"function_call": first,
			})
			return result, nil
		}
		// The model declining to call a tool this turn is not a
		// provider capability failure.
		response := newResponse(cfg, TypeFunction, content, map[string]any{
			"function_call": first,
			"note":          "Model chose not to use function calling",
		})
		return Result{
			Type:     TypeFunction,
			Success:  true,
			Status:   StatusSuccess,
			Response: response,
		}, nil
	}

	// Phase 2: local mock execution.
	var args map[string]any
	if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
		result := failResult(TypeFunction, "tool call arguments are not valid JSON: "+err.Error())
		result.Response = newResponse(cfg, TypeFunction, "", map[string]any{
			"function_call": first,
		})
		return result, nil
	}
	execResult := mockWeatherResult()
	resultPayload, _ := json.Marshal(execResult)

	// Phase 3: thread the tool result back and collect the final
	// answer.
	followUp := openai.ChatRequest{
		Model: cfg.Model,
		Messages: []openai.Message{
			{Role: "user", Content: prompt},
			{Role: "assistant", ToolCalls: []openai.ToolCall{toolCall}},
			{Role: "tool", ToolCallID: toolCall.ID, Content: string(resultPayload)},
		},
		Temperature: ptrFloat64(0),
	}
	final, _, err := client.CreateChatCompletion(ctx, followUp)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, context.Cause(ctx)
		}
		result := failResult(TypeFunction, summarizeError(err))
		result.Response = newResponse(cfg, TypeFunction, "", map[string]any{
			"function_call": first,
			"phases": map[string]any{
				"function_call": map[string]any{
					"name":      toolCall.Function.Name,
					"arguments": args,
					"result":    execResult,
				},
			},
		})
		return result, nil
	}

	finalContent, _ := final.FirstContent()
	response := newResponse(cfg, TypeFunction, finalContent, map[string]any{
		"function_call":    first,
		"context_response": final,
		"phases": map[string]any{
			"function_call": map[string]any{
				"name":      toolCall.Function.Name,
				"arguments": args,
				"result":    execResult,
			},
			"local_execution": map[string]any{
				"result":    execResult,
				"timestamp": nowRFC3339(),
			},
			"final_response": map[string]any{
				"content":   finalContent,
				"timestamp": nowRFC3339(),
			},
		},
	})
	return Result{
		Type:     TypeFunction,
		Success:  true,
		Status:   StatusSuccess,
		Response: response,
	}, nil
}
