package probe

import (
	"context"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

const defaultChatPrompt = "Say hello!"

// ChatProbe sends one single-turn, non-streaming completion. Success
// requires a non-empty message content, not just a 2xx status.
type ChatProbe struct{}

func (p ChatProbe) Name() TestType {
	return TypeChat
}

func (p ChatProbe) Run(ctx context.Context, client *openai.Client, cfg RunConfig) (Result, error) {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultChatPrompt
	}
	request := openai.ChatRequest{
		Model: cfg.Model,
		Messages: []openai.Message{
			{Role: "user", Content: prompt},
		},
	}

	resp, _, err := client.CreateChatCompletion(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, context.Cause(ctx)
		}
		return failResult(TypeChat, summarizeError(err)), nil
	}

	content, ok := resp.FirstContent()
	if !ok || content == "" {
		result := failResult(TypeChat, malformedResponseMessage)
		result.Response = newResponse(cfg, TypeChat, "", map[string]any{
			"response": resp,
		})
		return result, nil
	}

	return Result{
		Type:    TypeChat,
		Success: true,
		Status:  StatusSuccess,
		Response: newResponse(cfg, TypeChat, content, map[string]any{
			"response": resp,
		}),
	}, nil
}
