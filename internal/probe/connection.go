package probe

import (
	"context"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

// ConnectionProbe answers "is the endpoint reachable and authorized" and
// nothing more: a minimal request, success iff HTTP 2xx, no content
// validation.
type ConnectionProbe struct{}

func (p ConnectionProbe) Name() TestType {
	return TypeConnection
}

func (p ConnectionProbe) Run(ctx context.Context, client *openai.Client, cfg RunConfig) (Result, error) {
	request := openai.ChatRequest{
		Model: cfg.Model,
		Messages: []openai.Message{
			{Role: "user", Content: "Hi"},
		},
		MaxTokens: ptrInt(5),
	}

	resp, _, err := client.CreateChatCompletion(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, context.Cause(ctx)
		}
		return failResult(TypeConnection, summarizeError(err)), nil
	}

	return Result{
		Type:    TypeConnection,
		Success: true,
		Status:  StatusSuccess,
		Response: newResponse(cfg, TypeConnection, "Connection successful", map[string]any{
			"response": resp,
		}),
	}, nil
}
