package probe

import (
	"context"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

// StreamProbe opens a streaming completion and relays every
// content-bearing chunk to the caller's callbacks. The callback order is
// a contract: OnChunk with the raw chunk, then OnContent with the full
// accumulated string (not the delta), and OnFirstChunk exactly once on
// the first content chunk. Chunks are delivered strictly in
// network-arrival order.
type StreamProbe struct{}

func (p StreamProbe) Name() TestType {
	return TypeStream
}

func (p StreamProbe) Run(ctx context.Context, client *openai.Client, cfg RunConfig) (Result, error) {
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

	callbacks := cfg.Stream
	var (
		content      string
		chunks       []string
		contentCount int
		sawFirst     bool
	)

	_, err := client.StreamChatCompletion(ctx, request, func(raw string, chunk *openai.ChatResponse) error {
		chunks = append(chunks, raw)
		if chunk == nil {
			return nil
		}
		delta := chunk.DeltaContent()
		if delta == "" {
			return nil
		}
		contentCount++
		if callbacks.OnChunk != nil {
			callbacks.OnChunk(raw)
		}
		content += delta
		if callbacks.OnContent != nil {
			callbacks.OnContent(content)
		}
		if callbacks.OnHasContent != nil {
			callbacks.OnHasContent(true)
		}
		if !sawFirst {
			sawFirst = true
			if callbacks.OnFirstChunk != nil {
				callbacks.OnFirstChunk()
			}
		}
		return nil
	})

	raw := map[string]any{
		"chunks":         chunks,
		"total_chunks":   len(chunks),
		"content_chunks": contentCount,
		"content":        content,
	}

	if err != nil {
		if ctx.Err() != nil {
			return Result{}, context.Cause(ctx)
		}
		// Partial content survives a mid-stream failure.
		result := failResult(TypeStream, summarizeError(err))
		result.Response = newResponse(cfg, TypeStream, content, raw)
		return result, nil
	}

	if contentCount == 0 {
		result := failResult(TypeStream, "no content received from stream")
		result.Response = newResponse(cfg, TypeStream, content, raw)
		return result, nil
	}

	return Result{
		Type:     TypeStream,
		Success:  true,
		Status:   StatusSuccess,
		Response: newResponse(cfg, TypeStream, content, raw),
	}, nil
}
