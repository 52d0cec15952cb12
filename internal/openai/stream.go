package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	ssePrefix = "data: "
	sseDone   = "[DONE]"
)

// StreamHandler receives one SSE data line at a time, in network-arrival
// order. raw is the payload after the "data: " prefix; chunk is nil when
// the payload did not parse as JSON, which is tolerated protocol noise
// rather than a fatal condition. Returning a non-nil error stops the
// stream and is passed back to the caller.
type StreamHandler func(raw string, chunk *ChatResponse) error

// StreamChatCompletion issues a streaming chat completion and feeds each
// data line to handler until the terminating [DONE] line, end of body,
// or a handler/read error. The returned RawResponse carries status,
// headers and timing; its Body is empty because the payload was consumed
// line by line.
func (c *Client) StreamChatCompletion(ctx context.Context, req ChatRequest, handler StreamHandler) (*RawResponse, error) {
	req.Stream = true
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	response, start, err := c.do(ctx, http.MethodPost, "/chat/completions", payload, RequestOptions{
		ExtraHeaders: map[string]string{
			"Accept": "text/event-stream",
		},
	})
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	raw := &RawResponse{
		StatusCode: response.StatusCode,
		Headers:    response.Header.Clone(),
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, readErr := io.ReadAll(response.Body)
		raw.Body = body
		raw.Duration = time.Since(start)
		if readErr != nil {
			return raw, fmt.Errorf("read error body: %w", readErr)
		}
		return raw, errorFromBody(response.StatusCode, body)
	}

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		data := strings.TrimSpace(line[len(ssePrefix):])
		if data == sseDone {
			break
		}
		var chunk ChatResponse
		parsed := &chunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			parsed = nil
		}
		if err := handler(data, parsed); err != nil {
			raw.Duration = time.Since(start)
			return raw, err
		}
	}
	raw.Duration = time.Since(start)
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return raw, context.Cause(ctx)
		}
		return raw, fmt.Errorf("read stream: %w", err)
	}
	return raw, nil
}
