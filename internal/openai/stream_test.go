package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestStreamChatCompletion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept=%q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(strings.Join([]string{
			`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			``,
			`: comment line`,
			`data: not json at all`,
			`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			``,
			`data: [DONE]`,
			`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"IGNORED"}}]}`,
			``,
		}, "\n")))
	})

	var deltas []string
	var noise []string
	raw, err := client.StreamChatCompletion(context.Background(), ChatRequest{Model: "gpt-test"}, func(data string, chunk *ChatResponse) error {
		if chunk == nil {
			noise = append(noise, data)
			return nil
		}
		deltas = append(deltas, chunk.DeltaContent())
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}
	if raw.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", raw.StatusCode)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Fatalf("deltas=%v; order must follow the wire", deltas)
	}
	if len(noise) != 1 || noise[0] != "not json at all" {
		t.Fatalf("noise=%v; unparseable data lines must reach the handler with a nil chunk", noise)
	}
}

func TestStreamChatCompletionForcesStreamFlag(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(readBody(t, r), `"stream":true`) {
			t.Error("request body must set stream:true")
		}
		_, _ = w.Write([]byte("data: [DONE]\n"))
	})
	if _, err := client.StreamChatCompletion(context.Background(), ChatRequest{Model: "gpt-test"}, func(string, *ChatResponse) error {
		return nil
	}); err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}
}

func TestStreamChatCompletionHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"key disabled"}}`))
	})
	_, err := client.StreamChatCompletion(context.Background(), ChatRequest{Model: "gpt-test"}, func(string, *ChatResponse) error {
		t.Error("handler must not run on HTTP error")
		return nil
	})
	apiErr, ok := IsAPIError(err)
	if !ok || apiErr.Error() != "key disabled" {
		t.Fatalf("err=%v", err)
	}
}

func TestStreamChatCompletionHandlerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"x"}}]}` + "\n"))
	})
	sentinel := errors.New("stop here")
	_, err := client.StreamChatCompletion(context.Background(), ChatRequest{Model: "gpt-test"}, func(string, *ChatResponse) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err=%v want handler sentinel", err)
	}
}
