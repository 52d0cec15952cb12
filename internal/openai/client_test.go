package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func readBody(t *testing.T, r *http.Request) string {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read request body: %v", err)
	}
	return string(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL, APIKey: "sk-test"})
}

func TestCreateChatCompletion(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotBody ChatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"hey"}}]}`))
	})

	resp, raw, err := client.CreateChatCompletion(context.Background(), ChatRequest{
		Model:    "gpt-test",
		Messages: []Message{{Role: "user", Content: "hello"}},
		Stream:   true, // must be forced off for the non-streaming call
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization=%q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("Content-Type=%q", gotContentType)
	}
	if gotBody.Stream {
		t.Fatal("stream flag must be forced to false")
	}
	content, ok := resp.FirstContent()
	if !ok || content != "hey" {
		t.Fatalf("FirstContent=%q/%v", content, ok)
	}
	if raw.StatusCode != http.StatusOK || len(raw.Body) == 0 {
		t.Fatalf("raw=%+v", raw)
	}
}

func TestErrorMessagePreference(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{
			name:   "structured envelope",
			status: http.StatusUnauthorized,
			body:   `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`,
			want:   "Incorrect API key provided",
		},
		{
			name:   "plain text body",
			status: http.StatusBadGateway,
			body:   "upstream timeout",
			want:   "HTTP error! status: 502",
		},
		{
			name:   "empty envelope",
			status: http.StatusNotFound,
			body:   `{"detail":"not found"}`,
			want:   "HTTP error! status: 404",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, _, err := client.CreateChatCompletion(context.Background(), ChatRequest{Model: "gpt-test"})
			if err == nil {
				t.Fatal("expected error")
			}
			apiErr, ok := IsAPIError(err)
			if !ok {
				t.Fatalf("want APIError, got %T %v", err, err)
			}
			if apiErr.Error() != tc.want {
				t.Fatalf("Error()=%q want %q", apiErr.Error(), tc.want)
			}
			if apiErr.StatusCode != tc.status {
				t.Fatalf("StatusCode=%d want %d", apiErr.StatusCode, tc.status)
			}
		})
	}
}

func TestOmitAPIKey(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	})
	if _, err := client.RawRequest(context.Background(), http.MethodGet, "/models", nil, RequestOptions{OmitAPIKey: true}); err != nil {
		t.Fatalf("RawRequest: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("Authorization=%q want empty", gotAuth)
	}
}

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path=%q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-a"},{"id":"gpt-b"}]}`))
	})
	resp, _, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(resp.Data) != 2 || resp.Data[0].ID != "gpt-a" {
		t.Fatalf("models=%+v", resp.Data)
	}
}

func TestBaseURLNormalization(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://example.test/v1/"})
	if client.BaseURL() != "https://example.test/v1" {
		t.Fatalf("BaseURL=%q", client.BaseURL())
	}
	if NewClient(Config{}).BaseURL() != "https://api.openai.com/v1" {
		t.Fatalf("default base URL wrong: %q", NewClient(Config{}).BaseURL())
	}
}
