package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type RequestOptions struct {
	OmitAPIKey   bool
	ExtraHeaders map[string]string
}

type RawResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

func (r *RawResponse) Header(name string) string {
	if r == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// Client issues requests against one OpenAI-compatible endpoint. It
// performs no retries; retry policy belongs to the caller.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, *RawResponse, error) {
	req.Stream = false
	raw, err := c.RawRequest(ctx, http.MethodPost, "/chat/completions", req, RequestOptions{})
	if err != nil {
		return nil, raw, err
	}

	var resp ChatResponse
	if err := json.Unmarshal(raw.Body, &resp); err != nil {
		return nil, raw, fmt.Errorf("decode chat completion response: %w", err)
	}
	return &resp, raw, nil
}

func (c *Client) ListModels(ctx context.Context) (*ModelsResponse, *RawResponse, error) {
	raw, err := c.RawRequest(ctx, http.MethodGet, "/models", nil, RequestOptions{})
	if err != nil {
		return nil, raw, err
	}

	var resp ModelsResponse
	if err := json.Unmarshal(raw.Body, &resp); err != nil {
		return nil, raw, fmt.Errorf("decode models response: %w", err)
	}
	return &resp, raw, nil
}

func (c *Client) RawRequest(ctx context.Context, method, path string, body any, opts RequestOptions) (*RawResponse, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = b
	}
	return c.rawRequestWithPayload(ctx, method, path, payload, opts)
}

func (c *Client) RawPayloadRequest(ctx context.Context, method, path string, payload []byte, opts RequestOptions) (*RawResponse, error) {
	return c.rawRequestWithPayload(ctx, method, path, payload, opts)
}

func (c *Client) rawRequestWithPayload(ctx context.Context, method, path string, payload []byte, opts RequestOptions) (*RawResponse, error) {
	response, start, err := c.do(ctx, method, path, payload, opts)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	bodyBytes, readErr := io.ReadAll(response.Body)
	raw := &RawResponse{
		StatusCode: response.StatusCode,
		Headers:    response.Header.Clone(),
		Body:       bodyBytes,
		Duration:   time.Since(start),
	}
	if readErr != nil {
		return raw, fmt.Errorf("read response body: %w", readErr)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return raw, errorFromBody(response.StatusCode, bodyBytes)
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, opts RequestOptions) (*http.Response, time.Time, error) {
	fullURL := c.baseURL + path
	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("build request: %w", err)
	}

	if len(payload) > 0 {
		request.Header.Set("Content-Type", "application/json")
	}
	if !opts.OmitAPIKey && c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range opts.ExtraHeaders {
		if v == "" {
			request.Header.Del(k)
			continue
		}
		request.Header.Set(k, v)
	}

	start := time.Now()
	response, err := c.client.Do(request)
	if err != nil {
		return nil, start, fmt.Errorf("http request failed: %w", err)
	}
	return response, start, nil
}

func errorFromBody(statusCode int, body []byte) error {
	envelope, ok := ParseAPIErrorEnvelope(body)
	if !ok {
		return &APIError{
			StatusCode: statusCode,
			Body:       body,
		}
	}
	return &APIError{
		StatusCode: statusCode,
		Envelope:   envelope,
		Body:       body,
	}
}

func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
