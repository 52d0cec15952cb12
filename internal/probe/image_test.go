package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestImageProbeRequestCarriesDataURL(t *testing.T) {
	var body map[string]any
	client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeChatContent(w, "A single dark pixel on a transparent background.")
	})

	result, err := ImageProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	messages := body["messages"].([]any)
	parts := messages[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("want text+image_url parts, got %d", len(parts))
	}
	imagePart := parts[1].(map[string]any)
	if imagePart["type"] != "image_url" {
		t.Fatalf("second part type=%v", imagePart["type"])
	}
	url := imagePart["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(url, "data:image/gif;base64,") {
		t.Fatalf("image url %q should be a data URL with the default GIF", url)
	}
}

func TestImageProbeDetectsCannotSeeAnswers(t *testing.T) {
	answers := []string{
		"I'm sorry, but I cannot see any image in this conversation.",
		"It looks like no image was provided with your message.",
		"抱歉，我没有看到任何图片。",
		"对不起，图片未提供，请重新上传。",
	}
	for _, answer := range answers {
		t.Run(firstN(answer, 20), func(t *testing.T) {
			client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeChatContent(w, answer)
			})
			result, err := ImageProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test"})
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if result.Success {
				t.Fatalf("a fluent cannot-see answer must not count as vision support: %+v", result)
			}
			if result.Error != "API cannot process images or the current model does not support vision" {
				t.Fatalf("error=%q", result.Error)
			}
			if result.Response == nil || result.Response.Content != answer {
				t.Fatal("the answer text should be preserved in the response")
			}
		})
	}
}

func TestImageProbeRejectsUnsupportedMIME(t *testing.T) {
	client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be sent for an unsupported image type")
	})
	cfg := RunConfig{
		Model: "gpt-test",
		Image: ImageInput{Data: []byte("BM000000"), MIME: "image/bmp"},
	}
	result, err := ImageProbe{}.Run(context.Background(), client, cfg)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "Invalid image format") {
		t.Fatalf("expected invalid-format failure, got %+v", result)
	}
}
