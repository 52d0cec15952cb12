package probe

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

const defaultImagePrompt = "What is in this image? Describe it in detail."

// defaultImageBase64 is the bundled fallback image (a single-pixel GIF),
// used when the caller supplies none.
const defaultImageBase64 = "R0lGODlhAQABAIAAAAUEBAAAACwAAAAAAQABAAACAkQBADs="

var validImageMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// ImageProbe sends a multi-part text+image_url request and checks the
// answer actually describes an image. Many providers answer fluently
// about not seeing any image with HTTP 200; that case is converted into
// an explicit failure.
type ImageProbe struct{}

func (p ImageProbe) Name() TestType {
	return TypeImage
}

func (p ImageProbe) Run(ctx context.Context, client *openai.Client, cfg RunConfig) (Result, error) {
	data := cfg.Image.Data
	mime := cfg.Image.MIME
	if len(data) == 0 {
		decoded, err := base64.StdEncoding.DecodeString(defaultImageBase64)
		if err != nil {
			return failResult(TypeImage, "failed to load default image: "+err.Error()), nil
		}
		data = decoded
		mime = "image/gif"
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if !validImageMIMEs[mime] {
		return failResult(TypeImage, "Invalid image format. Please use JPEG, PNG, or GIF files."), nil
	}

	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultImagePrompt
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	request := openai.ChatRequest{
		Model: cfg.Model,
		Messages: []openai.Message{
			{
				Role: "user",
				Content: []openai.ContentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &openai.ImageURL{URL: dataURL}},
				},
			},
		},
	}

	resp, _, err := client.CreateChatCompletion(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, context.Cause(ctx)
		}
		return failResult(TypeImage, summarizeError(err)), nil
	}

	content, ok := resp.FirstContent()
	if !ok || content == "" {
		result := failResult(TypeImage, malformedResponseMessage)
		result.Response = newResponse(cfg, TypeImage, "", map[string]any{
			"response": resp,
		})
		return result, nil
	}

	if looksLikeCannotSeeImage(content) {
		result := failResult(TypeImage, "API cannot process images or the current model does not support vision")
		result.Response = newResponse(cfg, TypeImage, content, map[string]any{
			"response": resp,
		})
		return result, nil
	}

	return Result{
		Type:    TypeImage,
		Success: true,
		Status:  StatusSuccess,
		Response: newResponse(cfg, TypeImage, content, map[string]any{
			"response": resp,
		}),
	}, nil
}
