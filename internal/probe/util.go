package probe

import (
	"fmt"
	"strings"
	"time"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

const malformedResponseMessage = "Invalid response format from API"

// refusalPhrases are fragments that mark an explicit "this API/model
// does not support X" answer, as opposed to the model simply choosing a
// plain-text reply.
var refusalPhrases = []string{
	"cannot",
	"don't support",
	"not supported",
	"unable to",
}

// cannotSeeImagePhrases mark a fluent 200 OK answer that still means the
// provider never received or processed the image. Includes the Chinese
// variants observed from mainland relay providers.
var cannotSeeImagePhrases = []string{
	"no image",
	"cannot see",
	"don't see",
	"not able to see",
	"unable to see",
	"no image provided",
	"没有看到",
	"看不到",
	"无法看到",
	"未能看到",
	"未提供图片",
	"图片未提供",
}

// looksLikeRefusal reports whether text explicitly states tool calling
// is unsupported. Kept behind a named predicate so the string matching
// can be replaced without touching probe control flow.
func looksLikeRefusal(text string) bool {
	return containsAnyFold(text, refusalPhrases)
}

// looksLikeCannotSeeImage reports whether an image-probe answer denies
// perceiving any image.
func looksLikeCannotSeeImage(text string) bool {
	return containsAnyFold(text, cannotSeeImagePhrases)
}

func containsAnyFold(text string, phrases []string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range phrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// statusForRate maps a fan-out success (or consistency) percentage to
// the shared status bands: 100 success, >=80 info, >=60 warning, else
// error.
func statusForRate(rate float64) Status {
	switch {
	case rate >= 100:
		return StatusSuccess
	case rate >= 80:
		return StatusInfo
	case rate >= 60:
		return StatusWarning
	default:
		return StatusError
	}
}

func summarizeError(err error) string {
	if err == nil {
		return ""
	}
	if apiErr, ok := openai.IsAPIError(err); ok {
		return apiErr.Error()
	}
	return err.Error()
}

func firstN(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func newResponse(cfg RunConfig, testType TestType, content string, raw map[string]any) *Response {
	return &Response{
		Content:   content,
		Type:      testType,
		Timestamp: nowRFC3339(),
		Model:     cfg.Model,
		Raw:       raw,
	}
}

func failResult(testType TestType, message string) Result {
	return Result{
		Type:    testType,
		Success: false,
		Status:  StatusError,
		Error:   message,
	}
}

func percent(value float64) string {
	return fmt.Sprintf("%.1f%%", value)
}

func millis(value float64) string {
	return fmt.Sprintf("%.0fms", value)
}

func ptrFloat64(v float64) *float64 {
	return &v
}

func ptrInt(v int) *int {
	return &v
}
