package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

// ReasoningProbe sends one question from the question bank and records
// the model's answer next to the reference answer. No grading happens
// here; comparing the two is a job for whoever reads the report.
type ReasoningProbe struct{}

func (ReasoningProbe) Name() TestType { return TypeReasoning }

func (ReasoningProbe) Run(ctx context.Context, client *openai.Client, cfg RunConfig) (Result, error) {
	if strings.TrimSpace(cfg.ReasoningQuestionID) == "" {
		return failResult(TypeReasoning, "Please select a question to test"), nil
	}
	questions, err := questionsForRun(cfg)
	if err != nil {
		return failResult(TypeReasoning, err.Error()), nil
	}
	question, ok := findQuestion(questions, cfg.ReasoningQuestionID)
	if !ok {
		return failResult(TypeReasoning, "Question not found"), nil
	}

	system := fmt.Sprintf(
		"You are a knowledgeable AI assistant. Please provide a clear, accurate, and concise answer to the following %s question. Focus on the key concepts: %s.",
		question.Category, strings.Join(question.ExpectedConcepts, ", "))
	req := openai.ChatRequest{
		Model: cfg.Model,
		Messages: []openai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: question.Question},
		},
		Temperature: ptrFloat64(1),
	}

	resp, rawResp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, context.Cause(ctx)
		}
		return failResult(TypeReasoning, summarizeError(err)), nil
	}
	answer, ok := resp.FirstContent()
	if !ok || answer == "" {
		return failResult(TypeReasoning, malformedResponseMessage), nil
	}

	raw := map[string]any{
		"model_answer":     answer,
		"reference_answer": question.ReferenceAnswer,
		"metadata": map[string]any{
			"question_id":       question.ID,
			"title":             question.Title,
			"category":          question.Category,
			"difficulty":        question.Difficulty,
			"expected_concepts": question.ExpectedConcepts,
			"timestamp":         nowRFC3339(),
			"model":             cfg.Model,
		},
		"api_response": json.RawMessage(rawResp.Body),
	}
	return Result{
		Type:     TypeReasoning,
		Success:  true,
		Status:   StatusSuccess,
		Response: newResponse(cfg, TypeReasoning, answer, raw),
	}, nil
}
