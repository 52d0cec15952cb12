package probe

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const embeddedQuestionBankRef = "embedded:internal/probe/reasoning_questions.json"

//go:embed reasoning_questions.json
var reasoningQuestionsJSON []byte

// ReasoningQuestion is one entry of the reasoning question bank. The
// reference answer is informational only; the probe never grades
// against it.
type ReasoningQuestion struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Question         string   `json:"question"`
	ReferenceAnswer  string   `json:"reference_answer"`
	Category         string   `json:"category"`
	Difficulty       string   `json:"difficulty,omitempty"`
	ExpectedConcepts []string `json:"expected_concepts,omitempty"`
}

type questionBankEnvelope struct {
	Version   string              `json:"version,omitempty"`
	Name      string              `json:"name,omitempty"`
	Questions []ReasoningQuestion `json:"questions"`
}

// DefaultReasoningQuestions returns the embedded question bank.
func DefaultReasoningQuestions() ([]ReasoningQuestion, error) {
	return parseQuestionBank(reasoningQuestionsJSON, embeddedQuestionBankRef)
}

// LoadReasoningQuestions reads a question bank from disk. Both the
// envelope form and a bare JSON array of questions are accepted.
func LoadReasoningQuestions(path string) ([]ReasoningQuestion, error) {
	cleanPath := filepath.Clean(strings.TrimSpace(path))
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read question bank %q: %w", cleanPath, err)
	}
	return parseQuestionBank(data, cleanPath)
}

func parseQuestionBank(data []byte, ref string) ([]ReasoningQuestion, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("question bank %q is empty", ref)
	}

	var questions []ReasoningQuestion
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &questions); err != nil {
			return nil, fmt.Errorf("parse question bank %q: %w", ref, err)
		}
	} else {
		var envelope questionBankEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("parse question bank envelope %q: %w", ref, err)
		}
		questions = envelope.Questions
	}
	return sanitizeQuestions(questions, ref)
}

func sanitizeQuestions(items []ReasoningQuestion, ref string) ([]ReasoningQuestion, error) {
	clean := make([]ReasoningQuestion, 0, len(items))
	for _, item := range items {
		item.ID = strings.TrimSpace(item.ID)
		item.Question = strings.TrimSpace(item.Question)
		item.Category = strings.TrimSpace(strings.ToLower(item.Category))
		item.Difficulty = strings.TrimSpace(strings.ToLower(item.Difficulty))
		if item.ID == "" || item.Question == "" {
			continue
		}
		clean = append(clean, item)
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("question bank %q has no valid questions", ref)
	}
	sort.SliceStable(clean, func(i, j int) bool {
		return clean[i].ID < clean[j].ID
	})
	return clean, nil
}

// questionsForRun prefers a bank injected through the run config and
// falls back to the embedded one.
func questionsForRun(cfg RunConfig) ([]ReasoningQuestion, error) {
	if len(cfg.Questions) > 0 {
		return cfg.Questions, nil
	}
	return DefaultReasoningQuestions()
}

func findQuestion(questions []ReasoningQuestion, id string) (ReasoningQuestion, bool) {
	for _, q := range questions {
		if q.ID == id {
			return q, true
		}
	}
	return ReasoningQuestion{}, false
}
