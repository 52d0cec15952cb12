package probe

import (
	"context"
	"net/http"
	"testing"
)

func TestDefaultReasoningQuestions(t *testing.T) {
	questions, err := DefaultReasoningQuestions()
	if err != nil {
		t.Fatalf("DefaultReasoningQuestions: %v", err)
	}
	if len(questions) != 5 {
		t.Fatalf("embedded bank has %d questions, want 5", len(questions))
	}
	for _, q := range questions {
		if q.ID == "" || q.Question == "" || q.Category == "" {
			t.Fatalf("incomplete question %+v", q)
		}
	}
	if _, ok := findQuestion(questions, "3"); !ok {
		t.Fatal("question 3 missing from embedded bank")
	}
}

func TestParseQuestionBankForms(t *testing.T) {
	envelope := []byte(`{"version":"1.0","questions":[{"id":"a","question":"Q?","category":"logic"}]}`)
	bare := []byte(`[{"id":"a","question":"Q?","category":"logic"}]`)
	for _, data := range [][]byte{envelope, bare} {
		questions, err := parseQuestionBank(data, "test")
		if err != nil {
			t.Fatalf("parseQuestionBank(%s): %v", data, err)
		}
		if len(questions) != 1 || questions[0].ID != "a" {
			t.Fatalf("unexpected questions %+v", questions)
		}
	}

	if _, err := parseQuestionBank([]byte(`{"questions":[{"id":"","question":""}]}`), "test"); err == nil {
		t.Fatal("bank with only invalid questions must error")
	}
	if _, err := parseQuestionBank([]byte("  "), "test"); err == nil {
		t.Fatal("empty bank must error")
	}
}

func TestReasoningProbeValidation(t *testing.T) {
	client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected during validation failures")
	})

	result, err := ReasoningProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success || result.Error != "Please select a question to test" {
		t.Fatalf("missing question id should fail, got %+v", result)
	}

	result, err = ReasoningProbe{}.Run(context.Background(), client, RunConfig{Model: "gpt-test", ReasoningQuestionID: "999"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success || result.Error != "Question not found" {
		t.Fatalf("unknown question id should fail, got %+v", result)
	}
}

func TestReasoningProbeUsesInjectedBank(t *testing.T) {
	client := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeChatContent(w, "There are 3 r letters.")
	})

	cfg := RunConfig{
		Model:               "gpt-test",
		ReasoningQuestionID: "custom-1",
		Questions: []ReasoningQuestion{
			{
				ID:               "custom-1",
				Title:            "Letter counting",
				Question:         "How many 'r' in \"Strawberry\"?",
				ReferenceAnswer:  "3",
				Category:         "language",
				ExpectedConcepts: []string{"letter counting"},
			},
		},
	}
	result, err := ReasoningProbe{}.Run(context.Background(), client, cfg)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Response.Content != "There are 3 r letters." {
		t.Fatalf("content=%q", result.Response.Content)
	}
	if result.Response.Raw["reference_answer"] != "3" {
		t.Fatalf("reference answer missing from raw payload: %+v", result.Response.Raw)
	}
}
