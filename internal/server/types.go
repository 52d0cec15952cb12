package server

import (
	"time"

	"github.com/Violet-Asuka/openai-api-tester/internal/probe"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// RunRequest is the admin-facing description of one test run. APIKey is
// optional; without it the run borrows a key from the configured pool.
type RunRequest struct {
	BaseURL             string   `json:"base_url"`
	APIKey              string   `json:"api_key,omitempty"`
	Model               string   `json:"model"`
	Tests               []string `json:"tests"`
	Prompt              string   `json:"prompt,omitempty"`
	ReasoningQuestionID string   `json:"reasoning_question_id,omitempty"`
	GradeMath           bool     `json:"grade_math,omitempty"`
	DryRun              bool     `json:"dry_run,omitempty"`
	BudgetCapUSD        float64  `json:"budget_cap,omitempty"`
	TimeoutSec          int      `json:"timeout_sec,omitempty"`
	LatencyIterations   int      `json:"latency_iterations,omitempty"`
}

type QuickTestRequest struct {
	ScenarioID  string `json:"scenario_id"`
	TargetModel string `json:"target_model"`
	SpeedLevel  string `json:"speed_level,omitempty"`
	BaseURL     string `json:"base_url,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
}

type RunMeta struct {
	RunID         string         `json:"run_id"`
	Status        string         `json:"status"`
	CreatorType   string         `json:"creator_type"`
	CreatorSub    string         `json:"creator_sub,omitempty"`
	Source        string         `json:"source"`
	Request       RunRequest     `json:"request"`
	StartedAt     string         `json:"started_at,omitempty"`
	FinishedAt    string         `json:"finished_at,omitempty"`
	CreatedAt     string         `json:"created_at"`
	Error         string         `json:"error,omitempty"`
	Report        *probe.Report  `json:"report,omitempty"`
	KeyUsage      KeyUsageRecord `json:"key_usage"`
	EstimatedCost float64        `json:"estimated_cost_usd"`
}

type KeyUsageRecord struct {
	RunID            string  `json:"run_id"`
	KeyLabel         string  `json:"key_label"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	BlockedReason    string  `json:"blocked_reason,omitempty"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type RunEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt      string  `json:"generated_at"`
	TotalRuns        int     `json:"total_runs"`
	RunningRuns      int     `json:"running_runs"`
	PassRuns         int     `json:"pass_runs"`
	WarnRuns         int     `json:"warn_runs"`
	FailRuns         int     `json:"fail_runs"`
	AbortedRuns      int     `json:"aborted_runs"`
	AverageDuration  int64   `json:"average_duration_ms"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
