package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
	"github.com/Violet-Asuka/openai-api-tester/internal/probe"
)

// RunManager queues runs and drains them with a fixed pool of workers.
// Each worker leases a key from the budget pool (unless the request
// carries its own), drives the probes, and writes progress back to the
// store as run events.
type RunManager struct {
	cfg        ServerConfig
	store      Store
	budget     *BudgetManager
	obs        *Observability
	queue      chan queuedRun
	wg         sync.WaitGroup
	quickLimit *ipRateLimiter
}

type RunnerService interface {
	CreateAdminRun(request RunRequest, principal Principal, source string) (RunMeta, error)
	CreateQuickTest(request QuickTestRequest, ipHash, uaHash string) (RunMeta, error)
}

type queuedRun struct {
	RunID       string
	Request     RunRequest
	Creator     Principal
	CreatorType string
	Source      string
}

func NewRunManager(cfg ServerConfig, store Store, budget *BudgetManager, obs *Observability) *RunManager {
	maxParallel := cfg.Budget.MaxParallelRuns
	if maxParallel <= 0 {
		maxParallel = 2
	}
	manager := &RunManager{
		cfg:        cfg,
		store:      store,
		budget:     budget,
		obs:        obs,
		queue:      make(chan queuedRun, maxParallel*8),
		quickLimit: newIPRateLimiter(cfg.Limits.QuickTestRPM),
	}
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager
}

func (m *RunManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

func (m *RunManager) CreateAdminRun(request RunRequest, principal Principal, source string) (RunMeta, error) {
	if strings.TrimSpace(request.Model) == "" {
		return RunMeta{}, errors.New("model is required")
	}
	if request.TimeoutSec <= 0 {
		request.TimeoutSec = m.cfg.Budget.DefaultTimeoutSec
	}
	if request.BudgetCapUSD <= 0 {
		request.BudgetCapUSD = m.cfg.Budget.DefaultRunMaxUSD
	}
	if len(request.Tests) == 0 {
		request.Tests = probe.DefaultOrder()
	}
	runID, err := randomID("run")
	if err != nil {
		return RunMeta{}, err
	}
	meta := RunMeta{
		RunID:       runID,
		Status:      "queued",
		Source:      source,
		CreatorType: "admin",
		CreatorSub:  principal.Subject,
		Request:     request,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, err
	}
	_, _ = m.store.AppendRunEvent(runID, "queue", "run queued", map[string]any{
		"source": source,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     runID,
		ActorType: "admin",
		ActorSub:  principal.Subject,
		Action:    "run.create",
		Result:    "queued",
	})
	m.queue <- queuedRun{
		RunID:       runID,
		Request:     request,
		Creator:     principal,
		CreatorType: "admin",
		Source:      source,
	}
	return meta, nil
}

func (m *RunManager) CreateQuickTest(request QuickTestRequest, ipHash, uaHash string) (RunMeta, error) {
	if !m.quickLimit.Allow(ipHash) {
		if m.obs != nil {
			m.obs.MarkBudgetBlocked(context.Background(), "quick_test_rate_limit")
		}
		_ = m.store.AppendAudit(AuditEvent{
			Timestamp: nowRFC3339(),
			ActorType: "user",
			Action:    "quick_test.reject",
			Result:    "rate_limited",
			IPHash:    ipHash,
			UAHash:    uaHash,
		})
		return RunMeta{}, errors.New("quick test rate limit reached")
	}
	runRequest, err := scenarioToRunRequest(request, m.cfg)
	if err != nil {
		return RunMeta{}, err
	}
	runID, err := randomID("run")
	if err != nil {
		return RunMeta{}, err
	}
	meta := RunMeta{
		RunID:       runID,
		Status:      "queued",
		Source:      "user.quick_test",
		CreatorType: "user",
		Request:     runRequest,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, err
	}
	_, _ = m.store.AppendRunEvent(runID, "queue", "quick test queued", map[string]any{
		"scenario_id": request.ScenarioID,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     runID,
		ActorType: "user",
		Action:    "quick_test.create",
		Result:    "queued",
		IPHash:    ipHash,
		UAHash:    uaHash,
		Detail:    request.ScenarioID,
	})
	m.queue <- queuedRun{
		RunID:       runID,
		Request:     runRequest,
		CreatorType: "user",
		Source:      "user.quick_test",
	}
	return meta, nil
}

func (m *RunManager) worker() {
	for queued := range m.queue {
		m.executeRun(queued)
	}
}

func (m *RunManager) executeRun(queued queuedRun) {
	startedAt := nowRFC3339()
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = "running"
		meta.StartedAt = startedAt
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "start", "run started", nil)

	if queued.Request.DryRun {
		report := buildDryRunReport(queued.Request)
		status := reportOverallStatus(report)
		usage := KeyUsageRecord{
			RunID:            queued.RunID,
			KeyLabel:         "dry-run",
			EstimatedCostUSD: 0,
		}
		_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
			meta.Status = status
			meta.FinishedAt = nowRFC3339()
			meta.Report = &report
			meta.EstimatedCost = 0
			meta.KeyUsage = usage
		})
		_, _ = m.store.AppendRunEvent(queued.RunID, "completed", "dry-run completed", map[string]any{
			"status": status,
		})
		if m.obs != nil {
			m.obs.MarkRun(context.Background(), status)
		}
		return
	}

	apiKey := strings.TrimSpace(queued.Request.APIKey)
	keyLabel := "caller"
	var lease KeyLease
	var leased bool
	if apiKey == "" {
		var err error
		lease, err = m.budget.Acquire(queued.Request.BudgetCapUSD)
		if err != nil {
			_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
				meta.Status = "fail"
				meta.Error = "budget key unavailable: " + err.Error()
				meta.FinishedAt = nowRFC3339()
				meta.KeyUsage = KeyUsageRecord{
					RunID:         queued.RunID,
					BlockedReason: "budget_key_unavailable",
				}
			})
			_, _ = m.store.AppendRunEvent(queued.RunID, "error", "budget key unavailable", map[string]any{"error": err.Error()})
			if m.obs != nil {
				m.obs.MarkRun(context.Background(), "fail")
				m.obs.MarkBudgetBlocked(context.Background(), "key_unavailable")
			}
			return
		}
		leased = true
		apiKey = lease.APIKey
		keyLabel = lease.Label
	}
	baseURL := resolveBaseURL(queued.Request.BaseURL, lease.BaseURL)

	timeout := time.Duration(queued.Request.TimeoutSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := openai.NewClient(openai.Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: time.Duration(minInt(queued.Request.TimeoutSec, 120)) * time.Second,
	})
	probeCfg := probe.RunConfig{
		Model:               queued.Request.Model,
		Prompt:              queued.Request.Prompt,
		GradeMath:           queued.Request.GradeMath,
		ReasoningQuestionID: queued.Request.ReasoningQuestionID,
		LatencyIterations:   queued.Request.LatencyIterations,
	}
	report := runTestsWithEvents(ctx, client, baseURL, probeCfg, queued.Request.Tests, func(event RunEvent) {
		_, _ = m.store.AppendRunEvent(queued.RunID, event.Stage, event.Message, event.Data)
		if m.obs != nil && event.Stage == "test_result" {
			if duration, ok := toFloat(event.Data["duration_ms"]); ok {
				m.obs.MarkTest(ctx, strings.TrimSpace(fmt.Sprint(event.Data["test"])), int64(duration))
			}
		}
	})

	usage := EstimateUsage(report)
	usage.RunID = queued.RunID
	usage.KeyLabel = keyLabel
	if leased {
		if usage.InputTokens == 0 && usage.OutputTokens == 0 {
			// No measurable usage on the key; release the slot
			// without charging the windows.
			m.budget.Reject(lease)
		} else {
			for _, key := range m.cfg.Keys.TestKeys {
				if key.Label == lease.Label {
					usage.EstimatedCostUSD = EstimateCostUSD(usage, key)
					break
				}
			}
			m.budget.Commit(lease, usage)
		}
	}

	status := reportOverallStatus(report)
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = status
		meta.FinishedAt = nowRFC3339()
		meta.Report = &report
		meta.EstimatedCost = usage.EstimatedCostUSD
		meta.KeyUsage = usage
		if status == "fail" {
			meta.Error = "one or more tests failed"
		}
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "completed", "run completed", map[string]any{
		"status":         status,
		"estimated_cost": usage.EstimatedCostUSD,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     queued.RunID,
		ActorType: queued.CreatorType,
		ActorSub:  queued.Creator.Subject,
		Action:    "run.completed",
		Result:    status,
		Detail:    fmt.Sprintf("cost=%.4f key=%s", usage.EstimatedCostUSD, keyLabel),
	})
	if m.obs != nil {
		m.obs.MarkRun(ctx, status)
	}
}

// runTestsWithEvents drives the same probe sequence as probe.Run while
// publishing test_start/test_result events. A run-level timeout shows
// up as an aborted result on whichever test it interrupted.
func runTestsWithEvents(
	ctx context.Context,
	client *openai.Client,
	endpoint string,
	cfg probe.RunConfig,
	testNames []string,
	onEvent func(RunEvent),
) probe.Report {
	if onEvent == nil {
		onEvent = func(RunEvent) {}
	}
	all := map[probe.TestType]probe.Probe{}
	for _, p := range probe.AvailableProbes() {
		all[p.Name()] = p
	}
	selected := testNames
	if len(selected) == 0 {
		selected = probe.DefaultOrder()
	}
	report := probe.Report{
		GeneratedAt: nowRFC3339(),
		Endpoint:    endpoint,
		Model:       cfg.Model,
		Results:     make([]probe.Result, 0, len(selected)),
	}
	for _, name := range selected {
		item, ok := all[probe.TestType(strings.ToLower(strings.TrimSpace(name)))]
		if !ok {
			result := probe.Result{
				Type:   probe.TestType(name),
				Status: probe.StatusError,
				Error:  "unknown test name: " + name,
			}
			probe.AppendResult(&report, result)
			onEvent(RunEvent{
				Stage:   "test_result",
				Message: result.Error,
				Data: map[string]any{
					"test":        name,
					"status":      string(result.Status),
					"duration_ms": result.DurationMS,
				},
			})
			continue
		}
		onEvent(RunEvent{
			Stage:   "test_start",
			Message: "test started",
			Data: map[string]any{
				"test": name,
			},
		})
		start := time.Now()
		result, err := item.Run(ctx, client, cfg)
		if err != nil {
			aborted := probe.Result{
				Type:       item.Name(),
				Status:     probe.StatusAborted,
				Error:      "Test aborted by user",
				DurationMS: time.Since(start).Milliseconds(),
			}
			probe.AppendResult(&report, aborted)
			onEvent(RunEvent{
				Stage:   "test_result",
				Message: aborted.Error,
				Data: map[string]any{
					"test":        name,
					"status":      string(aborted.Status),
					"duration_ms": aborted.DurationMS,
				},
			})
			return report
		}
		result.Type = item.Name()
		result.DurationMS = time.Since(start).Milliseconds()
		probe.AppendResult(&report, result)
		message := result.Error
		if message == "" && result.Response != nil {
			message = firstLine(result.Response.Content)
		}
		onEvent(RunEvent{
			Stage:   "test_result",
			Message: message,
			Data: map[string]any{
				"test":        name,
				"status":      string(result.Status),
				"duration_ms": result.DurationMS,
			},
		})
	}
	return report
}

const defaultBaseURL = "https://api.openai.com/v1"

// resolveBaseURL keeps the caller's endpoint when one was supplied,
// otherwise falls back to the leased key's bound endpoint, then to the
// public OpenAI API. The default is applied here rather than at create
// time so a pooled key's base_url is still honored.
func resolveBaseURL(requested, leased string) string {
	if url := strings.TrimSpace(requested); url != "" {
		return url
	}
	if url := strings.TrimSpace(leased); url != "" {
		return url
	}
	return defaultBaseURL
}

func reportOverallStatus(report probe.Report) string {
	switch {
	case report.Aborted > 0:
		return "aborted"
	case report.Failed > 0:
		return "fail"
	case report.Warned > 0:
		return "warn"
	default:
		return "pass"
	}
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func firstLine(value string) string {
	if idx := strings.IndexByte(value, '\n'); idx >= 0 {
		return value[:idx]
	}
	return value
}

func scenarioToRunRequest(input QuickTestRequest, cfg ServerConfig) (RunRequest, error) {
	scenario := strings.ToLower(strings.TrimSpace(input.ScenarioID))
	model := strings.TrimSpace(input.TargetModel)
	if model == "" {
		return RunRequest{}, errors.New("target_model is required")
	}
	base := RunRequest{
		BaseURL:      strings.TrimSpace(input.BaseURL),
		APIKey:       strings.TrimSpace(input.APIKey),
		Model:        model,
		BudgetCapUSD: cfg.Budget.DefaultRunMaxUSD,
		TimeoutSec:   cfg.Budget.DefaultTimeoutSec,
	}
	switch scenario {
	case "endpoint-smoke":
		base.Tests = []string{"connection", "chat", "stream"}
	case "tool-support":
		base.Tests = []string{"function", "math"}
		base.GradeMath = true
	case "performance":
		base.Tests = []string{"latency", "temperature"}
	default:
		return RunRequest{}, errors.New("unsupported scenario_id")
	}
	switch strings.ToLower(strings.TrimSpace(input.SpeedLevel)) {
	case "fast", "low":
		base.LatencyIterations = 10
		base.TimeoutSec = minInt(base.TimeoutSec, 120)
	case "thorough", "high":
		base.BudgetCapUSD = maxFloat(base.BudgetCapUSD, cfg.Budget.DefaultRunMaxUSD*1.5)
	}
	return base, nil
}

func buildDryRunReport(request RunRequest) probe.Report {
	selected := request.Tests
	if len(selected) == 0 {
		selected = probe.DefaultOrder()
	}
	report := probe.Report{
		GeneratedAt: nowRFC3339(),
		Endpoint:    resolveBaseURL(request.BaseURL, ""),
		Model:       request.Model,
		Results:     make([]probe.Result, 0, len(selected)),
	}
	for _, name := range selected {
		item := probe.Result{
			Type:       probe.TestType(name),
			Success:    true,
			Status:     probe.StatusSuccess,
			DurationMS: 20,
			Response: &probe.Response{
				Content:   "dry-run simulated pass",
				Type:      probe.TestType(name),
				Timestamp: nowRFC3339(),
				Model:     request.Model,
				Metrics: map[string]any{
					"dry_run": true,
				},
			},
		}
		probe.AppendResult(&report, item)
	}
	return report
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

type ipRateLimiter struct {
	mu      sync.Mutex
	rpm     int
	records map[string][]time.Time
}

func newIPRateLimiter(rpm int) *ipRateLimiter {
	if rpm <= 0 {
		rpm = 6
	}
	return &ipRateLimiter{
		rpm:     rpm,
		records: map[string][]time.Time{},
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.TrimSpace(key) == "" {
		key = "unknown"
	}
	now := time.Now()
	cutoff := now.Add(-1 * time.Minute)
	items := l.records[key]
	items = filterRecentTime(items, cutoff)
	if len(items) >= l.rpm {
		l.records[key] = items
		return false
	}
	items = append(items, now)
	l.records[key] = items
	return true
}

func hashString(input string) string {
	sum := sha256Sum(input)
	return sum[:16]
}

func sha256Sum(input string) string {
	hash := sha256.New()
	_, _ = hash.Write([]byte(input))
	return hex.EncodeToString(hash.Sum(nil))
}
