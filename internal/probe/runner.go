package probe

import (
	"context"
	"strings"
	"time"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
)

// Probe is one self-contained test routine against the target endpoint.
// Run resolves to a Result for every failure it detects itself; the
// returned error is non-nil only when ctx was cancelled externally, so
// the orchestrator can tell user cancellation apart from probe-detected
// failure.
type Probe interface {
	Name() TestType
	Run(ctx context.Context, client *openai.Client, cfg RunConfig) (Result, error)
}

func AvailableProbes() []Probe {
	return []Probe{
		ConnectionProbe{},
		ChatProbe{},
		StreamProbe{},
		FunctionProbe{},
		ImageProbe{},
		LatencyProbe{},
		TemperatureProbe{},
		MathProbe{},
		ReasoningProbe{},
	}
}

func DefaultOrder() []string {
	return []string{"connection", "chat", "stream", "function", "image", "latency", "temperature", "math", "reasoning"}
}

func ResolveSelection(selection string) []string {
	value := strings.TrimSpace(strings.ToLower(selection))
	if value == "" || value == "all" {
		return DefaultOrder()
	}
	items := strings.Split(value, ",")
	names := make([]string, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(strings.ToLower(item))
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Run executes the named probes in order against one endpoint. On
// external cancellation it returns the partial report together with the
// cancellation cause; every other failure is folded into the report.
func Run(ctx context.Context, client *openai.Client, endpoint string, cfg RunConfig, names []string) (Report, error) {
	all := make(map[TestType]Probe)
	for _, p := range AvailableProbes() {
		all[p.Name()] = p
	}

	report := Report{
		GeneratedAt: nowRFC3339(),
		Endpoint:    endpoint,
		Model:       cfg.Model,
		Results:     make([]Result, 0, len(names)),
	}
	for _, name := range names {
		probe, ok := all[TestType(strings.TrimSpace(strings.ToLower(name)))]
		if !ok {
			AppendResult(&report, Result{
				Type:   TestType(name),
				Status: StatusError,
				Error:  "unknown test name: " + name,
			})
			continue
		}
		start := time.Now()
		result, err := probe.Run(ctx, client, cfg)
		if err != nil {
			aborted := Result{
				Type:       probe.Name(),
				Status:     StatusAborted,
				Error:      "Test aborted by user",
				DurationMS: time.Since(start).Milliseconds(),
			}
			AppendResult(&report, aborted)
			return report, err
		}
		result.Type = probe.Name()
		result.DurationMS = time.Since(start).Milliseconds()
		AppendResult(&report, result)
	}
	return report, nil
}

func AppendResult(report *Report, result Result) {
	report.Results = append(report.Results, result)
	switch result.Status {
	case StatusSuccess, StatusInfo:
		report.Passed++
	case StatusWarning:
		report.Warned++
	case StatusAborted:
		report.Aborted++
	default:
		report.Failed++
	}
}
