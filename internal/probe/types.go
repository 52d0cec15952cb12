package probe

import "time"

type TestType string

const (
	TypeConnection  TestType = "connection"
	TypeChat        TestType = "chat"
	TypeStream      TestType = "stream"
	TypeFunction    TestType = "function"
	TypeImage       TestType = "image"
	TypeLatency     TestType = "latency"
	TypeTemperature TestType = "temperature"
	TypeMath        TestType = "math"
	TypeReasoning   TestType = "reasoning"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusInfo    Status = "info"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"
)

// Result is the envelope every probe resolves to. Success tracks the
// probe's own criterion, not merely HTTP 200; Status refines it, e.g. a
// latency run with an 85% success rate is success=true status=info.
type Result struct {
	Type       TestType  `json:"type"`
	Success    bool      `json:"success"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Response   *Response `json:"response,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Response carries whatever usable data a probe obtained, even on
// partial failure. Raw preserves provider payloads verbatim and must
// stay safe to pretty-print as JSON.
type Response struct {
	Content   string         `json:"content"`
	Type      TestType       `json:"type"`
	Timestamp string         `json:"timestamp"`
	Model     string         `json:"model"`
	Raw       map[string]any `json:"raw,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// Sample is one fan-out iteration's outcome, slotted by its original
// index regardless of completion order.
type Sample struct {
	Index      int    `json:"index"`
	Success    bool   `json:"success"`
	Value      string `json:"value,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type StreamCallbacks struct {
	OnChunk      func(chunk string)
	OnContent    func(accumulated string)
	OnHasContent func(hasContent bool)
	OnFirstChunk func()
}

type ImageInput struct {
	Data []byte
	MIME string
}

type RunConfig struct {
	Model                 string
	Prompt                string
	LatencyIterations     int
	TemperatureIterations int
	SampleTimeout         time.Duration
	FixedTemperature      float64
	GradeMath             bool
	Stream                StreamCallbacks
	Image                 ImageInput
	ReasoningQuestionID   string
	Questions             []ReasoningQuestion
}

const (
	defaultLatencyIterations     = 30
	defaultTemperatureIterations = 10
	defaultSampleTimeout         = 30 * time.Second
	defaultFixedTemperature      = 0.01
)

func (c RunConfig) latencyIterations() int {
	if c.LatencyIterations > 0 {
		return c.LatencyIterations
	}
	return defaultLatencyIterations
}

func (c RunConfig) temperatureIterations() int {
	if c.TemperatureIterations > 0 {
		return c.TemperatureIterations
	}
	return defaultTemperatureIterations
}

func (c RunConfig) sampleTimeout() time.Duration {
	if c.SampleTimeout > 0 {
		return c.SampleTimeout
	}
	return defaultSampleTimeout
}

func (c RunConfig) fixedTemperature() float64 {
	if c.FixedTemperature > 0 {
		return c.FixedTemperature
	}
	return defaultFixedTemperature
}

type Report struct {
	GeneratedAt string   `json:"generated_at"`
	Endpoint    string   `json:"endpoint"`
	Model       string   `json:"model"`
	Results     []Result `json:"results"`
	Passed      int      `json:"passed"`
	Warned      int      `json:"warned"`
	Failed      int      `json:"failed"`
	Aborted     int      `json:"aborted"`
}
