package domain

import "time"

// Ports implemented by adapters and consumed by usecases and handlers.

// GPUProbe exposes sampled device state. Implementations return value
// copies only.
type GPUProbe interface {
	Current(deviceID int) (GPUMetric, bool)
	History(deviceID int, n int) []GPUMetric
	Devices() []int
}

// Registry is the authoritative model directory.
type Registry interface {
	Register(entry ModelEntry) error
	Snapshot() []ModelEntry
	RecordOutcome(logicalName string, success bool, latency time.Duration)
	MarkInflight(logicalName string, delta int)
}

// Balancer picks one dispatch target from candidate logical names.
// Returns ErrNoViableTarget when nothing can take the request now.
type Balancer interface {
	Decide(candidates []string, minContextTokens int) (RoutingDecision, error)
}

// AgentRouter maps an agent kind onto its ordered candidate models.
type AgentRouter interface {
	Candidates(kind AgentKind) ([]string, error)
	CandidatesForContext(kind AgentKind, minContextTokens int) ([]string, error)
}

// ModelClient speaks the OpenAI-compatible surface of a worker endpoint.
type ModelClient interface {
	Complete(ctx Context, endpointURL, model string, req ChatRequest) (ChatCompletion, error)
	CheckHealth(ctx Context, endpointURL string) error
}

// ExternalProvider is the optional remote endpoint tried before local
// dispatch. Complete returns ErrProviderDisabled when not enabled.
type ExternalProvider interface {
	Enabled() bool
	Complete(ctx Context, req ChatRequest) (ChatCompletion, error)
}

// Dispatcher executes one admitted request against a locally routed model,
// walking fallback candidates within the retry budget.
type Dispatcher interface {
	Dispatch(ctx Context, req ChatRequest) (ChatCompletion, error)
}

// TokenEstimator approximates token counts for routing and usage reporting.
// Implementations never fail; they degrade to a coarse estimate.
type TokenEstimator interface {
	PromptTokens(messages []ChatMessage, model string) int
	EstimateUsage(messages []ChatMessage, completion string, model string) Usage
}

// TaskQueue is the async surface.
type TaskQueue interface {
	Submit(ctx Context, t Task) (SubmitReceipt, error)
	SubmitBatch(ctx Context, ts []Task) (BatchReceipt, error)
	Status(taskID string) (TaskView, error)
	Result(taskID string) (Task, error)
	Cancel(taskID string) error
	BatchStatus(batchID string) (BatchView, error)
	Stats() QueueStats
	Health() HealthState
	Cleanup(maxAge time.Duration) int
}

// AuditSink records admission trail entries. Implementations must not block
// the request path.
type AuditSink interface {
	Record(ctx Context, rec AuditRecord)
}
