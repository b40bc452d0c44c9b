package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrAgentUnknown        = errors.New("unknown agent kind")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrNotReady            = errors.New("result not ready")
	ErrExpired             = errors.New("result expired")
	ErrRateLimited         = errors.New("rate limited")
	ErrQueueFull           = errors.New("queue full")
	ErrNoViableTarget      = errors.New("no viable dispatch target")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamBadResponse = errors.New("upstream bad response")
	ErrCancelled           = errors.New("task cancelled")
	ErrProviderDisabled    = errors.New("external provider disabled")
	ErrInternal            = errors.New("internal error")
)

// AgentKind is the logical role of a request. The set is closed; unknown
// values are rejected at admission.
type AgentKind string

const (
	AgentChat          AgentKind = "chat"
	AgentAppointment   AgentKind = "appointment"
	AgentMedicalQA     AgentKind = "medical_qa"
	AgentDocumentation AgentKind = "documentation"
	AgentBilling       AgentKind = "billing"
	AgentClaims        AgentKind = "claims"
	AgentMonitoring    AgentKind = "monitoring"
	AgentScribe        AgentKind = "scribe"
	AgentTriage        AgentKind = "triage"
	AgentClinical      AgentKind = "clinical"
	AgentAIDoctor      AgentKind = "ai_doctor"
)

// AgentKinds lists every admitted kind, in declaration order.
func AgentKinds() []AgentKind {
	return []AgentKind{
		AgentChat, AgentAppointment, AgentMedicalQA, AgentDocumentation,
		AgentBilling, AgentClaims, AgentMonitoring, AgentScribe,
		AgentTriage, AgentClinical, AgentAIDoctor,
	}
}

// ParseAgentKind validates a wire value against the closed set.
func ParseAgentKind(s string) (AgentKind, error) {
	k := AgentKind(s)
	switch k {
	case AgentChat, AgentAppointment, AgentMedicalQA, AgentDocumentation,
		AgentBilling, AgentClaims, AgentMonitoring, AgentScribe,
		AgentTriage, AgentClinical, AgentAIDoctor:
		return k, nil
	}
	return "", ErrAgentUnknown
}

// Priority orders tasks for dispatch. Smaller ordinal dispatches earlier.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "normal"
}

// ParsePriority maps a wire value to a Priority. Empty defaults to normal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityNormal, ErrInvalidArgument
}

type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskBatching   TaskStatus = "batching"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ChatMessage is one OpenAI-style conversation turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries the caller's inference parameters after admission
// (agent validated, max_tokens clamped).
type ChatRequest struct {
	AgentKind   AgentKind
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// ChatChoice and Usage mirror the OpenAI chat completion object.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is the response surfaced to callers. Model holds the
// resolved logical name, or "provider:model" when served externally.
type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// Task is the queue's unit of work. The queue owns the record; workers gain
// exclusive mutation rights on transition to Processing.
type Task struct {
	ID          string
	AgentKind   AgentKind
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	Priority    Priority
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Deadline    time.Time
	Status      TaskStatus
	BatchID     string
	ModelUsed   string
	Result      *ChatCompletion
	Error       string
}

// TaskView is the externally visible projection of a task.
type TaskView struct {
	TaskID      string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	Position    int        `json:"position,omitempty"`
	AgentKind   AgentKind  `json:"agent_kind"`
	Priority    string     `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ModelUsed   string     `json:"model_used,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// SubmitReceipt is returned on accepted submission.
type SubmitReceipt struct {
	TaskID          string        `json:"task_id"`
	Position        int           `json:"position"`
	EstimatedWait   time.Duration `json:"-"`
	EstimatedWaitMS int64         `json:"estimated_wait_ms"`
}

// BatchReceipt is returned on an atomic batch submission.
type BatchReceipt struct {
	BatchID string          `json:"batch_id"`
	Tasks   []SubmitReceipt `json:"tasks"`
}

// BatchView aggregates per-task views plus progress for one batch.
type BatchView struct {
	BatchID   string     `json:"batch_id"`
	Tasks     []TaskView `json:"tasks"`
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
}

// QueueStats aggregates queue-wide accounting.
type QueueStats struct {
	Queued             int              `json:"queued"`
	Batching           int              `json:"batching"`
	Processing         int              `json:"processing"`
	Completed          int64            `json:"completed"`
	Failed             int64            `json:"failed"`
	Cancelled          int64            `json:"cancelled"`
	Submitted          int64            `json:"submitted"`
	Rejected           int64            `json:"rejected"`
	ByPriority         map[string]int   `json:"by_priority"`
	EMAServiceTimeMS   float64          `json:"ema_service_time_ms"`
	TasksPerMinute     float64          `json:"tasks_per_minute"`
	CacheHitRate       float64          `json:"cache_hit_rate"`
	FailuresLastMinute int              `json:"failures_last_minute"`
	Capacity           int              `json:"capacity"`
}

// HealthState is shared by model entries and the queue health signal.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// StateRank orders health states for selection (healthy first).
func (h HealthState) StateRank() int {
	switch h {
	case Healthy:
		return 0
	case Degraded:
		return 1
	default:
		return 2
	}
}

// AuditRecord is the admission trail entry. MessageDigest is a SHA-256 hex
// over normalized message content; raw content never enters the record.
// EventID is unique per record; one request emits several records over a
// task's life, so consumers dedup on it rather than on RequestID.
type AuditRecord struct {
	EventID       string    `json:"event_id"`
	RequestID     string    `json:"request_id"`
	ClientIP      string    `json:"client_ip"`
	AgentKind     AgentKind `json:"agent_kind"`
	MessageDigest string    `json:"message_digest"`
	ModelUsed     string    `json:"model_used,omitempty"`
	Outcome       string    `json:"outcome"`
	Clamped       bool      `json:"clamped,omitempty"`
	At            time.Time `json:"at"`
}

// Context is an alias to decouple domain signatures from std context.
type Context = context.Context
