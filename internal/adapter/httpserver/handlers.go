package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/medgate/inference-gateway/internal/config"
	"github.com/medgate/inference-gateway/internal/domain"
	"github.com/medgate/inference-gateway/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg      config.Config
	Chat     usecase.ChatService
	Queue    domain.TaskQueue
	Registry domain.Registry
	Probe    domain.GPUProbe
	Audit    domain.AuditSink

	// Readiness checks are injected by the app wiring; nil checks are
	// skipped so partial assemblies (tests, tools) stay usable.
	RegistryCheck func(ctx context.Context) error
	GPUCheck      func(ctx context.Context) error
	QueueCheck    func(ctx context.Context) error

	limiter   *httprate.RateLimiter
	maxTokens map[string]int
}

// NewServer constructs the HTTP surface with admission policy wired. The
// rate limiter is shared across endpoints; a zero limit disables it.
func NewServer(cfg config.Config, chat usecase.ChatService, queue domain.TaskQueue, registry domain.Registry, probe domain.GPUProbe, audit domain.AuditSink) (*Server, error) {
	table, err := cfg.MaxTokensTable()
	if err != nil {
		return nil, fmt.Errorf("op=httpserver.new: %w", err)
	}
	var limiter *httprate.RateLimiter
	if cfg.RateLimitMax > 0 && cfg.RateLimitWindow > 0 {
		limiter = httprate.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	}
	return &Server{
		Cfg:       cfg,
		Chat:      chat,
		Queue:     queue,
		Registry:  registry,
		Probe:     probe,
		Audit:     audit,
		limiter:   limiter,
		maxTokens: table,
	}, nil
}

// ChatCompletionsHandler serves the synchronous OpenAI-compatible endpoint.
func (s *Server) ChatCompletionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire chatRequestWire
		if err := decodeJSON(w, r, &wire); err != nil {
			writeError(w, r, err, nil)
			return
		}
		adm, ok := s.admit(w, r, wire)
		if !ok {
			return
		}
		ctx := r.Context()
		if s.Cfg.DefaultRequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.Cfg.DefaultRequestTimeout)
			defer cancel()
		}
		out, err := s.Chat.Complete(ctx, adm.req)
		if err != nil {
			s.audit(r.Context(), adm, "", "failed")
			writeError(w, r, err, nil)
			return
		}
		s.audit(r.Context(), adm, out.Model, "completed")
		writeJSON(w, http.StatusOK, out)
	}
}

// SubmitHandler accepts one async task and returns its receipt.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire chatRequestWire
		if err := decodeJSON(w, r, &wire); err != nil {
			writeError(w, r, err, nil)
			return
		}
		adm, ok := s.admit(w, r, wire)
		if !ok {
			return
		}
		receipt, err := s.Queue.Submit(r.Context(), taskFromWire(adm, wire))
		if err != nil {
			if errors.Is(err, domain.ErrQueueFull) {
				s.audit(r.Context(), adm, "", "rejected_full")
			}
			writeError(w, r, err, nil)
			return
		}
		s.audit(r.Context(), adm, "", "accepted")
		writeJSON(w, http.StatusAccepted, receipt)
	}
}

// SubmitBatchHandler accepts a task list atomically: every task passes
// admission and fits the queue, or none is enqueued.
func (s *Server) SubmitBatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire submitBatchRequest
		if err := decodeJSON(w, r, &wire); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if len(wire.Tasks) == 0 {
			writeError(w, r, fmt.Errorf("op=admission.batch: %w: tasks must not be empty", domain.ErrInvalidArgument), map[string]string{"field": "tasks"})
			return
		}
		adms := make([]admission, len(wire.Tasks))
		tasks := make([]domain.Task, len(wire.Tasks))
		for i, tw := range wire.Tasks {
			adm, ok := s.admit(w, r, tw)
			if !ok {
				return
			}
			adms[i] = adm
			tasks[i] = taskFromWire(adm, tw)
		}
		receipt, err := s.Queue.SubmitBatch(r.Context(), tasks)
		if err != nil {
			if errors.Is(err, domain.ErrQueueFull) {
				for _, adm := range adms {
					s.audit(r.Context(), adm, "", "rejected_full")
				}
			}
			writeError(w, r, err, nil)
			return
		}
		for _, adm := range adms {
			s.audit(r.Context(), adm, "", "accepted")
		}
		writeJSON(w, http.StatusAccepted, receipt)
	}
}

// StatusHandler returns the external projection of one task.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.Queue.Status(chi.URLParam(r, "taskID"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// taskResultResponse wraps a terminal task for the result endpoint. Failed
// and cancelled tasks are terminal outcomes too and return 200 with the
// error string in place of a completion.
type taskResultResponse struct {
	TaskID      string                 `json:"task_id"`
	Status      domain.TaskStatus      `json:"status"`
	ModelUsed   string                 `json:"model_used,omitempty"`
	Result      *domain.ChatCompletion `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// ResultHandler returns the outcome of a terminal task.
func (s *Server) ResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := s.Queue.Result(chi.URLParam(r, "taskID"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, taskResultResponse{
			TaskID:      task.ID,
			Status:      task.Status,
			ModelUsed:   task.ModelUsed,
			Result:      task.Result,
			Error:       task.Error,
			CompletedAt: task.CompletedAt,
		})
	}
}

// CancelHandler removes a task that has not started processing.
func (s *Server) CancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskID")
		if err := s.Queue.Cancel(taskID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"task_id": taskID,
			"status":  domain.TaskCancelled,
		})
	}
}

// BatchStatusHandler aggregates per-task views for one batch.
func (s *Server) BatchStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.Queue.BatchStatus(chi.URLParam(r, "batchID"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// StatsHandler exposes queue-wide accounting.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Queue.Stats())
	}
}

// QueueHealthHandler reports the queue health signal. Unhealthy maps to 503
// so load balancers can shed before the queue saturates.
func (s *Server) QueueHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := s.Queue.Health()
		status := http.StatusOK
		if state == domain.Unhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"state": state})
	}
}

// ReadyzHandler probes the registry, the GPU sampler and the queue. Any
// failing check returns 503 so rollouts hold until the gateway can dispatch.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		named := []struct {
			name string
			fn   func(ctx context.Context) error
		}{
			{"registry", s.RegistryCheck},
			{"gpu_probe", s.GPUCheck},
			{"queue", s.QueueCheck},
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(named))
		ok := true
		for _, n := range named {
			if n.fn == nil {
				continue
			}
			if err := n.fn(ctx); err != nil {
				checks = append(checks, check{Name: n.name, Details: err.Error()})
				ok = false
				continue
			}
			checks = append(checks, check{Name: n.name, OK: true})
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}

// gpuDeviceStatus is the per-device view served by the GPU endpoint.
type gpuDeviceStatus struct {
	DeviceID       int     `json:"device_id"`
	UsedGB         float64 `json:"used_gb"`
	TotalGB        float64 `json:"total_gb"`
	UtilizationPct float64 `json:"utilization_pct"`
	TemperatureC   float64 `json:"temperature_c"`
	PowerW         float64 `json:"power_w"`
	Pressure       string  `json:"pressure"`
	ThermalPromote bool    `json:"thermal_promote,omitempty"`
	ThermalForce   bool    `json:"thermal_force,omitempty"`
	SampleAgeMS    int64   `json:"sample_age_ms"`
	Unknown        bool    `json:"unknown,omitempty"`
}

// GPUStatusHandler snapshots every probed device with its classified
// pressure. Devices whose last query failed surface as unknown and
// critical, matching how the balancer treats them.
func (s *Server) GPUStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		ids := s.Probe.Devices()
		devices := make([]gpuDeviceStatus, 0, len(ids))
		for _, id := range ids {
			m, ok := s.Probe.Current(id)
			if !ok {
				m = domain.GPUMetric{DeviceID: id, Unknown: true, Timestamp: now}
			}
			promote, force := domain.ThermalState(m)
			devices = append(devices, gpuDeviceStatus{
				DeviceID:       m.DeviceID,
				UsedGB:         m.UsedGB,
				TotalGB:        m.TotalGB,
				UtilizationPct: m.UtilizationPct,
				TemperatureC:   m.TemperatureC,
				PowerW:         m.PowerW,
				Pressure:       domain.ClassifyPressure(m).String(),
				ThermalPromote: promote,
				ThermalForce:   force,
				SampleAgeMS:    now.Sub(m.Timestamp).Milliseconds(),
				Unknown:        m.Unknown,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
	}
}

// modelObject is the redacted public projection of a registry entry. The
// endpoint URL never leaves the process.
type modelObject struct {
	ID               string             `json:"id"`
	Object           string             `json:"object"`
	State            domain.HealthState `json:"state"`
	DeviceID         int                `json:"device_id"`
	DeclaredVRAMGB   float64            `json:"declared_vram_gb"`
	MaxContextTokens int                `json:"max_context_tokens"`
	PreferredFor     []domain.AgentKind `json:"preferred_for,omitempty"`
	EMALatencyMS     float64            `json:"ema_latency_ms"`
	Inflight         int                `json:"inflight"`
	Failures         int                `json:"consecutive_failures"`
}

// ModelsHandler lists the registry in the OpenAI list shape.
func (s *Server) ModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := s.Registry.Snapshot()
		data := make([]modelObject, 0, len(entries))
		for _, e := range entries {
			data = append(data, modelObject{
				ID:               e.LogicalName,
				Object:           "model",
				State:            e.State,
				DeviceID:         e.DeviceID,
				DeclaredVRAMGB:   e.DeclaredVRAMGB,
				MaxContextTokens: e.MaxContextTokens,
				PreferredFor:     e.PreferredFor,
				EMALatencyMS:     e.EMALatencyMS,
				Inflight:         e.InflightCount,
				Failures:         e.ConsecutiveFailures,
			})
		}
		sort.Slice(data, func(i, j int) bool { return data[i].ID < data[j].ID })
		writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
	}
}
