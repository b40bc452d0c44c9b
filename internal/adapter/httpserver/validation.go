package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/medgate/inference-gateway/internal/adapter/observability"
	"github.com/medgate/inference-gateway/internal/domain"
	obsctx "github.com/medgate/inference-gateway/internal/observability"
	"github.com/medgate/inference-gateway/internal/usecase"
)

// maxBodyBytes caps request bodies well above any realistic prompt.
const maxBodyBytes = 1 << 20

// chatMessageWire is one conversation turn as received on the wire.
type chatMessageWire struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content" validate:"required"`
}

// chatRequestWire is the decoded body for the sync chat endpoint and for
// each async task. agent_kind drives routing; model is accepted as an
// alias so stock OpenAI clients work unchanged. priority and timeout_ms
// only matter on the async paths and are ignored on the sync one.
type chatRequestWire struct {
	AgentKind   string            `json:"agent_kind"`
	Model       string            `json:"model"`
	Messages    []chatMessageWire `json:"messages" validate:"required,min=1,dive"`
	Temperature *float64          `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int               `json:"max_tokens" validate:"omitempty,gte=0"`
	Stream      bool              `json:"stream"`
	Priority    string            `json:"priority" validate:"omitempty,oneof=critical high normal low"`
	TimeoutMS   int64             `json:"timeout_ms" validate:"omitempty,gt=0"`
}

// submitBatchRequest wraps the task list for the atomic batch endpoint.
type submitBatchRequest struct {
	Tasks []chatRequestWire `json:"tasks" validate:"required,min=1,dive"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// decodeJSON bounds and decodes a request body. Unknown fields pass through
// so OpenAI SDK extras like top_p do not break admission.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		return fmt.Errorf("op=admission.decode: %w: content-type must be application/json", domain.ErrInvalidArgument)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("op=admission.decode: %w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// validationDetails flattens validator errors into a field→tag map for the
// error envelope.
func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		out[ns] = fe.Tag()
	}
	return out
}

// admission carries the policy outcome for one accepted request.
type admission struct {
	req      domain.ChatRequest
	clientIP string
	clamped  bool
}

// admit runs the post-decode policy stages in order: structural validation,
// agent validation, max-token clamping, then the sliding-window rate limit
// keyed by (client IP, agent kind). It writes the rejection response itself
// and reports acceptance through ok.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, wire chatRequestWire) (admission, bool) {
	if err := getValidator().Struct(wire); err != nil {
		writeError(w, r, fmt.Errorf("op=admission.validate: %w: %v", domain.ErrInvalidArgument, err), validationDetails(err))
		return admission{}, false
	}
	if wire.Stream {
		writeError(w, r, fmt.Errorf("op=admission.validate: %w: streaming is not supported", domain.ErrInvalidArgument), map[string]string{"field": "stream"})
		return admission{}, false
	}
	kindField := wire.AgentKind
	if kindField == "" {
		kindField = wire.Model
	}
	kind, err := domain.ParseAgentKind(kindField)
	if err != nil {
		writeError(w, r, fmt.Errorf("op=admission.agent: %w: %q", err, kindField), map[string]string{"field": "agent_kind"})
		return admission{}, false
	}
	maxTokens, clamped := s.clampMaxTokens(kind, wire.MaxTokens)
	ip := clientIP(r)
	if s.limiter != nil && s.limiter.OnLimit(w, r, ip+"|"+string(kind)) {
		observability.RateLimitRejectionsTotal.WithLabelValues(string(kind)).Inc()
		writeError(w, r, fmt.Errorf("op=admission.ratelimit: %w: %s", domain.ErrRateLimited, kind), nil)
		return admission{}, false
	}
	msgs := make([]domain.ChatMessage, len(wire.Messages))
	for i, m := range wire.Messages {
		msgs[i] = domain.ChatMessage{Role: m.Role, Content: m.Content}
	}
	var temp float64
	if wire.Temperature != nil {
		temp = *wire.Temperature
	}
	return admission{
		req: domain.ChatRequest{
			AgentKind:   kind,
			Messages:    msgs,
			Temperature: temp,
			MaxTokens:   maxTokens,
		},
		clientIP: ip,
		clamped:  clamped,
	}, true
}

// clampMaxTokens applies the per-agent ceiling. Requests above the ceiling
// clamp rather than reject; absent or zero requests take the ceiling so the
// token estimator always sees a bounded completion budget.
func (s *Server) clampMaxTokens(kind domain.AgentKind, requested int) (int, bool) {
	ceiling := s.Cfg.MaxTokensDefault
	if v, ok := s.maxTokens[string(kind)]; ok {
		ceiling = v
	}
	if ceiling <= 0 {
		return requested, false
	}
	if requested <= 0 || requested > ceiling {
		return ceiling, requested > ceiling
	}
	return requested, false
}

// taskFromWire builds the queue task for one admitted async submission.
func taskFromWire(adm admission, wire chatRequestWire) domain.Task {
	pr, err := domain.ParsePriority(wire.Priority)
	if err != nil {
		pr = domain.PriorityNormal
	}
	t := domain.Task{
		AgentKind:   adm.req.AgentKind,
		Messages:    adm.req.Messages,
		Temperature: adm.req.Temperature,
		MaxTokens:   adm.req.MaxTokens,
		Priority:    pr,
	}
	if wire.TimeoutMS > 0 {
		t.Deadline = time.Now().Add(time.Duration(wire.TimeoutMS) * time.Millisecond)
	}
	return t
}

// audit emits one admission trail record. The resolved model and the final
// outcome arrive from the caller because they are only known after dispatch.
func (s *Server) audit(ctx domain.Context, adm admission, modelUsed, outcome string) {
	if s.Audit == nil {
		return
	}
	s.Audit.Record(ctx, domain.AuditRecord{
		EventID:       uuid.NewString(),
		RequestID:     obsctx.RequestIDFromContext(ctx),
		ClientIP:      adm.clientIP,
		AgentKind:     adm.req.AgentKind,
		MessageDigest: usecase.MessageDigest(adm.req.Messages),
		ModelUsed:     modelUsed,
		Outcome:       outcome,
		Clamped:       adm.clamped,
		At:            time.Now().UTC(),
	})
}

// clientIP resolves the caller address. X-Forwarded-For is honored only
// when the direct peer is private or loopback, so an internet client cannot
// spoof its way around the rate limiter.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" || !trustedPeer(host) {
		return host
	}
	first, _, _ := strings.Cut(xff, ",")
	if ip := strings.TrimSpace(first); ip != "" {
		return ip
	}
	return host
}

func trustedPeer(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
