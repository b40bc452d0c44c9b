package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/medgate/inference-gateway/internal/domain"
)

// DispatchService drives one admitted request onto a local worker: route by
// agent kind, pick a target under live GPU pressure, call it, and record the
// outcome. On a failed call it walks the remaining candidates until the
// retry budget runs out. Every path leaves the registry's inflight count
// balanced.
type DispatchService struct {
	Registry    domain.Registry
	Router      domain.AgentRouter
	Balancer    domain.Balancer
	Client      domain.ModelClient
	Counter     domain.TokenEstimator
	RetryBudget int
}

// NewDispatchService constructs a DispatchService. retryBudget is the number
// of additional candidates tried after the first failure.
func NewDispatchService(reg domain.Registry, router domain.AgentRouter, bal domain.Balancer, client domain.ModelClient, counter domain.TokenEstimator, retryBudget int) DispatchService {
	if retryBudget < 0 {
		retryBudget = 0
	}
	return DispatchService{
		Registry:    reg,
		Router:      router,
		Balancer:    bal,
		Client:      client,
		Counter:     counter,
		RetryBudget: retryBudget,
	}
}

// Dispatch resolves and executes the request. The returned completion always
// carries the logical model name, whatever the worker echoed back.
func (s DispatchService) Dispatch(ctx domain.Context, req domain.ChatRequest) (domain.ChatCompletion, error) {
	minCtx := s.Counter.PromptTokens(req.Messages, "") + req.MaxTokens
	candidates, err := s.Router.CandidatesForContext(req.AgentKind, minCtx)
	if err != nil {
		return domain.ChatCompletion{}, fmt.Errorf("op=dispatch.route: %w", err)
	}
	if len(candidates) == 0 {
		return domain.ChatCompletion{}, fmt.Errorf("op=dispatch.route: %w: no candidate fits %d context tokens", domain.ErrNoViableTarget, minCtx)
	}

	tried := make(map[string]bool, len(candidates))
	var lastErr error
	for attempt := 0; attempt <= s.RetryBudget; attempt++ {
		remaining := withoutTried(candidates, tried)
		if len(remaining) == 0 {
			break
		}
		decision, err := s.Balancer.Decide(remaining, minCtx)
		if err != nil {
			if lastErr == nil {
				return domain.ChatCompletion{}, fmt.Errorf("op=dispatch.pick: %w", err)
			}
			// a failed attempt shifted the pressure picture; report the
			// attempt failure, not the viability loss
			break
		}
		name := decision.Model.LogicalName
		tried[name] = true

		s.Registry.MarkInflight(name, 1)
		start := time.Now()
		out, err := s.Client.Complete(ctx, decision.EndpointURL, name, req)
		elapsed := time.Since(start)
		s.Registry.MarkInflight(name, -1)

		if err == nil {
			s.Registry.RecordOutcome(name, true, elapsed)
			out.Model = name
			finalizeCompletion(s.Counter, req, &out, name)
			return out, nil
		}
		s.Registry.RecordOutcome(name, false, elapsed)
		lastErr = err
		if ctx.Err() != nil {
			// caller gone or deadline passed; retrying another worker would
			// only burn capacity
			return domain.ChatCompletion{}, fmt.Errorf("op=dispatch.run: %w", lastErr)
		}
		slog.Warn("worker dispatch attempt failed",
			slog.String("model", name),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}
	return domain.ChatCompletion{}, fmt.Errorf("op=dispatch.run: candidates exhausted: %w", lastErr)
}

func withoutTried(candidates []string, tried map[string]bool) []string {
	out := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if !tried[name] {
			out = append(out, name)
		}
	}
	return out
}

// finalizeCompletion fills the envelope fields a worker may omit. Usage is
// estimated locally when the upstream did not report it.
func finalizeCompletion(counter domain.TokenEstimator, req domain.ChatRequest, out *domain.ChatCompletion, model string) {
	if out.ID == "" {
		out.ID = "chatcmpl-" + ulid.Make().String()
	}
	if out.Object == "" {
		out.Object = "chat.completion"
	}
	if out.Created == 0 {
		out.Created = time.Now().Unix()
	}
	if out.Usage.TotalTokens == 0 && counter != nil {
		var text string
		if len(out.Choices) > 0 {
			text = out.Choices[0].Message.Content
		}
		out.Usage = counter.EstimateUsage(req.Messages, text, model)
	}
}

var _ domain.Dispatcher = DispatchService{}
