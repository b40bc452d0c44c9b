// Package routing maps agent kinds onto ordered candidate models.
package routing

import (
	"fmt"

	"github.com/medgate/inference-gateway/internal/domain"
)

// Router serves the agent map loaded at startup: one primary plus ordered
// fallbacks per kind. Health filtering is the balancer's job; the router
// only answers "which models may serve this kind".
type Router struct {
	agents   map[domain.AgentKind][]string
	registry domain.Registry
}

func New(agents map[domain.AgentKind][]string, reg domain.Registry) *Router {
	copied := make(map[domain.AgentKind][]string, len(agents))
	for kind, candidates := range agents {
		copied[kind] = append([]string(nil), candidates...)
	}
	return &Router{agents: copied, registry: reg}
}

// Candidates returns the ordered candidate list for a kind.
func (r *Router) Candidates(kind domain.AgentKind) ([]string, error) {
	candidates, ok := r.agents[kind]
	if !ok || len(candidates) == 0 {
		return nil, fmt.Errorf("op=routing.Candidates: %w: %q", domain.ErrAgentUnknown, kind)
	}
	return append([]string(nil), candidates...), nil
}

// CandidatesForContext drops candidates whose declared context window is too
// small for the request. The result may be empty.
func (r *Router) CandidatesForContext(kind domain.AgentKind, minContextTokens int) ([]string, error) {
	candidates, err := r.Candidates(kind)
	if err != nil {
		return nil, err
	}
	if minContextTokens <= 0 {
		return candidates, nil
	}

	byName := make(map[string]domain.ModelEntry)
	for _, e := range r.registry.Snapshot() {
		byName[e.LogicalName] = e
	}

	out := candidates[:0]
	for _, name := range candidates {
		e, known := byName[name]
		if !known {
			continue
		}
		if e.MaxContextTokens >= minContextTokens {
			out = append(out, name)
		}
	}
	return out, nil
}

var _ domain.AgentRouter = (*Router)(nil)
