package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgate/inference-gateway/internal/domain"
)

// stubRegistry serves a fixed snapshot.
type stubRegistry struct {
	entries []domain.ModelEntry
}

func (s *stubRegistry) Register(domain.ModelEntry) error          { return nil }
func (s *stubRegistry) Snapshot() []domain.ModelEntry             { return s.entries }
func (s *stubRegistry) RecordOutcome(string, bool, time.Duration) {}
func (s *stubRegistry) MarkInflight(string, int)                  {}

func newRouter() *Router {
	reg := &stubRegistry{entries: []domain.ModelEntry{
		{LogicalName: "small", MaxContextTokens: 4096},
		{LogicalName: "large", MaxContextTokens: 32768},
	}}
	agents := map[domain.AgentKind][]string{
		domain.AgentChat:   {"small", "large"},
		domain.AgentClaims: {"large"},
	}
	return New(agents, reg)
}

func TestCandidatesOrderPreserved(t *testing.T) {
	t.Parallel()
	r := newRouter()
	got, err := r.Candidates(domain.AgentChat)
	require.NoError(t, err)
	assert.Equal(t, []string{"small", "large"}, got)
}

func TestCandidatesUnknownKind(t *testing.T) {
	t.Parallel()
	r := newRouter()
	_, err := r.Candidates(domain.AgentTriage)
	assert.ErrorIs(t, err, domain.ErrAgentUnknown)
}

func TestCandidatesReturnsCopy(t *testing.T) {
	t.Parallel()
	r := newRouter()
	got, err := r.Candidates(domain.AgentChat)
	require.NoError(t, err)
	got[0] = "mutated"

	again, err := r.Candidates(domain.AgentChat)
	require.NoError(t, err)
	assert.Equal(t, "small", again[0])
}

func TestCandidatesForContextFilters(t *testing.T) {
	t.Parallel()
	r := newRouter()

	got, err := r.CandidatesForContext(domain.AgentChat, 8192)
	require.NoError(t, err)
	assert.Equal(t, []string{"large"}, got, "small context windows drop out")

	got, err = r.CandidatesForContext(domain.AgentChat, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"small", "large"}, got, "no requirement keeps everyone")

	got, err = r.CandidatesForContext(domain.AgentChat, 1_000_000)
	require.NoError(t, err)
	assert.Empty(t, got, "impossible requirement empties the list")
}
