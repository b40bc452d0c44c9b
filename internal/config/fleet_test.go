package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgate/inference-gateway/internal/domain"
)

const fleetYAML = `
workers:
  - logical_name: medgemma-4b
    endpoint_url: http://127.0.0.1:8001
    device_id: 0
    declared_vram_gb: 2.3
    max_context_tokens: 8192
    preferred_for: [chat, triage]
  - logical_name: qwen-14b
    endpoint_url: http://127.0.0.1:8002
    device_id: 0
    declared_vram_gb: 7.8
    max_context_tokens: 32768
agents:
  chat: [medgemma-4b, qwen-14b]
  appointment: [medgemma-4b]
  medical_qa: [qwen-14b, medgemma-4b]
  documentation: [qwen-14b]
  billing: [medgemma-4b]
  claims: [qwen-14b, medgemma-4b]
  monitoring: [medgemma-4b]
  scribe: [qwen-14b]
  triage: [medgemma-4b]
  clinical: [qwen-14b, medgemma-4b]
  ai_doctor: [qwen-14b]
`

func TestParseFleet(t *testing.T) {
	t.Parallel()
	f, err := ParseFleet([]byte(fleetYAML))
	require.NoError(t, err)
	require.Len(t, f.Workers, 2)
	assert.Equal(t, "medgemma-4b", f.Workers[0].LogicalName)
	assert.Equal(t, 2.3, f.Workers[0].DeclaredVRAMGB)

	entries := f.ModelEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.Healthy, entries[0].State)
	assert.Equal(t, []domain.AgentKind{domain.AgentChat, domain.AgentTriage}, entries[0].PreferredFor)
	assert.Zero(t, entries[0].ConsecutiveFailures)

	m := f.AgentMap()
	assert.Equal(t, []string{"qwen-14b", "medgemma-4b"}, m[domain.AgentMedicalQA])
}

func TestParseFleetRejectsInvalid(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		yaml string
	}{
		{name: "empty", yaml: `agents: {}`},
		{name: "duplicate name", yaml: `
workers:
  - {logical_name: a, endpoint_url: "http://x", declared_vram_gb: 1, max_context_tokens: 100}
  - {logical_name: a, endpoint_url: "http://y", declared_vram_gb: 1, max_context_tokens: 100}
agents:
  chat: [a]
`},
		{name: "missing endpoint", yaml: `
workers:
  - {logical_name: a, declared_vram_gb: 1, max_context_tokens: 100}
agents:
  chat: [a]
`},
		{name: "unknown preferred kind", yaml: `
workers:
  - {logical_name: a, endpoint_url: "http://x", declared_vram_gb: 1, max_context_tokens: 100, preferred_for: [ophthalmology]}
agents:
  chat: [a]
`},
		{name: "agent references unknown worker", yaml: `
workers:
  - {logical_name: a, endpoint_url: "http://x", declared_vram_gb: 1, max_context_tokens: 100}
agents:
  chat: [ghost]
`},
		{name: "unknown agent kind key", yaml: `
workers:
  - {logical_name: a, endpoint_url: "http://x", declared_vram_gb: 1, max_context_tokens: 100}
agents:
  ophthalmology: [a]
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseFleet([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseFleetRequiresFullAgentMap(t *testing.T) {
	t.Parallel()
	partial := `
workers:
  - {logical_name: a, endpoint_url: "http://x", declared_vram_gb: 1, max_context_tokens: 100}
agents:
  chat: [a]
`
	_, err := ParseFleet([]byte(partial))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no candidates")
}

func TestLoadFleetInlineOverride(t *testing.T) {
	t.Parallel()
	cfg := Config{WorkersFile: "does-not-exist.yaml", WorkersYAML: fleetYAML}
	f, err := LoadFleet(cfg)
	require.NoError(t, err)
	assert.Len(t, f.Workers, 2)
}
