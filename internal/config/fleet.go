// Package config provides loading for the YAML fleet definition.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/medgate/inference-gateway/internal/domain"
)

// WorkerSpec is one model entry in the fleet file.
type WorkerSpec struct {
	LogicalName      string   `yaml:"logical_name"`
	EndpointURL      string   `yaml:"endpoint_url"`
	DeviceID         int      `yaml:"device_id"`
	DeclaredVRAMGB   float64  `yaml:"declared_vram_gb"`
	MaxContextTokens int      `yaml:"max_context_tokens"`
	PreferredFor     []string `yaml:"preferred_for"`
}

// Fleet is the parsed workers.yaml document: the worker pool plus the
// agent kind to candidate model mapping.
type Fleet struct {
	Workers []WorkerSpec        `yaml:"workers"`
	Agents  map[string][]string `yaml:"agents"`
}

// LoadFleet reads the fleet from the inline YAML override when present,
// otherwise from the configured file path.
func LoadFleet(cfg Config) (Fleet, error) {
	raw := []byte(cfg.WorkersYAML)
	if len(raw) == 0 {
		b, err := os.ReadFile(cfg.WorkersFile) // #nosec G304 -- operator-controlled path
		if err != nil {
			return Fleet{}, fmt.Errorf("op=config.LoadFleet: read %s: %w", cfg.WorkersFile, err)
		}
		raw = b
	}
	return ParseFleet(raw)
}

// ParseFleet unmarshals and validates a fleet document.
func ParseFleet(raw []byte) (Fleet, error) {
	var f Fleet
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Fleet{}, fmt.Errorf("op=config.ParseFleet: %w", err)
	}
	if err := f.validate(); err != nil {
		return Fleet{}, fmt.Errorf("op=config.ParseFleet: %w", err)
	}
	return f, nil
}

func (f Fleet) validate() error {
	if len(f.Workers) == 0 {
		return fmt.Errorf("no workers defined")
	}
	names := make(map[string]struct{}, len(f.Workers))
	for i, w := range f.Workers {
		if w.LogicalName == "" {
			return fmt.Errorf("worker %d: logical_name required", i)
		}
		if _, dup := names[w.LogicalName]; dup {
			return fmt.Errorf("worker %q: duplicate logical_name", w.LogicalName)
		}
		names[w.LogicalName] = struct{}{}
		if w.EndpointURL == "" {
			return fmt.Errorf("worker %q: endpoint_url required", w.LogicalName)
		}
		if w.DeclaredVRAMGB <= 0 {
			return fmt.Errorf("worker %q: declared_vram_gb must be positive", w.LogicalName)
		}
		if w.MaxContextTokens <= 0 {
			return fmt.Errorf("worker %q: max_context_tokens must be positive", w.LogicalName)
		}
		for _, kind := range w.PreferredFor {
			if _, err := domain.ParseAgentKind(kind); err != nil {
				return fmt.Errorf("worker %q: preferred_for %q: %w", w.LogicalName, kind, err)
			}
		}
	}
	// Every admitted agent kind needs at least one candidate, and every
	// candidate must name a defined worker.
	for _, kind := range domain.AgentKinds() {
		candidates, ok := f.Agents[string(kind)]
		if !ok || len(candidates) == 0 {
			return fmt.Errorf("agents: kind %q has no candidates", kind)
		}
		for _, name := range candidates {
			if _, known := names[name]; !known {
				return fmt.Errorf("agents: kind %q references unknown worker %q", kind, name)
			}
		}
	}
	for kind := range f.Agents {
		if _, err := domain.ParseAgentKind(kind); err != nil {
			return fmt.Errorf("agents: %q: %w", kind, err)
		}
	}
	return nil
}

// ModelEntries converts the worker specs to registry entries, all starting
// healthy with zeroed statistics.
func (f Fleet) ModelEntries() []domain.ModelEntry {
	entries := make([]domain.ModelEntry, 0, len(f.Workers))
	for _, w := range f.Workers {
		preferred := make([]domain.AgentKind, 0, len(w.PreferredFor))
		for _, kind := range w.PreferredFor {
			preferred = append(preferred, domain.AgentKind(kind))
		}
		entries = append(entries, domain.ModelEntry{
			LogicalName:      w.LogicalName,
			EndpointURL:      w.EndpointURL,
			DeviceID:         w.DeviceID,
			DeclaredVRAMGB:   w.DeclaredVRAMGB,
			MaxContextTokens: w.MaxContextTokens,
			PreferredFor:     preferred,
			State:            domain.Healthy,
		})
	}
	return entries
}

// AgentMap converts the agents section to typed keys.
func (f Fleet) AgentMap() map[domain.AgentKind][]string {
	m := make(map[domain.AgentKind][]string, len(f.Agents))
	for kind, candidates := range f.Agents {
		m[domain.AgentKind(kind)] = append([]string(nil), candidates...)
	}
	return m
}
