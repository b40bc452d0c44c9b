// Package registry is the authoritative directory of local worker models
// and their live health.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medgate/inference-gateway/internal/domain"
)

const (
	// emaSmoothing weights the latest latency observation.
	emaSmoothing = 0.2
	// Consecutive failure counts at which health degrades.
	degradedThreshold  = 3
	unhealthyThreshold = 6
)

// Registry owns every ModelEntry. All reads go through Snapshot copies;
// mutation happens only via RecordOutcome, MarkInflight and the prober.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*domain.ModelEntry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*domain.ModelEntry)}
}

// Register adds an entry at startup. Logical names are unique.
func (r *Registry) Register(entry domain.ModelEntry) error {
	if entry.LogicalName == "" {
		return fmt.Errorf("op=registry.Register: %w: empty logical name", domain.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.LogicalName]; exists {
		return fmt.Errorf("op=registry.Register: %w: duplicate %q", domain.ErrConflict, entry.LogicalName)
	}
	if entry.State == "" {
		entry.State = domain.Healthy
	}
	entry.PreferredFor = append([]domain.AgentKind(nil), entry.PreferredFor...)
	r.entries[entry.LogicalName] = &entry
	return nil
}

// Snapshot returns value copies sorted by logical name.
func (r *Registry) Snapshot() []domain.ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ModelEntry, 0, len(r.entries))
	for _, e := range r.entries {
		cp := *e
		cp.PreferredFor = append([]domain.AgentKind(nil), e.PreferredFor...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogicalName < out[j].LogicalName })
	return out
}

// RecordOutcome folds one dispatch outcome into the entry: EMA latency,
// failure streak, and the derived health state. One success restores
// healthy; streaks of 3 and 6 degrade and quarantine.
func (r *Registry) RecordOutcome(logicalName string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[logicalName]
	if !ok {
		return
	}

	latencyMS := float64(latency.Milliseconds())
	if e.EMALatencyMS == 0 {
		e.EMALatencyMS = latencyMS
	} else {
		e.EMALatencyMS = emaSmoothing*latencyMS + (1-emaSmoothing)*e.EMALatencyMS
	}

	if success {
		e.ConsecutiveFailures = 0
		e.State = domain.Healthy
		return
	}

	e.ConsecutiveFailures++
	switch {
	case e.ConsecutiveFailures >= unhealthyThreshold:
		e.State = domain.Unhealthy
	case e.ConsecutiveFailures >= degradedThreshold:
		e.State = domain.Degraded
	}
}

// MarkInflight adjusts the live dispatch count; it never goes negative.
func (r *Registry) MarkInflight(logicalName string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[logicalName]
	if !ok {
		return
	}
	e.InflightCount += delta
	if e.InflightCount < 0 {
		e.InflightCount = 0
	}
}

// Restore lifts an unhealthy entry back to degraded after a readiness pass.
// A later dispatch success completes the path to healthy.
func (r *Registry) Restore(logicalName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[logicalName]
	if !ok || e.State != domain.Unhealthy {
		return
	}
	e.State = domain.Degraded
	e.ConsecutiveFailures = degradedThreshold
}

var _ domain.Registry = (*Registry)(nil)
