// Package balancer picks one concrete dispatch target from the candidate
// models, honoring live GPU pressure and registry health.
package balancer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/medgate/inference-gateway/internal/domain"
)

// Balancer combines registry snapshots with probe samples. It holds no
// state of its own; every Decide works on fresh copies.
type Balancer struct {
	registry  domain.Registry
	probe     domain.GPUProbe
	reserveGB float64
}

func New(reg domain.Registry, probe domain.GPUProbe, safetyReserveGB float64) *Balancer {
	if safetyReserveGB < 0 {
		safetyReserveGB = 0
	}
	return &Balancer{registry: reg, probe: probe, reserveGB: safetyReserveGB}
}

// Decide filters and ranks the candidates, returning the top target with a
// rationale naming the rules that shaped the choice.
//
// Selection order: drop unhealthy and too-small context windows; apply the
// per-device pressure rule (headroom fit below critical, smallest-VRAM-only
// at critical); prefer at-or-below-median VRAM under normal pressure and
// require it under high; rank survivors by health, failure streak, inflight,
// EMA latency, VRAM and finally name for determinism.
func (b *Balancer) Decide(candidates []string, minContextTokens int) (domain.RoutingDecision, error) {
	if len(candidates) == 0 {
		return domain.RoutingDecision{}, fmt.Errorf("op=balancer.Decide: %w: no candidates", domain.ErrNoViableTarget)
	}

	byName := make(map[string]domain.ModelEntry)
	for _, e := range b.registry.Snapshot() {
		byName[e.LogicalName] = e
	}

	pressure := make(map[int]domain.PressureLevel)
	headroom := make(map[int]float64)
	for _, e := range byName {
		if _, seen := pressure[e.DeviceID]; seen {
			continue
		}
		m, ok := b.probe.Current(e.DeviceID)
		if !ok {
			m = domain.GPUMetric{DeviceID: e.DeviceID, Unknown: true}
		}
		pressure[e.DeviceID] = domain.ClassifyPressure(m)
		headroom[e.DeviceID] = m.TotalGB - m.UsedGB - b.reserveGB
	}

	var notes []string

	// Health and context filtering. Degraded entries stay admissible here;
	// the composite ranking puts them behind every healthy survivor.
	survivors := make([]domain.ModelEntry, 0, len(candidates))
	for _, name := range candidates {
		e, known := byName[name]
		if !known {
			continue
		}
		if e.State == domain.Unhealthy {
			continue
		}
		if minContextTokens > 0 && e.MaxContextTokens < minContextTokens {
			continue
		}
		survivors = append(survivors, e)
	}
	if len(survivors) == 0 {
		return domain.RoutingDecision{}, fmt.Errorf("op=balancer.Decide: %w: no healthy candidate fits context %d", domain.ErrNoViableTarget, minContextTokens)
	}

	// Per-device pressure rules. Below critical, the entry must fit the
	// estimated headroom. At critical only the smallest entry per device
	// survives, and only while idle, so critical devices drain one at a time.
	smallest := smallestPerDevice(survivors)
	filtered := survivors[:0]
	criticalSeen := false
	for _, e := range survivors {
		level := pressure[e.DeviceID]
		if level == domain.PressureCritical {
			criticalSeen = true
			if e.LogicalName != smallest[e.DeviceID] {
				continue
			}
			if e.InflightCount > 0 {
				continue
			}
			filtered = append(filtered, e)
			continue
		}
		if e.DeclaredVRAMGB > headroom[e.DeviceID] {
			continue
		}
		filtered = append(filtered, e)
	}
	if criticalSeen {
		notes = append(notes, "critical pressure: smallest idle model per device only")
	}
	if len(filtered) == 0 {
		return domain.RoutingDecision{}, fmt.Errorf("op=balancer.Decide: %w: pressure rules left no target", domain.ErrNoViableTarget)
	}

	// Median VRAM shaping for normal and high pressure devices.
	med := medianVRAM(filtered)
	shaped := make([]domain.ModelEntry, 0, len(filtered))
	preferApplied, dropApplied := false, false
	for _, e := range filtered {
		switch pressure[e.DeviceID] {
		case domain.PressureHigh:
			if e.DeclaredVRAMGB > med {
				dropApplied = true
				continue
			}
		case domain.PressureNormal:
			if e.DeclaredVRAMGB > med {
				preferApplied = true
				continue
			}
		}
		shaped = append(shaped, e)
	}
	if len(shaped) == 0 {
		// The normal-pressure rule is a preference, not a mandate: retry
		// keeping only the mandatory high-pressure drop.
		preferApplied = false
		for _, e := range filtered {
			if pressure[e.DeviceID] == domain.PressureHigh && e.DeclaredVRAMGB > med {
				continue
			}
			shaped = append(shaped, e)
		}
		if len(shaped) == 0 {
			return domain.RoutingDecision{}, fmt.Errorf("op=balancer.Decide: %w: high pressure dropped every candidate", domain.ErrNoViableTarget)
		}
	}
	if preferApplied {
		notes = append(notes, fmt.Sprintf("normal pressure: preferring vram<=%.1fgb", med))
	}
	if dropApplied {
		notes = append(notes, fmt.Sprintf("high pressure: dropped vram>%.1fgb", med))
	}

	sort.Slice(shaped, func(i, j int) bool { return less(shaped[i], shaped[j]) })
	top := shaped[0]

	notes = append(notes, fmt.Sprintf(
		"picked %s on device %d (%s, failures=%d, inflight=%d, ema=%.0fms, pressure=%s)",
		top.LogicalName, top.DeviceID, top.State, top.ConsecutiveFailures,
		top.InflightCount, top.EMALatencyMS, pressure[top.DeviceID]))

	return domain.RoutingDecision{
		Model:              top,
		EndpointURL:        top.EndpointURL,
		Rationale:          strings.Join(notes, "; "),
		EstimatedLatencyMS: top.EMALatencyMS,
	}, nil
}

// less orders by the composite key: state, failure streak, inflight, EMA
// latency, declared VRAM, then name for a deterministic total order.
func less(a, b domain.ModelEntry) bool {
	if a.State.StateRank() != b.State.StateRank() {
		return a.State.StateRank() < b.State.StateRank()
	}
	if a.ConsecutiveFailures != b.ConsecutiveFailures {
		return a.ConsecutiveFailures < b.ConsecutiveFailures
	}
	if a.InflightCount != b.InflightCount {
		return a.InflightCount < b.InflightCount
	}
	if a.EMALatencyMS != b.EMALatencyMS {
		return a.EMALatencyMS < b.EMALatencyMS
	}
	if a.DeclaredVRAMGB != b.DeclaredVRAMGB {
		return a.DeclaredVRAMGB < b.DeclaredVRAMGB
	}
	return a.LogicalName < b.LogicalName
}

func smallestPerDevice(entries []domain.ModelEntry) map[int]string {
	out := make(map[int]string)
	vram := make(map[int]float64)
	for _, e := range entries {
		cur, seen := vram[e.DeviceID]
		if !seen || e.DeclaredVRAMGB < cur ||
			(e.DeclaredVRAMGB == cur && e.LogicalName < out[e.DeviceID]) {
			vram[e.DeviceID] = e.DeclaredVRAMGB
			out[e.DeviceID] = e.LogicalName
		}
	}
	return out
}

func medianVRAM(entries []domain.ModelEntry) float64 {
	sizes := make([]float64, len(entries))
	for i, e := range entries {
		sizes[i] = e.DeclaredVRAMGB
	}
	sort.Float64s(sizes)
	n := len(sizes)
	if n%2 == 1 {
		return sizes[n/2]
	}
	return (sizes[n/2-1] + sizes[n/2]) / 2
}

var _ domain.Balancer = (*Balancer)(nil)
