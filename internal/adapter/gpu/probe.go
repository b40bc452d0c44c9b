// Package gpu samples per-device state at a fixed cadence and serves
// bounded history snapshots to the balancer and the HTTP surface.
package gpu

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/medgate/inference-gateway/internal/adapter/observability"
	"github.com/medgate/inference-gateway/internal/domain"
)

// Querier is the device query collaborator. Implementations wrap NVML,
// the nvidia-smi CLI, or a static fixture.
type Querier interface {
	Devices() ([]int, error)
	Query(ctx context.Context, deviceID int) (domain.GPUMetric, error)
}

// HistoryCap bounds the per-device ring buffer.
const HistoryCap = 100

// errLogInterval rate-limits query failure logging per device.
const errLogInterval = time.Minute

type ring struct {
	samples [HistoryCap]domain.GPUMetric
	next    int
	full    bool
}

func (r *ring) push(m domain.GPUMetric) {
	r.samples[r.next] = m
	r.next = (r.next + 1) % HistoryCap
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return HistoryCap
	}
	return r.next
}

// recent returns up to n samples, newest first.
func (r *ring) recent(n int) []domain.GPUMetric {
	size := r.len()
	if n > size {
		n = size
	}
	out := make([]domain.GPUMetric, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + HistoryCap) % HistoryCap
		out = append(out, r.samples[idx])
	}
	return out
}

// Probe owns the sampling loop. Only the loop writes the rings; readers
// copy under a short lock.
type Probe struct {
	querier  Querier
	interval time.Duration

	mu         sync.RWMutex
	rings      map[int]*ring
	devices    []int
	lastErrLog map[int]time.Time
}

// New builds a probe over the given querier. A non-positive interval falls
// back to one second.
func New(q Querier, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = time.Second
	}
	return &Probe{
		querier:    q,
		interval:   interval,
		rings:      make(map[int]*ring),
		lastErrLog: make(map[int]time.Time),
	}
}

// Run samples until the context is cancelled. It never terminates on query
// errors; failed queries record synthetic unknown samples instead.
func (p *Probe) Run(ctx context.Context) {
	p.tick(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Probe) tick(ctx context.Context) {
	devices := p.knownDevices()
	if len(devices) == 0 {
		ids, err := p.querier.Devices()
		if err != nil {
			p.logThrottled(-1, "gpu device enumeration failed", err)
			return
		}
		sort.Ints(ids)
		p.mu.Lock()
		p.devices = ids
		for _, id := range ids {
			if _, ok := p.rings[id]; !ok {
				p.rings[id] = &ring{}
			}
		}
		p.mu.Unlock()
		devices = ids
	}

	for _, id := range devices {
		qctx, cancel := context.WithTimeout(ctx, p.interval)
		m, err := p.querier.Query(qctx, id)
		cancel()
		if err != nil {
			p.logThrottled(id, "gpu query failed", err)
			m = domain.GPUMetric{DeviceID: id, Unknown: true, Timestamp: time.Now()}
		} else {
			m.DeviceID = id
			if m.Timestamp.IsZero() {
				m.Timestamp = time.Now()
			}
		}
		p.mu.Lock()
		r, ok := p.rings[id]
		if !ok {
			r = &ring{}
			p.rings[id] = r
		}
		r.push(m)
		p.mu.Unlock()
		observability.ObserveGPUSample(m, domain.ClassifyPressure(m))
	}
}

func (p *Probe) knownDevices() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]int(nil), p.devices...)
}

// logThrottled logs at most once per errLogInterval per device.
func (p *Probe) logThrottled(deviceID int, msg string, err error) {
	p.mu.Lock()
	last := p.lastErrLog[deviceID]
	now := time.Now()
	if now.Sub(last) < errLogInterval {
		p.mu.Unlock()
		return
	}
	p.lastErrLog[deviceID] = now
	p.mu.Unlock()
	slog.Warn(msg, slog.Int("device_id", deviceID), slog.Any("error", err))
}

// Current returns the most recent sample for a device. The bool reports
// whether any sample exists.
func (p *Probe) Current(deviceID int) (domain.GPUMetric, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.rings[deviceID]
	if !ok || r.len() == 0 {
		return domain.GPUMetric{}, false
	}
	got := r.recent(1)
	return got[0], true
}

// History returns up to n most recent samples, newest first. Callers own
// the returned slice.
func (p *Probe) History(deviceID int, n int) []domain.GPUMetric {
	if n <= 0 {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.rings[deviceID]
	if !ok {
		return nil
	}
	return r.recent(n)
}

// Devices lists sampled device IDs in ascending order.
func (p *Probe) Devices() []int {
	return p.knownDevices()
}

var _ domain.GPUProbe = (*Probe)(nil)
