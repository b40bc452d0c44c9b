package gpu

import (
	"context"
	"sort"
	"sync"

	"github.com/medgate/inference-gateway/internal/domain"
)

// StaticQuerier serves fixed samples. It backs GPU_SOURCE=static on boxes
// without GPUs and drives probe and balancer tests.
type StaticQuerier struct {
	mu      sync.RWMutex
	samples map[int]domain.GPUMetric
}

// NewStatic seeds a querier with one sample per device.
func NewStatic(samples ...domain.GPUMetric) *StaticQuerier {
	q := &StaticQuerier{samples: make(map[int]domain.GPUMetric, len(samples))}
	for _, m := range samples {
		q.samples[m.DeviceID] = m
	}
	return q
}

// DefaultStatic mimics a single idle 24 GiB device.
func DefaultStatic() *StaticQuerier {
	return NewStatic(domain.GPUMetric{
		DeviceID: 0, UsedGB: 2, TotalGB: 24, UtilizationPct: 5, TemperatureC: 40, PowerW: 60,
	})
}

// Set replaces the sample for a device.
func (q *StaticQuerier) Set(m domain.GPUMetric) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.samples[m.DeviceID] = m
}

func (q *StaticQuerier) Devices() ([]int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	ids := make([]int, 0, len(q.samples))
	for id := range q.samples {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (q *StaticQuerier) Query(_ context.Context, deviceID int) (domain.GPUMetric, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	m, ok := q.samples[deviceID]
	if !ok {
		return domain.GPUMetric{}, domain.ErrNotFound
	}
	return m, nil
}

var _ Querier = (*StaticQuerier)(nil)
