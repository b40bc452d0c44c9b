package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgate/inference-gateway/internal/app"
	"github.com/medgate/inference-gateway/internal/config"
	"github.com/medgate/inference-gateway/internal/domain"
)

type readyRegistry struct {
	entries []domain.ModelEntry
}

func (r *readyRegistry) Register(domain.ModelEntry) error { return nil }

func (r *readyRegistry) Snapshot() []domain.ModelEntry { return r.entries }

func (r *readyRegistry) RecordOutcome(string, bool, time.Duration) {}

func (r *readyRegistry) MarkInflight(string, int) {}

type readyProbe struct {
	ids     []int
	metrics map[int]domain.GPUMetric
}

func (p *readyProbe) Current(id int) (domain.GPUMetric, bool) {
	m, ok := p.metrics[id]
	return m, ok
}

func (p *readyProbe) History(int, int) []domain.GPUMetric { return nil }

func (p *readyProbe) Devices() []int { return p.ids }

type readyQueue struct {
	state domain.HealthState
}

func (q *readyQueue) Submit(domain.Context, domain.Task) (domain.SubmitReceipt, error) {
	return domain.SubmitReceipt{}, nil
}

func (q *readyQueue) SubmitBatch(domain.Context, []domain.Task) (domain.BatchReceipt, error) {
	return domain.BatchReceipt{}, nil
}

func (q *readyQueue) Status(string) (domain.TaskView, error) { return domain.TaskView{}, nil }

func (q *readyQueue) Result(string) (domain.Task, error) { return domain.Task{}, nil }

func (q *readyQueue) Cancel(string) error { return nil }

func (q *readyQueue) BatchStatus(string) (domain.BatchView, error) { return domain.BatchView{}, nil }

func (q *readyQueue) Stats() domain.QueueStats { return domain.QueueStats{} }

func (q *readyQueue) Health() domain.HealthState { return q.state }

func (q *readyQueue) Cleanup(time.Duration) int { return 0 }

func TestBuildReadinessChecks(t *testing.T) {
	t.Parallel()
	cfg := config.Config{ProbeInterval: time.Second}
	ctx := context.Background()

	t.Run("all green", func(t *testing.T) {
		t.Parallel()
		registry := &readyRegistry{entries: []domain.ModelEntry{{LogicalName: "llama-3.1-8b-q4"}}}
		probe := &readyProbe{
			ids:     []int{0},
			metrics: map[int]domain.GPUMetric{0: {DeviceID: 0, TotalGB: 24, Timestamp: time.Now()}},
		}
		regCheck, gpuCheck, queueCheck := app.BuildReadinessChecks(cfg, registry, probe, &readyQueue{state: domain.Healthy})
		require.NoError(t, regCheck(ctx))
		require.NoError(t, gpuCheck(ctx))
		require.NoError(t, queueCheck(ctx))
	})

	t.Run("empty registry", func(t *testing.T) {
		t.Parallel()
		regCheck, _, _ := app.BuildReadinessChecks(cfg, &readyRegistry{}, &readyProbe{}, &readyQueue{})
		assert.ErrorContains(t, regCheck(ctx), "no models")
	})

	t.Run("stale sample", func(t *testing.T) {
		t.Parallel()
		probe := &readyProbe{
			ids:     []int{0},
			metrics: map[int]domain.GPUMetric{0: {DeviceID: 0, TotalGB: 24, Timestamp: time.Now().Add(-time.Minute)}},
		}
		_, gpuCheck, _ := app.BuildReadinessChecks(cfg, &readyRegistry{}, probe, &readyQueue{})
		assert.ErrorContains(t, gpuCheck(ctx), "stale")
	})

	t.Run("one live device is enough", func(t *testing.T) {
		t.Parallel()
		probe := &readyProbe{
			ids: []int{0, 1},
			metrics: map[int]domain.GPUMetric{
				0: {DeviceID: 0, Unknown: true, Timestamp: time.Now()},
				1: {DeviceID: 1, TotalGB: 24, Timestamp: time.Now()},
			},
		}
		_, gpuCheck, _ := app.BuildReadinessChecks(cfg, &readyRegistry{}, probe, &readyQueue{})
		assert.NoError(t, gpuCheck(ctx))
	})

	t.Run("no devices", func(t *testing.T) {
		t.Parallel()
		_, gpuCheck, _ := app.BuildReadinessChecks(cfg, &readyRegistry{}, &readyProbe{}, &readyQueue{})
		assert.Error(t, gpuCheck(ctx))
	})

	t.Run("unhealthy queue", func(t *testing.T) {
		t.Parallel()
		_, _, queueCheck := app.BuildReadinessChecks(cfg, &readyRegistry{}, &readyProbe{}, &readyQueue{state: domain.Unhealthy})
		assert.ErrorContains(t, queueCheck(ctx), "unhealthy")
	})

	t.Run("degraded queue still ready", func(t *testing.T) {
		t.Parallel()
		_, _, queueCheck := app.BuildReadinessChecks(cfg, &readyRegistry{}, &readyProbe{}, &readyQueue{state: domain.Degraded})
		assert.NoError(t, queueCheck(ctx))
	})

	t.Run("nil dependencies", func(t *testing.T) {
		t.Parallel()
		regCheck, gpuCheck, queueCheck := app.BuildReadinessChecks(cfg, nil, nil, nil)
		assert.Error(t, regCheck(ctx))
		assert.Error(t, gpuCheck(ctx))
		assert.Error(t, queueCheck(ctx))
	})
}
