// Package app assembles the HTTP surface: middleware order, the route
// table and readiness wiring.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/medgate/inference-gateway/internal/config"
	"github.com/medgate/inference-gateway/internal/domain"
)

// BuildReadinessChecks returns three readiness checks: a populated model
// registry, a live GPU sample and a non-saturated queue. The gateway is
// ready once it could actually place a dispatch somewhere.
func BuildReadinessChecks(cfg config.Config, registry domain.Registry, probe domain.GPUProbe, queue domain.TaskQueue) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	maxSampleAge := 10 * cfg.ProbeInterval
	if maxSampleAge <= 0 {
		maxSampleAge = 10 * time.Second
	}
	registryCheck := func(_ context.Context) error {
		if registry == nil {
			return fmt.Errorf("registry not configured")
		}
		if len(registry.Snapshot()) == 0 {
			return fmt.Errorf("no models registered")
		}
		return nil
	}
	gpuCheck := func(_ context.Context) error {
		if probe == nil {
			return fmt.Errorf("gpu probe not configured")
		}
		ids := probe.Devices()
		if len(ids) == 0 {
			return fmt.Errorf("no devices probed")
		}
		// One live device is enough: the balancer routes around the rest.
		var lastErr error
		for _, id := range ids {
			m, ok := probe.Current(id)
			if !ok || m.Unknown {
				lastErr = fmt.Errorf("device %d has no live sample", id)
				continue
			}
			if age := time.Since(m.Timestamp); age > maxSampleAge {
				lastErr = fmt.Errorf("device %d sample is stale (%s)", id, age.Round(time.Millisecond))
				continue
			}
			return nil
		}
		return lastErr
	}
	queueCheck := func(_ context.Context) error {
		if queue == nil {
			return fmt.Errorf("queue not configured")
		}
		if state := queue.Health(); state == domain.Unhealthy {
			return fmt.Errorf("queue is unhealthy")
		}
		return nil
	}
	return registryCheck, gpuCheck, queueCheck
}
