package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/medgate/inference-gateway/internal/domain"
)

const probeTimeout = 5 * time.Second

// Prober periodically sends readiness checks to every endpoint and lifts
// unhealthy entries back into rotation when they pass.
type Prober struct {
	registry *Registry
	client   domain.ModelClient
	interval time.Duration
}

func NewProber(reg *Registry, client domain.ModelClient, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{registry: reg, client: client, interval: interval}
}

// Run probes until the context is cancelled.
func (p *Prober) Run(ctx context.Context) {
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

func (p *Prober) tick(ctx context.Context) {
	entries := p.registry.Snapshot()
	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e domain.ModelEntry) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			err := p.client.CheckHealth(cctx, e.EndpointURL)
			if err != nil {
				slog.Debug("readiness probe failed",
					slog.String("model", e.LogicalName),
					slog.String("state", string(e.State)),
					slog.Any("error", err))
				return
			}
			if e.State == domain.Unhealthy {
				p.registry.Restore(e.LogicalName)
				slog.Info("model restored to degraded after readiness pass",
					slog.String("model", e.LogicalName))
			}
		}(e)
	}
	wg.Wait()
}
