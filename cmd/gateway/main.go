// Command gateway starts the inference gateway HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medgate/inference-gateway/internal/adapter/audit"
	"github.com/medgate/inference-gateway/internal/adapter/balancer"
	"github.com/medgate/inference-gateway/internal/adapter/gpu"
	"github.com/medgate/inference-gateway/internal/adapter/gpu/nvml"
	"github.com/medgate/inference-gateway/internal/adapter/gpu/smictl"
	"github.com/medgate/inference-gateway/internal/adapter/httpserver"
	"github.com/medgate/inference-gateway/internal/adapter/llm"
	"github.com/medgate/inference-gateway/internal/adapter/llm/tokencount"
	"github.com/medgate/inference-gateway/internal/adapter/observability"
	"github.com/medgate/inference-gateway/internal/adapter/provider"
	"github.com/medgate/inference-gateway/internal/adapter/queue"
	"github.com/medgate/inference-gateway/internal/adapter/registry"
	"github.com/medgate/inference-gateway/internal/adapter/routing"
	"github.com/medgate/inference-gateway/internal/app"
	"github.com/medgate/inference-gateway/internal/config"
	"github.com/medgate/inference-gateway/internal/domain"
	"github.com/medgate/inference-gateway/internal/usecase"
)

// buildQuerier selects the device query implementation. NVML failures fall
// back to the nvidia-smi CLI so a broken driver library does not take the
// gateway down with it.
func buildQuerier(cfg config.Config) gpu.Querier {
	switch cfg.GPUSource {
	case "nvidia-smi":
		return smictl.New()
	case "static":
		slog.Warn("using static gpu fixtures; not for production")
		return gpu.DefaultStatic()
	default:
		q, err := nvml.New()
		if err != nil {
			slog.Warn("nvml unavailable, falling back to nvidia-smi", slog.Any("error", err))
			return smictl.New()
		}
		return q
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /metrics exposes
	// HTTP, dispatch, queue and GPU instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Model fleet
	fleet, err := config.LoadFleet(cfg)
	if err != nil {
		slog.Error("fleet load failed", slog.Any("error", err))
		os.Exit(1)
	}
	reg := registry.New()
	for _, entry := range fleet.ModelEntries() {
		if err := reg.Register(entry); err != nil {
			slog.Error("model registration failed", slog.String("model", entry.LogicalName), slog.Any("error", err))
			os.Exit(1)
		}
	}
	slog.Info("fleet registered", slog.Int("models", len(fleet.Workers)))

	// Background samplers and workers stop after the HTTP listener drains.
	runCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	probe := gpu.New(buildQuerier(cfg), cfg.ProbeInterval)
	go probe.Run(runCtx)

	// Worker transport. Health probes bypass the response cache.
	llmClient := llm.New(cfg.DefaultRequestTimeout, cfg.WorkerAPIKey)
	var modelClient domain.ModelClient = llmClient
	var cache *llm.Cache
	if cfg.CacheEnabled() {
		cache = llm.NewCache(llmClient, cfg.CacheTTL, cfg.CacheMaxEntries)
		modelClient = cache
		slog.Info("response cache enabled", slog.Duration("ttl", cfg.CacheTTL), slog.Int("max_entries", cfg.CacheMaxEntries))
	}
	prober := registry.NewProber(reg, llmClient, cfg.HealthProbeInterval)
	go prober.Run(runCtx)

	// Dispatch pipeline
	counter := tokencount.NewCounter()
	agentRouter := routing.New(fleet.AgentMap(), reg)
	bal := balancer.New(reg, probe, cfg.SafetyReserveGB)
	dispatcher := usecase.NewDispatchService(reg, agentRouter, bal, modelClient, counter, cfg.DispatchRetryBudget)

	// Audit trail: structured log always, Kafka fan-out when configured.
	var sink domain.AuditSink = audit.NewLogSink(logger)
	if cfg.AuditKafkaEnabled() {
		kafkaSink, err := audit.NewKafkaSink(cfg.AuditKafkaBrokers, cfg.AuditTopic)
		if err != nil {
			slog.Error("audit kafka connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sink = audit.Tee{sink, kafkaSink}
	}

	external := provider.New(cfg)
	chat := usecase.NewChatService(external, dispatcher, counter, sink)

	taskQueue := queue.New(cfg, dispatcher, agentRouter, bal, counter, cache)
	taskQueue.Start(runCtx)

	// HTTP surface
	srv, err := httpserver.NewServer(cfg, chat, taskQueue, reg, probe, sink)
	if err != nil {
		slog.Error("server construction failed", slog.Any("error", err))
		os.Exit(1)
	}
	srv.RegistryCheck, srv.GPUCheck, srv.QueueCheck = app.BuildReadinessChecks(cfg, reg, probe, taskQueue)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)

	// Stop workers only after the listener drains so in-flight async
	// dispatches can still finish and record results.
	stopWorkers()
	taskQueue.Wait()
	slog.Info("gateway stopped")
}
