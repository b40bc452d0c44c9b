// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all gateway configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// GatewayAPIKey enables static bearer auth on the API when non-empty.
	GatewayAPIKey string `env:"GATEWAY_API_KEY"`
	// WorkerAPIKey is sent as the bearer token on dispatches to local workers.
	WorkerAPIKey string `env:"WORKER_API_KEY"`

	// WorkersFile points at the YAML fleet definition. WorkersYAML, when set,
	// overrides the file with an inline document (test hook).
	WorkersFile string `env:"WORKERS_FILE" envDefault:"configs/workers.yaml"`
	WorkersYAML string `env:"WORKERS_YAML"`

	QueueCapacity   int           `env:"QUEUE_CAPACITY" envDefault:"1000"`
	QueueWorkers    int           `env:"QUEUE_WORKERS" envDefault:"4"`
	BatchMaxSize    int           `env:"BATCH_MAX_SIZE" envDefault:"8"`
	BatchWindow     time.Duration `env:"BATCH_WINDOW" envDefault:"100ms"`
	ResultTTL       time.Duration `env:"RESULT_TTL" envDefault:"300s"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"30s"`

	// Queue health thresholds: depth as a fraction of capacity, plus a
	// failures-per-minute bound before the queue reports degraded.
	QueueDegradedDepthPct  float64 `env:"QUEUE_DEGRADED_DEPTH_PCT" envDefault:"0.8"`
	QueueUnhealthyDepthPct float64 `env:"QUEUE_UNHEALTHY_DEPTH_PCT" envDefault:"0.95"`
	QueueDegradedFailures  int     `env:"QUEUE_DEGRADED_FAILURES" envDefault:"10"`

	ProbeInterval       time.Duration `env:"PROBE_INTERVAL" envDefault:"1s"`
	HealthProbeInterval time.Duration `env:"HEALTH_PROBE_INTERVAL" envDefault:"30s"`
	// GPUSource selects the device query implementation: nvml, nvidia-smi
	// or static (fixture-driven, for dev boxes without GPUs).
	GPUSource       string  `env:"GPU_SOURCE" envDefault:"nvml"`
	SafetyReserveGB float64 `env:"SAFETY_RESERVE_GB" envDefault:"3"`

	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"100"`

	// MaxTokensDefault caps max_tokens for kinds absent from the per-agent
	// table. PerAgentMaxTokens entries take the form kind=limit.
	MaxTokensDefault  int      `env:"MAX_TOKENS_DEFAULT" envDefault:"4096"`
	PerAgentMaxTokens []string `env:"PER_AGENT_MAX_TOKENS" envSeparator:","`

	DefaultRequestTimeout time.Duration `env:"DEFAULT_REQUEST_TIMEOUT" envDefault:"60s"`
	DispatchRetryBudget   int           `env:"DISPATCH_RETRY_BUDGET" envDefault:"2"`

	ExternalLLMEnabled bool          `env:"EXTERNAL_LLM_ENABLED" envDefault:"false"`
	ExternalLLMBaseURL string        `env:"EXTERNAL_LLM_BASE_URL"`
	ExternalLLMAPIKey  string        `env:"EXTERNAL_LLM_API_KEY"`
	ExternalLLMModel   string        `env:"EXTERNAL_LLM_MODEL" envDefault:"gpt-4o-mini"`
	ExternalLLMName    string        `env:"EXTERNAL_LLM_NAME" envDefault:"external"`
	ExternalLLMTimeout time.Duration `env:"EXTERNAL_LLM_TIMEOUT" envDefault:"30s"`

	// CacheTTL of zero disables the response cache.
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"0s"`
	CacheMaxEntries int           `env:"CACHE_MAX_ENTRIES" envDefault:"512"`

	AuditKafkaBrokers []string `env:"AUDIT_KAFKA_BROKERS" envSeparator:","`
	AuditTopic        string   `env:"AUDIT_TOPIC" envDefault:"gateway.audit"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"inference-gateway"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// AuthEnabled reports whether bearer auth is active on the API.
func (c Config) AuthEnabled() bool { return c.GatewayAPIKey != "" }

// AuditKafkaEnabled reports whether audit records are shipped to Kafka.
func (c Config) AuditKafkaEnabled() bool {
	return len(c.AuditKafkaBrokers) > 0 && c.AuditKafkaBrokers[0] != ""
}

// CacheEnabled reports whether the response cache is active.
func (c Config) CacheEnabled() bool { return c.CacheTTL > 0 }

// MaxTokensTable expands PER_AGENT_MAX_TOKENS into a kind-keyed ceiling map.
// Entries look like chat=2048. Kinds absent from the table fall back to
// MaxTokensDefault at lookup time.
func (c Config) MaxTokensTable() (map[string]int, error) {
	table := make(map[string]int, len(c.PerAgentMaxTokens))
	for _, pair := range c.PerAgentMaxTokens {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kind, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("op=config.MaxTokensTable: malformed entry %q", pair)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("op=config.MaxTokensTable: bad limit in %q", pair)
		}
		table[strings.TrimSpace(kind)] = limit
	}
	return table, nil
}
