package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medgate/inference-gateway/internal/domain"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_total",
			Help: "Total worker dispatches by model and outcome",
		},
		[]string{"model", "outcome"},
	)
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Worker dispatch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Tasks waiting in the queue per priority class",
		},
		[]string{"priority"},
	)
	TasksProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasks_processing",
			Help: "Tasks currently dispatched to a worker",
		},
	)
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_total",
			Help: "Tasks reaching a terminal status",
		},
		[]string{"status"},
	)
	TasksSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_submitted_total",
			Help: "Accepted task submissions",
		},
	)
	TasksRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_rejected_total",
			Help: "Submissions rejected because the queue was full",
		},
	)

	GPUMemoryUsedGB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpu_memory_used_gb",
			Help: "GPU memory used per device in GiB",
		},
		[]string{"device"},
	)
	GPUMemoryTotalGB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpu_memory_total_gb",
			Help: "GPU memory capacity per device in GiB",
		},
		[]string{"device"},
	)
	GPUUtilizationPct = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpu_utilization_pct",
			Help: "GPU utilization per device",
		},
		[]string{"device"},
	)
	GPUTemperatureC = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpu_temperature_celsius",
			Help: "GPU temperature per device",
		},
		[]string{"device"},
	)
	GPUPressureLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpu_pressure_level",
			Help: "Classified pressure level per device (0=low 1=normal 2=high 3=critical)",
		},
		[]string{"device"},
	)

	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_hits_total",
			Help: "Response cache hits",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_misses_total",
			Help: "Response cache misses",
		},
	)

	ExternalAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "external_provider_attempts_total",
			Help: "Requests attempted against the external provider",
		},
	)
	ExternalFailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "external_provider_failovers_total",
			Help: "External provider failures that fell back to local dispatch",
		},
	)

	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by the sliding-window rate limiter",
		},
		[]string{"agent_kind"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(DispatchTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(TasksProcessing)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksSubmittedTotal)
	prometheus.MustRegister(TasksRejectedTotal)
	prometheus.MustRegister(GPUMemoryUsedGB)
	prometheus.MustRegister(GPUMemoryTotalGB)
	prometheus.MustRegister(GPUUtilizationPct)
	prometheus.MustRegister(GPUTemperatureC)
	prometheus.MustRegister(GPUPressureLevel)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(ExternalAttemptsTotal)
	prometheus.MustRegister(ExternalFailoversTotal)
	prometheus.MustRegister(RateLimitRejectionsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveDispatch records one dispatch attempt outcome.
func ObserveDispatch(model, outcome string, dur time.Duration) {
	DispatchTotal.WithLabelValues(model, outcome).Inc()
	DispatchDuration.WithLabelValues(model).Observe(dur.Seconds())
}

// ObserveGPUSample publishes one probe sample and its classified level.
func ObserveGPUSample(m domain.GPUMetric, level domain.PressureLevel) {
	device := deviceLabel(m.DeviceID)
	GPUMemoryUsedGB.WithLabelValues(device).Set(m.UsedGB)
	GPUMemoryTotalGB.WithLabelValues(device).Set(m.TotalGB)
	GPUUtilizationPct.WithLabelValues(device).Set(m.UtilizationPct)
	GPUTemperatureC.WithLabelValues(device).Set(m.TemperatureC)
	GPUPressureLevel.WithLabelValues(device).Set(float64(level))
}

func deviceLabel(id int) string {
	return strconv.Itoa(id)
}

func StartProcessingTask() {
	TasksProcessing.Inc()
}

// FinishTask records a terminal status and releases the processing slot the
// task held, if any.
func FinishTask(status domain.TaskStatus, heldSlot bool) {
	if heldSlot {
		TasksProcessing.Dec()
	}
	TasksTotal.WithLabelValues(string(status)).Inc()
}
