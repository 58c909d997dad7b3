package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	taskDurationBuckets = []float64{1, 10, 60, 300, 1800, 3600, 14400, 86400}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Process metrics
	ProcessStartsTotal      *prometheus.CounterVec
	ProcessCompletionsTotal *prometheus.CounterVec
	ProcessActiveInstances  *prometheus.GaugeVec

	// Task metrics
	TaskTransitionsTotal *prometheus.CounterVec
	TaskDurationSeconds  *prometheus.HistogramVec
	TaskRetriesTotal     *prometheus.CounterVec

	// SLA metrics
	SLAAtRiskTotal   prometheus.Counter
	SLABreachesTotal *prometheus.CounterVec

	// Event metrics
	EventsPublishedTotal *prometheus.CounterVec

	// System metrics
	DefinitionsLoaded     prometheus.Gauge
	DefinitionReloadTotal *prometheus.CounterVec
	IdempotencyHitsTotal  prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atoms_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atoms_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atoms_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atoms_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Processes
		ProcessStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atoms_process_starts_total",
			Help: "Total number of process instances started.",
		}, []string{"definition_id"}),
		ProcessCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atoms_process_completions_total",
			Help: "Total number of process instances reaching a terminal status.",
		}, []string{"definition_id", "final_status"}),
		ProcessActiveInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "atoms_process_active_instances",
			Help: "Number of open process instances.",
		}, []string{"definition_id"}),

		// Tasks
		TaskTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atoms_task_transitions_total",
			Help: "Total number of task status transitions.",
		}, []string{"status"}),
		TaskDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atoms_task_duration_seconds",
			Help:    "Time from task start to completion in seconds.",
			Buckets: taskDurationBuckets,
		}, []string{"definition_id"}),
		TaskRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atoms_task_retries_total",
			Help: "Total number of task retry attempts.",
		}, []string{"definition_id"}),

		// SLA
		SLAAtRiskTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atoms_sla_at_risk_total",
			Help: "Total number of SLA metrics flagged at risk.",
		}),
		SLABreachesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atoms_sla_breaches_total",
			Help: "Total number of SLA breaches.",
		}, []string{"kind"}),

		// Events
		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atoms_events_published_total",
			Help: "Total number of lifecycle events published.",
		}, []string{"type"}),

		// System
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atoms_definitions_loaded",
			Help: "Number of loaded process definitions.",
		}),
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atoms_definition_reload_total",
			Help: "Total definition reloads.",
		}, []string{"status"}),
		IdempotencyHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atoms_idempotency_hits_total",
			Help: "Total idempotency cache hits.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Processes
		m.ProcessStartsTotal,
		m.ProcessCompletionsTotal,
		m.ProcessActiveInstances,
		// Tasks
		m.TaskTransitionsTotal,
		m.TaskDurationSeconds,
		m.TaskRetriesTotal,
		// SLA
		m.SLAAtRiskTotal,
		m.SLABreachesTotal,
		// Events
		m.EventsPublishedTotal,
		// System
		m.DefinitionsLoaded,
		m.DefinitionReloadTotal,
		m.IdempotencyHitsTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordProcessStart records a process instance start.
func (m *Metrics) RecordProcessStart(definitionID string) {
	m.ProcessStartsTotal.WithLabelValues(definitionID).Inc()
	m.ProcessActiveInstances.WithLabelValues(definitionID).Inc()
}

// RecordProcessCompletion records a process reaching a terminal status.
func (m *Metrics) RecordProcessCompletion(definitionID, finalStatus string) {
	m.ProcessCompletionsTotal.WithLabelValues(definitionID, finalStatus).Inc()
	m.ProcessActiveInstances.WithLabelValues(definitionID).Dec()
}

// RecordTaskTransition records a task status transition.
func (m *Metrics) RecordTaskTransition(status string) {
	m.TaskTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordTaskDuration records the working time of a completed task.
func (m *Metrics) RecordTaskDuration(definitionID string, duration time.Duration) {
	m.TaskDurationSeconds.WithLabelValues(definitionID).Observe(duration.Seconds())
}

// RecordTaskRetry records a task retry attempt.
func (m *Metrics) RecordTaskRetry(definitionID string) {
	m.TaskRetriesTotal.WithLabelValues(definitionID).Inc()
}

// RecordSLAAtRisk records an SLA metric flagged at risk.
func (m *Metrics) RecordSLAAtRisk() {
	m.SLAAtRiskTotal.Inc()
}

// RecordSLABreach records an SLA breach for a process or task metric.
func (m *Metrics) RecordSLABreach(kind string) {
	m.SLABreachesTotal.WithLabelValues(kind).Inc()
}

// RecordEventPublished records a published lifecycle event.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// RecordIdempotencyHit records an idempotency cache hit.
func (m *Metrics) RecordIdempotencyHit() {
	m.IdempotencyHitsTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
