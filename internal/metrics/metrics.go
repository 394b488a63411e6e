package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coin",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coin",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coin",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coin",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Audited ledger operations by outcome.",
		},
		[]string{"operation", "status"},
	)

	chainCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coin",
			Subsystem: "chain",
			Name:      "call_duration_seconds",
			Help:      "Duration of contract invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"method", "kind", "success"},
	)

	batchJobs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coin",
			Subsystem: "batch",
			Name:      "jobs_total",
			Help:      "Batch fill jobs accepted.",
		},
	)

	batchTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coin",
			Subsystem: "batch",
			Name:      "tasks_total",
			Help:      "Batch fill tasks finished by outcome.",
		},
		[]string{"success"},
	)

	poolAccounts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "coin",
			Subsystem: "pool",
			Name:      "accounts",
			Help:      "Chain accounts in the pool after the last reconciliation.",
		},
		[]string{"state"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerOperations,
		chainCalls,
		batchJobs,
		batchTasks,
		poolAccounts,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := routePath(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordOperation counts an audited ledger operation.
func RecordOperation(operation, status string) {
	ledgerOperations.WithLabelValues(operation, status).Inc()
}

// RecordChainCall records a contract invocation. kind is "call" or "send".
func RecordChainCall(method, kind string, duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	chainCalls.WithLabelValues(method, kind, strconv.FormatBool(success)).Observe(duration.Seconds())
}

// RecordBatchJob counts an accepted batch fill job.
func RecordBatchJob() {
	batchJobs.Inc()
}

// RecordBatchTask counts a finished batch fill task.
func RecordBatchTask(success bool) {
	batchTasks.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// SetPoolAccounts publishes pool occupancy.
func SetPoolAccounts(bound, free int) {
	poolAccounts.WithLabelValues("bound").Set(float64(bound))
	poolAccounts.WithLabelValues("free").Set(float64(free))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// routePath prefers the matched mux template so ids do not explode label cardinality.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return canonicalPath(r.URL.Path)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}
