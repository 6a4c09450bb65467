package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the accounting kernel.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	postingsTotal       *prometheus.CounterVec
	duplicatesTotal     *prometheus.CounterVec
	fallbackMappings    *prometheus.CounterVec
	thresholdBreaches   *prometheus.CounterVec
	reversalTransitions *prometheus.CounterVec
	reconVariancesTotal prometheus.Counter
}

// NewMetrics initialises the registry and kernel metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sika_http_requests_total",
		Help: "HTTP requests served by the ops endpoint, by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sika_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sika_gl_postings_total",
		Help: "Posted journal entries by source module.",
	}, []string{"source_module"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sika_gl_duplicate_postings_suppressed_total",
		Help: "Idempotent posting calls that returned an existing entry.",
	}, []string{"source_module"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sika_gl_fallback_mappings_total",
		Help: "GL mappings created from the built-in template table.",
	}, []string{"transaction_type", "mapping_type"})
	breaches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sika_float_threshold_breaches_total",
		Help: "Float threshold breaches by direction.",
	}, []string{"direction"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sika_reversal_transitions_total",
		Help: "Reversal workflow transitions by target status.",
	}, []string{"status"})
	variances := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sika_recon_variances_total",
		Help: "Nonzero variances observed during reconciliation runs.",
	})
	registry.MustRegister(requests, duration, postings, duplicates, fallbacks, breaches, transitions, variances)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		postingsTotal:       postings,
		duplicatesTotal:     duplicates,
		fallbackMappings:    fallbacks,
		thresholdBreaches:   breaches,
		reversalTransitions: transitions,
		reconVariancesTotal: variances,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for each HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// IncPosting counts a successfully posted journal entry.
func (m *Metrics) IncPosting(sourceModule string) {
	if m == nil {
		return
	}
	m.postingsTotal.WithLabelValues(sourceModule).Inc()
}

// IncDuplicateSuppressed counts an idempotent no-op posting.
func (m *Metrics) IncDuplicateSuppressed(sourceModule string) {
	if m == nil {
		return
	}
	m.duplicatesTotal.WithLabelValues(sourceModule).Inc()
}

// IncFallbackMapping counts a mapping created from the template table.
func (m *Metrics) IncFallbackMapping(transactionType, mappingType string) {
	if m == nil {
		return
	}
	m.fallbackMappings.WithLabelValues(transactionType, mappingType).Inc()
}

// IncThresholdBreach counts a float threshold breach.
func (m *Metrics) IncThresholdBreach(direction string) {
	if m == nil {
		return
	}
	m.thresholdBreaches.WithLabelValues(direction).Inc()
}

// IncReversalTransition counts a reversal workflow transition.
func (m *Metrics) IncReversalTransition(status string) {
	if m == nil {
		return
	}
	m.reversalTransitions.WithLabelValues(status).Inc()
}

// IncReconVariance counts a nonzero reconciliation variance.
func (m *Metrics) IncReconVariance() {
	if m == nil {
		return
	}
	m.reconVariancesTotal.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
