package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Upstream record system
	upstreamFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_fetch_total",
			Help: "Category fetches by outcome (ok, http_error, timeout, network_error, error)",
		},
		[]string{"category", "outcome"},
	)

	upstreamFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_fetch_duration_seconds",
			Help:    "Category fetch duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"category"},
	)

	contextResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "context_resolutions_total",
			Help: "Clinical context requests by outcome (resolved, disambiguation, not_found, error)",
		},
		[]string{"mode", "outcome"},
	)

	// Verification
	verificationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_decisions_total",
			Help: "Verification results by decision and confidence",
		},
		[]string{"decision", "confidence"},
	)

	verificationFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_findings_total",
			Help: "Verification findings by check and severity",
		},
		[]string{"check", "severity"},
	)

	claimValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_validations_total",
			Help: "Claim readiness validations by result",
		},
		[]string{"ready"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern prefers the matched chi route template over the raw path
// to keep label cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if len(r.URL.Path) > 100 {
		return "/api/..."
	}
	return r.URL.Path
}

// --- Domain metric helpers ---

// RecordUpstreamFetch records a category fetch and its outcome
func RecordUpstreamFetch(category, outcome string, duration time.Duration) {
	upstreamFetchTotal.WithLabelValues(category, outcome).Inc()
	upstreamFetchDuration.WithLabelValues(category).Observe(duration.Seconds())
}

// RecordContextResolution records how a clinical context request ended
func RecordContextResolution(mode, outcome string) {
	contextResolutions.WithLabelValues(mode, outcome).Inc()
}

// RecordVerification records a verification decision
func RecordVerification(decision, confidence string) {
	verificationDecisions.WithLabelValues(decision, confidence).Inc()
}

// RecordFinding records a single verification finding
func RecordFinding(check, severity string) {
	verificationFindings.WithLabelValues(check, severity).Inc()
}

// RecordClaimValidation records a claim readiness result
func RecordClaimValidation(ready bool) {
	claimValidations.WithLabelValues(strconv.FormatBool(ready)).Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
