package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics records requests served by the read-only HTTP surface.
type APIMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *APIMetrics
)

// API returns the lazily-initialised HTTP metrics.
func API() *APIMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstore",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstore",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "capstore",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(apiRegistry.requests, apiRegistry.errors, apiRegistry.latency)
	})
	return apiRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *APIMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Middleware observes every request under its chi route pattern, so path
// parameters do not explode label cardinality.
func (m *APIMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Observe(route, r.Method, status, time.Since(start))
	})
}
