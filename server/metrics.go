package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// httpMetrics tracks the HTTP surface
type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	factory := promauto.With(reg)
	return &httpMetrics{
		// requests tracks handled requests per route and status code
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "respguard_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"route", "code"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "respguard_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		// outcomes tracks processed responses by success and fallback usage
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "respguard_processed_responses_total",
				Help: "Total number of processed model responses",
			},
			[]string{"operation", "success", "fallback"},
		),
	}
}

func (m *httpMetrics) observeOutcome(operation string, success, fallback bool) {
	m.outcomes.WithLabelValues(operation, strconv.FormatBool(success), strconv.FormatBool(fallback)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps next with request counting and latency tracking
func (m *httpMetrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
