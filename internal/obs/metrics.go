package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by all endpoints.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Protocol metrics consumed by the external telemetry pipeline.
var (
	// SignatureVerifications counts inbound verification results by outcome:
	// ok, missing_header, bad_format, unknown_subscriber, bad_signature.
	SignatureVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bap_signature_verifications_total",
			Help: "Inbound signature verification results.",
		},
		[]string{"outcome"},
	)

	// CallbacksTotal counts dispatched callbacks by action and outcome:
	// ok, out_of_sequence, rejected, storage_error.
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bap_callbacks_total",
			Help: "Inbound protocol callbacks by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	// OutboundAttempts counts individual delivery attempts by action and result:
	// ok, retryable, rejected, transport_error.
	OutboundAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bap_outbound_attempts_total",
			Help: "Outbound delivery attempts by action and result.",
		},
		[]string{"action", "result"},
	)

	// OutboundDeliveries counts final delivery outcomes by action:
	// delivered, rejected, exhausted.
	OutboundDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bap_outbound_deliveries_total",
			Help: "Final outbound delivery outcomes by action.",
		},
		[]string{"action", "outcome"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		SignatureVerifications, CallbacksTotal,
		OutboundAttempts, OutboundDeliveries,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
