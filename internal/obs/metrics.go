package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	ledgerAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailvault_ledger_appends_total",
			Help: "Audit ledger append attempts by result.",
		},
		[]string{"result"},
	)

	ledgerAppendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mailvault_ledger_append_duration_seconds",
		Help:    "Time spent appending to the audit ledger, lock wait included.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	ledgerVerifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailvault_ledger_verify_failures_total",
		Help: "Audit ledger verifications that found a broken chain.",
	})

	authzDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailvault_authz_denials_total",
			Help: "Refused authorization decisions by reason.",
		},
		[]string{"reason"},
	)

	mfaVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailvault_mfa_verifications_total",
			Help: "One-time code checks by result.",
		},
		[]string{"result"},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default registry. Repeated calls are no-ops.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			ledgerAppends, ledgerAppendDuration, ledgerVerifyFailures,
			authzDenials, mfaVerifications,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLedgerAppend records the outcome and latency of one append.
func ObserveLedgerAppend(err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ledgerAppends.WithLabelValues(result).Inc()
	ledgerAppendDuration.Observe(took.Seconds())
}

// LedgerVerifyFailed counts a verification that detected tampering.
func LedgerVerifyFailed() {
	ledgerVerifyFailures.Inc()
}

// AuthzDenied counts a refusal under its reason code.
func AuthzDenied(reason string) {
	authzDenials.WithLabelValues(reason).Inc()
}

// MFAVerification counts a one-time code check.
func MFAVerification(ok bool) {
	result := "rejected"
	if ok {
		result = "accepted"
	}
	mfaVerifications.WithLabelValues(result).Inc()
}

// Instrument is router middleware measuring RPS, latency and in-flight requests.
// Mounted inside a chi router the path label is the route pattern, not the raw URL.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
