package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scrive_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrive_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrive_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	UnitsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrive_units_consumed_total",
		Help: "Service units consumed against authorizations.",
	})

	ConsumeRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrive_consume_rejected_total",
			Help: "Consumption attempts rejected by the ledger.",
		},
		[]string{"reason"},
	)

	AlertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrive_authorization_alerts_total",
			Help: "Authorization alert levels reached after a consumption.",
		},
		[]string{"level"},
	)

	AuthorizationResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrive_authorization_resets_total",
		Help: "Weekly counters reset.",
	})

	ClaimTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrive_claim_transitions_total",
			Help: "Claim state transitions.",
		},
		[]string{"from", "to"},
	)

	DenialsOverdue = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrive_denials_overdue_total",
		Help: "Denials flagged overdue by the sweep.",
	})

	EDIBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrive_edi_batches_total",
		Help: "EDI batches generated.",
	})

	SweepJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrive_sweep_jobs_total",
			Help: "Sweep jobs processed by the worker pool.",
		},
		[]string{"job", "result"},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			UnitsConsumed,
			ConsumeRejected,
			AlertsRaised,
			AuthorizationResets,
			ClaimTransitions,
			DenialsOverdue,
			EDIBatches,
			SweepJobs,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight gauge. The route
// label is the chi pattern so ids do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
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
