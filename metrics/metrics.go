/*
metrics.go - Prometheus collectors for the PTO service

PURPOSE:
  One private registry holding HTTP, record store and domain counters.
  Served in the Prometheus text format on /metrics.

COLLECTORS:
  pto_http_requests_total              method, path_pattern, status_code
  pto_http_request_duration_seconds    method, path_pattern
  pto_store_operations_total           collection, op, result
  pto_request_transitions_total        status
  pto_integration_deliveries_total     outcome
  pto_server_start_time_seconds
  plus the Go runtime and process collectors.
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/pto-service/pto"
	"github.com/warp/pto-service/record"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	StoreOperationsTotal *prometheus.CounterVec

	RequestTransitionsTotal    *prometheus.CounterVec
	IntegrationDeliveriesTotal *prometheus.CounterVec

	ServerStartTime prometheus.Gauge
}

var _ pto.Recorder = (*Metrics)(nil)

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pto_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pto_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		StoreOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pto_store_operations_total",
			Help: "Record store operations by collection, operation and result.",
		}, []string{"collection", "op", "result"}),

		RequestTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pto_request_transitions_total",
			Help: "Leave requests entering each status.",
		}, []string{"status"}),

		IntegrationDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pto_integration_deliveries_total",
			Help: "Integration hook delivery attempts by outcome.",
		}, []string{"outcome"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pto_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreOperationsTotal,
		m.RequestTransitionsTotal,
		m.IntegrationDeliveriesTotal,
		m.ServerStartTime,
	)
	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StoreObserver counts record store operations.
func (m *Metrics) StoreObserver() record.Observer {
	return func(collection, op string, err error) {
		result := "ok"
		switch {
		case err == nil:
		case record.IsNotFound(err):
			result = "not_found"
		case record.IsValidation(err):
			result = "invalid"
		case record.IsConflict(err):
			result = "conflict"
		default:
			result = "error"
		}
		m.StoreOperationsTotal.WithLabelValues(collection, op, result).Inc()
	}
}

func (m *Metrics) Transition(to pto.Status) {
	m.RequestTransitionsTotal.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) Delivery(outcome string) {
	m.IntegrationDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				pattern = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
