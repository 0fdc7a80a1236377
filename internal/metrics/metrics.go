// Package metrics exposes Prometheus instrumentation for key lifecycle
// operations and the HTTP API.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faucetdb/keyhub/internal/model"
)

const namespace = "keyhub"

// Outcome labels for KeyOperations.
const (
	OutcomeOK           = "ok"
	OutcomeUnauthorized = "unauthorized"
	OutcomeInvalid      = "invalid"
	OutcomeNotFound     = "not_found"
	OutcomeUnavailable  = "unavailable"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	KeyOperations       *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	VisibilityToggles   *prometheus.CounterVec
	SignIns             *prometheus.CounterVec
}

// New creates a registry with Go and process collectors plus the keyhub
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		KeyOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_operations_total",
			Help:      "Key lifecycle operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		VisibilityToggles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visibility_toggles_total",
			Help:      "Reveal/hide toggles by resulting state.",
		}, []string{"state"}),
		SignIns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_ins_total",
			Help:      "OAuth sign-in attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveKeyOp counts one lifecycle operation, classifying err into an
// outcome label. A nil receiver is a no-op.
func (m *Metrics) ObserveKeyOp(operation string, err error) {
	if m == nil {
		return
	}
	m.KeyOperations.WithLabelValues(operation, Outcome(err)).Inc()
}

// Outcome maps an error from the key lifecycle to a label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, model.ErrUnauthorized):
		return OutcomeUnauthorized
	case model.IsValidation(err):
		return OutcomeInvalid
	case errors.Is(err, model.ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeUnavailable
	}
}

// Middleware records request latency labelled with the chi route pattern,
// so ids in the path do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
