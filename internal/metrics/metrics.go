// Package metrics holds the Prometheus collectors for the identity service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login results.
const (
	LoginSuccess = "success"
	LoginFailure = "invalid_credentials"
	LoginDenied  = "policy_denied"
	LoginError   = "error"
)

// Session invalidation causes.
const (
	InvalidatedLogout    = "logout"
	InvalidatedLogoutAll = "logout_all"
	InvalidatedPolicy    = "policy"
	InvalidatedDeleted   = "user_deleted"
)

// Metrics is the set of identity collectors registered on one registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	logins              *prometheus.CounterVec
	authRejections      *prometheus.CounterVec
	sessionsCreated     prometheus.Counter
	sessionsInvalidated *prometheus.CounterVec
	sessionsSwept       prometheus.Counter
	hashVerify          prometheus.Histogram
	requests            *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry together with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pyracms",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pyracms",
			Subsystem: "auth",
			Name:      "authenticate_rejections_total",
			Help:      "Rejected authentications by internal reason.",
		}, []string{"reason"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pyracms",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Sessions created.",
		}),
		sessionsInvalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pyracms",
			Subsystem: "session",
			Name:      "invalidated_total",
			Help:      "Sessions invalidated by cause.",
		}, []string{"cause"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pyracms",
			Subsystem: "session",
			Name:      "swept_total",
			Help:      "Expired session records removed by the sweeper.",
		}),
		hashVerify: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pyracms",
			Subsystem: "auth",
			Name:      "password_verify_seconds",
			Help:      "Time spent verifying password hashes.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pyracms",
			Name:      "request_duration_seconds",
			Help:      "Request latency by transport, route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transport", "route", "code"}),
	}
	reg.MustRegister(
		m.logins,
		m.authRejections,
		m.sessionsCreated,
		m.sessionsInvalidated,
		m.sessionsSwept,
		m.hashVerify,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) AuthRejected(reason string) {
	if m != nil {
		m.authRejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.sessionsCreated.Inc()
	}
}

func (m *Metrics) SessionsInvalidated(cause string, n int) {
	if m != nil && n > 0 {
		m.sessionsInvalidated.WithLabelValues(cause).Add(float64(n))
	}
}

func (m *Metrics) SessionsSwept(n int) {
	if m != nil && n > 0 {
		m.sessionsSwept.Add(float64(n))
	}
}

// ObserveVerify records the duration of one password verification.
func (m *Metrics) ObserveVerify(d time.Duration) {
	if m != nil {
		m.hashVerify.Observe(d.Seconds())
	}
}

// ObserveRequest records one served request. transport is "http" or "grpc";
// route is the route pattern or full gRPC method, never a raw path.
func (m *Metrics) ObserveRequest(transport, route, code string, d time.Duration) {
	if m != nil {
		m.requests.WithLabelValues(transport, route, code).Observe(d.Seconds())
	}
}
