package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	identityhandler "github.com/johndoe6345789/pyracms-core/internal/identity/handler"
	"github.com/johndoe6345789/pyracms-core/internal/metrics"
)

// NewHTTPHandler mounts the JSON API, the health endpoints and /metrics behind
// the request logging middleware.
func NewHTTPHandler(deps Deps) http.Handler {
	mux := http.NewServeMux()
	if deps.Auth != nil {
		identityhandler.NewHTTPHandler(deps.Auth, deps.Logger).Register(mux)
	}
	if deps.Health != nil {
		deps.Health.Register(mux)
	} else {
		ok := func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_, _ = w.Write([]byte("{\"status\":\"ok\"}\n"))
		}
		mux.HandleFunc("GET /healthz", ok)
		mux.HandleFunc("GET /readyz", ok)
	}
	mux.Handle("GET /metrics", deps.Metrics.Handler())
	return logRequests(deps.Logger, deps.Metrics, mux)
}

// NewHTTPServer wraps h with the timeouts every listener should carry.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// logRequests logs each request and records its latency by route pattern.
// Health checks and scrapes are measured but not logged.
func logRequests(log zerolog.Logger, m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest("http", route, strconv.Itoa(rec.status), elapsed)

		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			return
		}
		ev := log.Info()
		if rec.status >= http.StatusInternalServerError {
			ev = log.Error()
		} else if rec.status >= http.StatusBadRequest {
			ev = log.Warn()
		}
		ev.Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Str("remote_addr", r.RemoteAddr).
			Msg("http request")
	})
}
