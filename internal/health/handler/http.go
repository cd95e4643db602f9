package handler

import (
	"encoding/json"
	"net/http"
)

type statusResponse struct {
	Status string `json:"status"`
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(statusResponse{Status: status})
}

// Liveness answers 200 while the process is up.
func (s *Server) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "ok")
}

// Readiness answers 200 when Check passes and 503 otherwise. Failure details
// are logged, not returned.
func (s *Server) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := s.Check(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("readiness check failed")
		writeStatus(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeStatus(w, http.StatusOK, "serving")
}

// Register wires /healthz and /readyz onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.Liveness)
	mux.HandleFunc("GET /readyz", s.Readiness)
}
