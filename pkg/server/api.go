package server

import (
	"encoding/json"
	"net/http"
	"time"
)

type statusResponse struct {
	ContenderID string `json:"contender_id"`
	Leader      bool   `json:"leader"`
}

func (s *Server) startAPI() error {
	s.log.WithField("addr", s.config.APIAddr).Info("Starting status API server")

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/contenders", s.handleContenders)
	mux.HandleFunc("/v1/relinquish", s.handleRelinquish)

	s.apiServer = &http.Server{
		Addr:              s.config.APIAddr,
		ReadHeaderTimeout: 120 * time.Second,
		Handler:           mux,
	}

	return s.apiServer.ListenAndServe()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	s.writeJSON(w, statusResponse{
		ContenderID: s.coordinator.ContenderID(),
		Leader:      s.coordinator.IsLeader(),
	})
}

func (s *Server) handleContenders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	contenders, err := s.coordinator.Contenders(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to query contender roster")
		http.Error(w, "failed to query roster", http.StatusServiceUnavailable)

		return
	}

	s.writeJSON(w, contenders)
}

func (s *Server) handleRelinquish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	s.coordinator.RelinquishLeadership()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("Failed to encode response")
	}
}
