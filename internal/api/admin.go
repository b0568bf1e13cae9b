package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// handleAdminRetry re-activates a match document currently sitting in
// Error status (the orchestrator has already given up on it) so the next
// notification cycle redelivers it as Added (spec.md's §12 supplement).
func (s *Server) handleAdminRetry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	matchID := vars["matchId"]
	if matchID == "" {
		http.Error(w, "missing matchId", http.StatusBadRequest)
		return
	}
	chainID, err := strconv.ParseUint(vars["chainId"], 10, 64)
	if err != nil {
		http.Error(w, "invalid chainId", http.StatusBadRequest)
		return
	}

	if s.retrier == nil {
		http.Error(w, "retry not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.retrier.Retry(r.Context(), chainID, matchID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	sub, _ := r.Context().Value(subjectKey).(string)
	log.Printf("[api] admin %q retried match %s on chain %d", sub, matchID, chainID)
	writeJSON(w, http.StatusAccepted, map[string]string{"matchId": matchID, "status": "retrying"})
}
