package api

import "github.com/gorilla/mux"

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.auth.Middleware)
	admin.HandleFunc("/chains/{chainId}/retry/{matchId}", s.handleAdminRetry).Methods("POST")

	return r
}
