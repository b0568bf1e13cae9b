// Package api is the operator-facing surface (supplementing spec.md's C6):
// health/status HTTP endpoints, a live websocket feed of orchestrator
// stage transitions, and a JWT-gated admin retry endpoint, grounded on the
// teacher's internal/api server and internal/webhooks auth middleware.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/outblock/match-executor/internal/eventbus"
	"github.com/outblock/match-executor/internal/model"
)

// StatusReporter is the read-only surface an orchestrator exposes to the
// API, kept narrow so the server can be tested against a fake.
type StatusReporter interface {
	ChainID() uint64
	PendingCount() int
	RejectCounts() map[model.RejectCode]int
	LastSubmitted() (count int, at time.Time)
}

// Retrier re-activates a match stuck in Error status on the given
// chain, implemented by matchstore.Registry (one Store per chain).
type Retrier interface {
	Retry(ctx context.Context, chainID uint64, id string) error
}

// Server hosts the operator HTTP surface for every configured chain.
type Server struct {
	mu        sync.RWMutex
	chains    map[uint64]StatusReporter
	retrier   Retrier
	bus       *eventbus.Bus
	auth      *AuthMiddleware
	startedAt time.Time

	router *mux.Router
	hub    *Hub
}

// New builds a Server with no chains registered yet; call RegisterChain
// per configured chain before serving Router().
func New(retrier Retrier, bus *eventbus.Bus, jwtSecret string) *Server {
	s := &Server{
		chains:    make(map[uint64]StatusReporter),
		retrier:   retrier,
		bus:       bus,
		auth:      NewAuthMiddleware(jwtSecret),
		startedAt: time.Now(),
		hub:       newHub(),
	}
	go s.hub.run()
	s.router = s.buildRouter()
	if bus != nil {
		s.pipeBusToHub()
	}
	return s
}

// RegisterChain adds a chain's status reporter to the server.
func (s *Server) RegisterChain(r StatusReporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[r.ChainID()] = r
}

// Router exposes the mux.Router for http.Serve / httptest.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chainStatus struct {
	ChainID          uint64                     `json:"chainId"`
	PendingCount     int                        `json:"pendingCount"`
	LastBundleSize   int                        `json:"lastBundleSize"`
	LastSubmittedAt  *time.Time                 `json:"lastSubmittedAt,omitempty"`
	RejectionCounts  map[model.RejectCode]int   `json:"rejectionCounts"`
}

type statusPayload struct {
	UptimeSeconds float64       `json:"uptimeSeconds"`
	Chains        []chainStatus `json:"chains"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	chains := make([]StatusReporter, 0, len(s.chains))
	for _, c := range s.chains {
		chains = append(chains, c)
	}
	s.mu.RUnlock()

	payload := statusPayload{
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Chains:        make([]chainStatus, 0, len(chains)),
	}
	for _, c := range chains {
		count, at := c.LastSubmitted()
		cs := chainStatus{
			ChainID:         c.ChainID(),
			PendingCount:    c.PendingCount(),
			LastBundleSize:  count,
			RejectionCounts: c.RejectCounts(),
		}
		if !at.IsZero() {
			cs.LastSubmittedAt = &at
		}
		payload.Chains = append(payload.Chains, cs)
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
