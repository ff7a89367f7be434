package api

import (
	"fmt"
	"net/http"

	"github.com/cuemby/dbfleet/pkg/metrics"
)

// LeaderInfo is implemented by coordinators that elect a leader
type LeaderInfo interface {
	IsLeader() bool
	LeaderAddr() string
}

// probe refreshes the store and coordinator components before readiness
// is computed
func (s *Server) probe() {
	if s.store == nil {
		metrics.UpdateComponent("store", false, "not initialized")
	} else if _, err := s.store.ListClusters(); err != nil {
		metrics.UpdateComponent("store", false, fmt.Sprintf("error: %v", err))
	} else {
		metrics.UpdateComponent("store", true, "ok")
	}

	leader, ok := s.coordinator.(LeaderInfo)
	if !ok {
		return
	}
	switch {
	case leader.IsLeader():
		metrics.UpdateComponent("coordinator", true, "leader")
	case leader.LeaderAddr() != "":
		metrics.UpdateComponent("coordinator", true, fmt.Sprintf("follower (leader: %s)", leader.LeaderAddr()))
	default:
		metrics.UpdateComponent("coordinator", false, "no leader elected")
	}
}

// healthHandler implements the /health endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	metrics.HealthHandler()(w, r)
}

// readyHandler implements the /ready endpoint. It probes the store and the
// coordinator first, so readiness reflects their current state.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.probe()
	metrics.ReadyHandler()(w, r)
}

// liveHandler implements the /live endpoint
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	metrics.LivenessHandler()(w, r)
}
