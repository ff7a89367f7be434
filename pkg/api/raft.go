package api

import (
	"encoding/json"
	"net/http"
)

// Membership is implemented by coordinators that replicate their lease
// table through raft
type Membership interface {
	LeaderInfo
	AddVoter(nodeID, address string) error
	Stats() map[string]string
}

// JoinRequest is the body of POST /v1/raft/join
type JoinRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// RaftStatus is the body of GET /v1/raft
type RaftStatus struct {
	IsLeader bool              `json:"is_leader"`
	Leader   string            `json:"leader"`
	Stats    map[string]string `json:"stats"`
}

func (s *Server) membership(w http.ResponseWriter) (Membership, bool) {
	m, ok := s.coordinator.(Membership)
	if !ok {
		writeError(w, http.StatusNotImplemented, "coordinator is not raft")
	}
	return m, ok
}

func (s *Server) raftStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := s.membership(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, RaftStatus{
		IsLeader: m.IsLeader(),
		Leader:   m.LeaderAddr(),
		Stats:    m.Stats(),
	})
}

func (s *Server) raftJoin(w http.ResponseWriter, r *http.Request) {
	m, ok := s.membership(w)
	if !ok {
		return
	}

	var req JoinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.NodeID == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "node_id and address are required")
		return
	}

	// Only the leader changes membership; the joiner retries elsewhere
	if !m.IsLeader() {
		writeError(w, http.StatusConflict, "not the raft leader, current leader: "+m.LeaderAddr())
		return
	}

	if err := m.AddVoter(req.NodeID, req.Address); err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info().Str("voter", req.NodeID).Str("address", req.Address).Msg("Raft voter joined")
	writeJSON(w, http.StatusOK, req)
}
