package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/dbfleet/pkg/config"
	"github.com/cuemby/dbfleet/pkg/events"
	"github.com/cuemby/dbfleet/pkg/storage"
	"github.com/cuemby/dbfleet/pkg/types"
)

// maxDocumentBytes bounds the body of POST /v1/clusters
const maxDocumentBytes = 1 << 20

// Writer is the write side of the store used to apply documents
type Writer interface {
	GetCluster(id string) (*types.Cluster, error)
	CreateCluster(cluster *types.Cluster) error
	UpdateCluster(cluster *types.Cluster) error
	PutDesiredConfig(desired *types.DesiredConfig) error
}

// ApplyResult is the outcome of applying a desired-state document
type ApplyResult struct {
	Cluster  *types.Cluster       `json:"cluster"`
	Desired  *types.DesiredConfig `json:"desired"`
	Created  bool                 `json:"created"`
	Revision int64                `json:"revision"`
}

// ApplyDocument stores the cluster and desired config described by doc.
// An existing cluster keeps its creation time; the desired config always
// gets a new revision.
func ApplyDocument(store Writer, doc *config.Document, now time.Time) (*ApplyResult, error) {
	cluster := doc.Cluster(now)
	desired := doc.DesiredConfig(now)

	existing, err := store.GetCluster(cluster.ID)
	switch {
	case err == nil:
		cluster.CreatedAt = existing.CreatedAt
		if err := store.UpdateCluster(cluster); err != nil {
			return nil, fmt.Errorf("failed to update cluster: %w", err)
		}
	case errors.Is(err, storage.ErrNotFound):
		if err := store.CreateCluster(cluster); err != nil {
			return nil, fmt.Errorf("failed to create cluster: %w", err)
		}
	default:
		return nil, err
	}

	if err := store.PutDesiredConfig(desired); err != nil {
		return nil, fmt.Errorf("failed to store desired config: %w", err)
	}

	return &ApplyResult{
		Cluster:  cluster,
		Desired:  desired,
		Created:  existing == nil,
		Revision: desired.Revision,
	}, nil
}

// applyCluster accepts a desired-state document in JSON (comments and
// trailing commas allowed) and stores it
func (s *Server) applyCluster(w http.ResponseWriter, r *http.Request) {
	if s.writer == nil {
		writeError(w, http.StatusNotImplemented, "store is read-only")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}

	doc, err := config.ParseDocument(body, config.FormatJSONC)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := ApplyDocument(s.writer, doc, time.Now().UTC())
	if err != nil {
		s.fail(w, err)
		return
	}

	s.logger.Info().
		Str("cluster_id", result.Cluster.ID).
		Int64("revision", result.Revision).
		Bool("created", result.Created).
		Msg("Cluster applied")

	if s.publisher != nil {
		_ = s.publisher.Publish(&events.Event{
			Type:      events.EventClusterApplied,
			ClusterID: result.Cluster.ID,
			Message:   fmt.Sprintf("desired config revision %d applied", result.Revision),
		})
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}
