package storage

import (
	"errors"

	"github.com/cuemby/dbfleet/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for fleet state storage
type Store interface {
	// Clusters
	CreateCluster(cluster *types.Cluster) error
	GetCluster(id string) (*types.Cluster, error)
	ListClusters() ([]*types.Cluster, error)
	UpdateCluster(cluster *types.Cluster) error
	DeleteCluster(id string) error

	// Desired configuration
	PutDesiredConfig(desired *types.DesiredConfig) error
	LoadDesiredConfig(clusterID string) (*types.DesiredConfig, error)

	// Views
	SaveView(snapshot types.ViewSnapshot) error
	LatestView(clusterID string) (*types.ViewSnapshot, error)

	// Reports (append-only)
	SaveReport(report *types.OrchestrateReport) error
	ListReports(clusterID string, limit int) ([]*types.OrchestrateReport, error)

	// Cycle progress
	SaveProgress(progress types.Progress) error
	GetProgress(clusterID string) (*types.Progress, error)

	// Utility
	Close() error
}
