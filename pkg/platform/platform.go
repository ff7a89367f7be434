package platform

import (
	"context"
	"errors"

	"github.com/cuemby/dbfleet/pkg/types"
)

var (
	// ErrNotFound is returned when no platform is configured under a reference
	ErrNotFound = errors.New("platform not found")

	// ErrNotActive is returned when a platform exists but is administratively disabled
	ErrNotActive = errors.New("platform not active")

	// ErrExists is returned when registering a platform name twice
	ErrExists = errors.New("platform already registered")

	// ErrDryRun is returned by mutating calls on a dry-run handle
	ErrDryRun = errors.New("platform mutation refused in dry-run mode")

	// ErrNodeNotFound is returned when an operation targets a node the platform does not host
	ErrNodeNotFound = errors.New("node not found on platform")
)

// NodeSpec describes a node to provision
type NodeSpec struct {
	ClusterID string
	NodeID    string
	Group     string
	Role      types.NodeRole
	Image     string
	Env       map[string]string
}

// Handle drives node lifecycle on one hosting backend. Every mutating call
// reports whether it changed anything, so repeated calls are safe and
// callers can tell an applied change from a no-op.
type Handle interface {
	Name() string
	StartNode(ctx context.Context, clusterID, nodeID string) (bool, error)
	StopNode(ctx context.Context, clusterID, nodeID string) (bool, error)
	ReplaceNode(ctx context.Context, clusterID, nodeID string) (bool, error)
	ProvisionNode(ctx context.Context, spec NodeSpec) (bool, error)
}
