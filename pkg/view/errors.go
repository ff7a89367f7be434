package view

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClusterViewCorrupt is returned by Build when reports are malformed or no node survives
	ErrClusterViewCorrupt = errors.New("cluster view corrupt")

	// ErrManyPrimariesFound is returned by Build when a replication group has more than one primary
	ErrManyPrimariesFound = errors.New("many primaries found")

	// ErrBuilderFinalized is returned by a builder that already produced a view
	ErrBuilderFinalized = errors.New("cluster view builder already finalized")
)

// ValidationError describes why Build rejected a set of reports
type ValidationError struct {
	Kind      error
	ClusterID string
	Group     string
	Nodes     []string
	Reason    string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: cluster %s", e.Kind, e.ClusterID)
	if e.Group != "" {
		fmt.Fprintf(&b, " group %s", e.Group)
	}
	if len(e.Nodes) > 0 {
		fmt.Fprintf(&b, " nodes [%s]", strings.Join(e.Nodes, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// Is matches the sentinel the error was built from
func (e *ValidationError) Is(target error) bool {
	return target == e.Kind
}

func corrupt(clusterID, reason string, nodes ...string) *ValidationError {
	return &ValidationError{
		Kind:      ErrClusterViewCorrupt,
		ClusterID: clusterID,
		Nodes:     nodes,
		Reason:    reason,
	}
}
