package view

import (
	"sort"
	"time"

	"github.com/cuemby/dbfleet/pkg/types"
)

// ClusterView is a validated, immutable snapshot of one cluster.
// Accessors return copies, so a view can be shared between goroutines.
type ClusterView struct {
	clusterID  string
	generation uint64
	nodes      []types.ViewNode
	index      map[string]int
	primaries  map[string]string
	freshness  time.Time
	builtAt    time.Time
}

// ClusterID returns the cluster the view describes
func (v *ClusterView) ClusterID() string { return v.clusterID }

// Generation increases by one every time the cluster's view is rebuilt
func (v *ClusterView) Generation() uint64 { return v.generation }

// Freshness is the observation time of the oldest report in the view
func (v *ClusterView) Freshness() time.Time { return v.freshness }

// BuiltAt is when the view was finalized
func (v *ClusterView) BuiltAt() time.Time { return v.builtAt }

// Len returns the number of nodes in the view
func (v *ClusterView) Len() int { return len(v.nodes) }

// Nodes returns the nodes ordered by ID
func (v *ClusterView) Nodes() []types.ViewNode {
	out := make([]types.ViewNode, len(v.nodes))
	copy(out, v.nodes)
	return out
}

// Node looks up a node by ID
func (v *ClusterView) Node(id string) (types.ViewNode, bool) {
	i, ok := v.index[id]
	if !ok {
		return types.ViewNode{}, false
	}
	return v.nodes[i], true
}

// Groups returns the replication groups present in the view, sorted
func (v *ClusterView) Groups() []string {
	seen := make(map[string]struct{})
	for _, n := range v.nodes {
		seen[n.Group] = struct{}{}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// GroupNodes returns the nodes of one replication group ordered by ID
func (v *ClusterView) GroupNodes(group string) []types.ViewNode {
	var out []types.ViewNode
	for _, n := range v.nodes {
		if n.Group == group {
			out = append(out, n)
		}
	}
	return out
}

// Primary returns the primary of the default replication group
func (v *ClusterView) Primary() (string, bool) {
	return v.PrimaryOf(types.DefaultGroup)
}

// PrimaryOf returns the primary of a replication group, if it has one
func (v *ClusterView) PrimaryOf(group string) (string, bool) {
	id, ok := v.primaries[group]
	return id, ok
}

// Secondaries returns the secondaries of a group ordered by ID
func (v *ClusterView) Secondaries(group string) []types.ViewNode {
	var out []types.ViewNode
	for _, n := range v.nodes {
		if n.Group == group && n.Role == types.RoleSecondary {
			out = append(out, n)
		}
	}
	return out
}

// Snapshot returns the storable form of the view
func (v *ClusterView) Snapshot() types.ViewSnapshot {
	primaries := make(map[string]string, len(v.primaries))
	for g, id := range v.primaries {
		primaries[g] = id
	}
	return types.ViewSnapshot{
		ClusterID:  v.clusterID,
		Generation: v.generation,
		Nodes:      v.Nodes(),
		Primaries:  primaries,
		Freshness:  v.freshness,
		BuiltAt:    v.builtAt,
	}
}
