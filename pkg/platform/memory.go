package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/dbfleet/pkg/log"
)

// MemoryNode is a node tracked by a Memory platform
type MemoryNode struct {
	Spec     NodeSpec
	Running  bool
	Replaced int
}

// Memory is a platform that keeps node state in process and logs every
// operation. It backs the "memory" platform kind and is used in tests.
type Memory struct {
	name   string
	mu     sync.Mutex
	nodes  map[string]*MemoryNode
	ops    []string
	logger zerolog.Logger
}

// NewMemory creates an empty in-process platform
func NewMemory(name string) *Memory {
	return &Memory{
		name:   name,
		nodes:  make(map[string]*MemoryNode),
		logger: log.WithComponent("platform").With().Str("platform", name).Logger(),
	}
}

func nodeKey(clusterID, nodeID string) string {
	return clusterID + "/" + nodeID
}

// Name returns the platform name
func (m *Memory) Name() string { return m.name }

// Seed registers an existing running node without recording an operation
func (m *Memory) Seed(clusterID, nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[nodeKey(clusterID, nodeID)] = &MemoryNode{
		Spec:    NodeSpec{ClusterID: clusterID, NodeID: nodeID},
		Running: true,
	}
}

func (m *Memory) StartNode(ctx context.Context, clusterID, nodeID string) (bool, error) {
	return m.mutate(ctx, "start", clusterID, nodeID, func(n *MemoryNode) bool {
		if n.Running {
			return false
		}
		n.Running = true
		return true
	})
}

func (m *Memory) StopNode(ctx context.Context, clusterID, nodeID string) (bool, error) {
	return m.mutate(ctx, "stop", clusterID, nodeID, func(n *MemoryNode) bool {
		if !n.Running {
			return false
		}
		n.Running = false
		return true
	})
}

func (m *Memory) ReplaceNode(ctx context.Context, clusterID, nodeID string) (bool, error) {
	return m.mutate(ctx, "replace", clusterID, nodeID, func(n *MemoryNode) bool {
		n.Replaced++
		n.Running = true
		return true
	})
}

func (m *Memory) ProvisionNode(ctx context.Context, spec NodeSpec) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := nodeKey(spec.ClusterID, spec.NodeID)
	if _, ok := m.nodes[key]; ok {
		return false, nil
	}
	m.nodes[key] = &MemoryNode{Spec: spec, Running: true}
	m.ops = append(m.ops, "provision "+key)
	m.logger.Info().
		Str("cluster_id", spec.ClusterID).
		Str("node_id", spec.NodeID).
		Str("group", spec.Group).
		Msg("Provisioned node")
	return true, nil
}

func (m *Memory) mutate(ctx context.Context, op, clusterID, nodeID string, fn func(*MemoryNode) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := nodeKey(clusterID, nodeID)
	n, ok := m.nodes[key]
	if !ok {
		return false, fmt.Errorf("%s %s: %w", op, key, ErrNodeNotFound)
	}
	changed := fn(n)
	if changed {
		m.ops = append(m.ops, op+" "+key)
		m.logger.Info().
			Str("cluster_id", clusterID).
			Str("node_id", nodeID).
			Str("op", op).
			Msg("Node operation applied")
	}
	return changed, nil
}

// Operations returns every applied operation in order
func (m *Memory) Operations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ops))
	copy(out, m.ops)
	return out
}

// Nodes returns a copy of the tracked nodes of a cluster ordered by node ID
func (m *Memory) Nodes(clusterID string) []MemoryNode {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []MemoryNode
	for _, n := range m.nodes {
		if n.Spec.ClusterID == clusterID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.NodeID < out[j].Spec.NodeID })
	return out
}
