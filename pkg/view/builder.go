package view

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/dbfleet/pkg/types"
)

type entry struct {
	report types.NodeReport
	seq    int
}

// Builder accumulates node reports for one cluster and finalizes them into
// a ClusterView. A builder belongs to a single cycle and is not safe for
// concurrent use. It can be finalized once.
type Builder struct {
	clusterID string
	opts      Options
	entries   map[string]entry
	malformed []string
	seq       int
	finalized bool
}

// NewBuilder creates a builder for the given cluster
func NewBuilder(clusterID string, opts Options) *Builder {
	return &Builder{
		clusterID: clusterID,
		opts:      opts.withDefaults(),
		entries:   make(map[string]entry),
	}
}

// AddReport records a report. For a node already seen, the report with the
// newer ObservedAt wins; equal timestamps are resolved by the tie-break rule.
// Malformed reports are accepted here and rejected by Build.
func (b *Builder) AddReport(r types.NodeReport) error {
	if b.finalized {
		return ErrBuilderFinalized
	}
	b.seq++

	if reason := validate(r); reason != "" {
		b.malformed = append(b.malformed, describe(r, reason))
		return nil
	}

	prev, ok := b.entries[r.NodeID]
	if ok && !b.supersedes(r, prev.report) {
		return nil
	}
	b.entries[r.NodeID] = entry{report: r, seq: b.seq}
	return nil
}

func (b *Builder) supersedes(next, prev types.NodeReport) bool {
	if next.ObservedAt.After(prev.ObservedAt) {
		return true
	}
	if next.ObservedAt.Equal(prev.ObservedAt) {
		return b.opts.TieBreak == TieBreakLaterCall
	}
	return false
}

// Build validates the accumulated reports and returns the view. The builder
// is finalized whether or not validation succeeds.
func (b *Builder) Build() (*ClusterView, error) {
	if b.finalized {
		return nil, ErrBuilderFinalized
	}
	b.finalized = true

	if len(b.malformed) > 0 {
		return nil, corrupt(b.clusterID, strings.Join(b.malformed, "; "))
	}

	now := b.opts.Now()
	ids := make([]string, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]types.ViewNode, 0, len(ids))
	for _, id := range ids {
		r := b.entries[id].report
		stale := now.Sub(r.ObservedAt) > b.opts.StalenessBound
		if stale && b.opts.ExcludeStale {
			continue
		}

		health := r.Health
		if stale && health == types.HealthHealthy {
			health = types.HealthDegraded
		}
		nodes = append(nodes, types.ViewNode{
			ID:             r.NodeID,
			Group:          r.GroupOrDefault(),
			Role:           r.Role,
			Health:         health,
			ReportedHealth: r.Health,
			Stale:          stale,
			ObservedAt:     r.ObservedAt,
			PayloadVersion: r.PayloadVersion,
			Address:        r.Address,
		})
	}

	if len(nodes) == 0 {
		return nil, corrupt(b.clusterID, "no nodes in view")
	}

	claims := make(map[string][]string)
	for _, n := range nodes {
		if n.Role == types.RolePrimary {
			claims[n.Group] = append(claims[n.Group], n.ID)
		}
	}
	groups := make([]string, 0, len(claims))
	for g := range claims {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	primaries := make(map[string]string, len(claims))
	for _, g := range groups {
		if len(claims[g]) > 1 {
			return nil, &ValidationError{
				Kind:      ErrManyPrimariesFound,
				ClusterID: b.clusterID,
				Group:     g,
				Nodes:     claims[g],
			}
		}
		primaries[g] = claims[g][0]
	}

	index := make(map[string]int, len(nodes))
	freshness := nodes[0].ObservedAt
	for i, n := range nodes {
		index[n.ID] = i
		if n.ObservedAt.Before(freshness) {
			freshness = n.ObservedAt
		}
	}

	return &ClusterView{
		clusterID:  b.clusterID,
		generation: b.opts.PreviousGeneration + 1,
		nodes:      nodes,
		index:      index,
		primaries:  primaries,
		freshness:  freshness,
		builtAt:    now,
	}, nil
}

func validate(r types.NodeReport) string {
	if r.NodeID == "" {
		return "missing node id"
	}
	if _, err := types.ParseNodeRole(string(r.Role)); err != nil {
		return err.Error()
	}
	if _, err := types.ParseNodeHealth(string(r.Health)); err != nil {
		return err.Error()
	}
	if r.ObservedAt.IsZero() {
		return "missing observation timestamp"
	}
	return ""
}

func describe(r types.NodeReport, reason string) string {
	if r.NodeID == "" {
		return reason
	}
	return fmt.Sprintf("node %s: %s", r.NodeID, reason)
}
