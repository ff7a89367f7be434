package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/memberlist"
	"github.com/rs/zerolog"

	"github.com/cuemby/dbfleet/pkg/codec"
	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/types"
)

// AgentMeta is the node metadata an agent advertises through gossip
type AgentMeta struct {
	ClusterID string           `cbor:"c"`
	Report    types.NodeReport `cbor:"r"`
}

// MemberSource lists the live gossip members. *memberlist.Memberlist
// satisfies it.
type MemberSource interface {
	Members() []*memberlist.Node
}

// GossipFetcher reads node reports from the metadata of gossip members
// instead of polling agents
type GossipFetcher struct {
	members MemberSource
	logger  zerolog.Logger
}

// NewGossipFetcher creates a fetcher over a memberlist cluster
func NewGossipFetcher(members MemberSource) *GossipFetcher {
	return &GossipFetcher{
		members: members,
		logger:  log.WithComponent("fetch").With().Str("fetcher", "gossip").Logger(),
	}
}

// Fetch implements Fetcher
func (f *GossipFetcher) Fetch(ctx context.Context, clusterID string) ([]types.NodeReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var reports []types.NodeReport
	for _, node := range f.members.Members() {
		if len(node.Meta) == 0 {
			continue
		}

		// Metadata that does not decode names no cluster, so it cannot
		// degrade the requested one
		var meta AgentMeta
		if err := codec.Unmarshal(node.Meta, &meta); err != nil {
			f.logger.Debug().Err(err).Str("member", node.Name).Msg("Skipping member with foreign node meta")
			continue
		}
		if meta.ClusterID != clusterID {
			continue
		}
		if meta.Report.Address == "" {
			meta.Report.Address = node.Address()
		}
		reports = append(reports, meta.Report)
	}
	return reports, nil
}

// AgentDelegate is the memberlist delegate run by agents. It advertises
// the latest node report as node metadata; after Update the agent calls
// Memberlist.UpdateNode to push the change.
type AgentDelegate struct {
	mu        sync.RWMutex
	clusterID string
	meta      []byte
}

// NewAgentDelegate creates a delegate for an agent of the given cluster
func NewAgentDelegate(clusterID string) *AgentDelegate {
	return &AgentDelegate{clusterID: clusterID}
}

// Update replaces the advertised report
func (d *AgentDelegate) Update(report types.NodeReport) error {
	data, err := codec.Marshal(AgentMeta{ClusterID: d.clusterID, Report: report})
	if err != nil {
		return fmt.Errorf("failed to encode node meta: %w", err)
	}
	if len(data) > memberlist.MetaMaxSize {
		return fmt.Errorf("node meta is %d bytes, limit %d", len(data), memberlist.MetaMaxSize)
	}

	d.mu.Lock()
	d.meta = data
	d.mu.Unlock()
	return nil
}

// NodeMeta implements memberlist.Delegate
func (d *AgentDelegate) NodeMeta(limit int) []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.meta) > limit {
		return nil
	}
	return append([]byte(nil), d.meta...)
}

func (d *AgentDelegate) NotifyMsg([]byte) {}

func (d *AgentDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (d *AgentDelegate) LocalState(join bool) []byte { return nil }

func (d *AgentDelegate) MergeRemoteState(buf []byte, join bool) {}

var (
	_ Fetcher             = (*GossipFetcher)(nil)
	_ memberlist.Delegate = (*AgentDelegate)(nil)
)
