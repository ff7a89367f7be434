package fetch

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dbfleet/pkg/types"
)

type staticMembers []*memberlist.Node

func (m staticMembers) Members() []*memberlist.Node { return m }

func agentNode(t *testing.T, name, clusterID string, report types.NodeReport) *memberlist.Node {
	t.Helper()

	d := NewAgentDelegate(clusterID)
	require.NoError(t, d.Update(report))
	return &memberlist.Node{
		Name: name,
		Addr: net.ParseIP("10.0.0.5"),
		Port: 7946,
		Meta: d.NodeMeta(memberlist.MetaMaxSize),
	}
}

func TestGossipFetcher(t *testing.T) {
	observed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	members := staticMembers{
		agentNode(t, "a", "c1", types.NodeReport{NodeID: "n1", Role: types.RolePrimary, Health: types.HealthHealthy, ObservedAt: observed}),
		agentNode(t, "b", "c2", types.NodeReport{NodeID: "x1", Role: types.RolePrimary, Health: types.HealthHealthy, ObservedAt: observed}),
		{Name: "control-plane"},
	}

	reports, err := NewGossipFetcher(members).Fetch(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "n1", reports[0].NodeID)
	assert.True(t, observed.Equal(reports[0].ObservedAt))
	assert.Equal(t, "10.0.0.5:7946", reports[0].Address)
}

func TestGossipFetcherSkipsForeignMembers(t *testing.T) {
	observed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	members := staticMembers{
		agentNode(t, "agent-c1", "c1", types.NodeReport{NodeID: "n1", Role: types.RolePrimary, Health: types.HealthHealthy, ObservedAt: observed}),
		{Name: "unrelated-service", Meta: []byte("not-cbor-at-all")},
		{Name: "garbled", Meta: []byte{0xff, 0x00}},
	}

	for _, clusterID := range []string{"c1", "c2"} {
		t.Run(clusterID, func(t *testing.T) {
			reports, err := NewGossipFetcher(members).Fetch(context.Background(), clusterID)
			require.NoError(t, err)

			var partial *PartialError
			assert.False(t, errors.As(err, &partial))
			if clusterID == "c1" {
				require.Len(t, reports, 1)
				assert.Equal(t, "n1", reports[0].NodeID)
			} else {
				assert.Empty(t, reports)
			}
		})
	}
}

func TestAgentDelegateLimits(t *testing.T) {
	d := NewAgentDelegate("c1")
	assert.Empty(t, d.NodeMeta(memberlist.MetaMaxSize))

	require.NoError(t, d.Update(types.NodeReport{NodeID: "n1"}))
	assert.NotEmpty(t, d.NodeMeta(memberlist.MetaMaxSize))
	assert.Nil(t, d.NodeMeta(1))

	big := types.NodeReport{NodeID: string(make([]byte, memberlist.MetaMaxSize))}
	assert.Error(t, d.Update(big))
}
