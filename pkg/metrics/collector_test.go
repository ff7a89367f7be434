package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cuemby/dbfleet/pkg/types"
)

type fakeSource struct {
	clusters []*types.Cluster
	reports  map[string][]*types.OrchestrateReport
	views    map[string]*types.ViewSnapshot
}

func (f *fakeSource) ListClusters() ([]*types.Cluster, error) { return f.clusters, nil }

func (f *fakeSource) ListReports(clusterID string, limit int) ([]*types.OrchestrateReport, error) {
	return f.reports[clusterID], nil
}

func (f *fakeSource) LatestView(clusterID string) (*types.ViewSnapshot, error) {
	v, ok := f.views[clusterID]
	if !ok {
		return nil, errors.New("not found")
	}
	return v, nil
}

func TestCollectorCollect(t *testing.T) {
	source := &fakeSource{
		clusters: []*types.Cluster{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}},
		reports: map[string][]*types.OrchestrateReport{
			"c1": {{State: types.StateConverged}},
			"c2": {{State: types.StateFailed}},
		},
		views: map[string]*types.ViewSnapshot{
			"c1": {Nodes: []types.ViewNode{{ID: "n1"}, {ID: "n2"}}},
		},
	}

	NewCollector(source, 0).Collect()

	assert.Equal(t, 3.0, testutil.ToFloat64(ClustersTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(ClustersByState.WithLabelValues("converged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ClustersByState.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ClustersByState.WithLabelValues("partial_failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(ViewNodes.WithLabelValues("c1")))
}
