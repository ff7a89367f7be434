package metrics

import (
	"time"

	"github.com/cuemby/dbfleet/pkg/types"
)

// Source is the read side of the store the collector samples
type Source interface {
	ListClusters() ([]*types.Cluster, error)
	ListReports(clusterID string, limit int) ([]*types.OrchestrateReport, error)
	LatestView(clusterID string) (*types.ViewSnapshot, error)
}

// Collector samples fleet gauges from the store
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect samples the store once
func (c *Collector) Collect() {
	clusters, err := c.source.ListClusters()
	if err != nil {
		return
	}

	ClustersTotal.Set(float64(len(clusters)))

	states := map[types.ConvergeState]int{
		types.StateConverged:      0,
		types.StatePartialFailure: 0,
		types.StateFailed:         0,
	}
	for _, cluster := range clusters {
		reports, err := c.source.ListReports(cluster.ID, 1)
		if err == nil && len(reports) > 0 {
			states[reports[0].State]++
		}

		if view, err := c.source.LatestView(cluster.ID); err == nil {
			ViewNodes.WithLabelValues(cluster.ID).Set(float64(len(view.Nodes)))
		}
	}

	for state, count := range states {
		ClustersByState.WithLabelValues(string(state)).Set(float64(count))
	}
}
