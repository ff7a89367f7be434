package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/murmur3"

	"github.com/cuemby/dbfleet/pkg/converge"
	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/metrics"
	"github.com/cuemby/dbfleet/pkg/types"
)

// Orchestrator runs one convergence cycle
type Orchestrator interface {
	Orchestrate(ctx context.Context, req converge.Request) (*types.OrchestrateReport, error)
}

// ClusterLister lists the clusters to reconcile
type ClusterLister interface {
	ListClusters() ([]*types.Cluster, error)
}

// Config controls the reconciliation loop
type Config struct {
	// Interval between full sweeps of the fleet
	Interval time.Duration

	// Workers is the number of cycles that may run in parallel
	Workers int

	// QueueSize bounds the pending requests per worker
	QueueSize int

	// Mode is the orchestration mode of scheduled cycles
	Mode types.OrchestrateMode

	// Leader gates sweeps to the process that can grant cluster locks.
	// Nil sweeps on every tick.
	Leader func() bool
}

// Reconciler periodically enqueues every cluster for a convergence cycle.
// Requests are sharded over workers by cluster ID, so cycles of one cluster
// never overlap within a process; a cluster already queued is not queued
// again.
type Reconciler struct {
	engine   Orchestrator
	clusters ClusterLister
	config   Config
	queues   []chan string
	pending  map[string]bool
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(engine Orchestrator, clusters ClusterLister, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Mode == "" {
		cfg.Mode = types.ModeApply
	}

	queues := make([]chan string, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan string, cfg.QueueSize)
	}

	return &Reconciler{
		engine:   engine,
		clusters: clusters,
		config:   cfg,
		queues:   queues,
		pending:  make(map[string]bool),
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop and its workers. Cycles run under
// ctx; Stop or cancelling ctx ends them.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	for i := range r.queues {
		r.wg.Add(1)
		go r.work(ctx, i)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.run(ctx)
	}()
}

// Stop stops the reconciler and waits for running cycles to finish
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

// run is the main reconciliation loop
func (r *Reconciler) run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	// Sweep immediately on start
	r.sweep()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep enqueues every known cluster
func (r *Reconciler) sweep() {
	if r.config.Leader != nil && !r.config.Leader() {
		r.logger.Debug().Msg("Not the lock leader, skipping sweep")
		return
	}

	clusters, err := r.clusters.ListClusters()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list clusters")
		metrics.UpdateComponent("reconciler", false, err.Error())
		return
	}
	metrics.UpdateComponent("reconciler", true, "")

	queued := 0
	for _, c := range clusters {
		if r.Enqueue(c.ID) {
			queued++
		}
	}
	r.logger.Debug().Int("clusters", len(clusters)).Int("queued", queued).Msg("Sweep finished")
}

// Enqueue requests a cycle for a cluster. It returns false when the cluster
// is already queued or its worker queue is full.
func (r *Reconciler) Enqueue(clusterID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending[clusterID] {
		return false
	}

	select {
	case r.queues[r.shard(clusterID)] <- clusterID:
		r.pending[clusterID] = true
		metrics.ReconcileQueueDepth.Set(float64(len(r.pending)))
		return true
	default:
		r.logger.Warn().Str("cluster_id", clusterID).Msg("Reconcile queue full, request dropped")
		return false
	}
}

// Pending returns the number of queued clusters
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Reconciler) shard(clusterID string) int {
	return int(murmur3.Sum32([]byte(clusterID)) % uint32(len(r.queues)))
}

func (r *Reconciler) work(ctx context.Context, i int) {
	defer r.wg.Done()

	for {
		select {
		case clusterID := <-r.queues[i]:
			r.dequeue(clusterID)
			r.reconcile(ctx, clusterID)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) dequeue(clusterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, clusterID)
	metrics.ReconcileQueueDepth.Set(float64(len(r.pending)))
}

// reconcile performs one convergence cycle for a cluster
func (r *Reconciler) reconcile(ctx context.Context, clusterID string) {
	report, err := r.engine.Orchestrate(ctx, converge.Request{ClusterID: clusterID, Mode: r.config.Mode})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error().Err(err).Str("cluster_id", clusterID).Msg("Cycle error")
		return
	}
	if report.State != types.StateConverged {
		r.logger.Info().
			Str("cluster_id", clusterID).
			Str("state", string(report.State)).
			Int("notes", len(report.Notes)).
			Msg("Cluster not converged")
	}
}
