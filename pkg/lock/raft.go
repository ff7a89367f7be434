package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/cuemby/dbfleet/pkg/log"
)

// RaftOptions configures the Raft-backed coordinator
type RaftOptions struct {
	NodeID        string
	BindAddr      string
	AdvertiseAddr string
	DataDir       string
	Bootstrap     bool
	TTL           time.Duration
	ApplyTimeout  time.Duration
	RetryInterval time.Duration
	Clock         func() time.Time
}

// RaftCoordinator grants cluster locks from a lease table replicated by
// hashicorp/raft among the control-plane processes. Only the Raft leader
// can grant locks; followers fail Acquire with raft.ErrNotLeader.
type RaftCoordinator struct {
	raft          *raft.Raft
	fsm           *leaseFSM
	transport     *raft.NetworkTransport
	logStore      *raftboltdb.BoltStore
	stableStore   *raftboltdb.BoltStore
	nodeID        string
	ttl           time.Duration
	applyTimeout  time.Duration
	retryInterval time.Duration
	now           func() time.Time
	logger        zerolog.Logger
}

// NewRaftCoordinator starts a Raft node. With Bootstrap set, it forms a new
// single-voter cluster; otherwise it waits to be added by a leader.
func NewRaftCoordinator(opts RaftOptions) (*RaftCoordinator, error) {
	if opts.NodeID == "" {
		return nil, errors.New("raft coordinator requires a node id")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("raft coordinator requires a positive TTL")
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = 5 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 100 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	raftDir := filepath.Join(opts.DataDir, "raft")
	if err := os.MkdirAll(raftDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create raft dir: %w", err)
	}

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(opts.NodeID)

	// LAN timeouts; cluster locks should fail over in a few seconds
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	var advertise net.Addr
	if opts.AdvertiseAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", opts.AdvertiseAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve advertise address: %w", err)
		}
		advertise = addr
	}

	transport, err := raft.NewTCPTransport(opts.BindAddr, advertise, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(raftDir, 2, os.Stderr)
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	fsm := newLeaseFSM()
	r, err := raft.NewRaft(config, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	c := &RaftCoordinator{
		raft:          r,
		fsm:           fsm,
		transport:     transport,
		logStore:      logStore,
		stableStore:   stableStore,
		nodeID:        opts.NodeID,
		ttl:           opts.TTL,
		applyTimeout:  opts.ApplyTimeout,
		retryInterval: opts.RetryInterval,
		now:           opts.Clock,
		logger:        log.WithNodeID(opts.NodeID).With().Str("component", "lock").Logger(),
	}

	if opts.Bootstrap {
		hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
		if err != nil {
			c.Shutdown()
			return nil, fmt.Errorf("failed to inspect raft state: %w", err)
		}
		if !hasState {
			configuration := raft.Configuration{
				Servers: []raft.Server{
					{
						ID:      config.LocalID,
						Address: transport.LocalAddr(),
					},
				},
			}
			if err := r.BootstrapCluster(configuration).Error(); err != nil {
				c.Shutdown()
				return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
			}
		}
	}

	return c, nil
}

// Addr returns the address peers use to reach this node
func (c *RaftCoordinator) Addr() string {
	return string(c.transport.LocalAddr())
}

// IsLeader returns whether this node is the Raft leader
func (c *RaftCoordinator) IsLeader() bool {
	return c.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current leader
func (c *RaftCoordinator) LeaderAddr() string {
	addr, _ := c.raft.LeaderWithID()
	return string(addr)
}

// Stats returns Raft statistics
func (c *RaftCoordinator) Stats() map[string]string {
	return c.raft.Stats()
}

// AddVoter adds a control-plane node to the Raft cluster
func (c *RaftCoordinator) AddVoter(nodeID, address string) error {
	if !c.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", c.LeaderAddr())
	}

	future := c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	c.logger.Info().Str("voter", nodeID).Str("address", address).Msg("Added voter")
	return nil
}

func (c *RaftCoordinator) apply(op string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal command data: %w", err)
	}
	cmd, err := json.Marshal(Command{Op: op, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := c.raft.Apply(cmd, c.applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}

	// Check if apply returned an error
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// Acquire implements Coordinator. It retries while the lease is held
// elsewhere until timeout elapses.
func (c *RaftCoordinator) Acquire(ctx context.Context, clusterID string, timeout time.Duration) (Guard, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(timeout)

	for {
		if err := parentDone(ctx); err != nil {
			return nil, err
		}

		err := c.apply(opAcquire, acquireCmd{
			ClusterID: clusterID,
			Holder:    c.nodeID,
			Token:     token,
			Now:       c.now().UTC(),
			TTL:       c.ttl,
		})
		if err == nil {
			g := &raftGuard{
				coordinator: c,
				clusterID:   clusterID,
				token:       token,
				stop:        make(chan struct{}),
				done:        make(chan struct{}),
			}
			go g.keepalive()
			return g, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, ErrNotAcquired
		}
		if wait > c.retryInterval {
			wait = c.retryInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Holder returns the current lease for a cluster, if any
func (c *RaftCoordinator) Holder(clusterID string) (Lease, bool) {
	return c.fsm.lease(clusterID)
}

// Shutdown stops Raft and closes its stores
func (c *RaftCoordinator) Shutdown() error {
	if err := c.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("failed to shutdown raft: %w", err)
	}
	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	if err := c.logStore.Close(); err != nil {
		return fmt.Errorf("failed to close log store: %w", err)
	}
	return c.stableStore.Close()
}

type raftGuard struct {
	coordinator *RaftCoordinator
	clusterID   string
	token       string

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (g *raftGuard) ClusterID() string { return g.clusterID }

// keepalive renews the lease every third of its TTL until Release
func (g *raftGuard) keepalive() {
	defer close(g.done)

	c := g.coordinator
	ticker := time.NewTicker(c.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
		}

		err := c.apply(opRenew, renewCmd{
			ClusterID: g.clusterID,
			Token:     g.token,
			Now:       c.now().UTC(),
			TTL:       c.ttl,
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrLeaseLost):
			c.logger.Error().Str("cluster_id", g.clusterID).Msg("Cluster lease lost before renewal")
			return
		default:
			// Leadership changes are retried until the lease runs out
			c.logger.Warn().Err(err).Str("cluster_id", g.clusterID).Msg("Failed to renew cluster lease")
		}
	}
}

func (g *raftGuard) Release(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stop) })
	<-g.done

	if err := parentDone(ctx); err != nil {
		return err
	}
	return g.coordinator.apply(opRelease, releaseCmd{ClusterID: g.clusterID, Token: g.token})
}

var _ Coordinator = (*RaftCoordinator)(nil)
