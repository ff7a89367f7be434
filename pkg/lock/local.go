package lock

import (
	"context"
	"sync"
	"time"
)

// LocalCoordinator serializes cycles within one process. It is used when a
// single control-plane process manages the fleet.
type LocalCoordinator struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalCoordinator creates an in-process coordinator
func NewLocalCoordinator() *LocalCoordinator {
	return &LocalCoordinator{slots: make(map[string]chan struct{})}
}

func (c *LocalCoordinator) slot(clusterID string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[clusterID]
	if !ok {
		s = make(chan struct{}, 1)
		c.slots[clusterID] = s
	}
	return s
}

// Acquire implements Coordinator
func (c *LocalCoordinator) Acquire(ctx context.Context, clusterID string, timeout time.Duration) (Guard, error) {
	if err := parentDone(ctx); err != nil {
		return nil, err
	}

	s := c.slot(clusterID)
	select {
	case s <- struct{}{}:
		return &localGuard{clusterID: clusterID, slot: s}, nil
	default:
	}
	if timeout <= 0 {
		return nil, ErrNotAcquired
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return &localGuard{clusterID: clusterID, slot: s}, nil
	case <-timer.C:
		return nil, ErrNotAcquired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type localGuard struct {
	clusterID string
	slot      chan struct{}
	once      sync.Once
}

func (g *localGuard) ClusterID() string { return g.clusterID }

func (g *localGuard) Release(context.Context) error {
	released := false
	g.once.Do(func() {
		<-g.slot
		released = true
	})
	if !released {
		return ErrReleased
	}
	return nil
}

var _ Coordinator = (*LocalCoordinator)(nil)
