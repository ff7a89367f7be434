package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotAcquired indicates the cluster lock is held elsewhere and did not free up in time
	ErrNotAcquired = errors.New("lock: not acquired")

	// ErrReleased is returned when releasing a guard twice
	ErrReleased = errors.New("lock: already released")

	// ErrLeaseLost is returned when a lease expired before it could be renewed
	ErrLeaseLost = errors.New("lock: lease lost")
)

// Coordinator grants mutually exclusive per-cluster locks. Acquire waits at
// most timeout for the lock; a zero timeout tries once.
type Coordinator interface {
	Acquire(ctx context.Context, clusterID string, timeout time.Duration) (Guard, error)
}

// Guard is a held cluster lock
type Guard interface {
	ClusterID() string
	Release(ctx context.Context) error
}

func parentDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
