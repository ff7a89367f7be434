package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCoordinatorExclusive(t *testing.T) {
	c := NewLocalCoordinator()
	ctx := context.Background()

	g, err := c.Acquire(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, "c1", g.ClusterID())

	_, err = c.Acquire(ctx, "c1", 0)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// other clusters are independent
	other, err := c.Acquire(ctx, "c2", 0)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, g.Release(ctx))
	assert.ErrorIs(t, g.Release(ctx), ErrReleased)

	again, err := c.Acquire(ctx, "c1", 0)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalCoordinatorTimeout(t *testing.T) {
	c := NewLocalCoordinator()
	ctx := context.Background()

	g, err := c.Acquire(ctx, "c1", 0)
	require.NoError(t, err)
	defer g.Release(ctx)

	start := time.Now()
	_, err = c.Acquire(ctx, "c1", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLocalCoordinatorWaitsForRelease(t *testing.T) {
	c := NewLocalCoordinator()
	ctx := context.Background()

	g, err := c.Acquire(ctx, "c1", 0)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Release(ctx)
	}()

	next, err := c.Acquire(ctx, "c1", time.Second)
	require.NoError(t, err)
	require.NoError(t, next.Release(ctx))
}

func TestLocalCoordinatorCancelled(t *testing.T) {
	c := NewLocalCoordinator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Acquire(ctx, "c1", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalCoordinatorConcurrent(t *testing.T) {
	c := NewLocalCoordinator()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := c.Acquire(ctx, "c1", 5*time.Second)
			if err != nil {
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			g.Release(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}
