package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyCommand(t *testing.T, f *leaseFSM, op string, payload any) interface{} {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	cmd, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)
	return f.Apply(&raft.Log{Data: cmd})
}

func TestLeaseFSM(t *testing.T) {
	f := newLeaseFSM()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	resp := applyCommand(t, f, opAcquire, acquireCmd{ClusterID: "c1", Holder: "a", Token: "t1", Now: now, TTL: time.Minute})
	assert.Nil(t, resp)

	// held by another live token
	resp = applyCommand(t, f, opAcquire, acquireCmd{ClusterID: "c1", Holder: "b", Token: "t2", Now: now.Add(time.Second), TTL: time.Minute})
	assert.Equal(t, ErrNotAcquired, resp)

	// expired leases can be taken over
	resp = applyCommand(t, f, opAcquire, acquireCmd{ClusterID: "c1", Holder: "b", Token: "t2", Now: now.Add(2 * time.Minute), TTL: time.Minute})
	assert.Nil(t, resp)

	lease, ok := f.lease("c1")
	require.True(t, ok)
	assert.Equal(t, "b", lease.Holder)

	// stale token cannot release
	resp = applyCommand(t, f, opRelease, releaseCmd{ClusterID: "c1", Token: "t1"})
	assert.Equal(t, ErrReleased, resp)

	resp = applyCommand(t, f, opRelease, releaseCmd{ClusterID: "c1", Token: "t2"})
	assert.Nil(t, resp)
	_, ok = f.lease("c1")
	assert.False(t, ok)

	resp = applyCommand(t, f, "bogus", struct{}{})
	assert.Error(t, resp.(error))
}

type bufferSink struct {
	buf []byte
}

func (s *bufferSink) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}
func (s *bufferSink) Close() error  { return nil }
func (s *bufferSink) ID() string    { return "test" }
func (s *bufferSink) Cancel() error { return nil }

func TestLeaseFSMSnapshotRestore(t *testing.T) {
	f := newLeaseFSM()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	applyCommand(t, f, opAcquire, acquireCmd{ClusterID: "c1", Holder: "a", Token: "t1", Now: now, TTL: time.Minute})

	snap, err := f.Snapshot()
	require.NoError(t, err)
	sink := &bufferSink{}
	require.NoError(t, snap.Persist(sink))

	restored := newLeaseFSM()
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.buf))))

	lease, ok := restored.lease("c1")
	require.True(t, ok)
	assert.Equal(t, "t1", lease.Token)
	assert.True(t, lease.ExpiresAt.Equal(now.Add(time.Minute)))
}

func TestRaftCoordinatorSingleNode(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft test in short mode")
	}

	c, err := NewRaftCoordinator(RaftOptions{
		NodeID:    "cp-1",
		BindAddr:  "127.0.0.1:0",
		DataDir:   t.TempDir(),
		Bootstrap: true,
		TTL:       time.Minute,
	})
	require.NoError(t, err)
	defer c.Shutdown()

	require.Eventually(t, c.IsLeader, 10*time.Second, 50*time.Millisecond)

	ctx := context.Background()
	g, err := c.Acquire(ctx, "c1", 0)
	require.NoError(t, err)

	lease, ok := c.Holder("c1")
	require.True(t, ok)
	assert.Equal(t, "cp-1", lease.Holder)

	_, err = c.Acquire(ctx, "c1", 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, g.Release(ctx))
	assert.ErrorIs(t, g.Release(ctx), ErrReleased)

	g2, err := c.Acquire(ctx, "c1", time.Second)
	require.NoError(t, err)
	require.NoError(t, g2.Release(ctx))
}

func TestLeaseFSMRenew(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		renew renewCmd
		want  error
	}{
		{
			name:  "live lease is extended",
			renew: renewCmd{ClusterID: "c1", Token: "t1", Now: now.Add(30 * time.Second), TTL: time.Minute},
		},
		{
			name:  "other token",
			renew: renewCmd{ClusterID: "c1", Token: "t2", Now: now.Add(30 * time.Second), TTL: time.Minute},
			want:  ErrLeaseLost,
		},
		{
			name:  "expired lease",
			renew: renewCmd{ClusterID: "c1", Token: "t1", Now: now.Add(2 * time.Minute), TTL: time.Minute},
			want:  ErrLeaseLost,
		},
		{
			name:  "no lease",
			renew: renewCmd{ClusterID: "c2", Token: "t1", Now: now, TTL: time.Minute},
			want:  ErrLeaseLost,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLeaseFSM()
			applyCommand(t, f, opAcquire, acquireCmd{ClusterID: "c1", Holder: "a", Token: "t1", Now: now, TTL: time.Minute})

			resp := applyCommand(t, f, opRenew, tt.renew)
			if tt.want != nil {
				assert.Equal(t, tt.want, resp)
				return
			}
			assert.Nil(t, resp)

			lease, ok := f.lease("c1")
			require.True(t, ok)
			assert.True(t, lease.ExpiresAt.Equal(tt.renew.Now.Add(time.Minute)))
			assert.True(t, lease.AcquiredAt.Equal(now))
		})
	}
}

func TestRaftCoordinatorHeldPastTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft test in short mode")
	}

	c, err := NewRaftCoordinator(RaftOptions{
		NodeID:    "cp-1",
		BindAddr:  "127.0.0.1:0",
		DataDir:   t.TempDir(),
		Bootstrap: true,
		TTL:       300 * time.Millisecond,
	})
	require.NoError(t, err)
	defer c.Shutdown()

	require.Eventually(t, c.IsLeader, 10*time.Second, 50*time.Millisecond)

	ctx := context.Background()
	g, err := c.Acquire(ctx, "c1", 0)
	require.NoError(t, err)

	// The guard outlives several TTLs and keeps the lease
	time.Sleep(time.Second)

	_, err = c.Acquire(ctx, "c1", 0)
	assert.ErrorIs(t, err, ErrNotAcquired)

	lease, ok := c.Holder("c1")
	require.True(t, ok)
	assert.True(t, lease.ExpiresAt.After(time.Now()))

	require.NoError(t, g.Release(ctx))

	// Renewal stops with Release
	g2, err := c.Acquire(ctx, "c1", 0)
	require.NoError(t, err)
	require.NoError(t, g2.Release(ctx))
}

func newRaftNode(t *testing.T, id string, bootstrap bool) *RaftCoordinator {
	t.Helper()

	c, err := NewRaftCoordinator(RaftOptions{
		NodeID:    id,
		BindAddr:  "127.0.0.1:0",
		DataDir:   t.TempDir(),
		Bootstrap: bootstrap,
		TTL:       time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c
}

func TestRaftCoordinatorTwoNodes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft test in short mode")
	}

	leader := newRaftNode(t, "cp-1", true)
	require.Eventually(t, leader.IsLeader, 10*time.Second, 50*time.Millisecond)

	follower := newRaftNode(t, "cp-2", false)
	require.NoError(t, leader.AddVoter("cp-2", follower.Addr()))
	require.Eventually(t, func() bool {
		return follower.LeaderAddr() == leader.Addr()
	}, 10*time.Second, 50*time.Millisecond)

	ctx := context.Background()
	g, err := leader.Acquire(ctx, "c1", 0)
	require.NoError(t, err)

	// The lease replicates; the follower cannot grant a second one
	require.Eventually(t, func() bool {
		lease, ok := follower.Holder("c1")
		return ok && lease.Holder == "cp-1"
	}, 5*time.Second, 20*time.Millisecond)

	_, err = follower.Acquire(ctx, "c1", 0)
	assert.ErrorIs(t, err, raft.ErrNotLeader)

	require.NoError(t, g.Release(ctx))
	require.Eventually(t, func() bool {
		_, ok := follower.Holder("c1")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}
