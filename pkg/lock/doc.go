/*
Package lock provides the per-cluster mutual exclusion used by convergence
cycles.

At most one cycle may run against a cluster at a time, fleet wide. A cycle
acquires the cluster's lock before it reads any state and releases it on
every exit path, including failure and cancellation.

# Coordinators

Three Coordinator implementations are provided:

LocalCoordinator:
  - One buffered channel per cluster
  - For a single control-plane process

EtcdCoordinator:
  - etcd mutex under <namespace>/locks/<cluster>
  - Tied to a session lease, so a crashed holder loses the lock after TTL
  - The mutex key carries a JSON annotation naming the holder

RaftCoordinator:
  - Lease table replicated with hashicorp/raft
  - Log and stable stores in BoltDB via raft-boltdb
  - Only the leader grants leases; expiry uses the proposer's clock
    carried in the log entry, so replicas agree
  - A held guard renews its lease every TTL/3 until Release; a lease that
    expired before renewal is lost and may be granted again
  - More voters join through the leader's AddVoter (POST /v1/raft/join)

# Timeouts

Acquire takes a timeout. Zero means try once. When the lock is still held
at the deadline, Acquire returns ErrNotAcquired. Cancellation of the
parent context is returned as the context error.

# Usage

	guard, err := coordinator.Acquire(ctx, "orders-db", 5*time.Second)
	if errors.Is(err, lock.ErrNotAcquired) {
		return // another cycle is running
	}
	defer guard.Release(context.Background())
*/
package lock
