/*
Package reconciler schedules convergence cycles for the whole fleet.

The reconciler sweeps the store on a fixed interval (10 seconds by default)
and enqueues every cluster. A pool of workers drains the queue, running one
converge cycle per request:

	┌───────────────────────────────┐
	│   Sweep (every Interval)      │
	│   ListClusters → Enqueue      │
	└───────────────┬───────────────┘
	                │ murmur3(cluster ID) % workers
	      ┌─────────┼─────────┐
	      ▼         ▼         ▼
	  worker 0  worker 1  worker N
	      │         │         │
	      └──── Engine.Orchestrate

Sharding by a hash of the cluster ID sends every request for a cluster to
the same worker, so a process never runs two cycles of one cluster at once
and never wastes a lock attempt on itself. The lock coordinator still
serializes cycles across processes.

A cluster that is already queued is not queued again; the request is
removed from the pending set when a worker picks it up, so a sweep during
a running cycle queues exactly one follow-up. When a worker's queue is
full the request is dropped and the next sweep retries it.

Stop closes the loop, cancels the context of running cycles and waits for
the workers. A cancelled cycle still persists its report and releases its
lock inside the engine.
*/
package reconciler
