/*
Package converge implements the convergence cycle: the loop that brings one
database cluster from its observed state toward its desired configuration.

# State Machine

Each call to Engine.Orchestrate runs one cycle:

	Pending
	   │  acquire cluster lock (bounded wait)
	   ▼
	LockAcquired
	   │  load desired config, fetch reports, build view
	   ▼
	ViewBuilt
	   │  select eligible actions in registration order
	   ▼
	Diffing
	   │
	   ▼
	Executing ──► Converged | PartialFailure

Failed is reached from any non-terminal state when the lock is not
acquired, the desired configuration or reports cannot be loaded, the view
is rejected, or the caller cancels. States only move forward, and every
transition is written to the store as a progress marker.

# Safety

A view rejected with view.ErrClusterViewCorrupt or view.ErrManyPrimariesFound
ends the cycle with a safety_abort note before any action is considered. A
conflicting primary suppresses apply mode unconditionally.

In dry-run mode actions receive a platform handle that refuses every
mutating call, so a misbehaving action fails instead of changing the fleet.

# Actions

Each eligible action runs with its own timeout. A failure, timeout or panic
becomes an action_failed note and the remaining actions still run. An
inactive platform skips the action with an action_skipped note. Any failed
or skipped action, or an agent that could not be reached, makes the outcome
PartialFailure.

# Reports

Every cycle that passes request validation yields exactly one
OrchestrateReport. The report is persisted, the terminal event is published,
and only then is the lock released. Cancellation still produces a Failed
report with a cancellation note, and the lock is released on a detached
context bounded by Config.ReleaseTimeout.

# Usage

	engine, err := converge.NewEngine(converge.DefaultConfig(), converge.Deps{
		Coordinator: lock.NewLocalCoordinator(),
		Fetcher:     fetch.NewHTTPFetcher(store, fetch.HTTPOptions{}),
		Store:       store,
		Platforms:   platforms,
		Actions:     actions,
		Emitter:     broker,
	})
	if err != nil {
		return err
	}

	report, err := engine.Orchestrate(ctx, converge.Request{
		ClusterID: "orders-db",
		Mode:      types.ModeApply,
	})
*/
package converge
