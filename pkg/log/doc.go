/*
Package log provides structured logging for dbfleet using zerolog.

A single global Logger is configured once with Init and then shared by every
package. Output is human-readable console text by default and JSON when
Config.JSONOutput is set, which is what log shippers expect in production.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component and cycle loggers:

	lockLog := log.WithComponent("lock")
	lockLog.Info().Str("cluster_id", id).Msg("Lock acquired")

	cycleLog := log.WithCycle(clusterID, cycleID)
	cycleLog.Warn().Str("action", "add-secondary").Msg("Action timed out")

Simple helpers exist for one-off messages:

	log.Info("Control plane started")
	log.Errorf("Failed to open store", err)

# Fields

The helpers attach a fixed set of field names so that logs from different
packages can be joined:

  - component: the emitting package (converge, lock, reconciler, api, ...)
  - cluster_id: the database cluster being handled
  - cycle_id: one orchestration cycle
  - node_id: the control-plane process or a database node, by context

Messages start with a capital letter and describe what happened
("Lock acquired", "View rejected"), with details in fields rather than in
the message text.

# Levels

Debug is for per-report and per-transition detail, Info for cycle outcomes
and lifecycle events, Warn for recoverable problems such as a skipped action
or an unreachable agent, and Error for failures that lose work, such as a
report that could not be persisted. Fatal is used only by the CLI before the
control plane starts.
*/
package log
