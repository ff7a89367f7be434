/*
Package metrics provides Prometheus metrics and component health reporting
for dbfleet.

All collectors are package-level variables registered with the default
Prometheus registry in init, and exposed by Handler on /metrics.

# Metrics

Fleet:
  - dbfleet_clusters_total: managed clusters
  - dbfleet_clusters_by_state{state}: clusters by latest cycle state
  - dbfleet_view_nodes{cluster}: nodes in the latest view

Cycles:
  - dbfleet_cycles_total{state}: cycles by final state
  - dbfleet_cycle_duration_seconds: cycle duration histogram
  - dbfleet_lock_acquisitions_total{result}: acquired, contended, error
  - dbfleet_actions_total{action,outcome}: noop, applied, planned,
    failed, skipped
  - dbfleet_safety_aborts_total{reason}: corrupt, many_primaries

Plumbing:
  - dbfleet_reconcile_queue_depth: clusters waiting for a cycle
  - dbfleet_events_dropped_total: events the broker could not deliver
  - dbfleet_api_requests_total{method,status}
  - dbfleet_api_request_duration_seconds{method}

Fleet gauges are sampled from the store by Collector every 15 seconds.
Counters are updated inline by the engine, reconciler and broker.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

# Health

Components report their state with UpdateComponent. /health answers 503
only when a critical component (store, coordinator, engine) is unhealthy;
other failures report "degraded" with 200. /ready answers 200 once every
critical component has registered as healthy.
*/
package metrics
