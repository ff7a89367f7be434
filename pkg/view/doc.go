/*
Package view assembles node reports into a validated, immutable ClusterView.

A Builder is created per orchestration cycle. Reports are added as they
arrive; for a node reported more than once, the newest observation wins and
equal timestamps are settled by the configured TieBreak (by default the
report added last). Build then validates the whole set:

  - a malformed report (missing node ID or timestamp, unknown role or
    health) rejects the view with ErrClusterViewCorrupt
  - an empty node set rejects the view with ErrClusterViewCorrupt
  - two or more nodes claiming primary in the same replication group reject
    the view with ErrManyPrimariesFound

Both rejections are *ValidationError values carrying the offending group and
nodes; match them with errors.Is.

Reports older than Options.StalenessBound are kept and flagged stale, with a
healthy self-assessment downgraded to degraded. Options.ExcludeStale drops
them instead; excluded nodes take no part in the primary check.

A builder is single-use. After Build returns, further AddReport or Build
calls return ErrBuilderFinalized.
*/
package view
