/*
Package config loads dbfleet's process configuration and desired-state
documents.

# Process configuration

A process reads one file, YAML or TOML chosen by extension. Every field
has a default (see Default), so a file only needs the settings it
changes:

	node_id: node-1
	data_dir: /var/lib/dbfleet
	coordinator:
	  kind: etcd            # local | etcd | raft
	  etcd:
	    endpoints: ["http://10.0.0.5:2379"]
	    ttl: 15s
	engine:
	  lock_timeout: 5s
	  action_timeout: 30s
	  staleness_bound: 30s
	  tie_break: later-call
	fetcher:
	  kind: http            # http | gossip
	platforms:
	  - name: east
	    kind: containerd

Durations use Go syntax ("500ms", "1m30s"). Validate reports every
problem in one ValidationError, which matches ErrInvalidConfig.

# Desired-state documents

A Cluster document declares one database cluster. It may be written as
YAML, TOML, or JSON with comments and trailing commas:

	apiVersion: dbfleet.io/v1
	kind: Cluster
	metadata:
	  name: orders
	spec:
	  platform: east
	  image: postgres:16
	  secondaries: 2
	  agents: ["10.0.0.1:8080"]
	  policy:
	    restartUnhealthy: true

Document.Cluster and Document.DesiredConfig convert a document into
the records kept by the store.
*/
package config
