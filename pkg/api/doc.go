/*
Package api implements dbfleet's HTTP API and the gRPC health service.

# Architecture

	┌──────────── operators / load balancers / Prometheus ───────────┐
	└──────────────┬───────────────────────────────┬─────────────────┘
	               │ HTTP (default :9090)          │ gRPC (default :9091)
	┌──────────────▼───────────────┐ ┌─────────────▼─────────────────┐
	│  Server                      │ │  GRPCServer                   │
	│  - /health /ready /live      │ │  - grpc.health.v1.Health      │
	│  - /metrics                  │ │  - per-component services     │
	│  - /v1/clusters, /v1/platforms│ │  - logging interceptor       │
	└──────────────┬───────────────┘ └─────────────┬─────────────────┘
	               │                               │
	     store, engine, platforms        metrics health registry

# HTTP endpoints

	GET  /health                         process health (503 when unhealthy)
	GET  /ready                          probes store and coordinator, 503 until ready
	GET  /live                           200 while the process runs
	GET  /metrics                        Prometheus exposition
	GET  /v1/clusters                    all clusters
	POST /v1/clusters                    apply a Cluster document (JSON or JSONC)
	GET  /v1/clusters/{id}               cluster, last progress marker, latest view
	GET  /v1/clusters/{id}/reports       newest reports first (?limit=N, default 20)
	GET  /v1/clusters/{id}/view          latest view snapshot
	POST /v1/clusters/{id}/orchestrate   run one cycle (?mode=dry-run|apply)
	GET  /v1/platforms                   registered platforms
	PUT  /v1/platforms/{name}            {"active": bool}
	GET  /v1/raft                        raft leadership and statistics
	POST /v1/raft/join                   {"node_id", "address"}: add a raft voter (leader only, 409 otherwise)

Errors are returned as {"error": "..."}. Missing records answer 404;
endpoints whose collaborator was not configured answer 501.

Every request is counted in dbfleet_api_requests_total labelled by the
matched route pattern and status code.

# gRPC health

GRPCServer serves the standard health protocol. The empty service name
reflects overall process health; "store", "coordinator" and "engine"
reflect the critical components. Call Watch to keep the statuses in sync
with the metrics health registry.

With GRPCOptions.ReadOnly set, ReadOnlyInterceptor rejects methods that
do not start with a read prefix (List, Get, Check, Watch, Describe).
*/
package api
