/*
Package platform abstracts the hosting backends that run database nodes.

A Handle starts, stops, replaces and provisions nodes. Every mutating call
returns whether it changed anything, so an action can report a no-op when
the platform is already in the requested state.

The Registry maps platform references (as named in a cluster's desired
configuration) to handles. Resolution is done per action invocation:

  - an unknown reference fails with ErrNotFound
  - a registered but disabled platform fails with ErrNotActive

Activation can be flipped at runtime with SetActive.

Two backends are provided. Memory keeps node state in process and logs
every operation. Containerd runs each node as a container named
<cluster>.<node>, labelled with its cluster, group and role, with the node's
data directory bind-mounted from the host.

DryRun wraps a handle so that no mutation can reach the backend.
*/
package platform
