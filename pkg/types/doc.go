/*
Package types defines the data model shared by every dbfleet package.

The model has three groups of types.

Inputs:
  - NodeReport: what an agent says about one database node (role claim,
    health, observation time, payload version)
  - Cluster: a managed cluster and the agents that report for it
  - DesiredConfig: target topology (secondaries per replication group) and
    remediation policy

Views:
  - ViewNode and ViewSnapshot: the storable form of a validated cluster view.
    The live, immutable view lives in package view.

Cycle outcomes:
  - OrchestrateMode: dry-run or apply
  - ConvergeState: the state machine of one cycle. States only move forward;
    CanAdvance enforces the ordering
  - ReportNote and OrchestrateReport: the ordered notes and final state that
    every cycle persists exactly once
  - Progress: the last state a cycle reached, kept for observability

All types carry json and cbor tags. JSON is used on the HTTP surface and in
CLI output; CBOR is used by the bolt store.
*/
package types
