package types

import (
	"fmt"
	"time"
)

// DefaultGroup is the replication group assumed when a report leaves it empty
const DefaultGroup = "default"

// NodeRole is the role a database node claims in its replication group
type NodeRole string

const (
	RolePrimary   NodeRole = "primary"
	RoleSecondary NodeRole = "secondary"
	RoleUnknown   NodeRole = "unknown"
)

// ParseNodeRole parses a role claim as sent by an agent
func ParseNodeRole(s string) (NodeRole, error) {
	switch NodeRole(s) {
	case RolePrimary, RoleSecondary, RoleUnknown:
		return NodeRole(s), nil
	default:
		return "", fmt.Errorf("unknown node role %q", s)
	}
}

// NodeHealth is the health self-assessment of a database node
type NodeHealth string

const (
	HealthHealthy   NodeHealth = "healthy"
	HealthDegraded  NodeHealth = "degraded"
	HealthUnhealthy NodeHealth = "unhealthy"
)

// ParseNodeHealth parses a health value as sent by an agent
func ParseNodeHealth(s string) (NodeHealth, error) {
	switch NodeHealth(s) {
	case HealthHealthy, HealthDegraded, HealthUnhealthy:
		return NodeHealth(s), nil
	default:
		return "", fmt.Errorf("unknown node health %q", s)
	}
}

// NodeReport is the state of one database node as reported by its agent.
// Reports are transient inputs to a view builder.
type NodeReport struct {
	NodeID         string     `json:"node_id" cbor:"node_id"`
	Group          string     `json:"group,omitempty" cbor:"group,omitempty"`
	Role           NodeRole   `json:"role" cbor:"role"`
	Health         NodeHealth `json:"health" cbor:"health"`
	ObservedAt     time.Time  `json:"observed_at" cbor:"observed_at"`
	PayloadVersion string     `json:"payload_version,omitempty" cbor:"payload_version,omitempty"`
	Address        string     `json:"address,omitempty" cbor:"address,omitempty"`
}

// GroupOrDefault returns the report's replication group
func (r NodeReport) GroupOrDefault() string {
	if r.Group == "" {
		return DefaultGroup
	}
	return r.Group
}

// Cluster is a managed database cluster
type Cluster struct {
	ID          string            `json:"id" cbor:"id"`
	Name        string            `json:"name" cbor:"name"`
	PlatformRef string            `json:"platform_ref" cbor:"platform_ref"`
	Agents      []string          `json:"agents,omitempty" cbor:"agents,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" cbor:"labels,omitempty"`
	CreatedAt   time.Time         `json:"created_at" cbor:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" cbor:"updated_at"`
}

// GroupSpec overrides desired topology for one replication group
type GroupSpec struct {
	Secondaries int `json:"secondaries" yaml:"secondaries" toml:"secondaries" cbor:"secondaries"`
}

// DesiredConfig is the target topology and policy for a cluster
type DesiredConfig struct {
	ClusterID   string               `json:"cluster_id" cbor:"cluster_id"`
	PlatformRef string               `json:"platform_ref" cbor:"platform_ref"`
	Image       string               `json:"image" cbor:"image"`
	Secondaries int                  `json:"secondaries" cbor:"secondaries"`
	Groups      map[string]GroupSpec `json:"groups,omitempty" cbor:"groups,omitempty"`
	Policy      Policy               `json:"policy" cbor:"policy"`
	Revision    int64                `json:"revision" cbor:"revision"`
	UpdatedAt   time.Time            `json:"updated_at" cbor:"updated_at"`
}

// Policy toggles the remediation a cluster allows
type Policy struct {
	RestartUnhealthy bool `json:"restart_unhealthy" cbor:"restart_unhealthy"`
	ReplaceStale     bool `json:"replace_stale" cbor:"replace_stale"`
	RemoveExcess     bool `json:"remove_excess" cbor:"remove_excess"`
}

// SecondariesFor returns the desired secondary count for a replication group
func (d *DesiredConfig) SecondariesFor(group string) int {
	if spec, ok := d.Groups[group]; ok {
		return spec.Secondaries
	}
	return d.Secondaries
}

// OrchestrateMode selects whether a cycle mutates the platform
type OrchestrateMode string

const (
	ModeDryRun OrchestrateMode = "dry-run"
	ModeApply  OrchestrateMode = "apply"
)

// ParseMode parses an orchestration mode
func ParseMode(s string) (OrchestrateMode, error) {
	switch OrchestrateMode(s) {
	case ModeDryRun, ModeApply:
		return OrchestrateMode(s), nil
	default:
		return "", fmt.Errorf("unknown orchestrate mode %q", s)
	}
}

// ConvergeState is the progress of one orchestration cycle
type ConvergeState string

const (
	StatePending        ConvergeState = "pending"
	StateLockAcquired   ConvergeState = "lock_acquired"
	StateViewBuilt      ConvergeState = "view_built"
	StateDiffing        ConvergeState = "diffing"
	StateExecuting      ConvergeState = "executing"
	StateConverged      ConvergeState = "converged"
	StatePartialFailure ConvergeState = "partial_failure"
	StateFailed         ConvergeState = "failed"
)

var stateRank = map[ConvergeState]int{
	StatePending:        0,
	StateLockAcquired:   1,
	StateViewBuilt:      2,
	StateDiffing:        3,
	StateExecuting:      4,
	StateConverged:      5,
	StatePartialFailure: 5,
	StateFailed:         5,
}

// Terminal reports whether no transition can follow s
func (s ConvergeState) Terminal() bool {
	return s == StateConverged || s == StatePartialFailure || s == StateFailed
}

// CanAdvance reports whether moving from s to next keeps the cycle monotonic
func (s ConvergeState) CanAdvance(next ConvergeState) bool {
	if s.Terminal() {
		return false
	}
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	return to > from
}

// NoteCategory classifies a report note
type NoteCategory string

const (
	NoteInfo          NoteCategory = "info"
	NoteActionApplied NoteCategory = "action_applied"
	NoteActionSkipped NoteCategory = "action_skipped"
	NoteActionFailed  NoteCategory = "action_failed"
	NoteSafetyAbort   NoteCategory = "safety_abort"
)

// ReportNote is one entry of a cycle report
type ReportNote struct {
	Category  NoteCategory `json:"category" cbor:"category"`
	Subject   string       `json:"subject,omitempty" cbor:"subject,omitempty"`
	Message   string       `json:"message" cbor:"message"`
	Outcome   string       `json:"outcome,omitempty" cbor:"outcome,omitempty"`
	Timestamp time.Time    `json:"timestamp" cbor:"timestamp"`
}

// OrchestrateReport is the persisted outcome of one orchestration cycle
type OrchestrateReport struct {
	ID         string          `json:"id" cbor:"id"`
	CycleID    string          `json:"cycle_id" cbor:"cycle_id"`
	ClusterID  string          `json:"cluster_id" cbor:"cluster_id"`
	Mode       OrchestrateMode `json:"mode" cbor:"mode"`
	State      ConvergeState   `json:"state" cbor:"state"`
	Generation uint64          `json:"generation" cbor:"generation"`
	Notes      []ReportNote    `json:"notes" cbor:"notes"`
	StartedAt  time.Time       `json:"started_at" cbor:"started_at"`
	EndedAt    time.Time       `json:"ended_at" cbor:"ended_at"`
}

// NotesIn returns the notes of the given category, in emission order
func (r *OrchestrateReport) NotesIn(category NoteCategory) []ReportNote {
	var notes []ReportNote
	for _, n := range r.Notes {
		if n.Category == category {
			notes = append(notes, n)
		}
	}
	return notes
}

// Progress marks the last state a cycle reached
type Progress struct {
	ClusterID string        `json:"cluster_id" cbor:"cluster_id"`
	CycleID   string        `json:"cycle_id" cbor:"cycle_id"`
	State     ConvergeState `json:"state" cbor:"state"`
	UpdatedAt time.Time     `json:"updated_at" cbor:"updated_at"`
}

// ViewNode is a node as accepted into a cluster view
type ViewNode struct {
	ID             string     `json:"id" cbor:"id"`
	Group          string     `json:"group" cbor:"group"`
	Role           NodeRole   `json:"role" cbor:"role"`
	Health         NodeHealth `json:"health" cbor:"health"`
	ReportedHealth NodeHealth `json:"reported_health" cbor:"reported_health"`
	Stale          bool       `json:"stale" cbor:"stale"`
	ObservedAt     time.Time  `json:"observed_at" cbor:"observed_at"`
	PayloadVersion string     `json:"payload_version,omitempty" cbor:"payload_version,omitempty"`
	Address        string     `json:"address,omitempty" cbor:"address,omitempty"`
}

// ViewSnapshot is the storable form of a cluster view
type ViewSnapshot struct {
	ClusterID  string            `json:"cluster_id" cbor:"cluster_id"`
	Generation uint64            `json:"generation" cbor:"generation"`
	Nodes      []ViewNode        `json:"nodes" cbor:"nodes"`
	Primaries  map[string]string `json:"primaries,omitempty" cbor:"primaries,omitempty"`
	Freshness  time.Time         `json:"freshness" cbor:"freshness"`
	BuiltAt    time.Time         `json:"built_at" cbor:"built_at"`
}
