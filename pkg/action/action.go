package action

import (
	"context"

	"github.com/cuemby/dbfleet/pkg/platform"
	"github.com/cuemby/dbfleet/pkg/types"
	"github.com/cuemby/dbfleet/pkg/view"
)

// Outcome is what an action invocation did
type Outcome string

const (
	// OutcomeNoOp means the platform was already in the wanted state
	OutcomeNoOp Outcome = "noop"
	// OutcomeApplied means the platform was changed
	OutcomeApplied Outcome = "applied"
	// OutcomePlanned means the change was computed but not executed (dry-run)
	OutcomePlanned Outcome = "planned"
)

// Result is the outcome of one action invocation
type Result struct {
	Outcome Outcome
	Subject string
	Message string
}

// Action is a named remediation step. Eligible must be a pure function of
// its inputs. Execute must not mutate the platform in dry-run mode and must
// honour ctx cancellation.
type Action interface {
	Eligible(v *view.ClusterView, desired *types.DesiredConfig) bool
	Execute(ctx context.Context, v *view.ClusterView, desired *types.DesiredConfig, h platform.Handle, mode types.OrchestrateMode) (Result, error)
}

// PlatformSelector is implemented by actions that run on a platform other
// than the one named in the cluster's desired configuration
type PlatformSelector interface {
	PlatformRef(desired *types.DesiredConfig) string
}

// PlatformFor returns the platform reference an action runs on
func PlatformFor(a Action, desired *types.DesiredConfig) string {
	if s, ok := a.(PlatformSelector); ok {
		if ref := s.PlatformRef(desired); ref != "" {
			return ref
		}
	}
	return desired.PlatformRef
}
