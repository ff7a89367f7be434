package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/dbfleet/pkg/platform"
	"github.com/cuemby/dbfleet/pkg/types"
	"github.com/cuemby/dbfleet/pkg/view"
)

// Built-in action IDs, in the order RegisterBuiltins registers them
const (
	IDReplaceStale          = "replace-stale"
	IDRestartUnhealthy      = "restart-unhealthy"
	IDAddSecondary          = "add-secondary"
	IDRemoveExcessSecondary = "remove-excess-secondary"
)

// RegisterBuiltins registers the built-in actions
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		id string
		a  Action
	}{
		{IDReplaceStale, NewReplaceStale()},
		{IDRestartUnhealthy, NewRestartUnhealthy()},
		{IDAddSecondary, AddSecondary{}},
		{IDRemoveExcessSecondary, RemoveExcessSecondary{}},
	}
	for _, b := range builtins {
		if err := r.Register(b.id, b.a); err != nil {
			return err
		}
	}
	return nil
}

// groupsOf returns every replication group named by the view or the desired config
func groupsOf(v *view.ClusterView, desired *types.DesiredConfig) []string {
	seen := make(map[string]struct{})
	for _, g := range v.Groups() {
		seen[g] = struct{}{}
	}
	for g := range desired.Groups {
		seen[g] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// AddSecondary provisions secondaries for groups below their desired count.
// Node names are derived from the view, so re-running against an unchanged
// view asks the platform for the same nodes and yields a no-op.
type AddSecondary struct{}

func (AddSecondary) Eligible(v *view.ClusterView, desired *types.DesiredConfig) bool {
	for _, g := range groupsOf(v, desired) {
		if len(v.Secondaries(g)) < desired.SecondariesFor(g) {
			return true
		}
	}
	return false
}

func (AddSecondary) Execute(ctx context.Context, v *view.ClusterView, desired *types.DesiredConfig, h platform.Handle, mode types.OrchestrateMode) (Result, error) {
	var specs []platform.NodeSpec
	for _, g := range groupsOf(v, desired) {
		missing := desired.SecondariesFor(g) - len(v.Secondaries(g))
		for _, id := range nextNodeIDs(v, g, missing) {
			specs = append(specs, platform.NodeSpec{
				ClusterID: v.ClusterID(),
				NodeID:    id,
				Group:     g,
				Role:      types.RoleSecondary,
				Image:     desired.Image,
			})
		}
	}

	ids := make([]string, len(specs))
	for i, s := range specs {
		ids[i] = s.NodeID
	}
	subject := strings.Join(ids, ",")

	if mode == types.ModeDryRun {
		return Result{
			Outcome: OutcomePlanned,
			Subject: subject,
			Message: fmt.Sprintf("would provision %d secondaries", len(specs)),
		}, nil
	}
	if desired.Image == "" {
		return Result{Subject: subject}, fmt.Errorf("cannot provision secondaries: no image in desired config")
	}

	var errs []error
	provisioned := 0
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		changed, err := h.ProvisionNode(ctx, spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("provision %s: %w", spec.NodeID, err))
			continue
		}
		if changed {
			provisioned++
		}
	}
	return summarize(subject, provisioned, "provisioned", errs)
}

// nextNodeIDs returns n unused node IDs for a group, numbered after the
// nodes the group already has
func nextNodeIDs(v *view.ClusterView, group string, n int) []string {
	var out []string
	for slot := len(v.GroupNodes(group)) + 1; len(out) < n; slot++ {
		id := fmt.Sprintf("%s-%d", group, slot)
		if _, taken := v.Node(id); taken {
			continue
		}
		out = append(out, id)
	}
	return out
}

// RemoveExcessSecondary stops secondaries above the desired count,
// preferring stale, then unhealthy, then the highest node IDs.
type RemoveExcessSecondary struct{}

func (RemoveExcessSecondary) Eligible(v *view.ClusterView, desired *types.DesiredConfig) bool {
	if !desired.Policy.RemoveExcess {
		return false
	}
	for _, g := range groupsOf(v, desired) {
		if len(v.Secondaries(g)) > desired.SecondariesFor(g) {
			return true
		}
	}
	return false
}

func (RemoveExcessSecondary) Execute(ctx context.Context, v *view.ClusterView, desired *types.DesiredConfig, h platform.Handle, mode types.OrchestrateMode) (Result, error) {
	var victims []string
	for _, g := range groupsOf(v, desired) {
		secondaries := v.Secondaries(g)
		excess := len(secondaries) - desired.SecondariesFor(g)
		if excess <= 0 {
			continue
		}
		sort.SliceStable(secondaries, func(i, j int) bool {
			a, b := removalRank(secondaries[i]), removalRank(secondaries[j])
			if a != b {
				return a > b
			}
			return secondaries[i].ID > secondaries[j].ID
		})
		for _, n := range secondaries[:excess] {
			victims = append(victims, n.ID)
		}
	}
	subject := strings.Join(victims, ",")

	if mode == types.ModeDryRun {
		return Result{
			Outcome: OutcomePlanned,
			Subject: subject,
			Message: fmt.Sprintf("would stop %d excess secondaries", len(victims)),
		}, nil
	}

	var errs []error
	stopped := 0
	for _, id := range victims {
		changed, err := h.StopNode(ctx, v.ClusterID(), id)
		if err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", id, err))
			continue
		}
		if changed {
			stopped++
		}
	}
	return summarize(subject, stopped, "stopped", errs)
}

func removalRank(n types.ViewNode) int {
	switch {
	case n.Stale:
		return 2
	case n.Health == types.HealthUnhealthy:
		return 1
	default:
		return 0
	}
}

// memo remembers which node observation an action already acted on, so a
// repeat cycle over the same reports does not act twice
type memo struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemo() *memo {
	return &memo{seen: make(map[string]time.Time)}
}

func (m *memo) handled(clusterID string, n types.ViewNode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.seen[clusterID+"/"+n.ID]
	return ok && at.Equal(n.ObservedAt)
}

func (m *memo) record(clusterID string, n types.ViewNode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[clusterID+"/"+n.ID] = n.ObservedAt
}

// RestartUnhealthy restarts fresh nodes that report themselves unhealthy
type RestartUnhealthy struct {
	memo *memo
}

// NewRestartUnhealthy creates the restart-unhealthy action
func NewRestartUnhealthy() *RestartUnhealthy {
	return &RestartUnhealthy{memo: newMemo()}
}

func unhealthy(v *view.ClusterView) []types.ViewNode {
	var out []types.ViewNode
	for _, n := range v.Nodes() {
		if !n.Stale && n.ReportedHealth == types.HealthUnhealthy {
			out = append(out, n)
		}
	}
	return out
}

func (a *RestartUnhealthy) Eligible(v *view.ClusterView, desired *types.DesiredConfig) bool {
	return desired.Policy.RestartUnhealthy && len(unhealthy(v)) > 0
}

func (a *RestartUnhealthy) Execute(ctx context.Context, v *view.ClusterView, desired *types.DesiredConfig, h platform.Handle, mode types.OrchestrateMode) (Result, error) {
	nodes := unhealthy(v)
	subject := joinIDs(nodes)

	if mode == types.ModeDryRun {
		return Result{
			Outcome: OutcomePlanned,
			Subject: subject,
			Message: fmt.Sprintf("would restart %d unhealthy nodes", len(nodes)),
		}, nil
	}

	var errs []error
	restarted := 0
	for _, n := range nodes {
		if a.memo.handled(v.ClusterID(), n) {
			continue
		}
		stopped, err := h.StopNode(ctx, v.ClusterID(), n.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", n.ID, err))
			continue
		}
		started, err := h.StartNode(ctx, v.ClusterID(), n.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", n.ID, err))
			continue
		}
		a.memo.record(v.ClusterID(), n)
		if stopped || started {
			restarted++
		}
	}
	return summarize(subject, restarted, "restarted", errs)
}

// ReplaceStale replaces non-primary nodes whose reports went stale
type ReplaceStale struct {
	memo *memo
}

// NewReplaceStale creates the replace-stale action
func NewReplaceStale() *ReplaceStale {
	return &ReplaceStale{memo: newMemo()}
}

func staleNonPrimaries(v *view.ClusterView) []types.ViewNode {
	var out []types.ViewNode
	for _, n := range v.Nodes() {
		if n.Stale && n.Role != types.RolePrimary {
			out = append(out, n)
		}
	}
	return out
}

func (a *ReplaceStale) Eligible(v *view.ClusterView, desired *types.DesiredConfig) bool {
	return desired.Policy.ReplaceStale && len(staleNonPrimaries(v)) > 0
}

func (a *ReplaceStale) Execute(ctx context.Context, v *view.ClusterView, desired *types.DesiredConfig, h platform.Handle, mode types.OrchestrateMode) (Result, error) {
	nodes := staleNonPrimaries(v)
	subject := joinIDs(nodes)

	if mode == types.ModeDryRun {
		return Result{
			Outcome: OutcomePlanned,
			Subject: subject,
			Message: fmt.Sprintf("would replace %d stale nodes", len(nodes)),
		}, nil
	}

	var errs []error
	replaced := 0
	for _, n := range nodes {
		if a.memo.handled(v.ClusterID(), n) {
			continue
		}
		changed, err := h.ReplaceNode(ctx, v.ClusterID(), n.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("replace %s: %w", n.ID, err))
			continue
		}
		a.memo.record(v.ClusterID(), n)
		if changed {
			replaced++
		}
	}
	return summarize(subject, replaced, "replaced", errs)
}

func joinIDs(nodes []types.ViewNode) string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return strings.Join(ids, ",")
}

func summarize(subject string, changed int, verb string, errs []error) (Result, error) {
	res := Result{Subject: subject, Outcome: OutcomeNoOp, Message: "nothing to do"}
	if changed > 0 {
		res.Outcome = OutcomeApplied
		res.Message = fmt.Sprintf("%s %d nodes", verb, changed)
	}
	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}
