package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dbfleet/pkg/platform"
	"github.com/cuemby/dbfleet/pkg/types"
	"github.com/cuemby/dbfleet/pkg/view"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type node struct {
	id     string
	role   types.NodeRole
	health types.NodeHealth
	age    time.Duration
}

func buildView(t *testing.T, nodes ...node) *view.ClusterView {
	t.Helper()
	b := view.NewBuilder("c1", view.Options{
		StalenessBound: 30 * time.Second,
		Now:            func() time.Time { return now },
	})
	for _, n := range nodes {
		require.NoError(t, b.AddReport(types.NodeReport{
			NodeID:     n.id,
			Role:       n.role,
			Health:     n.health,
			ObservedAt: now.Add(-n.age),
		}))
	}
	v, err := b.Build()
	require.NoError(t, err)
	return v
}

func TestAddSecondary(t *testing.T) {
	ctx := context.Background()
	v := buildView(t,
		node{"default-1", types.RolePrimary, types.HealthHealthy, 0},
		node{"default-2", types.RoleSecondary, types.HealthHealthy, 0},
		node{"default-3", types.RoleSecondary, types.HealthHealthy, 0},
	)
	desired := &types.DesiredConfig{ClusterID: "c1", Secondaries: 3, Image: "postgres:17"}
	a := AddSecondary{}

	require.True(t, a.Eligible(v, desired))
	assert.False(t, a.Eligible(v, &types.DesiredConfig{Secondaries: 2}))

	t.Run("dry run plans", func(t *testing.T) {
		mem := platform.NewMemory("p1")
		res, err := a.Execute(ctx, v, desired, platform.DryRun(mem), types.ModeDryRun)
		require.NoError(t, err)
		assert.Equal(t, OutcomePlanned, res.Outcome)
		assert.Equal(t, "default-4", res.Subject)
		assert.Empty(t, mem.Operations())
	})

	t.Run("apply provisions then no-ops", func(t *testing.T) {
		mem := platform.NewMemory("p1")
		res, err := a.Execute(ctx, v, desired, mem, types.ModeApply)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, res.Outcome)
		assert.Equal(t, []string{"provision c1/default-4"}, mem.Operations())

		res, err = a.Execute(ctx, v, desired, mem, types.ModeApply)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoOp, res.Outcome)
		assert.Len(t, mem.Operations(), 1)
	})

	t.Run("apply without image fails", func(t *testing.T) {
		mem := platform.NewMemory("p1")
		_, err := a.Execute(ctx, v, &types.DesiredConfig{Secondaries: 3}, mem, types.ModeApply)
		assert.Error(t, err)
	})
}

func TestAddSecondarySkipsTakenIDs(t *testing.T) {
	v := buildView(t,
		node{"default-1", types.RolePrimary, types.HealthHealthy, 0},
		node{"default-2", types.RoleUnknown, types.HealthHealthy, 0},
	)
	// Two nodes in the group, so numbering starts at 3
	assert.Equal(t, []string{"default-3", "default-4"}, nextNodeIDs(v, types.DefaultGroup, 2))

	v = buildView(t,
		node{"default-1", types.RolePrimary, types.HealthHealthy, 0},
		node{"default-2", types.RoleSecondary, types.HealthHealthy, 0},
		node{"default-4", types.RoleSecondary, types.HealthHealthy, 0},
	)
	assert.Equal(t, []string{"default-5"}, nextNodeIDs(v, types.DefaultGroup, 1))
}

func TestAddSecondaryPerGroup(t *testing.T) {
	v := buildView(t, node{"default-1", types.RolePrimary, types.HealthHealthy, 0})
	desired := &types.DesiredConfig{
		Image:  "postgres:17",
		Groups: map[string]types.GroupSpec{"reporting": {Secondaries: 1}},
	}

	mem := platform.NewMemory("p1")
	res, err := AddSecondary{}.Execute(context.Background(), v, desired, mem, types.ModeApply)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	nodes := mem.Nodes("c1")
	require.Len(t, nodes, 1)
	assert.Equal(t, "reporting", nodes[0].Spec.Group)
	assert.Equal(t, types.RoleSecondary, nodes[0].Spec.Role)
}

func TestRemoveExcessSecondary(t *testing.T) {
	ctx := context.Background()
	v := buildView(t,
		node{"n1", types.RolePrimary, types.HealthHealthy, 0},
		node{"n2", types.RoleSecondary, types.HealthHealthy, 0},
		node{"n3", types.RoleSecondary, types.HealthUnhealthy, 0},
		node{"n4", types.RoleSecondary, types.HealthHealthy, 0},
	)
	desired := &types.DesiredConfig{Secondaries: 2, Policy: types.Policy{RemoveExcess: true}}
	a := RemoveExcessSecondary{}

	assert.True(t, a.Eligible(v, desired))
	assert.False(t, a.Eligible(v, &types.DesiredConfig{Secondaries: 2}), "policy off")

	mem := platform.NewMemory("p1")
	for _, id := range []string{"n1", "n2", "n3", "n4"} {
		mem.Seed("c1", id)
	}

	res, err := a.Execute(ctx, v, desired, mem, types.ModeApply)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "n3", res.Subject, "unhealthy secondary goes first")

	res, err = a.Execute(ctx, v, desired, mem, types.ModeApply)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, res.Outcome)
}

func TestRestartUnhealthy(t *testing.T) {
	ctx := context.Background()
	v := buildView(t,
		node{"n1", types.RolePrimary, types.HealthHealthy, 0},
		node{"n2", types.RoleSecondary, types.HealthUnhealthy, 0},
		node{"n3", types.RoleSecondary, types.HealthUnhealthy, time.Hour},
	)
	desired := &types.DesiredConfig{Policy: types.Policy{RestartUnhealthy: true}}
	a := NewRestartUnhealthy()

	require.True(t, a.Eligible(v, desired))
	assert.False(t, a.Eligible(v, &types.DesiredConfig{}))

	mem := platform.NewMemory("p1")
	mem.Seed("c1", "n2")
	mem.Seed("c1", "n3")

	res, err := a.Execute(ctx, v, desired, mem, types.ModeApply)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "n2", res.Subject, "stale nodes are not restarted")
	assert.Equal(t, []string{"stop c1/n2", "start c1/n2"}, mem.Operations())

	res, err = a.Execute(ctx, v, desired, mem, types.ModeApply)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, res.Outcome, "same observation is not restarted twice")
}

func TestRestartUnhealthyPartialFailure(t *testing.T) {
	v := buildView(t,
		node{"n1", types.RoleSecondary, types.HealthUnhealthy, 0},
		node{"n2", types.RoleSecondary, types.HealthUnhealthy, 0},
	)
	desired := &types.DesiredConfig{Policy: types.Policy{RestartUnhealthy: true}}

	mem := platform.NewMemory("p1")
	mem.Seed("c1", "n2")

	res, err := NewRestartUnhealthy().Execute(context.Background(), v, desired, mem, types.ModeApply)
	assert.ErrorIs(t, err, platform.ErrNodeNotFound)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestReplaceStale(t *testing.T) {
	ctx := context.Background()
	v := buildView(t,
		node{"n1", types.RolePrimary, types.HealthHealthy, time.Hour},
		node{"n2", types.RoleSecondary, types.HealthHealthy, time.Hour},
		node{"n3", types.RoleSecondary, types.HealthHealthy, 0},
	)
	desired := &types.DesiredConfig{Policy: types.Policy{ReplaceStale: true}}
	a := NewReplaceStale()

	require.True(t, a.Eligible(v, desired))

	res, err := a.Execute(ctx, v, desired, nil, types.ModeDryRun)
	require.NoError(t, err)
	assert.Equal(t, OutcomePlanned, res.Outcome)
	assert.Equal(t, "n2", res.Subject, "stale primary is never replaced")

	mem := platform.NewMemory("p1")
	mem.Seed("c1", "n2")
	res, err = a.Execute(ctx, v, desired, mem, types.ModeApply)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, []string{"replace c1/n2"}, mem.Operations())

	res, err = a.Execute(ctx, v, desired, mem, types.ModeApply)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, res.Outcome)
}
