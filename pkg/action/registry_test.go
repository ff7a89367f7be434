package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dbfleet/pkg/platform"
	"github.com/cuemby/dbfleet/pkg/types"
	"github.com/cuemby/dbfleet/pkg/view"
)

type stubAction struct {
	name string
}

func (stubAction) Eligible(*view.ClusterView, *types.DesiredConfig) bool { return true }

func (s stubAction) Execute(context.Context, *view.ClusterView, *types.DesiredConfig, platform.Handle, types.OrchestrateMode) (Result, error) {
	return Result{Outcome: OutcomeNoOp, Message: s.name}, nil
}

type pinnedAction struct {
	stubAction
	ref string
}

func (p pinnedAction) PlatformRef(*types.DesiredConfig) string { return p.ref }

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("b", stubAction{name: "first"}))
	require.NoError(t, r.Register("a", stubAction{name: "second"}))

	a, ok := r.Resolve("b")
	require.True(t, ok)
	res, err := a.Execute(context.Background(), nil, nil, nil, types.ModeApply)
	require.NoError(t, err)
	assert.Equal(t, "first", res.Message)

	_, ok = r.Resolve("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"b", "a"}, r.IDs())
	assert.Equal(t, 2, r.Len())
}

func TestRegistryDuplicateKeepsFirst(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("x", stubAction{name: "original"}))

	err := r.Register("x", stubAction{name: "impostor"})
	assert.ErrorIs(t, err, ErrActionAlreadyRegistered)

	a, ok := r.Resolve("x")
	require.True(t, ok)
	assert.Equal(t, stubAction{name: "original"}, a)
	assert.Equal(t, []string{"x"}, r.IDs())
}

func TestRegistryRejects(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Register("nil", nil), ErrActionNil)
	assert.Error(t, r.Register("  ", stubAction{}))

	r.Seal()
	assert.ErrorIs(t, r.Register("late", stubAction{}), ErrRegistrySealed)
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	assert.Equal(t, []string{IDReplaceStale, IDRestartUnhealthy, IDAddSecondary, IDRemoveExcessSecondary}, r.IDs())

	assert.ErrorIs(t, RegisterBuiltins(r), ErrActionAlreadyRegistered)
}

func TestPlatformFor(t *testing.T) {
	desired := &types.DesiredConfig{PlatformRef: "default-dc"}
	assert.Equal(t, "default-dc", PlatformFor(stubAction{}, desired))
	assert.Equal(t, "backup-dc", PlatformFor(pinnedAction{ref: "backup-dc"}, desired))
	assert.Equal(t, "default-dc", PlatformFor(pinnedAction{}, desired))
}
