package view

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dbfleet/pkg/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func report(id string, role types.NodeRole, health types.NodeHealth, age time.Duration) types.NodeReport {
	return types.NodeReport{
		NodeID:     id,
		Role:       role,
		Health:     health,
		ObservedAt: testNow.Add(-age),
	}
}

func newTestBuilder(opts Options) *Builder {
	opts.Now = func() time.Time { return testNow }
	return NewBuilder("c1", opts)
}

func TestBuildHealthyCluster(t *testing.T) {
	b := newTestBuilder(Options{PreviousGeneration: 4})
	require.NoError(t, b.AddReport(report("n2", types.RoleSecondary, types.HealthHealthy, time.Second)))
	require.NoError(t, b.AddReport(report("n1", types.RolePrimary, types.HealthHealthy, 2*time.Second)))
	require.NoError(t, b.AddReport(report("n3", types.RoleSecondary, types.HealthHealthy, time.Second)))

	v, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, "c1", v.ClusterID())
	assert.Equal(t, uint64(5), v.Generation())
	assert.Equal(t, 3, v.Len())

	primary, ok := v.Primary()
	assert.True(t, ok)
	assert.Equal(t, "n1", primary)

	nodes := v.Nodes()
	assert.Equal(t, []string{"n1", "n2", "n3"}, []string{nodes[0].ID, nodes[1].ID, nodes[2].ID})
	assert.Equal(t, testNow.Add(-2*time.Second), v.Freshness())
	assert.Len(t, v.Secondaries(types.DefaultGroup), 2)
}

func TestBuildNoPrimary(t *testing.T) {
	b := newTestBuilder(Options{})
	require.NoError(t, b.AddReport(report("n1", types.RoleSecondary, types.HealthHealthy, 0)))

	v, err := b.Build()
	require.NoError(t, err)

	_, ok := v.Primary()
	assert.False(t, ok)
}

func TestBuildLastWriteWins(t *testing.T) {
	tests := []struct {
		name     string
		tieBreak TieBreak
		reports  []types.NodeReport
		want     types.NodeRole
	}{
		{
			name: "newer timestamp wins regardless of order",
			reports: []types.NodeReport{
				report("n1", types.RolePrimary, types.HealthHealthy, time.Second),
				report("n1", types.RoleSecondary, types.HealthHealthy, 5*time.Second),
			},
			want: types.RolePrimary,
		},
		{
			name: "tie goes to later call by default",
			reports: []types.NodeReport{
				report("n1", types.RolePrimary, types.HealthHealthy, time.Second),
				report("n1", types.RoleSecondary, types.HealthHealthy, time.Second),
			},
			want: types.RoleSecondary,
		},
		{
			name:     "tie goes to earlier call when configured",
			tieBreak: TieBreakEarlierCall,
			reports: []types.NodeReport{
				report("n1", types.RolePrimary, types.HealthHealthy, time.Second),
				report("n1", types.RoleSecondary, types.HealthHealthy, time.Second),
			},
			want: types.RolePrimary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder(Options{TieBreak: tt.tieBreak})
			for _, r := range tt.reports {
				require.NoError(t, b.AddReport(r))
			}

			v, err := b.Build()
			require.NoError(t, err)

			n, ok := v.Node("n1")
			require.True(t, ok)
			assert.Equal(t, tt.want, n.Role)
			assert.Equal(t, 1, v.Len())
		})
	}
}

func TestBuildManyPrimaries(t *testing.T) {
	b := newTestBuilder(Options{})
	require.NoError(t, b.AddReport(report("n1", types.RolePrimary, types.HealthHealthy, 0)))
	require.NoError(t, b.AddReport(report("n2", types.RolePrimary, types.HealthHealthy, 0)))
	require.NoError(t, b.AddReport(report("n3", types.RoleSecondary, types.HealthHealthy, 0)))

	v, err := b.Build()
	assert.Nil(t, v)
	require.ErrorIs(t, err, ErrManyPrimariesFound)
	assert.NotErrorIs(t, err, ErrClusterViewCorrupt)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, types.DefaultGroup, verr.Group)
	assert.Equal(t, []string{"n1", "n2"}, verr.Nodes)
}

func TestBuildPrimariesInSeparateGroups(t *testing.T) {
	b := newTestBuilder(Options{})
	a := report("n1", types.RolePrimary, types.HealthHealthy, 0)
	c := report("n2", types.RolePrimary, types.HealthHealthy, 0)
	c.Group = "reporting"
	require.NoError(t, b.AddReport(a))
	require.NoError(t, b.AddReport(c))

	v, err := b.Build()
	require.NoError(t, err)

	p, ok := v.PrimaryOf("reporting")
	assert.True(t, ok)
	assert.Equal(t, "n2", p)
	assert.Equal(t, []string{types.DefaultGroup, "reporting"}, v.Groups())
}

func TestBuildCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		reports []types.NodeReport
	}{
		{name: "no reports"},
		{
			name:    "missing node id",
			reports: []types.NodeReport{report("", types.RolePrimary, types.HealthHealthy, 0)},
		},
		{
			name:    "unknown role",
			reports: []types.NodeReport{report("n1", types.NodeRole("leader"), types.HealthHealthy, 0)},
		},
		{
			name:    "unknown health",
			reports: []types.NodeReport{report("n1", types.RolePrimary, types.NodeHealth("fine"), 0)},
		},
		{
			name: "zero timestamp",
			reports: []types.NodeReport{
				{NodeID: "n1", Role: types.RolePrimary, Health: types.HealthHealthy},
			},
		},
		{
			name: "one bad report among good ones",
			reports: []types.NodeReport{
				report("n1", types.RolePrimary, types.HealthHealthy, 0),
				report("", types.RoleSecondary, types.HealthHealthy, 0),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder(Options{})
			for _, r := range tt.reports {
				require.NoError(t, b.AddReport(r))
			}

			v, err := b.Build()
			assert.Nil(t, v)
			assert.ErrorIs(t, err, ErrClusterViewCorrupt)
		})
	}
}

func TestBuildStaleNodes(t *testing.T) {
	t.Run("flagged degraded and retained", func(t *testing.T) {
		b := newTestBuilder(Options{StalenessBound: 10 * time.Second})
		require.NoError(t, b.AddReport(report("n1", types.RolePrimary, types.HealthHealthy, time.Second)))
		require.NoError(t, b.AddReport(report("n2", types.RoleSecondary, types.HealthHealthy, time.Minute)))
		require.NoError(t, b.AddReport(report("n3", types.RoleSecondary, types.HealthUnhealthy, time.Minute)))

		v, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, 3, v.Len())

		n2, _ := v.Node("n2")
		assert.True(t, n2.Stale)
		assert.Equal(t, types.HealthDegraded, n2.Health)
		assert.Equal(t, types.HealthHealthy, n2.ReportedHealth)

		n3, _ := v.Node("n3")
		assert.True(t, n3.Stale)
		assert.Equal(t, types.HealthUnhealthy, n3.Health)

		n1, _ := v.Node("n1")
		assert.False(t, n1.Stale)
	})

	t.Run("excluded by policy", func(t *testing.T) {
		b := newTestBuilder(Options{StalenessBound: 10 * time.Second, ExcludeStale: true})
		require.NoError(t, b.AddReport(report("n1", types.RolePrimary, types.HealthHealthy, time.Minute)))
		require.NoError(t, b.AddReport(report("n2", types.RolePrimary, types.HealthHealthy, time.Second)))

		v, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, 1, v.Len())
		p, _ := v.Primary()
		assert.Equal(t, "n2", p)
	})

	t.Run("all excluded is corrupt", func(t *testing.T) {
		b := newTestBuilder(Options{StalenessBound: 10 * time.Second, ExcludeStale: true})
		require.NoError(t, b.AddReport(report("n1", types.RolePrimary, types.HealthHealthy, time.Minute)))

		_, err := b.Build()
		assert.ErrorIs(t, err, ErrClusterViewCorrupt)
	})
}

func TestBuilderSingleUse(t *testing.T) {
	b := newTestBuilder(Options{})
	require.NoError(t, b.AddReport(report("n1", types.RolePrimary, types.HealthHealthy, 0)))

	_, err := b.Build()
	require.NoError(t, err)

	assert.ErrorIs(t, b.AddReport(report("n2", types.RoleSecondary, types.HealthHealthy, 0)), ErrBuilderFinalized)
	_, err = b.Build()
	assert.ErrorIs(t, err, ErrBuilderFinalized)
}

func TestBuilderFinalizedAfterFailedBuild(t *testing.T) {
	b := newTestBuilder(Options{})

	_, err := b.Build()
	require.ErrorIs(t, err, ErrClusterViewCorrupt)

	_, err = b.Build()
	assert.ErrorIs(t, err, ErrBuilderFinalized)
}

func TestViewAccessorsReturnCopies(t *testing.T) {
	b := newTestBuilder(Options{})
	require.NoError(t, b.AddReport(report("n1", types.RolePrimary, types.HealthHealthy, 0)))
	v, err := b.Build()
	require.NoError(t, err)

	nodes := v.Nodes()
	nodes[0].Role = types.RoleSecondary

	n, _ := v.Node("n1")
	assert.Equal(t, types.RolePrimary, n.Role)

	snap := v.Snapshot()
	snap.Primaries[types.DefaultGroup] = "other"
	p, _ := v.Primary()
	assert.Equal(t, "n1", p)
}

func TestParseTieBreak(t *testing.T) {
	tb, err := ParseTieBreak("")
	require.NoError(t, err)
	assert.Equal(t, TieBreakLaterCall, tb)

	tb, err = ParseTieBreak("earlier-call")
	require.NoError(t, err)
	assert.Equal(t, TieBreakEarlierCall, tb)

	_, err = ParseTieBreak("random")
	assert.Error(t, err)
}
