package constraints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
)

func formulas(cs []Constraint) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Formula
	}
	return out
}

func TestNewConstraintKinds(t *testing.T) {
	c := NewConstraint("G(¬collision)")
	assert.Equal(t, "collision", c.Name)
	assert.Equal(t, KindSafety, c.Kind)

	c = NewConstraint(" GF(visitNewSafetyZone) ")
	assert.Equal(t, "visitNewSafetyZone", c.Name)
	assert.Equal(t, KindProgress, c.Kind)
	assert.Equal(t, "GF(visitNewSafetyZone)", c.Formula)

	c = NewConstraint("¬inSafetyZone")
	assert.Equal(t, "inSafetyZone", c.Name)
	assert.Equal(t, KindInit, c.Kind)
}

func TestBuildGroupsGuard(t *testing.T) {
	cs := []Constraint{
		NewConstraint("GF(warmup)"),
		NewConstraint("G(¬collision)"),
		NewConstraint("GF(pickUpPackage)"),
		NewConstraint("G(carryOnePackage)"),
		NewConstraint("GF(deliverPackage)"),
		NewConstraint("idle"),
	}
	groups := BuildGroups(cs, GroupGuard, agents.RoleCarrier)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"GF(warmup)"}, formulas(groups[0].Constraints))
	assert.Equal(t, []string{"G(¬collision)", "GF(pickUpPackage)"}, formulas(groups[1].Constraints))
	assert.Equal(t, []string{"G(carryOnePackage)", "GF(deliverPackage)"}, formulas(groups[2].Constraints))
	for i, g := range groups {
		assert.Equal(t, i, g.ID)
		assert.Equal(t, agents.RoleCarrier, g.Owner)
	}
	assert.Equal(t, "group-1:collision", groups[1].Name)
}

func TestBuildGroupsEach(t *testing.T) {
	cs := []Constraint{NewConstraint("G(a)"), NewConstraint("GF(b)"), NewConstraint("c")}
	groups := BuildGroups(cs, GroupEach, agents.RoleEvader)
	require.Len(t, groups, 2)
	assert.True(t, groups[0].Has("a"))
	assert.True(t, groups[1].Has("b"))
	assert.False(t, groups[1].Has("a"))
}

func TestDirectiveRelaxAndReset(t *testing.T) {
	g := NewGroup(0, agents.RoleEvader, []Constraint{
		NewConstraint("G(¬adjacentToCop)"),
		NewConstraint("GF(inSafetyZone)"),
		NewConstraint("GF(visitNewSafetyZone)"),
	})
	assert.Equal(t, "G(¬adjacentToCop) & GF(inSafetyZone) & GF(visitNewSafetyZone)", g.Current.Formula())
	assert.False(t, g.Relaxed())

	rec := Relax("recovery", g.Original.Constraints, KindProgress, KindSafety)
	assert.Equal(t, "G(¬adjacentToCop)", rec.Formula(), "safety is never relaxed")
	assert.Equal(t, []string{"inSafetyZone", "visitNewSafetyZone"}, rec.Relaxed)

	g.Apply(rec)
	g.ReplanFlag = true
	assert.True(t, g.Relaxed())
	assert.Len(t, g.Constraints, 1)

	g.Reset()
	assert.False(t, g.Relaxed())
	assert.False(t, g.ReplanFlag)
	assert.Len(t, g.Constraints, 3)
	assert.Equal(t, g.Original.Formula(), g.Current.Formula())
}

func TestCloneIsIndependent(t *testing.T) {
	g := NewGroup(0, agents.RoleEvader, []Constraint{NewConstraint("G(a)"), NewConstraint("GF(b)")})
	c := g.Clone()
	c.Constraints[0].Formula = "changed"
	assert.Equal(t, "G(a)", g.Constraints[0].Formula)
}

func TestParseGrouping(t *testing.T) {
	for in, want := range map[string]Grouping{"": GroupGuard, "guard": GroupGuard, " Each ": GroupEach} {
		got, err := ParseGrouping(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseGrouping("random")
	assert.Error(t, err)
}
