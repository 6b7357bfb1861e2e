package constraints

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitConjunction(t *testing.T) {
	got := SplitConjunction("G(a & b) & GF(c)&  G((d & e) | f) & ")
	assert.Equal(t, []string{"G(a & b)", "GF(c)", "G((d & e) | f)"}, got)
	assert.Empty(t, SplitConjunction("  "))
}

func TestBuiltinPursuitSpec(t *testing.T) {
	s, err := BuiltinSpec(ScenarioPursuit)
	require.NoError(t, err)
	assert.Equal(t, "Robbers", s.System.Name)
	require.NotNil(t, s.Environment)
	assert.Equal(t, "Cops", s.Environment.Name)
	assert.Equal(t, Formulas{"¬inSafetyZone", "¬adjacentToCop"}, s.System.Init)
	assert.Equal(t, []string{"robberMoves", "copMoves"}, s.Outputs)

	cs := s.Constraints()
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	assert.Equal(t, []string{
		"collision", "adjacentToCop", "inSafetyZone", "stayInSafetyZoneForTooLong",
		"visitNewSafetyZone", "allAgentsMove", "copsChaseRobbers",
	}, names)

	groups := BuildGroups(cs, GroupGuard, 0)
	assert.Len(t, groups, 3)
}

func TestBuiltinWarehouseSpec(t *testing.T) {
	s, err := BuiltinSpec(ScenarioWarehouse)
	require.NoError(t, err)
	groups := BuildGroups(s.Constraints(), GroupGuard, 0)
	require.Len(t, groups, 2)
	assert.True(t, groups[0].Has("deliverPackage"))
	assert.True(t, groups[1].Has("restockPackages"))

	_, err = BuiltinSpec("nope")
	assert.Error(t, err)
}

func TestParseSpecArrayFormulasAndFallback(t *testing.T) {
	s, err := ParseSpec([]byte(`{
		"ltl_formulation": "   ",
		"System_Player": {"name": "Robots", "init": ["idle"], "safety": ["¬collision"], "prog": ["deliver"]}
	}`))
	require.NoError(t, err)
	cs := s.Constraints()
	require.Len(t, cs, 3)
	assert.Equal(t, Constraint{Name: "idle", Formula: "idle", Kind: KindInit}, cs[0])
	assert.Equal(t, "G(¬collision)", cs[1].Formula)
	assert.Equal(t, KindProgress, cs[2].Kind)
	assert.Equal(t, "GF(deliver)", cs[2].Formula)
}

func TestParseSpecNormalizes(t *testing.T) {
	s, err := ParseSpec([]byte(`{"ltl_formulation": "G(cafe\u0301)  &\n GF(b)", "System_Player": {"name": "x"}}`))
	require.NoError(t, err)
	assert.Equal(t, "G(caf\u00e9) & GF(b)", s.Formulation)
}

func TestParseSpecRejects(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"missing player": `{"ltl_formulation": "G(a)"}`,
		"wrong type":     `{"ltl_formulation": 3, "System_Player": {"name": "x"}}`,
		"bad formulas":   `{"ltl_formulation": "G(a)", "System_Player": {"name": "x", "init": 4}}`,
		"no constraints": `{"ltl_formulation": " ", "System_Player": {"name": "x"}}`,
	}
	for name, data := range cases {
		_, err := ParseSpec([]byte(data))
		var se *SpecError
		assert.True(t, errors.As(err, &se), name)
	}
}

func TestLoadAndDiscoverSpecs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "games", "nested"), 0755))
	spec := `{"ltl_formulation": "G(a) & GF(b)", "System_Player": {"name": "x"}}`
	for _, p := range []string{"games/one.json", "games/nested/two.json", "games/readme.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, p), []byte(spec), 0644))
	}

	found, err := DiscoverSpecs(filepath.Join(dir, "games", "**", "*.json"))
	require.NoError(t, err)
	require.Len(t, found, 2)

	for _, p := range found {
		s, err := LoadSpec(p)
		require.NoError(t, err)
		assert.Equal(t, p, s.Path)
		assert.Len(t, s.Constraints(), 2)
	}

	_, err = LoadSpec(filepath.Join(dir, "missing.json"))
	var se *SpecError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "missing.json")

	_, err = DiscoverSpecs("games/[")
	assert.Error(t, err)
}
