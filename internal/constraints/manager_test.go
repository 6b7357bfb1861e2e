package constraints

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/engine"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

func builtinGroups(t *testing.T, scenario string, mode Grouping, owner agents.Role) []*Group {
	t.Helper()
	s, err := BuiltinSpec(scenario)
	require.NoError(t, err)
	return BuildGroups(s.Constraints(), mode, owner)
}

func hintOf(t *testing.T, sim *engine.Simulation, id agents.AgentID) *world.Position {
	t.Helper()
	var hint *world.Position
	require.NoError(t, sim.Update(func(tx *engine.Tx) error {
		a, ok := tx.Agent(id)
		require.True(t, ok)
		hint = a.Hint
		return nil
	}))
	return hint
}

func TestWarehouseRestocksEmptyPool(t *testing.T) {
	g, err := world.WarehouseLayout(8)
	require.NoError(t, err)
	c := agents.New(1, agents.RoleCarrier, world.Pos(1, 1))
	sim, err := engine.NewSimulation(g, []*agents.Agent{c}, nil, engine.Options{Seed: 7})
	require.NoError(t, err)

	sc, err := NewScenario("warehouse", ScenarioOptions{Restock: 2})
	require.NoError(t, err)
	m := NewManager(sim, sc, builtinGroups(t, ScenarioWarehouse, GroupGuard, sc.Owner()))

	records, err := m.RunOnce()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 1, records[0].Triggered)
	assert.Equal(t, "recovery", records[0].Directive)
	assert.Equal(t, "G(¬collision)", records[0].Formula)
	assert.Equal(t, 1, records[0].Dispatched)
	assert.True(t, records[0].Satisfied)

	assert.Zero(t, records[1].Triggered, "the pool is no longer empty")
	assert.Equal(t, "nominal", records[1].Directive)

	snap := sim.Snapshot()
	assert.Len(t, snap.Items, 2)
	assert.Equal(t, 2, snap.Stats.Restocked)
	assert.Equal(t, 1, snap.Stats.Replans)
	assert.NotNil(t, hintOf(t, sim, 1))

	for _, gr := range m.Groups() {
		assert.False(t, gr.Relaxed(), "satisfied groups are reset")
		assert.False(t, gr.ReplanFlag)
		assert.False(t, gr.DispatchFlag)
	}
	assert.Len(t, m.Memory(0), 2)
}

// failingRecovery is a warehouse whose recovery fails for one group.
type failingRecovery struct {
	*Warehouse
	group string
}

func (f *failingRecovery) Recover(tx *engine.Tx, g *Group) error {
	if g.Name == f.group {
		return errors.New("restock unavailable")
	}
	return f.Warehouse.Recover(tx, g)
}

func TestFailingGroupDoesNotStopOthers(t *testing.T) {
	g, err := world.WarehouseLayout(8)
	require.NoError(t, err)
	c := agents.New(1, agents.RoleCarrier, world.Pos(1, 1))
	sim, err := engine.NewSimulation(g, []*agents.Agent{c}, nil, engine.Options{Seed: 7})
	require.NoError(t, err)

	groups := builtinGroups(t, ScenarioWarehouse, GroupGuard, agents.RoleCarrier)
	require.Len(t, groups, 2)
	sc := &failingRecovery{Warehouse: &Warehouse{Restock: 2}, group: groups[0].Name}
	m := NewManager(sim, sc, groups)

	records, err := m.RunOnce()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restock unavailable")
	require.Len(t, records, 2)
	assert.NotEmpty(t, records[0].Error)
	assert.Empty(t, records[1].Error)
	assert.Equal(t, 1, records[1].Triggered, "the second group still sees the empty pool")

	snap := sim.Snapshot()
	assert.Len(t, snap.Items, 2, "the second group restocked")
	assert.NotNil(t, hintOf(t, sim, 1))
	assert.Len(t, m.Memory(0), 2)
}

func TestPursuitReroutesThreatenedEvader(t *testing.T) {
	g, err := world.NewGrid(10, 10)
	require.NoError(t, err)
	p := agents.New(1, agents.RolePursuer, world.Pos(5, 5))
	e := agents.New(2, agents.RoleEvader, world.Pos(5, 6))
	sim, err := engine.NewSimulation(g, []*agents.Agent{p, e}, nil, engine.Options{})
	require.NoError(t, err)

	sc, err := NewScenario("cops", ScenarioOptions{})
	require.NoError(t, err)
	m := NewManager(sim, sc, builtinGroups(t, ScenarioPursuit, GroupGuard, sc.Owner()))

	records, err := m.RunOnce()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 1, records[0].Triggered)
	assert.Equal(t, 1, records[0].Dispatched)
	assert.False(t, records[0].Satisfied)

	groups := m.Groups()
	assert.True(t, groups[1].Relaxed(), "adjacency group stays on recovery until the threat clears")
	assert.Equal(t, []string{"inSafetyZone"}, groups[1].Current.Relaxed)

	hint := hintOf(t, sim, 2)
	require.NotNil(t, hint)
	assert.Equal(t, 1, world.Manhattan(*hint, world.Pos(5, 6)))
	assert.Greater(t, world.Manhattan(*hint, world.Pos(5, 5)), 1, "the route leads away from the pursuer")
}

func TestPursuitTargetAvoidsZonesAtDwellLimit(t *testing.T) {
	g, err := world.NewGrid(6, 6)
	require.NoError(t, err)
	_, err = g.AddZone(world.ZoneSafety, world.Rect{MinRow: 4, MinCol: 4, MaxRow: 5, MaxCol: 5})
	require.NoError(t, err)
	p := agents.New(1, agents.RolePursuer, world.Pos(0, 0))
	e := agents.New(2, agents.RoleEvader, world.Pos(5, 5))
	sim, err := engine.NewSimulation(g, []*agents.Agent{p, e}, nil, engine.Options{})
	require.NoError(t, err)

	sc := &Pursuit{}
	require.NoError(t, sim.Update(func(tx *engine.Tx) error {
		a, _ := tx.Agent(2)
		target, ok := sc.Target(tx, a)
		require.True(t, ok)
		assert.Equal(t, world.Pos(4, 5), target, "farthest reachable cell, lowest index on ties")

		a.Dwell = tx.DwellLimit()
		target, ok = sc.Target(tx, a)
		require.True(t, ok)
		assert.Equal(t, world.NoZone, tx.Grid().ZoneAt(target))
		assert.Equal(t, 8, world.Manhattan(target, world.Pos(0, 0)))
		return nil
	}))
}

func TestPursuitSatisfied(t *testing.T) {
	g, err := world.NewGrid(5, 5)
	require.NoError(t, err)
	p := agents.New(1, agents.RolePursuer, world.Pos(0, 0))
	e := agents.New(2, agents.RoleEvader, world.Pos(4, 4))
	sim, err := engine.NewSimulation(g, []*agents.Agent{p, e}, nil, engine.Options{})
	require.NoError(t, err)

	sc := &Pursuit{}
	gr := NewGroup(0, agents.RoleEvader, []Constraint{NewConstraint("G(¬adjacentToCop)")})
	require.NoError(t, sim.Update(func(tx *engine.Tx) error {
		assert.True(t, sc.Satisfied(tx, gr))
		assert.Empty(t, sc.Triggered(tx, gr))
		a, _ := tx.Agent(2)
		a.Pos = world.Pos(1, 1)
		assert.False(t, sc.Satisfied(tx, gr))
		assert.Equal(t, []agents.AgentID{2}, sc.Triggered(tx, gr))
		return nil
	}))
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	g, err := world.NewGrid(5, 5)
	require.NoError(t, err)
	sim, err := engine.NewSimulation(g, []*agents.Agent{agents.New(1, agents.RoleCarrier, world.Pos(0, 0))}, nil, engine.Options{})
	require.NoError(t, err)
	m := NewManager(sim, &Warehouse{}, builtinGroups(t, ScenarioWarehouse, GroupEach, agents.RoleCarrier))
	m.Interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool { return len(m.Memory(0)) >= 10 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
}

func TestCycleMemoryRing(t *testing.T) {
	mem := &CycleMemory{Max: 3}
	for i := 1; i <= 5; i++ {
		mem.Record(CycleRecord{Iteration: uint64(i)})
	}
	require.Len(t, mem.Records, 3)
	assert.Equal(t, uint64(3), mem.Records[0].Iteration)
	assert.Equal(t, []CycleRecord{{Iteration: 5}}, mem.Recent(1))

	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, mem.Save(path))
	loaded := LoadMemory(path)
	assert.Equal(t, mem.Records, loaded.Records)
	assert.Empty(t, LoadMemory(filepath.Join(t.TempDir(), "none.json")).Records)
}
