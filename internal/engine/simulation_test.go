package engine

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

func openGrid(t *testing.T, n int) *world.Grid {
	t.Helper()
	g, err := world.NewGrid(n, n)
	require.NoError(t, err)
	return g
}

func agentByID(snap Snapshot, id agents.AgentID) agents.Agent {
	for _, a := range snap.Agents {
		if a.ID == id {
			return a
		}
	}
	return agents.Agent{}
}

func TestWarehouseDeliveryScenario(t *testing.T) {
	g := openGrid(t, 10)
	zid, err := g.AddZone(world.ZoneDelivery, world.Rect{MinRow: 2, MinCol: 2, MaxRow: 5, MaxCol: 5})
	require.NoError(t, err)
	zone, _ := g.Zone(zid)

	carrier := agents.New(1, agents.RoleCarrier, world.Pos(1, 1))
	item := agents.Item{ID: 1, Pos: world.Pos(4, 4), Zone: zid, Delivery: zone.Rect}
	sim, err := NewSimulation(g, []*agents.Agent{carrier}, []agents.Item{item}, Options{})
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, err := sim.Step()
		require.NoError(t, err, "tick %d", i+1)
	}

	snap := sim.Snapshot()
	require.Len(t, snap.Delivered, 1)
	assert.Equal(t, agents.ItemID(1), snap.Delivered[0].Item.ID)
	assert.True(t, zone.Rect.Contains(snap.Delivered[0].Pos))
	assert.Empty(t, snap.Items)

	c := agentByID(snap, 1)
	assert.Equal(t, agents.StateIdle, c.State)
	assert.Nil(t, c.Item)
	assert.Equal(t, 1, snap.Stats.Pickups)
	assert.Equal(t, 1, snap.Stats.Deliveries)
}

func TestPursuerEvaderOneTickScenario(t *testing.T) {
	g := openGrid(t, 10)
	p := agents.New(1, agents.RolePursuer, world.Pos(0, 0))
	e := agents.New(2, agents.RoleEvader, world.Pos(5, 5))
	sim, err := NewSimulation(g, []*agents.Agent{e, p}, nil, Options{})
	require.NoError(t, err)

	res, err := sim.Step()
	require.NoError(t, err)
	assert.False(t, res.Cornered[2])

	snap := sim.Snapshot()
	pa, ea := agentByID(snap, 1), agentByID(snap, 2)
	assert.Equal(t, world.Pos(1, 0), pa.Pos)
	assert.Equal(t, world.Pos(6, 5), ea.Pos)
	assert.Greater(t, world.Chebyshev(pa.Pos, ea.Pos), 1)
}

func TestPriorityOrderDecidesContestedCell(t *testing.T) {
	// Both agents want (1,1); the Pursuer moves first and takes it.
	g := openGrid(t, 3)
	c := agents.New(1, agents.RoleCarrier, world.Pos(1, 2))
	p := agents.New(2, agents.RolePursuer, world.Pos(0, 1))
	e := agents.New(3, agents.RoleEvader, world.Pos(2, 0))
	item := agents.Item{ID: 1, Pos: world.Pos(1, 0), Delivery: world.Rect{MinRow: 0, MinCol: 0, MaxRow: 0, MaxCol: 0}}
	sim, err := NewSimulation(g, []*agents.Agent{c, e, p}, []agents.Item{item}, Options{})
	require.NoError(t, err)

	_, err = sim.Step()
	require.NoError(t, err)
	snap := sim.Snapshot()
	assert.Equal(t, world.Pos(1, 1), agentByID(snap, 2).Pos)
	assert.NotEqual(t, world.Pos(1, 1), agentByID(snap, 1).Pos)
}

func TestCorneredEvaderHoldsBlocked(t *testing.T) {
	g, err := world.FromRows([][]int{
		{0, 1, 0, 0},
		{0, 1, 0, 0},
		{1, 1, 0, 0},
	}, world.ZoneSafety)
	require.NoError(t, err)
	e := agents.New(1, agents.RoleEvader, world.Pos(0, 0))
	p := agents.New(2, agents.RolePursuer, world.Pos(1, 0))
	sim, err := NewSimulation(g, []*agents.Agent{e, p}, nil, Options{})
	require.NoError(t, err)

	res, err := sim.Step()
	require.NoError(t, err, "a cornered evader is not a violation")
	assert.True(t, res.Cornered[1])
	assert.Contains(t, res.Blocked, agents.AgentID(1))
	assert.Equal(t, agents.StateBlocked, agentByID(sim.Snapshot(), 1).State)
}

func TestHintIsTakenWhenLegal(t *testing.T) {
	g := openGrid(t, 5)
	c := agents.New(1, agents.RoleCarrier, world.Pos(2, 2))
	sim, err := NewSimulation(g, []*agents.Agent{c}, nil, Options{})
	require.NoError(t, err)

	require.NoError(t, sim.Update(func(tx *Tx) error {
		return tx.BindHint(1, world.Pos(2, 3))
	}))
	_, err = sim.Step()
	require.NoError(t, err)
	snap := sim.Snapshot()
	assert.Equal(t, world.Pos(2, 3), agentByID(snap, 1).Pos)
	assert.Nil(t, agentByID(snap, 1).Hint, "hints are single use")

	// An illegal hint is discarded and the normal policy applies.
	require.NoError(t, sim.Update(func(tx *Tx) error {
		return tx.BindHint(1, world.Pos(4, 4))
	}))
	_, err = sim.Step()
	require.NoError(t, err)
	assert.Equal(t, world.Pos(2, 3), agentByID(sim.Snapshot(), 1).Pos)
}

func TestRegenerateIdempotent(t *testing.T) {
	g := world.FixedLayout()
	s := agents.NewSpawner(5)
	cops, err := s.PlaceAgents(g, agents.RolePursuer, 2, nil)
	require.NoError(t, err)
	robbers, err := s.PlaceAgents(g, agents.RoleEvader, 2, cops)
	require.NoError(t, err)
	sim, err := NewSimulation(g, append(cops, robbers...), nil, Options{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := sim.Step()
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		rep, err := sim.Regenerate(g.Clone())
		require.NoError(t, err)
		assert.Empty(t, rep.Invalid)
		assert.Empty(t, rep.DroppedItems)
	}
	for i := 0; i < 5; i++ {
		_, err := sim.Step()
		require.NoError(t, err)
	}
	assert.Equal(t, 2, sim.Stats().Regenerations)
}

func TestRegenerateFlagsInvalidAgents(t *testing.T) {
	g := openGrid(t, 6)
	p := agents.New(1, agents.RolePursuer, world.Pos(0, 0))
	c := agents.New(2, agents.RoleCarrier, world.Pos(3, 3))
	item := agents.Item{ID: 1, Pos: world.Pos(5, 5), Delivery: world.Rect{MinRow: 0, MinCol: 5, MaxRow: 0, MaxCol: 5}}
	sim, err := NewSimulation(g, []*agents.Agent{p, c}, []agents.Item{item}, Options{})
	require.NoError(t, err)

	next := openGrid(t, 6)
	next.SetObstacle(world.Pos(3, 3))
	next.SetObstacle(world.Pos(5, 5))
	_, err = next.AddZone(world.ZoneSafety, world.Rect{MinRow: 1, MinCol: 1, MaxRow: 1, MaxCol: 1})
	require.NoError(t, err)

	rep, err := sim.Regenerate(next)
	require.NoError(t, err)
	assert.ElementsMatch(t, []agents.AgentID{1, 2}, rep.Invalid)
	assert.Equal(t, []agents.ItemID{1}, rep.DroppedItems)

	snap := sim.Snapshot()
	for _, a := range snap.Agents {
		assert.True(t, a.Invalid)
		assert.Equal(t, agents.StateBlocked, a.State)
	}
	assert.Empty(t, snap.Items)

	// The carrier steps off the obstacle and its flag clears.
	_, err = sim.Step()
	require.NoError(t, err)
	assert.False(t, agentByID(sim.Snapshot(), 2).Invalid)
}

func TestRegenerateRejectsResize(t *testing.T) {
	g := openGrid(t, 10)
	c := agents.New(1, agents.RoleCarrier, world.Pos(8, 8))
	sim, err := NewSimulation(g, []*agents.Agent{c}, nil, Options{})
	require.NoError(t, err)

	_, err = sim.Regenerate(openGrid(t, 5))
	var ce *world.ConfigurationError
	require.ErrorAs(t, err, &ce)

	snap := sim.Snapshot()
	assert.Equal(t, 10, snap.Rows)
	assert.Zero(t, snap.Stats.Regenerations)
	assert.False(t, agentByID(snap, 1).Invalid)
	for i := 0; i < 5; i++ {
		_, err := sim.Step()
		require.NoError(t, err)
	}
	assert.True(t, sim.Snapshot().Grid().InBounds(agentByID(sim.Snapshot(), 1).Pos))
}

func TestNewSimulationRejectsBadPlacement(t *testing.T) {
	g := openGrid(t, 4)
	g.SetObstacle(world.Pos(0, 0))
	var cfgErr *world.ConfigurationError

	_, err := NewSimulation(g, []*agents.Agent{agents.New(1, agents.RoleCarrier, world.Pos(0, 0))}, nil, Options{})
	assert.True(t, errors.As(err, &cfgErr))

	_, err = NewSimulation(g, []*agents.Agent{
		agents.New(1, agents.RoleCarrier, world.Pos(1, 1)),
		agents.New(2, agents.RoleCarrier, world.Pos(1, 1)),
	}, nil, Options{})
	assert.True(t, errors.As(err, &cfgErr))
}

func TestRestockAndEvents(t *testing.T) {
	g, err := world.WarehouseLayout(10)
	require.NoError(t, err)
	c := agents.New(1, agents.RoleCarrier, world.Pos(1, 1))
	sim, err := NewSimulation(g, []*agents.Agent{c}, nil, Options{Seed: 9, RestockAttempts: 200})
	require.NoError(t, err)

	id, events := sim.Subscribe()
	defer sim.Unsubscribe(id)

	var placed []agents.Item
	require.NoError(t, sim.Update(func(tx *Tx) error {
		var err error
		placed, err = tx.Restock(2)
		return err
	}))
	require.Len(t, placed, 2)
	assert.Len(t, sim.Snapshot().Items, 2)

	e := <-events
	assert.Equal(t, "restock", e.Category)
	assert.NotEmpty(t, sim.RecentEvents(10))
}

func TestSnapshotSubscription(t *testing.T) {
	g := openGrid(t, 4)
	sim, err := NewSimulation(g, []*agents.Agent{agents.New(1, agents.RoleCarrier, world.Pos(0, 0))}, nil, Options{})
	require.NoError(t, err)

	id, ch := sim.SubscribeSnapshots()
	_, err = sim.Step()
	require.NoError(t, err)
	snap := <-ch
	assert.Equal(t, uint64(1), snap.Tick)
	assert.Equal(t, sim.RunID, snap.RunID)
	sim.UnsubscribeSnapshots(id)
	_, open := <-ch
	assert.False(t, open)
}

// TestRandomRunsHoldInvariants drives mixed populations on generated grids
// and relies on Step's own post-tick check for collisions, obstacles,
// evader reach, and deliveries.
func TestRandomRunsHoldInvariants(t *testing.T) {
	for seed := int64(1); seed <= 8; seed++ {
		cfg := world.GenConfig{
			Rows: 12, Cols: 12, Seed: seed, ObstacleDensity: 0.15, Frequency: 0.4, MaxAttempts: 100,
			Zones: []world.ZoneSpec{
				{Kind: world.ZoneSafety, Rect: world.Rect{MinRow: 2, MinCol: 2, MaxRow: 3, MaxCol: 3}},
				{Kind: world.ZoneDelivery, Rect: world.Rect{MinRow: 8, MinCol: 8, MaxRow: 9, MaxCol: 9}},
			},
		}
		g, err := world.Generate(cfg)
		require.NoError(t, err)

		sp := agents.NewSpawner(seed)
		cops, err := sp.PlaceAgents(g, agents.RolePursuer, 2, nil)
		require.NoError(t, err)
		robbers, err := sp.PlaceAgents(g, agents.RoleEvader, 2, cops)
		require.NoError(t, err)
		robots, err := sp.PlaceAgents(g, agents.RoleCarrier, 2, append(cops, robbers...))
		require.NoError(t, err)
		all := append(append(cops, robbers...), robots...)

		sim, err := NewSimulation(g, all, nil, Options{Seed: seed, RestockAttempts: 200})
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(seed))
		for tick := 0; tick < 150; tick++ {
			require.NoError(t, sim.Update(func(tx *Tx) error {
				if len(tx.Items()) == 0 {
					_, _ = tx.Restock(1 + rng.Intn(2))
				}
				return nil
			}))
			_, err := sim.Step()
			require.NoError(t, err, "seed %d tick %d", seed, tick)

			for _, a := range sim.Snapshot().Agents {
				if a.Role != agents.RoleEvader {
					continue
				}
				assert.LessOrEqual(t, a.Dwell, agents.DefaultDwellLimit, "seed %d %s", seed, a.Name)
			}
		}
	}
}
