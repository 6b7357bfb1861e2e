package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/config"
	"github.com/wfishell/MultiAgentGamePlay/internal/constraints"
	"github.com/wfishell/MultiAgentGamePlay/internal/engine"
	"github.com/wfishell/MultiAgentGamePlay/internal/persistence"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

// gridBuilder returns a function that builds the configured grid. It is
// used at startup and again on every regeneration, so a layout file is
// re-read each time.
func gridBuilder(cfg config.Config) func() (*world.Grid, error) {
	return func() (*world.Grid, error) {
		spec, err := cfg.LayoutSpec()
		if err != nil {
			return nil, err
		}
		return world.Build(spec)
	}
}

// populate places the configured agents and items on a fresh grid. Pinned
// placements come first and count toward their role's total.
func populate(cfg config.Config, g *world.Grid) ([]*agents.Agent, []agents.Item, error) {
	spawner := agents.NewSpawner(cfg.Seed)
	spawner.MaxAttempts = cfg.PlacementAttempts

	var all []*agents.Agent
	pinned := map[agents.Role]int{}
	for i, p := range cfg.Agents.Placements {
		role, err := agents.ParseRole(p.Role)
		if err != nil {
			return nil, nil, err
		}
		pos := world.Pos(p.Row, p.Col)
		if !agents.CanPlace(g, role, pos, all) {
			return nil, nil, &world.ConfigurationError{Reason: fmt.Sprintf("agents.placements[%d]: %s cannot start at %s", i, role, pos)}
		}
		all = append(all, spawner.NewAgent(role, pos))
		pinned[role]++
	}

	// Pursuers before Evaders so Evaders can be kept out of reach.
	for _, rc := range []struct {
		role agents.Role
		n    int
	}{
		{agents.RolePursuer, cfg.Agents.Pursuers},
		{agents.RoleEvader, cfg.Agents.Evaders},
		{agents.RoleCarrier, cfg.Agents.Carriers},
	} {
		n := rc.n - pinned[rc.role]
		if n <= 0 {
			continue
		}
		placed, err := spawner.PlaceAgents(g, rc.role, n, all)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, placed...)
	}

	var items []agents.Item
	for i, ic := range cfg.Items.Initial {
		pos := world.Pos(ic.Row, ic.Col)
		if !g.InBounds(pos) || g.CellAt(pos).Kind != world.CellFree {
			return nil, nil, &world.ConfigurationError{Reason: fmt.Sprintf("items.initial[%d]: %s is not a free cell", i, pos)}
		}
		zone, ok := agents.DeliveryZoneFor(g, pos)
		if !ok {
			return nil, nil, &world.ConfigurationError{Reason: "items need a delivery zone"}
		}
		items = append(items, spawner.NewItem(pos, zone))
	}
	if n := cfg.Items.Count - len(items); n > 0 {
		more, err := spawner.SpawnItems(g, n, all, items, cfg.Items.SpawnAttempts*n)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, more...)
	}
	return all, items, nil
}

func simOptions(cfg config.Config) engine.Options {
	return engine.Options{
		DwellLimit:      cfg.DwellLimit,
		Seed:            cfg.Seed,
		RestockAttempts: cfg.Items.SpawnAttempts,
	}
}

// openSimulation resumes the saved run in db if there is one, otherwise
// builds a fresh world. resumed reports which happened.
func openSimulation(cfg config.Config, db *persistence.DB) (sim *engine.Simulation, resumed bool, err error) {
	if db != nil {
		st, err := db.LoadWorldState()
		if err != nil {
			return nil, false, fmt.Errorf("load world state: %w", err)
		}
		if st != nil {
			opts := simOptions(cfg)
			opts.Tick = st.Tick
			opts.Delivered = st.Delivered
			opts.RunID = st.RunID
			sim, err := engine.NewSimulation(st.Grid, st.Agents, st.Items, opts)
			if err != nil {
				return nil, false, fmt.Errorf("restore world state: %w", err)
			}
			return sim, true, nil
		}
	}

	g, err := gridBuilder(cfg)()
	if err != nil {
		return nil, false, err
	}
	ag, items, err := populate(cfg, g)
	if err != nil {
		return nil, false, err
	}
	sim, err = engine.NewSimulation(g, ag, items, simOptions(cfg))
	return sim, false, err
}

// loadSpec picks the constraint specification: the discovered file named
// after the scenario, else the first discovered file, else the built-in
// spec for the scenario.
func loadSpec(cfg config.Config) (*constraints.Spec, error) {
	if cfg.Constraints.SpecGlob == "" {
		return constraints.BuiltinSpec(cfg.Scenario)
	}
	paths, err := constraints.DiscoverSpecs(cfg.Constraints.SpecGlob)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		slog.Warn("no spec files matched, using built-in spec", "glob", cfg.Constraints.SpecGlob)
		return constraints.BuiltinSpec(cfg.Scenario)
	}
	chosen := paths[0]
	for _, p := range paths {
		if strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)) == cfg.Scenario {
			chosen = p
			break
		}
	}
	return constraints.LoadSpec(chosen)
}

// newManager wires the scenario, spec and grouping into a constraint
// manager.
func newManager(cfg config.Config, sim *engine.Simulation) (*constraints.Manager, *constraints.Spec, error) {
	sc, err := constraints.NewScenario(cfg.Scenario, constraints.ScenarioOptions{Restock: cfg.Items.Restock})
	if err != nil {
		return nil, nil, err
	}
	spec, err := loadSpec(cfg)
	if err != nil {
		return nil, nil, err
	}
	mode, err := constraints.ParseGrouping(cfg.Constraints.Grouping)
	if err != nil {
		return nil, nil, err
	}
	groups := constraints.BuildGroups(spec.Constraints(), mode, sc.Owner())
	if len(groups) == 0 {
		return nil, nil, fmt.Errorf("spec %s yields no constraint groups", spec.Path)
	}

	m := constraints.NewManager(sim, sc, groups)
	if cfg.Timing.ManagerInterval > 0 {
		m.Interval = cfg.Timing.ManagerInterval
	}
	if cfg.Constraints.MemoryFile != "" {
		m.SetMemory(constraints.LoadMemory(cfg.Constraints.MemoryFile))
	}
	return m, spec, nil
}
