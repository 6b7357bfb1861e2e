package constraints

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/engine"
	"github.com/wfishell/MultiAgentGamePlay/internal/planner"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

// Scenario supplies the domain predicates the Manager sequences. All methods
// run inside a Simulation.Update and may read tx freely.
type Scenario interface {
	Name() string
	// Owner is the role whose agents the groups constrain.
	Owner() agents.Role
	// Triggered returns the agents that need a recovery route. An empty
	// result means the group keeps its nominal directive.
	Triggered(tx *engine.Tx, g *Group) []agents.AgentID
	SelectDirective(g *Group, triggered bool) Directive
	// Target is where a triggered agent should be routed.
	Target(tx *engine.Tx, a *agents.Agent) (world.Position, bool)
	Satisfied(tx *engine.Tx, g *Group) bool
}

// Recoverer is implemented by scenarios with recovery work that is not a
// movement, such as restocking items.
type Recoverer interface {
	Recover(tx *engine.Tx, g *Group) error
}

// Scenario names.
const (
	ScenarioWarehouse = "warehouse"
	ScenarioPursuit   = "pursuit"
)

// ScenarioOptions configures NewScenario.
type ScenarioOptions struct {
	Restock int // items spawned when the warehouse pool empties
}

// NewScenario returns the named scenario.
func NewScenario(name string, opts ScenarioOptions) (Scenario, error) {
	switch strings.ToLower(name) {
	case ScenarioWarehouse, "robots":
		return &Warehouse{Restock: opts.Restock}, nil
	case ScenarioPursuit, "cops", "cops_and_robbers":
		return &Pursuit{}, nil
	}
	return nil, fmt.Errorf("unknown scenario %q", name)
}

// recoveryDirective relaxes the progress goals of a group so that only its
// safety guards remain while agents are rerouted.
func recoveryDirective(g *Group, triggered bool) Directive {
	if !triggered {
		return g.Original
	}
	return Relax("recovery", g.Original.Constraints, KindProgress)
}

// noSharedCells reports whether every agent is on its own cell.
func noSharedCells(tx *engine.Tx) bool {
	seen := make(map[world.Position]bool)
	for _, a := range tx.Agents() {
		if seen[a.Pos] {
			return false
		}
		seen[a.Pos] = true
	}
	return true
}

// Warehouse coordinates Carriers fetching and delivering items.
type Warehouse struct {
	Restock int
}

func (w *Warehouse) Name() string       { return ScenarioWarehouse }
func (w *Warehouse) Owner() agents.Role { return agents.RoleCarrier }

// Triggered fires for Blocked Carriers, and for every Carrier without work
// once the item pool is empty.
func (w *Warehouse) Triggered(tx *engine.Tx, g *Group) []agents.AgentID {
	empty := len(tx.Items()) == 0
	var out []agents.AgentID
	for _, a := range tx.AgentsByRole(agents.RoleCarrier) {
		if a.State == agents.StateBlocked || (empty && !a.Carrying()) {
			out = append(out, a.ID)
		}
	}
	return out
}

func (w *Warehouse) SelectDirective(g *Group, triggered bool) Directive {
	return recoveryDirective(g, triggered)
}

func (w *Warehouse) Target(tx *engine.Tx, a *agents.Agent) (world.Position, bool) {
	return agents.CarrierTarget(a, tx.Items())
}

// Satisfied checks a guard group for shared cells and a goal-only group for
// outstanding items.
func (w *Warehouse) Satisfied(tx *engine.Tx, g *Group) bool {
	if cs := g.Original.Constraints; len(cs) > 0 && cs[0].Kind == KindSafety {
		return noSharedCells(tx)
	}
	return len(tx.Items()) == 0
}

// Recover restocks an empty pool. A partial restock is logged, not fatal.
func (w *Warehouse) Recover(tx *engine.Tx, g *Group) error {
	if w.Restock <= 0 || len(tx.Items()) > 0 {
		return nil
	}
	items, err := tx.Restock(w.Restock)
	var pe *agents.PlacementError
	if errors.As(err, &pe) {
		slog.Warn("restock incomplete", "group", g.Name, "want", pe.Want, "placed", len(items))
		return nil
	}
	return err
}

// Pursuit keeps Evaders away from Pursuers.
type Pursuit struct{}

func (p *Pursuit) Name() string       { return ScenarioPursuit }
func (p *Pursuit) Owner() agents.Role { return agents.RoleEvader }

// Triggered checks only the conditions the group's constraints name. A group
// naming none of them is checked for everything.
func (p *Pursuit) Triggered(tx *engine.Tx, g *Group) []agents.AgentID {
	adjacency := g.Has("adjacentToCop") || g.Has("collision")
	dwell := g.Has("stayInSafetyZoneForTooLong")
	moves := g.Has("allAgentsMove")
	if !adjacency && !dwell && !moves {
		adjacency, dwell = true, true
	}

	var pursuers []world.Position
	for _, a := range tx.AgentsByRole(agents.RolePursuer) {
		pursuers = append(pursuers, a.Pos)
	}

	var out []agents.AgentID
	for _, e := range tx.AgentsByRole(agents.RoleEvader) {
		switch {
		case adjacency && nearAny(e.Pos, pursuers):
		case dwell && e.Dwell >= tx.DwellLimit():
		case (adjacency || moves) && e.State == agents.StateBlocked:
		default:
			continue
		}
		out = append(out, e.ID)
	}
	return out
}

func nearAny(p world.Position, ps []world.Position) bool {
	for _, q := range ps {
		if world.Chebyshev(p, q) <= 1 {
			return true
		}
	}
	return false
}

func (p *Pursuit) SelectDirective(g *Group, triggered bool) Directive {
	return recoveryDirective(g, triggered)
}

// Target is the reachable cell farthest, by Manhattan distance, from the
// nearest Pursuer and not within reach of any. Ties go to the closer cell,
// then to the lower row-major index. Zone cells are skipped once the Evader
// has reached its dwell limit.
func (p *Pursuit) Target(tx *engine.Tx, a *agents.Agent) (world.Position, bool) {
	var pursuers []world.Position
	for _, q := range tx.AgentsByRole(agents.RolePursuer) {
		pursuers = append(pursuers, q.Pos)
	}
	if len(pursuers) == 0 {
		return world.Position{}, false
	}

	g := tx.Grid()
	avoid := make(map[world.Position]bool)
	for pos, id := range tx.Occupied() {
		if id != a.ID {
			avoid[pos] = true
		}
	}
	dist := planner.DistanceField(g, a.Pos, avoid)
	leaveZones := a.Dwell >= tx.DwellLimit()

	best, bestScore, bestDist := world.Position{}, -1, 0
	for i, d := range dist {
		if d <= 0 {
			continue
		}
		c := g.At(i)
		if !g.IsPassable(c, world.AccessZones) || nearAny(c, pursuers) {
			continue
		}
		if leaveZones && g.ZoneAt(c) != world.NoZone {
			continue
		}
		score := minManhattan(c, pursuers)
		if score > bestScore || (score == bestScore && d < bestDist) {
			best, bestScore, bestDist = c, score, d
		}
	}
	return best, bestScore >= 0
}

func minManhattan(p world.Position, ps []world.Position) int {
	m := -1
	for _, q := range ps {
		if d := world.Manhattan(p, q); m < 0 || d < m {
			m = d
		}
	}
	return m
}

// Satisfied holds when no agents share a cell and no Evader is within reach
// of a Pursuer.
func (p *Pursuit) Satisfied(tx *engine.Tx, g *Group) bool {
	if !noSharedCells(tx) {
		return false
	}
	var pursuers []world.Position
	for _, a := range tx.AgentsByRole(agents.RolePursuer) {
		pursuers = append(pursuers, a.Pos)
	}
	for _, e := range tx.AgentsByRole(agents.RoleEvader) {
		if nearAny(e.Pos, pursuers) {
			return false
		}
	}
	return true
}
