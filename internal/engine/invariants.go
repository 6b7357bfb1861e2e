package engine

import (
	"fmt"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

// InvariantViolation reports state that a correct resolver can never
// produce: two agents on one cell, an agent on an obstacle, an Evader left
// within reach of a Pursuer although it had somewhere else to go, or a
// delivery outside its rectangle.
type InvariantViolation struct {
	Tick   uint64
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation at tick %d: %s", e.Tick, e.Reason)
}

// checkInvariants validates the post-tick state. Agents flagged Invalid by a
// regeneration are exempt from the obstacle rule until they move off.
func checkInvariants(g *world.Grid, ag []*agents.Agent, res TickResult, delivered []agents.Delivery) error {
	seen := make(map[world.Position]*agents.Agent, len(ag))
	var pursuers []world.Position
	for _, a := range ag {
		if other, ok := seen[a.Pos]; ok {
			return &InvariantViolation{Tick: res.Tick, Reason: fmt.Sprintf("%s and %s both at %s", other.Name, a.Name, a.Pos)}
		}
		seen[a.Pos] = a
		if !a.Invalid && g.CellAt(a.Pos).IsObstacle() {
			return &InvariantViolation{Tick: res.Tick, Reason: fmt.Sprintf("%s on obstacle %s", a.Name, a.Pos)}
		}
		if a.Role == agents.RolePursuer {
			pursuers = append(pursuers, a.Pos)
		}
	}

	for _, a := range ag {
		if a.Role != agents.RoleEvader || res.Cornered[a.ID] {
			continue
		}
		for _, p := range pursuers {
			if world.Chebyshev(a.Pos, p) <= 1 {
				return &InvariantViolation{Tick: res.Tick, Reason: fmt.Sprintf("%s within reach of a pursuer at %s", a.Name, p)}
			}
		}
	}

	for _, d := range delivered {
		if !d.Item.Delivery.Contains(d.Pos) {
			return &InvariantViolation{Tick: res.Tick, Reason: fmt.Sprintf("item %d delivered at %s outside %s", d.Item.ID, d.Pos, d.Item.Delivery)}
		}
	}
	return nil
}
