// Movement resolution. Agents move one at a time in priority order, each
// seeing the cells already taken this tick, so the batch as a whole is
// collision-free even though it commits sequentially.
package engine

import (
	"log/slog"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
)

// TickResult summarises one tick of movement.
type TickResult struct {
	Tick    uint64           `json:"tick"`
	Moved   []agents.AgentID `json:"moved"`
	Held    []agents.AgentID `json:"held"`    // idle holds
	Blocked []agents.AgentID `json:"blocked"` // holds with no legal move

	// Evaders that had no legal candidate; they are exempt from the
	// end-of-tick adjacency check.
	Cornered map[agents.AgentID]bool `json:"-"`
}

// resolve moves every agent once. order must already be in priority order.
func resolve(v *agents.TickView, order []*agents.Agent) TickResult {
	res := TickResult{Tick: v.Tick, Cornered: make(map[agents.AgentID]bool)}

	for _, a := range order {
		b := a.Behavior()
		candidates := b.Candidates(v, a)

		hint := a.Hint
		a.Hint = nil

		if len(candidates) == 0 {
			block(v, a, &res)
			if a.Role == agents.RoleEvader {
				res.Cornered[a.ID] = true
			}
			continue
		}

		var d agents.Decision
		if hint != nil && agents.Contains(candidates, *hint) {
			d = agents.MoveTo(*hint)
		} else {
			d = b.Select(v, a, candidates)
		}

		if d.Hold && a.Invalid {
			// Step off a cell the last regeneration made invalid.
			d = agents.MoveTo(candidates[0])
		}
		if d.Hold {
			if d.Idle {
				a.State = agents.StateIdle
				res.Held = append(res.Held, a.ID)
			} else {
				block(v, a, &res)
			}
			continue
		}
		if !agents.Contains(candidates, d.To) {
			slog.Error("behaviour chose an illegal move, holding", "agent", a.Name, "from", a.Pos.String(), "to", d.To.String())
			block(v, a, &res)
			continue
		}

		from := a.Pos
		v.Commit(a, d.To)
		b.OnArrive(v, a, from)
		if a.Invalid && v.Grid.IsPassable(a.Pos, a.Role.Access()) {
			a.Invalid = false
		}
		res.Moved = append(res.Moved, a.ID)
	}
	return res
}

func block(v *agents.TickView, a *agents.Agent, res *TickResult) {
	if a.State != agents.StateBlocked && v.Emit != nil {
		v.Emit("blocked", a.Name+" has no legal move at "+a.Pos.String())
	}
	a.State = agents.StateBlocked
	res.Blocked = append(res.Blocked, a.ID)
}
