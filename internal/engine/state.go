package engine

import (
	"fmt"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

// Snapshot is a read-only copy of the state after a complete tick.
type Snapshot struct {
	RunID     string            `json:"run_id"`
	Tick      uint64            `json:"tick"`
	Rows      int               `json:"rows"`
	Cols      int               `json:"cols"`
	Cells     [][]int           `json:"cells"` // 0 free, 1 obstacle, 2 zone
	Zones     []world.Zone      `json:"zones"`
	Agents    []agents.Agent    `json:"agents"`
	Items     []agents.Item     `json:"items"`
	Delivered []agents.Delivery `json:"delivered"`
	Stats     Stats             `json:"stats"`

	grid *world.Grid
}

// Grid returns the grid the snapshot was taken from. Grids are never
// mutated once in use, so sharing it is safe.
func (s Snapshot) Grid() *world.Grid { return s.grid }

// Snapshot returns a copy of the current state.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Simulation) snapshotLocked() Snapshot {
	ag := make([]agents.Agent, len(s.agents))
	for i, a := range s.agents {
		ag[i] = *a.Clone()
	}
	return Snapshot{
		RunID:     s.RunID,
		Tick:      s.tick,
		Rows:      s.grid.Rows(),
		Cols:      s.grid.Cols(),
		Cells:     s.grid.Rows2D(),
		Zones:     s.grid.Zones(),
		Agents:    ag,
		Items:     append([]agents.Item(nil), s.items...),
		Delivered: append([]agents.Delivery(nil), s.delivered...),
		Stats:     s.stats,
		grid:      s.grid,
	}
}

// Tx is exclusive access to the simulation for the duration of one
// Simulation.Update call. It must not be retained after fn returns.
type Tx struct {
	s *Simulation
}

// Tick returns the current tick.
func (tx *Tx) Tick() uint64 { return tx.s.tick }

// Grid returns the current grid.
func (tx *Tx) Grid() *world.Grid { return tx.s.grid }

// DwellLimit returns the Evader dwell limit.
func (tx *Tx) DwellLimit() int { return tx.s.dwellLimit }

// Agents returns the live agents in tick priority order.
func (tx *Tx) Agents() []*agents.Agent { return tx.s.agents }

// Agent returns the live agent with the given ID.
func (tx *Tx) Agent(id agents.AgentID) (*agents.Agent, bool) {
	a, ok := tx.s.index[id]
	return a, ok
}

// AgentsByRole returns the live agents of one role in priority order.
func (tx *Tx) AgentsByRole(r agents.Role) []*agents.Agent {
	var out []*agents.Agent
	for _, a := range tx.s.agents {
		if a.Role == r {
			out = append(out, a)
		}
	}
	return out
}

// Items returns the undelivered items.
func (tx *Tx) Items() []agents.Item { return tx.s.items }

// Delivered returns the delivery record.
func (tx *Tx) Delivered() []agents.Delivery { return tx.s.delivered }

// Occupied returns the set of cells currently held by agents.
func (tx *Tx) Occupied() map[world.Position]agents.AgentID {
	out := make(map[world.Position]agents.AgentID, len(tx.s.agents))
	for _, a := range tx.s.agents {
		out[a.Pos] = a.ID
	}
	return out
}

// BindHint sets a single-use next step for an agent.
func (tx *Tx) BindHint(id agents.AgentID, step world.Position) error {
	a, ok := tx.s.index[id]
	if !ok {
		return fmt.Errorf("bind hint: unknown agent %d", id)
	}
	p := step
	a.Hint = &p
	return nil
}

// Restock spawns up to n new items. Items placed before the attempt budget
// ran out are kept even when a *agents.PlacementError is returned.
func (tx *Tx) Restock(n int) ([]agents.Item, error) {
	s := tx.s
	items, err := s.spawner.SpawnItems(s.grid, n, s.agents, s.items, s.restockTry)
	s.items = append(s.items, items...)
	s.stats.Restocked += len(items)
	if len(items) > 0 {
		s.emitLocked("restock", fmt.Sprintf("%d new items", len(items)))
	}
	return items, err
}

// Emit records an event.
func (tx *Tx) Emit(category, description string) { tx.s.emitLocked(category, description) }

// CountReplan increments the replan counter.
func (tx *Tx) CountReplan() { tx.s.stats.Replans++ }
