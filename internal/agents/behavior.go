// Per-role movement behaviour. Every tick the resolver asks an agent's
// Behavior for its legal candidates, lets it pick one, then calls OnArrive
// after the move commits. The behaviour is chosen once per agent.
package agents

import (
	"fmt"

	"github.com/wfishell/MultiAgentGamePlay/internal/planner"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

// DefaultDwellLimit is how many consecutive ticks an Evader may spend in one
// zone before it is forced out.
const DefaultDwellLimit = 2

// Behavior is the per-role capability set used by the resolver.
type Behavior interface {
	// Candidates returns the legal moves for this tick in neighbour order.
	Candidates(v *TickView, a *Agent) []world.Position
	// Select picks one of candidates, or holds. candidates is never empty.
	Select(v *TickView, a *Agent, candidates []world.Position) Decision
	// OnArrive runs after the agent has moved from from to a.Pos.
	OnArrive(v *TickView, a *Agent, from world.Position)
}

// Decision is a behaviour's choice for one tick.
type Decision struct {
	To   world.Position
	Hold bool
	Idle bool // the hold is for lack of work, not lack of a legal move
}

// MoveTo returns a decision to step onto p.
func MoveTo(p world.Position) Decision { return Decision{To: p} }

// HoldBlocked returns a hold that marks the agent Blocked.
func HoldBlocked() Decision { return Decision{Hold: true} }

// HoldIdle returns a hold that marks the agent Idle.
func HoldIdle() Decision { return Decision{Hold: true, Idle: true} }

// BehaviorFor returns the behaviour for a role.
func BehaviorFor(r Role) Behavior {
	switch r {
	case RolePursuer:
		return pursuer{}
	case RoleEvader:
		return evader{}
	default:
		return carrier{}
	}
}

// ItemPool is the undelivered item pool as seen from inside a tick.
type ItemPool interface {
	// Undelivered returns the pool in creation order.
	Undelivered() []Item
	// TakeAt removes and returns the undelivered item at p, if any.
	TakeAt(p world.Position) (Item, bool)
	// Deliver records a completed delivery.
	Deliver(d Delivery)
}

// TickView is the shared state for one tick of movement resolution.
type TickView struct {
	Grid       *world.Grid
	Tick       uint64
	DwellLimit int
	Items      ItemPool
	Emit       func(category, description string)

	occupied map[world.Position]AgentID
	evaders  []world.Position // pre-tick
	pursuers []world.Position // pre-tick
	threats  []world.Position // Pursuers pre-tick, plus where they moved this tick
}

// NewTickView captures pre-tick positions and occupancy for agents.
func NewTickView(g *world.Grid, tick uint64, dwellLimit int, agents []*Agent, items ItemPool) *TickView {
	v := &TickView{
		Grid:       g,
		Tick:       tick,
		DwellLimit: dwellLimit,
		Items:      items,
		occupied:   make(map[world.Position]AgentID, len(agents)),
	}
	if v.DwellLimit <= 0 {
		v.DwellLimit = DefaultDwellLimit
	}
	for _, a := range agents {
		v.occupied[a.Pos] = a.ID
		switch a.Role {
		case RolePursuer:
			v.pursuers = append(v.pursuers, a.Pos)
			v.threats = append(v.threats, a.Pos)
		case RoleEvader:
			v.evaders = append(v.evaders, a.Pos)
		}
	}
	return v
}

// Occupied reports whether any agent holds p right now.
func (v *TickView) Occupied(p world.Position) bool {
	_, ok := v.occupied[p]
	return ok
}

// Commit moves a to p and updates occupancy immediately, so later agents in
// the same tick see the new cell as taken and the old one as free.
func (v *TickView) Commit(a *Agent, p world.Position) {
	delete(v.occupied, a.Pos)
	a.Pos = p
	v.occupied[p] = a.ID
	if a.Role == RolePursuer {
		v.threats = append(v.threats, p)
	}
}

// Threats returns every cell a Pursuer held before or has moved to during
// this tick.
func (v *TickView) Threats() []world.Position { return v.threats }

// Pursuers returns the Pursuers' pre-tick positions.
func (v *TickView) Pursuers() []world.Position { return v.pursuers }

// Evaders returns the Evaders' pre-tick positions.
func (v *TickView) Evaders() []world.Position { return v.evaders }

func (v *TickView) emit(category, format string, args ...any) {
	if v.Emit != nil {
		v.Emit(category, fmt.Sprintf(format, args...))
	}
}

// baseCandidates returns role-passable, unoccupied neighbours of a.
func baseCandidates(v *TickView, a *Agent) []world.Position {
	access := a.Role.Access()
	out := make([]world.Position, 0, 4)
	for _, n := range v.Grid.Neighbors(a.Pos) {
		if v.Grid.IsPassable(n, access) && !v.Occupied(n) {
			out = append(out, n)
		}
	}
	return out
}

// trackZone updates dwell and last-zone bookkeeping after a move.
func trackZone(v *TickView, a *Agent, from world.Position) {
	z := v.Grid.ZoneAt(a.Pos)
	switch {
	case z == world.NoZone:
		a.Dwell = 0
	case z == v.Grid.ZoneAt(from):
		a.Dwell++
	default:
		a.Dwell = 1
		if z != a.LastZone {
			v.emit("zone", "%s entered zone %d", a.Name, z)
		}
		a.LastZone = z
	}
}

// minDistance returns the smallest Manhattan distance from p to any of ps.
func minDistance(p world.Position, ps []world.Position) int {
	best := -1
	for _, q := range ps {
		if d := world.Manhattan(p, q); best < 0 || d < best {
			best = d
		}
	}
	return best
}

// nearest returns the element of ps closest to p; the first wins ties.
func nearest(p world.Position, ps []world.Position) (world.Position, bool) {
	if len(ps) == 0 {
		return world.Position{}, false
	}
	best, bestD := ps[0], world.Manhattan(p, ps[0])
	for _, q := range ps[1:] {
		if d := world.Manhattan(p, q); d < bestD {
			best, bestD = q, d
		}
	}
	return best, true
}

// Contains reports whether p is one of ps.
func Contains(ps []world.Position, p world.Position) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}

// pursuer closes on the nearest Evader.
type pursuer struct{}

func (pursuer) Candidates(v *TickView, a *Agent) []world.Position {
	return baseCandidates(v, a)
}

func (pursuer) Select(v *TickView, a *Agent, candidates []world.Position) Decision {
	target, ok := nearest(a.Pos, v.evaders)
	if !ok {
		return HoldIdle()
	}
	best, bestD := candidates[0], world.Manhattan(candidates[0], target)
	for _, c := range candidates[1:] {
		if d := world.Manhattan(c, target); d < bestD {
			best, bestD = c, d
		}
	}
	return MoveTo(best)
}

func (pursuer) OnArrive(v *TickView, a *Agent, from world.Position) {
	trackZone(v, a, from)
	a.State = StateNavigating
}

// evader keeps out of Pursuer reach and rotates through zones.
type evader struct{}

func (evader) Candidates(v *TickView, a *Agent) []world.Position {
	base := baseCandidates(v, a)
	out := base[:0]
	for _, c := range base {
		if adjacentToAny(c, v.threats) {
			continue
		}
		if a.Dwell >= v.DwellLimit && v.Grid.ZoneAt(c) != world.NoZone {
			continue
		}
		out = append(out, c)
	}
	return out
}

func adjacentToAny(p world.Position, ps []world.Position) bool {
	for _, q := range ps {
		if world.Chebyshev(p, q) <= 1 {
			return true
		}
	}
	return false
}

func (evader) Select(v *TickView, a *Agent, candidates []world.Position) Decision {
	pool := candidates
	var inZone []world.Position
	for _, c := range candidates {
		if v.Grid.ZoneAt(c) != world.NoZone {
			inZone = append(inZone, c)
		}
	}
	if len(inZone) > 0 {
		pool = inZone
	}
	if len(v.pursuers) == 0 {
		return MoveTo(pool[0])
	}

	// Score against where Pursuers stood before the tick; their moves this
	// tick only constrain the candidates.
	best, bestD := pool[0], minDistance(pool[0], v.pursuers)
	for _, c := range pool[1:] {
		if d := minDistance(c, v.pursuers); d > bestD {
			best, bestD = c, d
		}
	}
	return MoveTo(best)
}

func (evader) OnArrive(v *TickView, a *Agent, from world.Position) {
	trackZone(v, a, from)
	a.State = StateNavigating
}

// carrier follows a fresh shortest path every tick: to the nearest item when
// empty-handed, to the centre of the delivery rectangle when loaded.
type carrier struct{}

func (carrier) Candidates(v *TickView, a *Agent) []world.Position {
	return baseCandidates(v, a)
}

// Target returns where a Carrier is heading, if anywhere.
func Target(v *TickView, a *Agent) (world.Position, bool) {
	if v.Items == nil {
		return CarrierTarget(a, nil)
	}
	return CarrierTarget(a, v.Items.Undelivered())
}

// CarrierTarget is the cell a Carrier heads for: the centroid of its bound
// item's delivery rectangle, or else the nearest of items.
func CarrierTarget(a *Agent, items []Item) (world.Position, bool) {
	if a.Item != nil {
		return a.Item.Delivery.Centroid(), true
	}
	ps := make([]world.Position, len(items))
	for i, it := range items {
		ps[i] = it.Pos
	}
	return nearest(a.Pos, ps)
}

func (carrier) Select(v *TickView, a *Agent, candidates []world.Position) Decision {
	target, ok := Target(v, a)
	if !ok {
		return HoldIdle()
	}
	path := planner.ShortestPath(v.Grid, a.Pos, target)
	if len(path) < 2 {
		return HoldBlocked()
	}
	if !Contains(candidates, path[1]) {
		return HoldBlocked()
	}
	return MoveTo(path[1])
}

func (carrier) OnArrive(v *TickView, a *Agent, from world.Position) {
	trackZone(v, a, from)

	if a.Item == nil && v.Items != nil {
		if it, ok := v.Items.TakeAt(a.Pos); ok {
			a.Item = &it
			v.emit("pickup", "%s picked up item %d at %s", a.Name, it.ID, a.Pos)
		}
	}
	if a.Item != nil && a.Item.Delivery.Contains(a.Pos) {
		it := *a.Item
		a.Item = nil
		if v.Items != nil {
			v.Items.Deliver(Delivery{Item: it, Agent: a.ID, Pos: a.Pos, Tick: v.Tick})
		}
		v.emit("delivery", "%s delivered item %d at %s", a.Name, it.ID, a.Pos)
	}

	switch {
	case a.Item != nil:
		a.State = StateCarrying
	case v.Items != nil && len(v.Items.Undelivered()) > 0:
		a.State = StateNavigating
	default:
		a.State = StateIdle
	}
}
