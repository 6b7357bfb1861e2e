// Agent and item placement. Positions are drawn from a seeded generator and
// rejected until they satisfy the role's placement rules; every placement
// run is bounded and fails with a PlacementError rather than looping.
package agents

import (
	"fmt"
	"math/rand"

	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

// DefaultPlacementAttempts bounds random draws per placement batch.
const DefaultPlacementAttempts = 1000

// DefaultRestockAttempts bounds random draws when restocking items.
const DefaultRestockAttempts = 50

// PlacementError reports that a batch could not be placed within its
// attempt budget.
type PlacementError struct {
	What     string
	Want     int
	Placed   int
	Attempts int
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("placement: placed %d of %d %s in %d attempts", e.Placed, e.Want, e.What, e.Attempts)
}

// Spawner creates agents and items.
type Spawner struct {
	rng         *rand.Rand
	nextAgent   AgentID
	nextItem    ItemID
	MaxAttempts int
}

// NewSpawner creates a spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:         rand.New(rand.NewSource(seed + 300)),
		nextAgent:   1,
		nextItem:    1,
		MaxAttempts: DefaultPlacementAttempts,
	}
}

// SetNextIDs sets the next IDs to be issued (used when restoring from DB).
func (s *Spawner) SetNextIDs(agent AgentID, item ItemID) {
	s.nextAgent = agent
	s.nextItem = item
}

// NewAgent creates an agent at an explicit position with the next ID.
func (s *Spawner) NewAgent(role Role, pos world.Position) *Agent {
	a := New(s.nextAgent, role, pos)
	s.nextAgent++
	return a
}

// NewItem creates an item at pos bound to the given delivery zone.
func (s *Spawner) NewItem(pos world.Position, zone world.Zone) Item {
	it := Item{ID: s.nextItem, Pos: pos, Zone: zone.ID, Delivery: zone.Rect}
	s.nextItem++
	return it
}

// CanPlace reports whether role may start at p given the agents already
// placed. Nobody starts on an obstacle or another agent; Pursuers and
// Evaders start outside zones and their periphery, and out of each other's
// reach whichever of the two is placed first.
func CanPlace(g *world.Grid, role Role, p world.Position, placed []*Agent) bool {
	if !g.IsPassable(p, role.Access()) {
		return false
	}
	if role != RoleCarrier && g.InOrNearZone(p) {
		return false
	}
	for _, a := range placed {
		if a.Pos == p {
			return false
		}
		if rivals(role, a.Role) && world.Chebyshev(a.Pos, p) <= 1 {
			return false
		}
	}
	return true
}

func rivals(a, b Role) bool {
	return (a == RolePursuer && b == RoleEvader) || (a == RoleEvader && b == RolePursuer)
}

// PlaceAgents creates n agents of role at random valid positions. Place
// Pursuers before Evaders so the adjacency rule has something to test
// against.
func (s *Spawner) PlaceAgents(g *world.Grid, role Role, n int, existing []*Agent) ([]*Agent, error) {
	placed := append([]*Agent(nil), existing...)
	out := make([]*Agent, 0, n)
	attempts := 0
	for len(out) < n {
		attempts++
		if attempts > s.MaxAttempts {
			return nil, &PlacementError{What: role.String() + "s", Want: n, Placed: len(out), Attempts: s.MaxAttempts}
		}
		p := world.Pos(s.rng.Intn(g.Rows()), s.rng.Intn(g.Cols()))
		if !CanPlace(g, role, p, placed) {
			continue
		}
		a := s.NewAgent(role, p)
		out = append(out, a)
		placed = append(placed, a)
	}
	return out, nil
}

// DeliveryZoneFor picks the delivery zone for an item at p: the first
// delivery zone for the top half of the grid, the last for the bottom half.
func DeliveryZoneFor(g *world.Grid, p world.Position) (world.Zone, bool) {
	zones := g.ZonesOfKind(world.ZoneDelivery)
	if len(zones) == 0 {
		return world.Zone{}, false
	}
	if p.Row < g.Rows()/2 {
		return zones[0], true
	}
	return zones[len(zones)-1], true
}

// SpawnItems places up to n new items on free, non-zone cells not held by an
// agent or another item. Items placed before the attempt budget ran out are
// returned alongside the PlacementError.
func (s *Spawner) SpawnItems(g *world.Grid, n int, agents []*Agent, items []Item, attempts int) ([]Item, error) {
	if attempts <= 0 {
		attempts = DefaultRestockAttempts
	}
	taken := make(map[world.Position]bool, len(agents)+len(items))
	for _, a := range agents {
		taken[a.Pos] = true
	}
	for _, it := range items {
		taken[it.Pos] = true
	}

	var out []Item
	for i := 0; i < attempts && len(out) < n; i++ {
		p := world.Pos(s.rng.Intn(g.Rows()), s.rng.Intn(g.Cols()))
		if g.CellAt(p).Kind != world.CellFree || taken[p] {
			continue
		}
		zone, ok := DeliveryZoneFor(g, p)
		if !ok {
			return nil, &PlacementError{What: "items (no delivery zone)", Want: n}
		}
		out = append(out, s.NewItem(p, zone))
		taken[p] = true
	}
	if len(out) < n {
		return out, &PlacementError{What: "items", Want: n, Placed: len(out), Attempts: attempts}
	}
	return out, nil
}
