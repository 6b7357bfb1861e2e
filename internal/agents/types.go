// Package agents provides the agent and item data model, the per-role
// movement behaviours, and seeded placement.
package agents

import (
	"fmt"

	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

// AgentID is a unique identifier for an agent. IDs start at 1.
type AgentID int

// Role determines an agent's movement permissions and policy.
// The numeric order is the tick priority order.
type Role uint8

const (
	RolePursuer Role = iota // Chases Evaders; barred from zones and their periphery
	RoleEvader              // Avoids Pursuers; visits zones but may not dwell
	RoleCarrier             // Fetches Items and delivers them to a zone
)

func (r Role) String() string {
	switch r {
	case RolePursuer:
		return "pursuer"
	case RoleEvader:
		return "evader"
	case RoleCarrier:
		return "carrier"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// ParseRole maps a config string to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "pursuer", "cop":
		return RolePursuer, nil
	case "evader", "robber":
		return RoleEvader, nil
	case "carrier", "robot":
		return RoleCarrier, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Access returns the grid access level for the role.
func (r Role) Access() world.Access {
	if r == RolePursuer {
		return world.AccessNoZones
	}
	return world.AccessZones
}

// State is an agent's coarse activity.
type State uint8

const (
	StateIdle State = iota
	StateNavigating
	StateCarrying
	StateBlocked // Held last tick with no legal move; a replanning trigger
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNavigating:
		return "navigating"
	case StateCarrying:
		return "carrying"
	case StateBlocked:
		return "blocked"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ItemID is a unique identifier for an item.
type ItemID int

// Item is a package waiting to be carried to its delivery rectangle.
type Item struct {
	ID       ItemID         `json:"id"`
	Pos      world.Position `json:"pos"`
	Zone     world.ZoneID   `json:"zone"`
	Delivery world.Rect     `json:"delivery"`
}

// Delivery records a delivered item.
type Delivery struct {
	Item  Item           `json:"item"`
	Agent AgentID        `json:"agent"`
	Pos   world.Position `json:"pos"`
	Tick  uint64         `json:"tick"`
}

// Agent is one autonomous mover on the grid.
type Agent struct {
	ID    AgentID        `json:"id"`
	Name  string         `json:"name"`
	Role  Role           `json:"role"`
	Pos   world.Position `json:"pos"`
	State State          `json:"state"`

	// Zone bookkeeping
	Dwell    int          `json:"dwell"`     // Consecutive ticks inside the current zone
	LastZone world.ZoneID `json:"last_zone"` // Most recent zone entered

	Item *Item `json:"item,omitempty"` // Bound item (Carriers only)

	// Invalid is set when a regeneration leaves the agent on a cell its role
	// may not occupy. It clears once the agent moves onto a valid cell.
	Invalid bool `json:"invalid,omitempty"`

	// Hint is a single-use next step bound by the constraint manager. The
	// resolver takes it only if it is a legal candidate.
	Hint *world.Position `json:"hint,omitempty"`

	behavior Behavior
}

// New creates an agent with the behaviour for its role.
func New(id AgentID, role Role, pos world.Position) *Agent {
	return &Agent{
		ID:       id,
		Name:     fmt.Sprintf("%s-%d", role, id),
		Role:     role,
		Pos:      pos,
		State:    StateIdle,
		LastZone: world.NoZone,
		behavior: BehaviorFor(role),
	}
}

// Behavior returns the role behaviour chosen at construction.
func (a *Agent) Behavior() Behavior {
	if a.behavior == nil {
		a.behavior = BehaviorFor(a.Role)
	}
	return a.behavior
}

// Carrying reports whether an item is bound to the agent.
func (a *Agent) Carrying() bool { return a.Item != nil }

// Clone returns a deep copy suitable for snapshots.
func (a *Agent) Clone() *Agent {
	c := *a
	if a.Item != nil {
		it := *a.Item
		c.Item = &it
	}
	if a.Hint != nil {
		h := *a.Hint
		c.Hint = &h
	}
	return &c
}

// Less orders agents by tick priority: role, then ID.
func Less(a, b *Agent) bool {
	if a.Role != b.Role {
		return a.Role < b.Role
	}
	return a.ID < b.ID
}
