// Package world provides the square grid, cells, zones, and layout generation.
// Uses (row, col) coordinates with row 0 at the top.
package world

import "fmt"

// Position is a cell coordinate on the grid.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Pos is shorthand for Position{Row: row, Col: col}.
func Pos(row, col int) Position {
	return Position{Row: row, Col: col}
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Row, p.Col)
}

// Add returns p offset by d.
func (p Position) Add(d Position) Position {
	return Position{Row: p.Row + d.Row, Col: p.Col + d.Col}
}

// Manhattan returns the 4-connected distance between two positions.
func Manhattan(a, b Position) int {
	return abs(a.Row-b.Row) + abs(a.Col-b.Col)
}

// Chebyshev returns the 8-connected distance between two positions.
// Two cells are "adjacent" when this is <= 1.
func Chebyshev(a, b Position) int {
	dr := abs(a.Row - b.Row)
	dc := abs(a.Col - b.Col)
	if dr > dc {
		return dr
	}
	return dc
}

// NeighborDirections defines the four axis-aligned offsets in the order used
// for every deterministic tie-break: up, down, left, right.
var NeighborDirections = [4]Position{
	{Row: -1, Col: 0},
	{Row: 1, Col: 0},
	{Row: 0, Col: -1},
	{Row: 0, Col: 1},
}

// CellKind tags the variant stored in a Cell.
type CellKind uint8

const (
	CellFree     CellKind = iota // Open floor
	CellObstacle                 // Never passable
	CellZone                     // Part of a zone; see Cell.Zone
)

func (k CellKind) String() string {
	switch k {
	case CellFree:
		return "free"
	case CellObstacle:
		return "obstacle"
	case CellZone:
		return "zone"
	}
	return fmt.Sprintf("CellKind(%d)", uint8(k))
}

// ZoneID identifies a zone. NoZone marks "not in any zone".
type ZoneID int

const NoZone ZoneID = -1

// Cell is one grid square. Zone is only meaningful when Kind == CellZone.
type Cell struct {
	Kind CellKind `json:"kind"`
	Zone ZoneID   `json:"zone"`
}

// IsObstacle reports whether the cell blocks all movement.
func (c Cell) IsObstacle() bool { return c.Kind == CellObstacle }

// ZoneKind distinguishes what a zone is used for. Movement rules treat every
// zone the same; the kind is carried for configuration and observers.
type ZoneKind uint8

const (
	ZoneSafety   ZoneKind = iota // Evader refuge
	ZoneDelivery                 // Carrier drop-off
)

func (k ZoneKind) String() string {
	if k == ZoneDelivery {
		return "delivery"
	}
	return "safety"
}

// ParseZoneKind maps a config string to a ZoneKind.
func ParseZoneKind(s string) (ZoneKind, error) {
	switch s {
	case "", "safety":
		return ZoneSafety, nil
	case "delivery":
		return ZoneDelivery, nil
	}
	return ZoneSafety, fmt.Errorf("unknown zone kind %q", s)
}

// Rect is an inclusive rectangle of cells.
type Rect struct {
	MinRow int `json:"min_row" yaml:"min_row"`
	MinCol int `json:"min_col" yaml:"min_col"`
	MaxRow int `json:"max_row" yaml:"max_row"`
	MaxCol int `json:"max_col" yaml:"max_col"`
}

// Contains reports whether p lies inside the rectangle.
func (r Rect) Contains(p Position) bool {
	return p.Row >= r.MinRow && p.Row <= r.MaxRow && p.Col >= r.MinCol && p.Col <= r.MaxCol
}

// Centroid returns the integer centre of the rectangle (rounded down).
func (r Rect) Centroid() Position {
	return Position{Row: (r.MinRow + r.MaxRow) / 2, Col: (r.MinCol + r.MaxCol) / 2}
}

// Area returns the number of cells covered.
func (r Rect) Area() int {
	if r.MaxRow < r.MinRow || r.MaxCol < r.MinCol {
		return 0
	}
	return (r.MaxRow - r.MinRow + 1) * (r.MaxCol - r.MinCol + 1)
}

func (r Rect) String() string {
	return fmt.Sprintf("rows %d-%d cols %d-%d", r.MinRow, r.MaxRow, r.MinCol, r.MaxCol)
}

// Zone is a named rectangle of zone cells.
type Zone struct {
	ID   ZoneID   `json:"id"`
	Kind ZoneKind `json:"kind"`
	Rect Rect     `json:"rect"`
}

// Access is the movement permission level a role has on the grid.
type Access uint8

const (
	// AccessZones may enter zone cells.
	AccessZones Access = iota
	// AccessNoZones may not enter a zone cell nor any cell Chebyshev-adjacent to one.
	AccessNoZones
)

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
