package world

import (
	"fmt"
	"strings"
)

// ConfigurationError reports invalid grid or zone geometry. It aborts
// initialization.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// Grid holds the static cell layout. It is never mutated after construction
// finishes; regeneration swaps in a whole new Grid.
type Grid struct {
	rows  int
	cols  int
	cells []Cell // row-major
	zones []Zone

	nearZone []bool // zone cells and their Chebyshev periphery
}

// NewGrid creates an all-free grid.
func NewGrid(rows, cols int) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, configErrorf("grid size %dx%d must be positive", rows, cols)
	}
	g := &Grid{
		rows:     rows,
		cols:     cols,
		cells:    make([]Cell, rows*cols),
		nearZone: make([]bool, rows*cols),
	}
	for i := range g.cells {
		g.cells[i] = Cell{Kind: CellFree, Zone: NoZone}
	}
	return g, nil
}

// Rows returns the number of rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of columns.
func (g *Grid) Cols() int { return g.cols }

// Size returns the total number of cells.
func (g *Grid) Size() int { return g.rows * g.cols }

// InBounds returns true if p is a valid coordinate.
func (g *Grid) InBounds(p Position) bool {
	return p.Row >= 0 && p.Row < g.rows && p.Col >= 0 && p.Col < g.cols
}

// Index maps an in-bounds position to its row-major index.
func (g *Grid) Index(p Position) int {
	return p.Row*g.cols + p.Col
}

// At maps a row-major index back to a position.
func (g *Grid) At(i int) Position {
	return Position{Row: i / g.cols, Col: i % g.cols}
}

// CellAt returns the cell at p. Out-of-bounds positions read as obstacles.
func (g *Grid) CellAt(p Position) Cell {
	if !g.InBounds(p) {
		return Cell{Kind: CellObstacle, Zone: NoZone}
	}
	return g.cells[g.Index(p)]
}

// SetObstacle marks p as an obstacle. Only used while building a grid.
func (g *Grid) SetObstacle(p Position) {
	if g.InBounds(p) {
		g.cells[g.Index(p)] = Cell{Kind: CellObstacle, Zone: NoZone}
	}
}

// AddZone carves a rectangular zone into the grid. Obstacle cells inside the
// rectangle are overwritten. The zone ID is assigned sequentially.
func (g *Grid) AddZone(kind ZoneKind, r Rect) (ZoneID, error) {
	if r.Area() == 0 {
		return NoZone, configErrorf("zone %s is empty", r)
	}
	if !g.InBounds(Pos(r.MinRow, r.MinCol)) || !g.InBounds(Pos(r.MaxRow, r.MaxCol)) {
		return NoZone, configErrorf("zone %s out of bounds for %dx%d grid", r, g.rows, g.cols)
	}
	for _, z := range g.zones {
		if overlaps(z.Rect, r) {
			return NoZone, configErrorf("zone %s overlaps zone %d", r, z.ID)
		}
	}

	id := ZoneID(len(g.zones))
	g.zones = append(g.zones, Zone{ID: id, Kind: kind, Rect: r})
	for row := r.MinRow; row <= r.MaxRow; row++ {
		for col := r.MinCol; col <= r.MaxCol; col++ {
			g.cells[g.Index(Pos(row, col))] = Cell{Kind: CellZone, Zone: id}
		}
	}
	g.markNearZone(r)
	return id, nil
}

func (g *Grid) markNearZone(r Rect) {
	for row := r.MinRow - 1; row <= r.MaxRow+1; row++ {
		for col := r.MinCol - 1; col <= r.MaxCol+1; col++ {
			p := Pos(row, col)
			if g.InBounds(p) {
				g.nearZone[g.Index(p)] = true
			}
		}
	}
}

func overlaps(a, b Rect) bool {
	return a.MinRow <= b.MaxRow && b.MinRow <= a.MaxRow && a.MinCol <= b.MaxCol && b.MinCol <= a.MaxCol
}

// Zones returns the zones in ID order.
func (g *Grid) Zones() []Zone {
	out := make([]Zone, len(g.zones))
	copy(out, g.zones)
	return out
}

// Zone returns the zone with the given ID.
func (g *Grid) Zone(id ZoneID) (Zone, bool) {
	if id < 0 || int(id) >= len(g.zones) {
		return Zone{}, false
	}
	return g.zones[id], true
}

// ZonesOfKind returns the zones of one kind in ID order.
func (g *Grid) ZonesOfKind(kind ZoneKind) []Zone {
	var out []Zone
	for _, z := range g.zones {
		if z.Kind == kind {
			out = append(out, z)
		}
	}
	return out
}

// ZoneAt returns the zone containing p, or NoZone.
func (g *Grid) ZoneAt(p Position) ZoneID {
	c := g.CellAt(p)
	if c.Kind != CellZone {
		return NoZone
	}
	return c.Zone
}

// InOrNearZone reports whether p is a zone cell or Chebyshev-adjacent to one.
func (g *Grid) InOrNearZone(p Position) bool {
	if !g.InBounds(p) {
		return false
	}
	return g.nearZone[g.Index(p)]
}

// IsPassable applies the role-independent and role-specific movement rules.
// Obstacles are never passable. AccessNoZones additionally rejects zone
// cells and their Chebyshev periphery.
func (g *Grid) IsPassable(p Position, access Access) bool {
	if !g.InBounds(p) {
		return false
	}
	c := g.cells[g.Index(p)]
	if c.Kind == CellObstacle {
		return false
	}
	if access == AccessNoZones && g.nearZone[g.Index(p)] {
		return false
	}
	return true
}

// Neighbors returns the in-bounds axis-aligned neighbours of p in
// NeighborDirections order. Passability is not checked.
func (g *Grid) Neighbors(p Position) []Position {
	out := make([]Position, 0, 4)
	for _, d := range NeighborDirections {
		n := p.Add(d)
		if g.InBounds(n) {
			out = append(out, n)
		}
	}
	return out
}

// Equal reports whether two grids have identical dimensions, cells and zones.
func (g *Grid) Equal(o *Grid) bool {
	if g == o {
		return true
	}
	if g == nil || o == nil || g.rows != o.rows || g.cols != o.cols || len(g.zones) != len(o.zones) {
		return false
	}
	for i := range g.cells {
		if g.cells[i] != o.cells[i] {
			return false
		}
	}
	for i := range g.zones {
		if g.zones[i] != o.zones[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (g *Grid) Clone() *Grid {
	c := &Grid{
		rows:     g.rows,
		cols:     g.cols,
		cells:    make([]Cell, len(g.cells)),
		zones:    make([]Zone, len(g.zones)),
		nearZone: make([]bool, len(g.nearZone)),
	}
	copy(c.cells, g.cells)
	copy(c.zones, g.zones)
	copy(c.nearZone, g.nearZone)
	return c
}

// Rows2D returns the layout in the 0 free / 1 obstacle / 2 zone encoding.
func (g *Grid) Rows2D() [][]int {
	out := make([][]int, g.rows)
	for r := 0; r < g.rows; r++ {
		row := make([]int, g.cols)
		for c := 0; c < g.cols; c++ {
			switch g.cells[r*g.cols+c].Kind {
			case CellObstacle:
				row[c] = 1
			case CellZone:
				row[c] = 2
			}
		}
		out[r] = row
	}
	return out
}

// CellCounts returns how many cells of each kind the grid holds.
func (g *Grid) CellCounts() map[CellKind]int {
	counts := make(map[CellKind]int)
	for _, c := range g.cells {
		counts[c.Kind]++
	}
	return counts
}

// String renders the grid as text: '.' free, '#' obstacle, zone cells as
// their zone ID digit.
func (g *Grid) String() string {
	var b strings.Builder
	for r := 0; r < g.rows; r++ {
		for c := 0; c < g.cols; c++ {
			cell := g.cells[r*g.cols+c]
			switch cell.Kind {
			case CellObstacle:
				b.WriteByte('#')
			case CellZone:
				b.WriteByte(byte('0' + int(cell.Zone)%10))
			default:
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
