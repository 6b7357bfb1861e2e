package world

import "fmt"

// Layout names accepted by Build.
const (
	LayoutFixed     = "fixed"
	LayoutWarehouse = "warehouse"
	LayoutOpen      = "open"
	LayoutGenerated = "generated"
	LayoutRows      = "rows"
)

// fixedLayout is the hand-drawn 10x10 obstacle map of the cops and robbers
// game.
var fixedLayout = [][]int{
	{0, 0, 1, 0, 0, 0, 1, 0, 0, 0},
	{0, 1, 1, 0, 0, 0, 0, 0, 1, 0},
	{0, 0, 0, 0, 1, 1, 0, 0, 0, 0},
	{0, 0, 1, 0, 0, 0, 0, 1, 0, 0},
	{0, 0, 0, 0, 1, 0, 0, 0, 0, 0},
	{1, 0, 0, 0, 0, 1, 0, 1, 0, 0},
	{0, 0, 0, 1, 0, 0, 0, 0, 0, 0},
	{0, 1, 0, 0, 0, 1, 0, 0, 1, 0},
	{0, 0, 0, 0, 0, 0, 1, 0, 0, 0},
	{0, 0, 1, 0, 0, 0, 0, 0, 0, 0},
}

// FixedLayout returns the 10x10 map with the two 2x2 safety zones of the
// cops-and-robbers game carved into it.
func FixedLayout() *Grid {
	g, err := FromRows(fixedLayout, ZoneSafety)
	if err != nil {
		panic(err) // static data
	}
	for _, r := range []Rect{
		{MinRow: 1, MinCol: 1, MaxRow: 2, MaxCol: 2},
		{MinRow: 7, MinCol: 7, MaxRow: 8, MaxCol: 8},
	} {
		if _, err := g.AddZone(ZoneSafety, r); err != nil {
			panic(err)
		}
	}
	return g
}

// WarehouseLayout returns a size x size floor with border walls and 4x4
// delivery zones in the upper half: one at rows 2-5 cols 2-5, plus a mirrored
// one on the right when the floor is wide enough for the two not to overlap.
func WarehouseLayout(size int) (*Grid, error) {
	if size < 8 {
		return nil, configErrorf("warehouse size %d too small (min 8)", size)
	}
	g, err := NewGrid(size, size)
	if err != nil {
		return nil, err
	}
	for i := 0; i < size; i++ {
		g.SetObstacle(Pos(0, i))
		g.SetObstacle(Pos(size-1, i))
		g.SetObstacle(Pos(i, 0))
		g.SetObstacle(Pos(i, size-1))
	}
	rects := []Rect{{MinRow: 2, MinCol: 2, MaxRow: 5, MaxCol: 5}}
	if size >= 12 {
		rects = append(rects, Rect{MinRow: 2, MinCol: size - 6, MaxRow: 5, MaxCol: size - 3})
	}
	for _, r := range rects {
		if _, err := g.AddZone(ZoneDelivery, r); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// OpenLayout returns an obstacle-free grid.
func OpenLayout(rows, cols int) (*Grid, error) {
	return NewGrid(rows, cols)
}

// FromRows builds a grid from the 0 free / 1 obstacle / 2 zone encoding.
// Each 4-connected group of zone cells becomes one zone of the given kind and
// must be rectangular.
func FromRows(rows [][]int, kind ZoneKind) (*Grid, error) {
	if len(rows) == 0 {
		return nil, configErrorf("layout has no rows")
	}
	g, err := NewGrid(len(rows), len(rows[0]))
	if err != nil {
		return nil, err
	}

	var zoneCells []Position
	for r, row := range rows {
		if len(row) != g.cols {
			return nil, configErrorf("layout row %d has %d columns, want %d", r, len(row), g.cols)
		}
		for c, v := range row {
			switch v {
			case 0:
			case 1:
				g.SetObstacle(Pos(r, c))
			case 2:
				zoneCells = append(zoneCells, Pos(r, c))
			default:
				return nil, configErrorf("layout cell (%d,%d) has unknown value %d", r, c, v)
			}
		}
	}

	seen := make(map[Position]bool, len(zoneCells))
	isZone := make(map[Position]bool, len(zoneCells))
	for _, p := range zoneCells {
		isZone[p] = true
	}
	for _, p := range zoneCells {
		if seen[p] {
			continue
		}
		component := floodCollect(g, p, isZone, seen)
		rect := boundingRect(component)
		if rect.Area() != len(component) {
			return nil, configErrorf("zone cells around %s do not form a rectangle", p)
		}
		if _, err := g.AddZone(kind, rect); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func floodCollect(g *Grid, start Position, member, seen map[Position]bool) []Position {
	seen[start] = true
	out := []Position{start}
	stack := []Position{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range g.Neighbors(cur) {
			if member[n] && !seen[n] {
				seen[n] = true
				out = append(out, n)
				stack = append(stack, n)
			}
		}
	}
	return out
}

func boundingRect(ps []Position) Rect {
	r := Rect{MinRow: ps[0].Row, MinCol: ps[0].Col, MaxRow: ps[0].Row, MaxCol: ps[0].Col}
	for _, p := range ps[1:] {
		r.MinRow = min(r.MinRow, p.Row)
		r.MinCol = min(r.MinCol, p.Col)
		r.MaxRow = max(r.MaxRow, p.Row)
		r.MaxCol = max(r.MaxCol, p.Col)
	}
	return r
}

// LayoutSpec selects and parameterises a layout.
type LayoutSpec struct {
	Name     string
	Rows     int
	Cols     int
	Cells    [][]int // for LayoutRows
	Zones    []ZoneSpec
	Gen      GenConfig // for LayoutGenerated
	ZoneKind ZoneKind  // kind for zones found in Cells
}

// Build constructs the grid described by spec and carves any extra zones.
func Build(spec LayoutSpec) (*Grid, error) {
	var (
		g   *Grid
		err error
	)
	switch spec.Name {
	case LayoutFixed:
		g = FixedLayout()
	case LayoutWarehouse:
		g, err = WarehouseLayout(spec.Rows)
	case "", LayoutOpen:
		g, err = OpenLayout(spec.Rows, spec.Cols)
	case LayoutRows:
		g, err = FromRows(spec.Cells, spec.ZoneKind)
	case LayoutGenerated:
		gen := spec.Gen
		gen.Rows, gen.Cols = spec.Rows, spec.Cols
		gen.Zones = append(gen.Zones, spec.Zones...)
		return Generate(gen)
	default:
		return nil, configErrorf("unknown layout %q", spec.Name)
	}
	if err != nil {
		return nil, err
	}
	for _, z := range spec.Zones {
		if _, err := g.AddZone(z.Kind, z.Rect); err != nil {
			return nil, fmt.Errorf("layout %s: %w", spec.Name, err)
		}
	}
	return g, nil
}
