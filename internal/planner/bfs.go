// Package planner finds shortest 4-connected paths on the world grid.
// Obstacles are the only blocking cells; agent occupancy is the resolver's
// concern, not the planner's.
package planner

import (
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

// ShortestPath returns a shortest path from start to goal inclusive, or nil
// if goal is unreachable or either end is outside the grid. Among paths of
// equal length the one found by expanding neighbours in
// world.NeighborDirections order wins.
func ShortestPath(g *world.Grid, start, goal world.Position) []world.Position {
	return search(g, start, goal, nil)
}

// ShortestPathAvoiding is ShortestPath with the cells in avoid treated as
// obstacles. start and goal themselves are never avoided.
func ShortestPathAvoiding(g *world.Grid, start, goal world.Position, avoid map[world.Position]bool) []world.Position {
	return search(g, start, goal, avoid)
}

func search(g *world.Grid, start, goal world.Position, avoid map[world.Position]bool) []world.Position {
	if !g.InBounds(start) || !g.InBounds(goal) {
		return nil
	}
	if g.CellAt(goal).IsObstacle() {
		return nil
	}
	if start == goal {
		return []world.Position{start}
	}

	// came[i] is the index the search reached i from; -1 means unvisited.
	came := make([]int, g.Size())
	for i := range came {
		came[i] = -1
	}
	startIdx := g.Index(start)
	came[startIdx] = startIdx

	queue := []int{startIdx}
	goalIdx := g.Index(goal)
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		if cur == goalIdx {
			break
		}
		for _, n := range g.Neighbors(g.At(cur)) {
			ni := g.Index(n)
			if came[ni] != -1 || g.CellAt(n).IsObstacle() {
				continue
			}
			if avoid[n] && n != goal {
				continue
			}
			came[ni] = cur
			queue = append(queue, ni)
		}
	}
	if came[goalIdx] == -1 {
		return nil
	}

	var rev []world.Position
	for i := goalIdx; i != startIdx; i = came[i] {
		rev = append(rev, g.At(i))
	}
	rev = append(rev, start)

	path := make([]world.Position, len(rev))
	for i, p := range rev {
		path[len(rev)-1-i] = p
	}
	return path
}

// Distance returns the hop count of the shortest path, or -1 if unreachable.
func Distance(g *world.Grid, start, goal world.Position) int {
	p := ShortestPath(g, start, goal)
	if p == nil {
		return -1
	}
	return len(p) - 1
}

// DistanceField returns hop counts from start to every cell, -1 for
// unreachable cells, indexed by world.Grid.Index. Cells in avoid are treated
// as obstacles.
func DistanceField(g *world.Grid, start world.Position, avoid map[world.Position]bool) []int {
	dist := make([]int, g.Size())
	for i := range dist {
		dist[i] = -1
	}
	if !g.InBounds(start) {
		return dist
	}
	s := g.Index(start)
	dist[s] = 0
	queue := []int{s}
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, n := range g.Neighbors(g.At(cur)) {
			ni := g.Index(n)
			if dist[ni] != -1 || g.CellAt(n).IsObstacle() || avoid[n] {
				continue
			}
			dist[ni] = dist[cur] + 1
			queue = append(queue, ni)
		}
	}
	return dist
}
