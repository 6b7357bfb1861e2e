// Simulation is the single owner of the grid, agents, and items. Every
// mutation runs under its lock as one batch, so readers never see a
// partially applied tick.
package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

// maxEvents bounds the in-memory event history.
const maxEvents = 1000

// Event is a notable occurrence in the simulation.
type Event struct {
	Seq         uint64 `json:"seq"`
	Tick        uint64 `json:"tick"`
	Description string `json:"description"`
	Category    string `json:"category"` // "pickup", "delivery", "blocked", "replan", "regenerate", etc.
}

// Stats tracks cumulative counters.
type Stats struct {
	Moves         int `json:"moves"`
	Holds         int `json:"holds"`
	Blocks        int `json:"blocks"`
	Pickups       int `json:"pickups"`
	Deliveries    int `json:"deliveries"`
	Restocked     int `json:"restocked"`
	Replans       int `json:"replans"`
	Regenerations int `json:"regenerations"`
	Violations    int `json:"violations"`
}

// Options configures a new Simulation.
type Options struct {
	DwellLimit      int
	Seed            int64
	RestockAttempts int

	// Restore state.
	Tick      uint64
	Delivered []agents.Delivery
	RunID     string
}

// Simulation holds the complete state and serialises access to it.
type Simulation struct {
	RunID string

	mu         sync.Mutex
	grid       *world.Grid
	agents     []*agents.Agent // tick priority order
	index      map[agents.AgentID]*agents.Agent
	items      []agents.Item
	delivered  []agents.Delivery
	spawner    *agents.Spawner
	tick       uint64
	dwellLimit int
	restockTry int
	events     []Event
	eventSeq   uint64
	stats      Stats

	subMu   sync.Mutex
	nextSub int
	subs    map[int]chan Event
	snaps   map[int]chan Snapshot
}

// NewSimulation validates the initial placement and takes ownership of
// grid, agents, and items. Agents flagged Invalid skip the passability check
// but must still be in bounds.
func NewSimulation(g *world.Grid, ag []*agents.Agent, items []agents.Item, opts Options) (*Simulation, error) {
	if g == nil {
		return nil, &world.ConfigurationError{Reason: "no grid"}
	}
	seen := make(map[world.Position]agents.AgentID, len(ag))
	index := make(map[agents.AgentID]*agents.Agent, len(ag))
	var maxAgent agents.AgentID
	for _, a := range ag {
		if _, dup := index[a.ID]; dup {
			return nil, &world.ConfigurationError{Reason: fmt.Sprintf("duplicate agent id %d", a.ID)}
		}
		if !g.InBounds(a.Pos) {
			return nil, &world.ConfigurationError{Reason: fmt.Sprintf("%s starts outside the grid at %s", a.Name, a.Pos)}
		}
		// Agents restored after a regeneration may still stand where their
		// role cannot go; the resolver moves them off.
		if !a.Invalid && !g.IsPassable(a.Pos, a.Role.Access()) {
			return nil, &world.ConfigurationError{Reason: fmt.Sprintf("%s starts on impassable cell %s", a.Name, a.Pos)}
		}
		if other, taken := seen[a.Pos]; taken {
			return nil, &world.ConfigurationError{Reason: fmt.Sprintf("%s and agent %d share %s", a.Name, other, a.Pos)}
		}
		seen[a.Pos] = a.ID
		index[a.ID] = a
		maxAgent = max(maxAgent, a.ID)
	}
	var maxItem agents.ItemID
	for _, it := range items {
		if !g.InBounds(it.Pos) || g.CellAt(it.Pos).IsObstacle() {
			return nil, &world.ConfigurationError{Reason: fmt.Sprintf("item %d on invalid cell %s", it.ID, it.Pos)}
		}
		if !rectFits(g, it.Delivery) {
			return nil, &world.ConfigurationError{Reason: fmt.Sprintf("item %d delivery %s out of bounds", it.ID, it.Delivery)}
		}
		maxItem = max(maxItem, it.ID)
	}
	for _, d := range opts.Delivered {
		maxItem = max(maxItem, d.Item.ID)
	}
	for _, a := range ag {
		if a.Item != nil {
			maxItem = max(maxItem, a.Item.ID)
		}
	}

	ordered := append([]*agents.Agent(nil), ag...)
	sort.SliceStable(ordered, func(i, j int) bool { return agents.Less(ordered[i], ordered[j]) })

	spawner := agents.NewSpawner(opts.Seed)
	spawner.SetNextIDs(maxAgent+1, maxItem+1)

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	dwell := opts.DwellLimit
	if dwell <= 0 {
		dwell = agents.DefaultDwellLimit
	}

	return &Simulation{
		RunID:      runID,
		grid:       g,
		agents:     ordered,
		index:      index,
		items:      append([]agents.Item(nil), items...),
		delivered:  append([]agents.Delivery(nil), opts.Delivered...),
		spawner:    spawner,
		tick:       opts.Tick,
		dwellLimit: dwell,
		restockTry: opts.RestockAttempts,
		subs:       make(map[int]chan Event),
		snaps:      make(map[int]chan Snapshot),
	}, nil
}

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Stats returns a copy of the counters.
func (s *Simulation) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Step resolves one tick. A returned *InvariantViolation means the resolver
// left the state inconsistent; the tick is still applied so it can be
// inspected.
func (s *Simulation) Step() (TickResult, error) {
	s.mu.Lock()
	s.tick++
	pool := &itemPool{s: s}
	v := agents.NewTickView(s.grid, s.tick, s.dwellLimit, s.agents, pool)
	v.Emit = func(category, description string) { s.emitLocked(category, description) }

	res := resolve(v, s.agents)
	s.stats.Moves += len(res.Moved)
	s.stats.Holds += len(res.Held)
	s.stats.Blocks += len(res.Blocked)
	s.stats.Pickups += pool.pickups
	s.stats.Deliveries += len(pool.delivered)

	err := checkInvariants(s.grid, s.agents, res, pool.delivered)
	if err != nil {
		s.stats.Violations++
		s.emitLocked("violation", err.Error())
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishSnapshot(snap)
	return res, err
}

// Update runs fn with exclusive access to the state. The constraint manager
// does all of its reading and hint binding through this.
func (s *Simulation) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{s: s})
}

// RegenReport lists what a regeneration invalidated.
type RegenReport struct {
	Tick         uint64           `json:"tick"`
	Invalid      []agents.AgentID `json:"invalid_agents"`
	DroppedItems []agents.ItemID  `json:"dropped_items"`
}

// Regenerate atomically swaps in a new grid and revalidates every agent and
// item against it. Agents left on a cell their role may not occupy are
// flagged Invalid and Blocked; undelivered items on obstacles or with a
// delivery rectangle that no longer fits are dropped. The new grid must keep
// the running dimensions, otherwise a *world.ConfigurationError is returned
// and nothing changes.
func (s *Simulation) Regenerate(g *world.Grid) (RegenReport, error) {
	if g == nil {
		return RegenReport{}, &world.ConfigurationError{Reason: "no grid"}
	}
	s.mu.Lock()
	if g.Rows() != s.grid.Rows() || g.Cols() != s.grid.Cols() {
		rows, cols := s.grid.Rows(), s.grid.Cols()
		s.mu.Unlock()
		return RegenReport{}, &world.ConfigurationError{Reason: fmt.Sprintf(
			"regenerated grid is %dx%d, running grid is %dx%d", g.Rows(), g.Cols(), rows, cols)}
	}
	s.grid = g
	rep := RegenReport{Tick: s.tick}

	for _, a := range s.agents {
		a.Hint = nil
		if g.IsPassable(a.Pos, a.Role.Access()) {
			a.Invalid = false
			continue
		}
		a.Invalid = true
		a.State = agents.StateBlocked
		rep.Invalid = append(rep.Invalid, a.ID)
		slog.Warn("agent invalid after regeneration", "agent", a.Name, "pos", a.Pos.String())
	}
	for _, a := range s.agents {
		if a.Item != nil && !rectFits(g, a.Item.Delivery) {
			rep.DroppedItems = append(rep.DroppedItems, a.Item.ID)
			a.Item = nil
			if !a.Invalid {
				a.State = agents.StateIdle
			}
		}
	}

	kept := s.items[:0]
	for _, it := range s.items {
		if !g.InBounds(it.Pos) || g.CellAt(it.Pos).IsObstacle() || !rectFits(g, it.Delivery) {
			rep.DroppedItems = append(rep.DroppedItems, it.ID)
			continue
		}
		kept = append(kept, it)
	}
	s.items = kept

	s.stats.Regenerations++
	s.emitLocked("regenerate", fmt.Sprintf("grid regenerated (%dx%d): %d agents invalid, %d items dropped",
		g.Rows(), g.Cols(), len(rep.Invalid), len(rep.DroppedItems)))
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishSnapshot(snap)
	return rep, nil
}

func rectFits(g *world.Grid, r world.Rect) bool {
	return r.Area() > 0 && g.InBounds(world.Pos(r.MinRow, r.MinCol)) && g.InBounds(world.Pos(r.MaxRow, r.MaxCol))
}

// RecentEvents returns up to n of the newest events, oldest first.
func (s *Simulation) RecentEvents(n int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if n > 0 && len(s.events) > n {
		start = len(s.events) - n
	}
	return append([]Event(nil), s.events[start:]...)
}

// EventsAfter returns the buffered events with a sequence number above seq,
// oldest first.
func (s *Simulation) EventsAfter(seq uint64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq > seq })
	return append([]Event(nil), s.events[i:]...)
}

// Emit records an event from outside a tick.
func (s *Simulation) Emit(category, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(category, description)
}

func (s *Simulation) emitLocked(category, description string) {
	s.eventSeq++
	e := Event{Seq: s.eventSeq, Tick: s.tick, Description: description, Category: category}
	s.events = append(s.events, e)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
	slog.Debug("event", "tick", e.Tick, "category", category, "description", description)

	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default: // slow subscriber, drop
		}
	}
	s.subMu.Unlock()
}

// Subscribe returns a channel that receives every new event.
func (s *Simulation) Subscribe() (int, <-chan Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	ch := make(chan Event, 64)
	s.subs[s.nextSub] = ch
	return s.nextSub, ch
}

// Unsubscribe closes and removes an event subscription.
func (s *Simulation) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// SubscribeSnapshots returns a channel that receives a snapshot after every
// tick and regeneration.
func (s *Simulation) SubscribeSnapshots() (int, <-chan Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	ch := make(chan Snapshot, 4)
	s.snaps[s.nextSub] = ch
	return s.nextSub, ch
}

// UnsubscribeSnapshots closes and removes a snapshot subscription.
func (s *Simulation) UnsubscribeSnapshots(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.snaps[id]; ok {
		close(ch)
		delete(s.snaps, id)
	}
}

func (s *Simulation) publishSnapshot(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.snaps {
		select {
		case ch <- snap:
		default:
		}
	}
}

// itemPool adapts the simulation's item lists to agents.ItemPool for the
// duration of one locked tick.
type itemPool struct {
	s         *Simulation
	pickups   int
	delivered []agents.Delivery
}

func (p *itemPool) Undelivered() []agents.Item { return p.s.items }

func (p *itemPool) TakeAt(pos world.Position) (agents.Item, bool) {
	for i, it := range p.s.items {
		if it.Pos == pos {
			p.s.items = append(p.s.items[:i], p.s.items[i+1:]...)
			p.pickups++
			return it, true
		}
	}
	return agents.Item{}, false
}

func (p *itemPool) Deliver(d agents.Delivery) {
	p.s.delivered = append(p.s.delivered, d)
	p.delivered = append(p.delivered, d)
}
