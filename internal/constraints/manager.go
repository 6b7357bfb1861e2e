package constraints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/engine"
	"github.com/wfishell/MultiAgentGamePlay/internal/planner"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

// DefaultInterval is the manager period when none is configured.
const DefaultInterval = 500 * time.Millisecond

// Manager runs the detect, select, replan, verify, reset loop over a set of
// constraint groups.
type Manager struct {
	Interval time.Duration

	sim      *engine.Simulation
	scenario Scenario

	mu        sync.Mutex
	groups    []*Group
	memory    *CycleMemory
	iteration uint64
}

// NewManager takes ownership of groups.
func NewManager(sim *engine.Simulation, sc Scenario, groups []*Group) *Manager {
	return &Manager{
		Interval: DefaultInterval,
		sim:      sim,
		scenario: sc,
		groups:   groups,
		memory:   &CycleMemory{},
	}
}

// SetMemory replaces the cycle history, e.g. with one loaded from disk.
func (m *Manager) SetMemory(mem *CycleMemory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memory = mem
}

// Memory returns up to n of the latest cycle records.
func (m *Manager) Memory(n int) []CycleRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memory.Recent(n)
}

// SaveMemory writes the cycle history to path.
func (m *Manager) SaveMemory(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memory.Save(path)
}

// Groups returns copies of the groups.
func (m *Manager) Groups() []*Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Group, len(m.groups))
	for i, g := range m.groups {
		out[i] = g.Clone()
	}
	return out
}

// Scenario returns the scenario the manager drives.
func (m *Manager) Scenario() Scenario { return m.scenario }

// Run iterates every Interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("constraint manager started",
		"scenario", m.scenario.Name(),
		"groups", len(m.groups),
		"interval", interval,
	)
	for {
		select {
		case <-ctx.Done():
			slog.Info("constraint manager stopped", "iterations", m.iterations())
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			if _, err := m.RunOnce(); err != nil {
				slog.Error("manager iteration failed", "error", err)
			}
		}
	}
}

func (m *Manager) iterations() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iteration
}

// RunOnce performs a single iteration over every group as one batch against
// the simulation. A failing group is recorded and skipped; the others still
// run, and the joined group errors are returned.
func (m *Manager) RunOnce() ([]CycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iteration++

	var (
		records []CycleRecord
		errs    []error
	)
	m.sim.Update(func(tx *engine.Tx) error {
		for _, g := range m.groups {
			rec, err := m.cycle(tx, g)
			if err != nil {
				slog.Warn("group cycle failed", "group", g.Name, "error", err)
				rec.Error = err.Error()
				errs = append(errs, fmt.Errorf("%s: %w", g.Name, err))
			}
			records = append(records, rec)
		}
		return nil
	})
	for _, r := range records {
		m.memory.Record(r)
	}
	return records, errors.Join(errs...)
}

func (m *Manager) cycle(tx *engine.Tx, g *Group) (CycleRecord, error) {
	affected := m.scenario.Triggered(tx, g)
	g.ReplanFlag = len(affected) > 0
	g.Apply(m.scenario.SelectDirective(g, g.ReplanFlag))

	rec := CycleRecord{
		Iteration: m.iteration,
		Tick:      tx.Tick(),
		Group:     g.Name,
		Triggered: len(affected),
		Directive: g.Current.Name,
		Formula:   g.Current.Formula(),
	}

	if g.ReplanFlag {
		g.DispatchFlag = true
		if r, ok := m.scenario.(Recoverer); ok {
			if err := r.Recover(tx, g); err != nil {
				return rec, err
			}
		}
		rec.Dispatched = m.dispatch(tx, affected)
		tx.CountReplan()
		tx.Emit("replan", fmt.Sprintf("%s under %s: %d of %d agents rerouted",
			g.Name, g.Current.Name, rec.Dispatched, len(affected)))
		slog.Debug("group replanned",
			"group", g.Name,
			"directive", g.Current.Formula(),
			"affected", len(affected),
			"dispatched", rec.Dispatched,
		)
		g.ReplanFlag = false
		g.DispatchFlag = false
	}

	if m.scenario.Satisfied(tx, g) {
		rec.Satisfied = true
		if g.Relaxed() {
			tx.Emit("reset", g.Name+" restored to "+g.Original.Name)
		}
		g.Reset()
	}
	return rec, nil
}

// dispatch routes each agent toward its scenario target around the other
// agents and binds the first step as a hint. Falls back to the plain route
// when agents wall the target off. Returns the number of hints bound.
func (m *Manager) dispatch(tx *engine.Tx, ids []agents.AgentID) int {
	occupied := tx.Occupied()
	n := 0
	for _, id := range ids {
		a, ok := tx.Agent(id)
		if !ok {
			continue
		}
		target, ok := m.scenario.Target(tx, a)
		if !ok || target == a.Pos {
			continue
		}
		avoid := make(map[world.Position]bool, len(occupied))
		for p, other := range occupied {
			if other != id {
				avoid[p] = true
			}
		}
		path := planner.ShortestPathAvoiding(tx.Grid(), a.Pos, target, avoid)
		if len(path) < 2 {
			path = planner.ShortestPath(tx.Grid(), a.Pos, target)
		}
		if len(path) < 2 {
			continue
		}
		if err := tx.BindHint(id, path[1]); err != nil {
			slog.Warn("hint not bound", "agent", a.Name, "error", err)
			continue
		}
		n++
	}
	return n
}
