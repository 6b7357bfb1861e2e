// Package engine owns the simulation state and drives it forward one tick
// at a time.
package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Engine drives the simulation forward on a fixed cadence.
type Engine struct {
	Interval time.Duration // Base tick interval (default 500ms)

	// Callbacks, populated during setup.
	OnTick   func(tick uint64) // Every tick
	OnReport func(tick uint64) // Every ReportEvery ticks
	OnSave   func(tick uint64) // Every SaveEvery ticks

	ReportEvery uint64
	SaveEvery   uint64

	tick    atomic.Uint64
	running atomic.Bool

	mu    sync.Mutex
	speed float64 // Multiplier: 1.0 = real-time, 0 = paused
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval:    500 * time.Millisecond,
		ReportEvery: 100,
		speed:       1.0,
	}
}

// Tick returns the last tick the engine ran.
func (e *Engine) Tick() uint64 { return e.tick.Load() }

// SetTick sets the tick counter (used when restoring from DB).
func (e *Engine) SetTick(t uint64) { e.tick.Store(t) }

// Running reports whether Run is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Speed returns the speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	e.speed = math.Max(speed, 0)
	e.mu.Unlock()
}

// Run starts the simulation loop and blocks until ctx is cancelled. The
// context is checked before every tick, so a cancelled loop never starts
// another one.
func (e *Engine) Run(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "tick", e.Tick(), "speed", e.Speed(), "interval", e.Interval)

	for {
		if ctx.Err() != nil {
			break
		}
		speed := e.Speed()
		if speed <= 0 {
			// Paused: wait briefly and check again.
			if !sleepCtx(ctx, 100*time.Millisecond) {
				break
			}
			continue
		}

		start := time.Now()
		e.step()

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target && !sleepCtx(ctx, target-elapsed) {
			break
		}
	}

	slog.Info("simulation engine stopped", "tick", e.Tick())
}

// Step runs a single tick outside the loop.
func (e *Engine) Step() { e.step() }

func (e *Engine) step() {
	tick := e.tick.Add(1)

	if e.OnTick != nil {
		e.OnTick(tick)
	}
	if e.ReportEvery > 0 && tick%e.ReportEvery == 0 && e.OnReport != nil {
		e.OnReport(tick)
	}
	if e.SaveEvery > 0 && tick%e.SaveEvery == 0 && e.OnSave != nil {
		e.OnSave(tick)
	}
}

// sleepCtx sleeps for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
