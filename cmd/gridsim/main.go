// Command gridsim runs the multi-role grid coordination simulation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wfishell/MultiAgentGamePlay/internal/api"
	"github.com/wfishell/MultiAgentGamePlay/internal/config"
	"github.com/wfishell/MultiAgentGamePlay/internal/engine"
	"github.com/wfishell/MultiAgentGamePlay/internal/persistence"
	"github.com/wfishell/MultiAgentGamePlay/internal/persistence/ticklog"
	"github.com/wfishell/MultiAgentGamePlay/internal/watcher"
)

func main() {
	configPath := flag.String("config", os.Getenv("GRIDSIM_CONFIG"), "path to YAML config (empty = built-in defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("gridsim starting",
		"scenario", cfg.Scenario,
		"layout", cfg.Grid.Layout,
		"seed", cfg.Seed,
	)

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.Persistence.DBPath), 0755); err != nil {
		slog.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}
	db, err := persistence.Open(cfg.Persistence.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Persistence.DBPath)

	// ── Load or Build World ──────────────────────────────────────────
	sim, resumed, err := openSimulation(cfg, db)
	if err != nil {
		slog.Error("failed to initialise world", "error", err)
		os.Exit(1)
	}
	snap := sim.Snapshot()
	if resumed {
		slog.Info("world state restored", "run_id", snap.RunID, "tick", snap.Tick,
			"agents", len(snap.Agents), "items", len(snap.Items), "delivered", len(snap.Delivered))
	} else {
		slog.Info("world ready", "run_id", snap.RunID, "rows", snap.Rows, "cols", snap.Cols,
			"zones", len(snap.Zones), "agents", len(snap.Agents), "items", len(snap.Items))
	}

	// ── Constraint Manager ───────────────────────────────────────────
	mgr, spec, err := newManager(cfg, sim)
	if err != nil {
		slog.Error("failed to build constraint manager", "error", err)
		os.Exit(1)
	}
	for _, g := range mgr.Groups() {
		slog.Info("constraint group", "group", g.Name, "owner", g.Owner.String(), "formula", g.Original.Formula())
	}
	slog.Info("constraint spec loaded", "spec", spec.Path, "groups", len(mgr.Groups()))

	// ── Persistence Hooks ────────────────────────────────────────────
	var lastSeq uint64
	save := func(reason string) {
		snap := sim.Snapshot()
		if err := db.SaveWorldState(snap, mgr.Groups()); err != nil {
			slog.Error("save failed", "reason", reason, "error", err)
			return
		}
		events := sim.EventsAfter(lastSeq)
		if len(events) > 0 {
			if err := db.SaveEvents(events); err != nil {
				slog.Error("event save failed", "error", err)
			} else {
				lastSeq = events[len(events)-1].Seq
			}
		}
		if cfg.Constraints.MemoryFile != "" {
			if err := mgr.SaveMemory(cfg.Constraints.MemoryFile); err != nil {
				slog.Warn("manager memory save failed", "error", err)
			}
		}
		slog.Debug("state saved", "reason", reason, "tick", snap.Tick, "events", len(events))
	}
	if !resumed {
		save("initial")
	}

	var tlog *ticklog.Writer
	if cfg.Persistence.TickLogDir != "" {
		tlog = ticklog.NewWriter(cfg.Persistence.TickLogDir, "gridsim")
		defer tlog.Close()
	}

	// ── Engine ───────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Interval = cfg.Timing.TickInterval
	eng.ReportEvery = cfg.Timing.ReportEvery
	eng.SaveEvery = cfg.Persistence.SaveEveryTicks
	eng.SetSpeed(cfg.Timing.Speed)
	eng.SetTick(snap.Tick)

	eng.OnTick = func(uint64) {
		_, err := sim.Step()
		var v *engine.InvariantViolation
		if errors.As(err, &v) {
			slog.Error("invariant violated", "error", v)
		}
		if tlog != nil {
			if err := tlog.Write(ticklog.EntryFromSnapshot(sim.Snapshot())); err != nil {
				slog.Warn("tick log write failed", "error", err)
			}
		}
	}
	eng.OnReport = func(tick uint64) {
		st := sim.Stats()
		slog.Info("progress", "tick", tick, "moves", st.Moves, "blocks", st.Blocks,
			"deliveries", st.Deliveries, "replans", st.Replans, "violations", st.Violations)
	}
	eng.OnSave = func(uint64) { save("periodic") }

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Layout Watcher ───────────────────────────────────────────────
	build := gridBuilder(cfg)
	if cfg.Grid.LayoutFile != "" {
		w, err := watcher.New(watcher.ForFile(cfg.Grid.LayoutFile), watcher.Regenerator(sim, build))
		if err != nil {
			slog.Warn("layout watcher disabled", "error", err)
		} else {
			w.Start(ctx)
			defer w.Stop()
		}
	}

	// ── HTTP API ─────────────────────────────────────────────────────
	if cfg.HTTP.AdminKey == "" {
		slog.Warn("GRIDSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	apiServer := &api.Server{
		Sim:        sim,
		Eng:        eng,
		Manager:    mgr,
		DB:         db,
		Port:       cfg.HTTP.Port,
		AdminKey:   cfg.HTTP.AdminKey,
		StreamKey:  os.Getenv("GRIDSIM_STREAM_KEY"),
		Regenerate: build,
	}
	httpSrv := apiServer.Start()

	// ── Run ──────────────────────────────────────────────────────────
	go mgr.Run(ctx)

	fmt.Printf("\ngridsim: %s on a %dx%d grid with %d agents.\n", cfg.Scenario, snap.Rows, snap.Cols, len(snap.Agents))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.HTTP.Port)
	if resumed {
		fmt.Printf("Resuming run %s from tick %d\n", snap.RunID, snap.Tick)
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}

	slog.Info("final save...")
	save("shutdown")
	fmt.Println("Simulation stopped. World state saved.")
}
