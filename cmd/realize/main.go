// Command realize checks constraint specifications with an external
// reactive-synthesis solver before they are used by gridsim.
//
//	realize -solver gr1-solver -specs 'specs/**/*.json' -out controllers/
//
// The exit status is 0 when every spec is realizable, 2 when at least one is
// not, and 1 on any other failure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/wfishell/MultiAgentGamePlay/internal/constraints"
	"github.com/wfishell/MultiAgentGamePlay/internal/realize"
)

func main() {
	var (
		solver   = flag.String("solver", os.Getenv("GRIDSIM_SOLVER"), "solver command speaking JSON-RPC on stdio")
		args     = flag.String("args", "", "space-separated solver arguments")
		pattern  = flag.String("specs", "", "doublestar glob of spec files")
		scenario = flag.String("scenario", "", "check the built-in spec of a scenario instead")
		outDir   = flag.String("out", "", "directory for controller artifacts of realizable specs")
		timeout  = flag.Duration("timeout", 2*time.Minute, "per-spec solver timeout")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *solver == "" {
		fmt.Fprintln(os.Stderr, "realize: -solver (or GRIDSIM_SOLVER) is required")
		os.Exit(1)
	}
	specs, err := collectSpecs(*pattern, *scenario)
	if err != nil {
		slog.Error("loading specs failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := realize.DefaultClientConfig()
	cfg.RequestTimeout = *timeout
	cfg.OnLog = func(msg string) { slog.Debug("solver", "message", msg) }
	s, err := realize.StartSolver(ctx, *solver, strings.Fields(*args), cfg)
	if err != nil {
		slog.Error("starting solver failed", "error", err)
		os.Exit(1)
	}

	status := 0
	for _, spec := range specs {
		res, err := s.Check(ctx, spec)
		if err != nil {
			slog.Error("check failed", "spec", spec.Path, "error", err)
			status = 1
			continue
		}
		fmt.Printf("%s\t%s\n", res.Status, spec.Path)
		if !res.Realizable() {
			if status == 0 {
				status = 2
			}
			continue
		}
		if *outDir != "" && len(res.Controller) > 0 {
			if err := writeController(*outDir, spec, res.Controller); err != nil {
				slog.Error("writing controller failed", "spec", spec.Path, "error", err)
				status = 1
			}
		}
	}
	if err := s.Stop(5 * time.Second); err != nil {
		slog.Debug("solver exit", "error", err)
	}
	stop()
	os.Exit(status)
}

func collectSpecs(pattern, scenario string) ([]*constraints.Spec, error) {
	if scenario != "" {
		spec, err := constraints.BuiltinSpec(scenario)
		if err != nil {
			return nil, err
		}
		return []*constraints.Spec{spec}, nil
	}
	if pattern == "" {
		return nil, fmt.Errorf("one of -specs or -scenario is required")
	}
	paths, err := constraints.DiscoverSpecs(pattern)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no spec files match %q", pattern)
	}
	specs := make([]*constraints.Spec, 0, len(paths))
	for _, p := range paths {
		spec, err := constraints.LoadSpec(p)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func writeController(dir string, spec *constraints.Spec, controller json.RawMessage) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	name := strings.TrimPrefix(spec.Path, "builtin:")
	name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)) + ".controller.json"
	return os.WriteFile(filepath.Join(dir, name), controller, 0644)
}
