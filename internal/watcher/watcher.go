// Package watcher reloads the grid when its layout files change on disk.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/wfishell/MultiAgentGamePlay/internal/engine"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

type Op string

const (
	OpWrite  Op = "write"
	OpCreate Op = "create"
	OpRemove Op = "remove"
	OpRename Op = "rename"
)

// FileEvent is a change to one watched file.
type FileEvent struct {
	Path string    `json:"path"`
	Op   Op        `json:"op"`
	At   time.Time `json:"at"`
}

type Config struct {
	Dir            string        // directory to watch
	Patterns       []string      // doublestar globs, relative to Dir
	DebounceWindow time.Duration // quiet period before a reload
	MaxBatch       int
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		Patterns:       []string{"*.yaml", "*.yml", "*.json"},
		DebounceWindow: 300 * time.Millisecond,
		MaxBatch:       16,
	}
}

// ForFile watches a single file through its parent directory, so editors
// that replace the file by rename are still seen.
func ForFile(path string) Config {
	cfg := DefaultConfig(filepath.Dir(path))
	cfg.Patterns = []string{escapeMeta(filepath.Base(path))}
	return cfg
}

func escapeMeta(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(`\*?[]{}`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Watcher delivers debounced batches of matching file events.
type Watcher struct {
	cfg       Config
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates the patterns and starts watching cfg.Dir. onChange runs on
// the debouncer's goroutine.
func New(cfg Config, onChange func([]FileEvent)) (*Watcher, error) {
	for _, p := range cfg.Patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("watch pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", cfg.Dir, err)
	}
	w := &Watcher{cfg: cfg, fsWatcher: fsw}
	w.debouncer = NewDebouncer(cfg.DebounceWindow, cfg.MaxBatch, onChange)
	return w, nil
}

// Start handles events until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	slog.Info("layout watcher started", "dir", w.cfg.Dir, "patterns", w.cfg.Patterns)
	go w.handleEvents(ctx)
}

func (w *Watcher) handleEvents(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if fe, ok := w.convert(event); ok {
				slog.Debug("layout file event", "path", fe.Path, "op", fe.Op)
				w.debouncer.Add(fe)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Warn("layout watcher error", "error", err)
		}
	}
}

func (w *Watcher) convert(event fsnotify.Event) (FileEvent, bool) {
	if !w.Matches(event.Name) {
		return FileEvent{}, false
	}
	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		return FileEvent{}, false
	}
	return FileEvent{Path: event.Name, Op: op, At: time.Now()}, true
}

// Matches reports whether path, taken relative to the watched directory,
// matches one of the patterns.
func (w *Watcher) Matches(path string) bool {
	rel, err := filepath.Rel(w.cfg.Dir, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range w.cfg.Patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Stop ends event handling, flushes pending events and closes the
// underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.running {
		w.running = false
		w.cancel()
		<-w.done
	}
	w.mu.Unlock()

	w.debouncer.Stop()
	return w.fsWatcher.Close()
}

// Regenerator returns an onChange callback that rebuilds the grid with build
// and swaps it into sim. Batches made only of removals are ignored. A grid
// that fails to build leaves the current one in place.
func Regenerator(sim *engine.Simulation, build func() (*world.Grid, error)) func([]FileEvent) {
	return func(events []FileEvent) {
		live := false
		for _, e := range events {
			if e.Op != OpRemove && e.Op != OpRename {
				live = true
			}
		}
		if !live {
			return
		}
		g, err := build()
		if err != nil {
			slog.Warn("layout reload rejected, keeping current grid", "error", err)
			return
		}
		rep, err := sim.Regenerate(g)
		if err != nil {
			slog.Warn("regeneration failed", "error", err)
			return
		}
		slog.Info("grid reloaded from layout file",
			"files", len(events),
			"invalid_agents", len(rep.Invalid),
			"dropped_items", len(rep.DroppedItems),
		)
	}
}
