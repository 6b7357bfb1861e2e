// Package config loads the gridsim YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/constraints"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

type Config struct {
	Scenario          string `yaml:"scenario"`
	Seed              int64  `yaml:"seed"`
	LogLevel          string `yaml:"log_level"`
	DwellLimit        int    `yaml:"dwell_limit"`
	PlacementAttempts int    `yaml:"placement_attempts"`

	Grid        GridConfig        `yaml:"grid"`
	Agents      AgentsConfig      `yaml:"agents"`
	Items       ItemsConfig       `yaml:"items"`
	Timing      TimingConfig      `yaml:"timing"`
	Constraints ConstraintsConfig `yaml:"constraints"`
	Persistence PersistenceConfig `yaml:"persistence"`
	HTTP        HTTPConfig        `yaml:"http"`
}

type GridConfig struct {
	Rows            int          `yaml:"rows"`
	Cols            int          `yaml:"cols"`
	Layout          string       `yaml:"layout"`
	LayoutFile      string       `yaml:"layout_file,omitempty"`
	ObstacleDensity float64      `yaml:"obstacle_density"`
	Frequency       float64      `yaml:"frequency"`
	GenAttempts     int          `yaml:"gen_attempts"`
	ZoneKind        string       `yaml:"zone_kind,omitempty"` // kind of zones drawn in a layout file
	Zones           []ZoneConfig `yaml:"zones,omitempty"`
}

type ZoneConfig struct {
	Kind string     `yaml:"kind"`
	Rect world.Rect `yaml:",inline"`
}

type AgentsConfig struct {
	Pursuers   int               `yaml:"pursuers"`
	Evaders    int               `yaml:"evaders"`
	Carriers   int               `yaml:"carriers"`
	Placements []PlacementConfig `yaml:"placements,omitempty"`
}

// PlacementConfig pins one agent to a cell instead of placing it randomly.
type PlacementConfig struct {
	Role string `yaml:"role"`
	Row  int    `yaml:"row"`
	Col  int    `yaml:"col"`
}

type ItemsConfig struct {
	Count         int          `yaml:"count"` // randomly placed at start
	Initial       []ItemConfig `yaml:"initial,omitempty"`
	Restock       int          `yaml:"restock"`
	SpawnAttempts int          `yaml:"spawn_attempts"`
}

type ItemConfig struct {
	Row int `yaml:"row"`
	Col int `yaml:"col"`
}

type TimingConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	ManagerInterval time.Duration `yaml:"manager_interval"`
	Speed           float64       `yaml:"speed"`
	ReportEvery     uint64        `yaml:"report_every_ticks"`
}

type ConstraintsConfig struct {
	SpecGlob   string `yaml:"spec_glob,omitempty"`
	Grouping   string `yaml:"grouping"`
	MemoryFile string `yaml:"memory_file,omitempty"`
}

type PersistenceConfig struct {
	DBPath         string `yaml:"db_path"`
	TickLogDir     string `yaml:"tick_log_dir,omitempty"`
	SaveEveryTicks uint64 `yaml:"save_every_ticks"`
}

type HTTPConfig struct {
	Port     int    `yaml:"port"`
	AdminKey string `yaml:"admin_key,omitempty"`
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, cfg.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Defaults returns the settings of the cops-and-robbers game on the fixed
// 10x10 map.
func Defaults() Config {
	return Config{
		Scenario:          constraints.ScenarioPursuit,
		LogLevel:          "info",
		DwellLimit:        agents.DefaultDwellLimit,
		PlacementAttempts: agents.DefaultPlacementAttempts,
		Grid: GridConfig{
			ObstacleDensity: 0.2,
			Frequency:       0.35,
			GenAttempts:     50,
		},
		Items: ItemsConfig{
			SpawnAttempts: agents.DefaultRestockAttempts,
		},
		Timing: TimingConfig{
			TickInterval:    500 * time.Millisecond,
			ManagerInterval: 500 * time.Millisecond,
			Speed:           1,
			ReportEvery:     100,
		},
		Constraints: ConstraintsConfig{
			Grouping: string(constraints.GroupGuard),
		},
		Persistence: PersistenceConfig{
			DBPath:         "data/gridsim.db",
			SaveEveryTicks: 100,
		},
		HTTP: HTTPConfig{Port: 8080},
	}
}

// Normalize fills scenario-dependent defaults left unset.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Scenario = strings.ToLower(strings.TrimSpace(c.Scenario))
	if c.Scenario == "" {
		c.Scenario = constraints.ScenarioPursuit
	}
	if sc, err := constraints.NewScenario(c.Scenario, constraints.ScenarioOptions{}); err == nil {
		c.Scenario = sc.Name()
	}
	c.Grid.Layout = strings.ToLower(strings.TrimSpace(c.Grid.Layout))
	if c.Grid.LayoutFile != "" {
		c.Grid.Layout = world.LayoutRows
	}

	switch c.Scenario {
	case constraints.ScenarioWarehouse:
		if c.Grid.Layout == "" {
			c.Grid.Layout = world.LayoutWarehouse
		}
		if c.Agents.Carriers == 0 && len(c.Agents.Placements) == 0 {
			c.Agents.Carriers = 2
		}
		if c.Items.Count == 0 && len(c.Items.Initial) == 0 {
			c.Items.Count = 3
		}
		if c.Items.Restock == 0 {
			c.Items.Restock = 3
		}
	default:
		if c.Grid.Layout == "" {
			c.Grid.Layout = world.LayoutFixed
		}
		if c.Agents.Pursuers == 0 && c.Agents.Evaders == 0 && len(c.Agents.Placements) == 0 {
			c.Agents.Pursuers, c.Agents.Evaders = 2, 2
		}
	}

	switch c.Grid.Layout {
	case world.LayoutFixed:
		c.Grid.Rows, c.Grid.Cols = 10, 10
	case world.LayoutWarehouse:
		if c.Grid.Rows == 0 {
			c.Grid.Rows = 10
		}
		c.Grid.Cols = c.Grid.Rows
	case world.LayoutGenerated, world.LayoutOpen:
		if c.Grid.Rows == 0 {
			c.Grid.Rows = 20
		}
		if c.Grid.Cols == 0 {
			c.Grid.Cols = c.Grid.Rows
		}
	}

	if c.DwellLimit <= 0 {
		c.DwellLimit = agents.DefaultDwellLimit
	}
	if c.PlacementAttempts <= 0 {
		c.PlacementAttempts = agents.DefaultPlacementAttempts
	}
	if c.Items.SpawnAttempts <= 0 {
		c.Items.SpawnAttempts = agents.DefaultRestockAttempts
	}
	if c.Timing.TickInterval <= 0 {
		c.Timing.TickInterval = 500 * time.Millisecond
	}
	if c.Timing.ManagerInterval <= 0 {
		c.Timing.ManagerInterval = c.Timing.TickInterval
	}
	if c.Constraints.Grouping == "" {
		c.Constraints.Grouping = string(constraints.GroupGuard)
	}
}

// Validate reports settings that cannot produce a runnable simulation.
func (c *Config) Validate() error {
	if _, err := constraints.NewScenario(c.Scenario, constraints.ScenarioOptions{}); err != nil {
		return err
	}
	if _, err := constraints.ParseGrouping(c.Constraints.Grouping); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Grid.Layout {
	case world.LayoutFixed, world.LayoutWarehouse, world.LayoutOpen, world.LayoutGenerated:
	case world.LayoutRows:
		if c.Grid.LayoutFile == "" {
			return fmt.Errorf("grid.layout %q needs grid.layout_file", c.Grid.Layout)
		}
	default:
		return fmt.Errorf("unknown grid.layout %q", c.Grid.Layout)
	}
	if c.Grid.Layout != world.LayoutRows && (c.Grid.Rows <= 0 || c.Grid.Cols <= 0) {
		return fmt.Errorf("grid must be at least 1x1, got %dx%d", c.Grid.Rows, c.Grid.Cols)
	}
	if c.Grid.ObstacleDensity < 0 || c.Grid.ObstacleDensity > 0.6 {
		return fmt.Errorf("grid.obstacle_density %.2f outside [0, 0.6]", c.Grid.ObstacleDensity)
	}
	if _, err := world.ParseZoneKind(c.Grid.ZoneKind); err != nil {
		return err
	}
	for i, z := range c.Grid.Zones {
		if _, err := world.ParseZoneKind(z.Kind); err != nil {
			return fmt.Errorf("grid.zones[%d]: %w", i, err)
		}
	}
	if c.Agents.Pursuers < 0 || c.Agents.Evaders < 0 || c.Agents.Carriers < 0 {
		return fmt.Errorf("agent counts must not be negative")
	}
	for i, p := range c.Agents.Placements {
		if _, err := agents.ParseRole(p.Role); err != nil {
			return fmt.Errorf("agents.placements[%d]: %w", i, err)
		}
	}
	if c.Items.Count < 0 || c.Items.Restock < 0 {
		return fmt.Errorf("item counts must not be negative")
	}
	if c.Timing.Speed < 0 || c.Timing.Speed > 1000 {
		return fmt.Errorf("timing.speed %.2f outside [0, 1000]", c.Timing.Speed)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	return nil
}

// ApplyEnv overrides secrets and deployment settings from GRIDSIM_*
// variables. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("GRIDSIM_ADMIN_KEY"); v != "" {
		c.HTTP.AdminKey = v
	}
	if v := getenv("GRIDSIM_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = n
		}
	}
	if v := getenv("GRIDSIM_DB"); v != "" {
		c.Persistence.DBPath = v
	}
	if v := getenv("GRIDSIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Seed = n
		}
	}
	if v := getenv("GRIDSIM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() slog.Level {
	l, _ := ParseLogLevel(c.LogLevel)
	return l
}

// LayoutSpec translates the grid section for world.Build. A layout file is
// read here.
func (c *Config) LayoutSpec() (world.LayoutSpec, error) {
	spec := world.LayoutSpec{
		Name: c.Grid.Layout,
		Rows: c.Grid.Rows,
		Cols: c.Grid.Cols,
		Gen: world.GenConfig{
			Seed:            c.Seed,
			ObstacleDensity: c.Grid.ObstacleDensity,
			Frequency:       c.Grid.Frequency,
			MaxAttempts:     c.Grid.GenAttempts,
		},
	}
	kind, err := world.ParseZoneKind(c.Grid.ZoneKind)
	if err != nil {
		return spec, err
	}
	spec.ZoneKind = kind
	for _, z := range c.Grid.Zones {
		k, err := world.ParseZoneKind(z.Kind)
		if err != nil {
			return spec, err
		}
		spec.Zones = append(spec.Zones, world.ZoneSpec{Kind: k, Rect: z.Rect})
	}
	if spec.Name == world.LayoutGenerated && len(spec.Zones) == 0 {
		spec.Zones = defaultGenZones(spec.Rows, spec.Cols)
	}
	if c.Grid.LayoutFile != "" {
		cells, err := LoadLayoutFile(c.Grid.LayoutFile)
		if err != nil {
			return spec, err
		}
		spec.Cells = cells
	}
	return spec, nil
}

// defaultGenZones places two 2x2 safety zones in opposite corners, inset by
// a sixth of the grid.
func defaultGenZones(rows, cols int) []world.ZoneSpec {
	if rows < 6 || cols < 6 {
		return nil
	}
	r, c := max(rows/6, 1), max(cols/6, 1)
	return []world.ZoneSpec{
		{Kind: world.ZoneSafety, Rect: world.Rect{MinRow: r, MinCol: c, MaxRow: r + 1, MaxCol: c + 1}},
		{Kind: world.ZoneSafety, Rect: world.Rect{MinRow: rows - r - 2, MinCol: cols - c - 2, MaxRow: rows - r - 1, MaxCol: cols - c - 1}},
	}
}

// LoadLayoutFile reads a grid drawn as rows of 0 (free), 1 (obstacle) and
// 2 (zone). The file may be YAML or JSON.
func LoadLayoutFile(path string) ([][]int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Rows [][]int `yaml:"rows"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil || len(doc.Rows) == 0 {
		var bare [][]int
		if err2 := yaml.Unmarshal(b, &bare); err2 != nil {
			if err == nil {
				err = err2
			}
			return nil, fmt.Errorf("layout %s: %w", path, err)
		}
		doc.Rows = bare
	}
	if len(doc.Rows) == 0 {
		return nil, fmt.Errorf("layout %s: no rows", path)
	}
	return doc.Rows, nil
}
