package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "pursuit", cfg.Scenario)
	assert.Equal(t, world.LayoutFixed, cfg.Grid.Layout)
	assert.Equal(t, 10, cfg.Grid.Rows)
	assert.Equal(t, 2, cfg.Agents.Pursuers)
	assert.Equal(t, 2, cfg.Agents.Evaders)
	assert.Equal(t, 2, cfg.DwellLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Timing.ManagerInterval)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestLoadWarehouse(t *testing.T) {
	p := writeFile(t, "gridsim.yaml", `
scenario: robots
seed: 42
log_level: debug
grid:
  rows: 14
  zones:
    - kind: delivery
      min_row: 9
      min_col: 2
      max_row: 10
      max_col: 3
agents:
  placements:
    - {role: robot, row: 1, col: 1}
items:
  initial:
    - {row: 6, col: 6}
timing:
  tick_interval: 50ms
persistence:
  db_path: /tmp/x.db
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "warehouse", cfg.Scenario)
	assert.Equal(t, world.LayoutWarehouse, cfg.Grid.Layout)
	assert.Equal(t, 14, cfg.Grid.Cols)
	assert.Zero(t, cfg.Agents.Carriers, "explicit placements replace the default count")
	assert.Zero(t, cfg.Items.Count)
	assert.Equal(t, 3, cfg.Items.Restock)
	assert.Equal(t, 50*time.Millisecond, cfg.Timing.TickInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.Timing.ManagerInterval)
	assert.Equal(t, slog.LevelDebug, cfg.Level())

	spec, err := cfg.LayoutSpec()
	require.NoError(t, err)
	require.Len(t, spec.Zones, 1)
	assert.Equal(t, world.ZoneDelivery, spec.Zones[0].Kind)
	assert.Equal(t, world.Rect{MinRow: 9, MinCol: 2, MaxRow: 10, MaxCol: 3}, spec.Zones[0].Rect)
	g, err := world.Build(spec)
	require.NoError(t, err)
	assert.Len(t, g.ZonesOfKind(world.ZoneDelivery), 3)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"scenario": "scenario: chess\n",
		"layout":   "grid: {layout: spiral}\n",
		"density":  "grid: {layout: generated, obstacle_density: 0.9}\n",
		"role":     "agents: {placements: [{role: dragon, row: 0, col: 0}]}\n",
		"speed":    "timing: {speed: -1}\n",
		"grouping": "constraints: {grouping: pairs}\n",
		"level":    "log_level: loud\n",
		"zone":     "grid: {zones: [{kind: lava}]}\n",
	}
	for name, body := range cases {
		_, err := Load(writeFile(t, name+".yaml", body))
		assert.Error(t, err, name)
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Defaults()
	env := map[string]string{
		"GRIDSIM_ADMIN_KEY": "secret",
		"GRIDSIM_HTTP_PORT": "9090",
		"GRIDSIM_DB":        "other.db",
		"GRIDSIM_SEED":      "not-a-number",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "secret", cfg.HTTP.AdminKey)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "other.db", cfg.Persistence.DBPath)
	assert.Zero(t, cfg.Seed, "unparsable values are ignored")
}

func TestLayoutFile(t *testing.T) {
	yamlFile := writeFile(t, "layout.yaml", "rows:\n  - [0, 0, 1]\n  - [2, 2, 0]\n  - [2, 2, 0]\n")
	jsonFile := writeFile(t, "layout.json", "[[0,1],[0,0]]")
	for _, p := range []string{yamlFile, jsonFile} {
		rows, err := LoadLayoutFile(p)
		require.NoError(t, err, p)
		assert.NotEmpty(t, rows)
	}

	cfg := Defaults()
	cfg.Grid.LayoutFile = yamlFile
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, world.LayoutRows, cfg.Grid.Layout)
	spec, err := cfg.LayoutSpec()
	require.NoError(t, err)
	g, err := world.Build(spec)
	require.NoError(t, err)
	require.Len(t, g.Zones(), 1)
	assert.Equal(t, world.Rect{MinRow: 1, MinCol: 0, MaxRow: 2, MaxCol: 1}, g.Zones()[0].Rect)

	_, err = LoadLayoutFile(writeFile(t, "empty.yaml", "name: nothing\n"))
	assert.Error(t, err)
}

func TestGeneratedLayoutGetsZones(t *testing.T) {
	cfg := Defaults()
	cfg.Grid.Layout = world.LayoutGenerated
	cfg.Grid.Rows = 12
	cfg.Seed = 3
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
	spec, err := cfg.LayoutSpec()
	require.NoError(t, err)
	require.Len(t, spec.Zones, 2)
	g, err := world.Build(spec)
	require.NoError(t, err)
	assert.Len(t, g.Zones(), 2)
	assert.True(t, world.IsConnected(g))
}
