package ticklog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/engine"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "ticks")
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	require.NoError(t, w.Write(Entry{Tick: 1}))
	require.NoError(t, w.Write(Entry{Tick: 2}))
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, w.Write(Entry{Tick: 3}))
	require.NoError(t, w.Close())

	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "ticks-2026-03-01-10.jsonl.zst", filepath.Base(files[0]))
	assert.Equal(t, "ticks-2026-03-01-11.jsonl.zst", filepath.Base(files[1]))

	first, err := ReadFile(files[0])
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, uint64(2), first[1].Tick)

	second, err := ReadFile(files[1])
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, uint64(3), second[0].Tick)
}

func TestWriterAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for tick := uint64(1); tick <= 2; tick++ {
		w := NewWriter(dir, "ticks")
		w.now = func() time.Time { return clock }
		require.NoError(t, w.Write(Entry{Tick: tick}))
		require.NoError(t, w.Close())
	}
	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	entries, err := ReadFile(files[0])
	require.NoError(t, err)
	assert.Len(t, entries, 2, "concatenated zstd frames decode as one stream")
}

func TestEntryFromSnapshot(t *testing.T) {
	g, err := world.NewGrid(4, 4)
	require.NoError(t, err)
	sim, err := engine.NewSimulation(g, []*agents.Agent{agents.New(1, agents.RoleEvader, world.Pos(0, 0))}, nil, engine.Options{RunID: "run-1"})
	require.NoError(t, err)
	_, err = sim.Step()
	require.NoError(t, err)

	e := EntryFromSnapshot(sim.Snapshot())
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, uint64(1), e.Tick)
	require.Len(t, e.Agents, 1)
	assert.Zero(t, e.Delivered)
}
