package tracker_test

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/cabin/tracker"
	"shipcabin.ai/internal/sim/host"
	"shipcabin.ai/internal/sim/world"
)

const ocean = `name: ocean
enter_x: 0
enter_y: 0
objects:
  - kind: ship
    x: 10
    y: 20
    inventory:
      - kind: cabin_door
        keys:
          ship_serial: "1"
`

type fixture struct {
	w    *world.World
	door host.ObjectID
	exit host.ObjectID
}

func setup(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ocean"), []byte(ocean), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "harbor"), []byte("name: harbor\nenter_x: 1\nenter_y: 1\n"), 0o644))
	w, err := world.New(world.Config{
		ID:           "test",
		MapsDir:      dir,
		DefaultSpawn: world.SpawnSpec{Map: "/harbor", X: 1, Y: 1},
	}, nil, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	m, ok := w.Ready("/ocean", host.MapShared)
	require.True(t, ok)
	ship, ok := m.FindAt("ship", 10, 20)
	require.True(t, ok)
	door, ok := w.FindInInventory(ship, "cabin door")
	require.True(t, ok)
	exit, err := w.Create("cabin_exit_door")
	require.NoError(t, err)
	require.NoError(t, w.WriteKey(exit, model.KeyShipSerial, "1", true))
	return fixture{w: w, door: door, exit: exit}
}

func TestResolve(t *testing.T) {
	t.Run("live handle wins", func(t *testing.T) {
		f := setup(t)
		tr := tracker.New(f.w)
		tr.RecordLive("1", f.door)
		require.NoError(t, tr.RefreshBackup(f.exit, model.Location{Map: "/elsewhere", X: 1, Y: 1}))
		// when
		got, err := tr.Resolve("1", f.exit)
		// then
		require.NoError(t, err)
		assert.Equal(t, tracker.SourceLive, got.Source)
		assert.Equal(t, model.Location{Map: "/ocean", X: 10, Y: 20}, got.Location)
	})
	t.Run("extra keys are tried after the serial", func(t *testing.T) {
		f := setup(t)
		tr := tracker.New(f.w)
		tr.RecordLive("alice", f.door)
		// when
		got, err := tr.Resolve("1", f.exit, "alice")
		// then
		require.NoError(t, err)
		assert.Equal(t, tracker.SourceLive, got.Source)
	})
	t.Run("handle for another cabin is ignored", func(t *testing.T) {
		f := setup(t)
		tr := tracker.New(f.w)
		tr.RecordLive("alice", f.door)
		require.NoError(t, f.w.WriteKey(f.exit, model.KeyShipSerial, "2", true))
		// when
		_, err := tr.Resolve("2", f.exit, "alice")
		// then
		assert.ErrorIs(t, err, model.ErrUnresolvable)
	})
	t.Run("falls back to backup after unload", func(t *testing.T) {
		f := setup(t)
		tr := tracker.New(f.w)
		tr.RecordLive("1", f.door)
		require.NoError(t, tr.RefreshBackup(f.exit, model.Location{Map: "/ocean", X: 10, Y: 20}))
		require.NoError(t, f.w.Unload("/ocean"))
		// when
		got, err := tr.Resolve("1", f.exit)
		// then
		require.NoError(t, err)
		assert.Equal(t, tracker.SourceBackup, got.Source)
		assert.Equal(t, model.Location{Map: "/ocean", X: 10, Y: 20}, got.Location)
	})
	t.Run("unresolvable without handle or backup", func(t *testing.T) {
		f := setup(t)
		tr := tracker.New(f.w)
		// when
		_, err := tr.Resolve("1", f.exit)
		// then
		assert.ErrorIs(t, err, model.ErrUnresolvable)
	})
}

func TestRefreshBackup(t *testing.T) {
	t.Run("overwrites but never clears", func(t *testing.T) {
		f := setup(t)
		tr := tracker.New(f.w)
		require.NoError(t, tr.RefreshBackup(f.exit, model.Location{Map: "/ocean", X: 1, Y: 2}))
		require.NoError(t, tr.RefreshBackup(f.exit, model.Location{Map: "/ocean", X: 3, Y: 4}))
		require.NoError(t, tr.RefreshBackup(f.exit, model.Location{}))
		// then
		got, ok := tr.Backup(f.exit)
		require.True(t, ok)
		assert.Equal(t, model.Location{Map: "/ocean", X: 3, Y: 4}, got)
	})
	t.Run("malformed coordinates read as no backup", func(t *testing.T) {
		f := setup(t)
		tr := tracker.New(f.w)
		require.NoError(t, f.w.WriteKey(f.exit, model.KeyBackupMap, "/ocean", true))
		require.NoError(t, f.w.WriteKey(f.exit, model.KeyBackupX, "ten", true))
		require.NoError(t, f.w.WriteKey(f.exit, model.KeyBackupY, "2", true))
		// then
		_, ok := tr.Backup(f.exit)
		assert.False(t, ok)
	})
}

func TestForget(t *testing.T) {
	f := setup(t)
	tr := tracker.New(f.w)
	tr.RecordLive("1", f.door)
	tr.Forget("1")
	assert.Empty(t, tr.Live())
}
