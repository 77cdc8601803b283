package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scene.report/internal/config"
	"github.com/banshee-data/scene.report/internal/db"
	"github.com/banshee-data/scene.report/internal/scene"
	"github.com/banshee-data/scene.report/internal/scene/storage/sqlite"
	"github.com/banshee-data/scene.report/internal/scene/synthetic"
)

func strPtr(s string) *string { return &s }

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen": ":9000", "level_of_detail": "fine", "db_path": "file.db"}`), 0o644))

	t.Setenv("SCENE_LISTEN", ":9100")
	t.Setenv("SCENE_BOUNDING_RADIUS_METERS", "42")

	cfg, err := loadConfig(path, map[string]string{"db": "flag.db"})
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.GetListen())
	assert.Equal(t, "flag.db", cfg.GetDBPath())
	assert.Equal(t, 42.0, cfg.GetBoundingRadiusMeters())
	assert.Equal(t, scene.LevelFine, cfg.GetLevelOfDetail())
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := loadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.GetListen())
	assert.Equal(t, scene.LevelCoarse, cfg.GetLevelOfDetail())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)

	_, err = loadConfig("", map[string]string{"listen": ""})
	assert.Error(t, err)
}

func TestLoadConfig_OutOfRangeRadiusReachesLoopClamped(t *testing.T) {
	d, err := db.NewDB(filepath.Join(t.TempDir(), "scene.db"))
	require.NoError(t, err)
	defer d.Close()

	for env, want := range map[string]float64{
		"0":   scene.MinBoundingRadiusMeters,
		"-2":  scene.MinBoundingRadiusMeters,
		"1e9": scene.MaxBoundingRadiusMeters,
	} {
		t.Setenv("SCENE_BOUNDING_RADIUS_METERS", env)
		cfg, err := loadConfig("", nil)
		require.NoError(t, err, "radius %s", env)

		svc := newService(cfg, d, synthetic.New(synthetic.Config{}), log.New(io.Discard, "", 0))
		assert.Equal(t, want, svc.loop.Settings().QuerySettings(false).BoundingRadiusMeters, "radius %s", env)
	}
}

func TestSetFlags(t *testing.T) {
	fs := flag.NewFlagSet("scene", flag.ContinueOnError)
	fs.String("listen", "", "")
	fs.String("db", "", "")
	require.NoError(t, fs.Parse([]string{"-db", "x.db"}))
	assert.Equal(t, map[string]string{"db": "x.db"}, setFlags(fs))
}

func TestServiceRunsUntilCancelled(t *testing.T) {
	d, err := db.NewDB(filepath.Join(t.TempDir(), "scene.db"))
	require.NoError(t, err)
	defer d.Close()

	cfg := config.EmptySceneConfig()
	cfg.Listen = strPtr("127.0.0.1:0")
	cfg.GRPCListen = strPtr("127.0.0.1:0")
	cfg.CycleInterval = strPtr("5ms")
	cfg.PersistInterval = strPtr("20ms")

	observer := synthetic.New(synthetic.Config{Seed: 3})
	svc := newService(cfg, d, observer, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.run(ctx) }()

	require.Eventually(t, func() bool {
		return svc.store.Len() > 0 && svc.loop.Stats().Published >= 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.False(t, svc.loop.IsRunning())

	records, err := sqlite.NewSnapshotStore(d.DB).ListSnapshots(0)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, svc.loop.Latest().Sequence, records[0].Sequence)
	// The feed drains after the loop stops, so the store ends on the last
	// published scene.
	assert.Equal(t, len(svc.loop.Latest().Objects), svc.store.Len())

	events, err := svc.journal.ListEvents(-1, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}
