package monitor

import (
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scene.report/internal/db"
	"github.com/banshee-data/scene.report/internal/scene"
	"github.com/banshee-data/scene.report/internal/scene/acquire"
)

var epoch = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeSource stands in for the acquisition loop.
type fakeSource struct {
	mu       sync.Mutex
	latest   *scene.Snapshot
	stats    acquire.Stats
	settings acquire.Settings
}

func newFakeSource(snap *scene.Snapshot) *fakeSource {
	return &fakeSource{latest: snap, settings: acquire.DefaultSettings()}
}

func (f *fakeSource) Latest() *scene.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *fakeSource) Stats() acquire.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSource) setStats(s acquire.Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = s
}

func (f *fakeSource) Settings() acquire.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeSource) SetSettings(s acquire.Settings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
}

func tiles(n int, x, y float64) []scene.Quad {
	out := make([]scene.Quad, n)
	for i := range out {
		out[i] = scene.Quad{Extents: scene.Vec2{X: x, Y: y}}
	}
	return out
}

// testRoom is a 6x5 m room seen at medium detail.
func testRoom(seq uint64) *scene.Snapshot {
	return &scene.Snapshot{
		Sequence:   seq,
		CapturedAt: epoch,
		Settings: scene.QuerySettings{
			IncludeQuads:         true,
			LevelOfDetail:        scene.LevelMedium,
			BoundingRadiusMeters: 10,
		},
		Objects: []*scene.Object{
			{ID: 1, SurfaceType: scene.SurfaceFloor, Pose: scene.Pose{Position: scene.Vec3{Y: -1.5}, Orientation: scene.IdentityQuat}, Quads: tiles(4, 3, 2.5)},
			{ID: 3, SurfaceType: scene.SurfaceWall, Pose: scene.Pose{Position: scene.Vec3{Z: 2.5}, Orientation: scene.IdentityQuat}, Quads: tiles(4, 3, 1.5)},
			{ID: 4, SurfaceType: scene.SurfaceWall, Pose: scene.Pose{Position: scene.Vec3{X: 3}, Orientation: scene.Quat{Y: 0.7071067811865476, W: 0.7071067811865476}}, Quads: tiles(4, 2.5, 1.5)},
			{ID: 10, SurfaceType: scene.SurfacePlatform, Pose: scene.Pose{Position: scene.Vec3{X: 1, Y: -0.75, Z: 1}, Orientation: scene.IdentityQuat}, Quads: tiles(1, 1.2, 0.8)},
		},
	}
}

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "scene.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}
