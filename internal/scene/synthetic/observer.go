// Package synthetic provides a simulated sensing layer for demos and
// tests. It models a single room around the device: floor, ceiling, four
// walls, a few platforms that come and go, distant background surfaces
// and, when inference is requested, inferred wall segments.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/scene.report/internal/scene"
	"github.com/banshee-data/scene.report/internal/scene/acquire"
	"github.com/banshee-data/scene.report/internal/timeutil"
)

// ErrSensorGlitch is returned by queries that the failure injection fails.
var ErrSensorGlitch = errors.New("synthetic sensor glitch")

// Config controls the simulated room and its failure modes.
type Config struct {
	// Seed makes jitter reproducible. Zero uses 1.
	Seed int64
	// Room dimensions in metres. Zero values use 6 x 3 x 5.
	RoomWidth, RoomHeight, RoomDepth float64
	// Platforms is the number of tables/shelves in the room. Negative
	// means none; zero uses 3.
	Platforms int
	// JitterMeters is the per-query pose noise. Zero disables drift.
	JitterMeters float64
	// BaseLatency is the query time at coarse detail. Each finer level
	// doubles it.
	BaseLatency time.Duration

	// Unsupported makes IsSupported report false.
	Unsupported bool
	// Access is the status RequestAccess returns. Zero means allowed.
	Access acquire.AccessStatus
	// FailEvery fails every Nth query with ErrSensorGlitch. Zero never fails.
	FailEvery int

	// Clock is optional; if nil, uses timeutil.RealClock.
	Clock timeutil.Clock
}

type surface struct {
	id       int
	kind     scene.SurfaceType
	pos      scene.Vec3
	yaw      float64
	extents  scene.Vec2
	appear   int // first query index the surface is visible
	vanish   int // query index it disappears at, zero for never
	period   int // if set, visible only in alternating runs of period queries
	inferred bool
}

// Observer is a deterministic acquire.Observer.
type Observer struct {
	cfg   Config
	clock timeutil.Clock

	mu       sync.Mutex
	rng      *rand.Rand
	queries  int
	surfaces []*surface
	drift    map[int]scene.Vec3
}

var _ acquire.Observer = (*Observer)(nil)

// New builds the simulated room described by cfg.
func New(cfg Config) *Observer {
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	if cfg.RoomWidth <= 0 {
		cfg.RoomWidth = 6
	}
	if cfg.RoomHeight <= 0 {
		cfg.RoomHeight = 3
	}
	if cfg.RoomDepth <= 0 {
		cfg.RoomDepth = 5
	}
	if cfg.Platforms == 0 {
		cfg.Platforms = 3
	}
	if cfg.Access == acquire.AccessUnknown {
		cfg.Access = acquire.AccessAllowed
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Observer{
		cfg:      cfg,
		clock:    clock,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		surfaces: buildRoom(cfg),
		drift:    make(map[int]scene.Vec3),
	}
}

// buildRoom lays out the room. Ids are stable: 1 floor, 2 ceiling, 3-6
// walls, 10+ platforms, 50+ background, 90 world, 100+ inferred.
func buildRoom(cfg Config) []*surface {
	w, h, d := cfg.RoomWidth, cfg.RoomHeight, cfg.RoomDepth
	out := []*surface{
		{id: 1, kind: scene.SurfaceFloor, pos: scene.Vec3{Y: -1.5}, extents: scene.Vec2{X: w, Y: d}},
		{id: 2, kind: scene.SurfaceCeiling, pos: scene.Vec3{Y: h - 1.5}, extents: scene.Vec2{X: w, Y: d}, appear: 1},
		{id: 3, kind: scene.SurfaceWall, pos: scene.Vec3{Z: d / 2}, extents: scene.Vec2{X: w, Y: h}},
		{id: 4, kind: scene.SurfaceWall, pos: scene.Vec3{X: w / 2}, yaw: math.Pi / 2, extents: scene.Vec2{X: d, Y: h}, appear: 1},
		{id: 5, kind: scene.SurfaceWall, pos: scene.Vec3{Z: -d / 2}, yaw: math.Pi, extents: scene.Vec2{X: w, Y: h}, appear: 2},
		{id: 6, kind: scene.SurfaceWall, pos: scene.Vec3{X: -w / 2}, yaw: -math.Pi / 2, extents: scene.Vec2{X: d, Y: h}, appear: 3},
	}
	for i := 0; i < cfg.Platforms; i++ {
		angle := float64(i) * 2 * math.Pi / float64(cfg.Platforms)
		out = append(out, &surface{
			id:      10 + i,
			kind:    scene.SurfacePlatform,
			pos:     scene.Vec3{X: math.Cos(angle) * w / 4, Y: -0.75, Z: math.Sin(angle) * d / 4},
			yaw:     angle,
			extents: scene.Vec2{X: 1.2, Y: 0.8},
			appear:  2 + i,
			period:  4 + i,
		})
	}
	out = append(out,
		&surface{id: 50, kind: scene.SurfaceBackground, pos: scene.Vec3{X: 20, Z: 12}, extents: scene.Vec2{X: 8, Y: 4}, appear: 4},
		&surface{id: 51, kind: scene.SurfaceBackground, pos: scene.Vec3{X: -45, Z: -30}, extents: scene.Vec2{X: 12, Y: 6}, appear: 4},
		&surface{id: 90, kind: scene.SurfaceWorld, pos: scene.Vec3{Y: -1.5}, extents: scene.Vec2{X: 200, Y: 200}, appear: 5},
		&surface{id: 100, kind: scene.SurfaceInferred, pos: scene.Vec3{X: w / 4, Z: d / 2}, extents: scene.Vec2{X: w / 2, Y: h}, inferred: true},
		&surface{id: 101, kind: scene.SurfaceInferred, pos: scene.Vec3{X: -w / 2, Z: d / 4}, yaw: -math.Pi / 2, extents: scene.Vec2{X: d / 2, Y: h}, inferred: true, vanish: 3},
	)
	return out
}

// IsSupported reports whether the simulated platform supports scene
// understanding.
func (o *Observer) IsSupported() bool { return !o.cfg.Unsupported }

// RequestAccess returns the configured access status.
func (o *Observer) RequestAccess(ctx context.Context) (acquire.AccessStatus, error) {
	if err := ctx.Err(); err != nil {
		return acquire.AccessUnknown, err
	}
	return o.cfg.Access, nil
}

// Queries returns how many queries have been made.
func (o *Observer) Queries() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queries
}

// Query simulates one scan. Finer levels take longer and return more
// quads per surface. It honours ctx while waiting out the latency.
func (o *Observer) Query(ctx context.Context, qs scene.QuerySettings) (*scene.Snapshot, error) {
	o.mu.Lock()
	o.queries++
	n := o.queries
	o.mu.Unlock()

	if latency := o.latency(qs.LevelOfDetail); latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.clock.After(latency):
		}
	}
	if o.cfg.FailEvery > 0 && n%o.cfg.FailEvery == 0 {
		return nil, fmt.Errorf("query %d: %w", n, ErrSensorGlitch)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.step()

	// Index is zero based so the first query sees the surfaces with appear 0.
	idx := n - 1
	split := subdivisions(qs.LevelOfDetail)
	radius := scene.ClampRadius(qs.BoundingRadiusMeters)

	snap := &scene.Snapshot{CapturedAt: o.clock.Now()}
	for _, s := range o.surfaces {
		if !s.visibleAt(idx) {
			continue
		}
		if s.inferred && qs.OnlyObservedObjects {
			continue
		}
		pos := o.position(s)
		if math.Hypot(pos.X, pos.Z) > radius {
			continue
		}
		obj := &scene.Object{
			ID:          s.id,
			SurfaceType: s.kind,
			Pose:        scene.Pose{Position: pos, Orientation: yawQuat(s.yaw)},
		}
		if qs.IncludeQuads {
			obj.Quads = quads(s.extents, split)
		}
		snap.Objects = append(snap.Objects, obj)
	}
	return snap, nil
}

func (s *surface) visibleAt(idx int) bool {
	if idx < s.appear {
		return false
	}
	if s.vanish > 0 && idx >= s.vanish {
		return false
	}
	if s.period > 0 {
		return ((idx-s.appear)/s.period)%2 == 0
	}
	return true
}

// step advances pose drift for every surface. Called with mu held.
func (o *Observer) step() {
	if o.cfg.JitterMeters <= 0 {
		return
	}
	for _, s := range o.surfaces {
		// Floors and ceilings settle once seen; everything else keeps
		// being refined.
		if s.kind == scene.SurfaceFloor || s.kind == scene.SurfaceCeiling {
			continue
		}
		d := o.drift[s.id]
		d.X += (o.rng.Float64()*2 - 1) * o.cfg.JitterMeters
		d.Z += (o.rng.Float64()*2 - 1) * o.cfg.JitterMeters
		o.drift[s.id] = d
	}
}

func (o *Observer) position(s *surface) scene.Vec3 {
	d := o.drift[s.id]
	return scene.Vec3{X: s.pos.X + d.X, Y: s.pos.Y + d.Y, Z: s.pos.Z + d.Z}
}

func (o *Observer) latency(lod scene.LevelOfDetail) time.Duration {
	return o.cfg.BaseLatency * time.Duration(subdivisions(lod))
}

// subdivisions is the quads per side at each level of detail.
func subdivisions(lod scene.LevelOfDetail) int {
	switch lod {
	case scene.LevelMedium:
		return 2
	case scene.LevelFine:
		return 4
	case scene.LevelUnlimited:
		return 8
	default:
		return 1
	}
}

// quads tiles extents into split x split equal quads.
func quads(extents scene.Vec2, split int) []scene.Quad {
	q := scene.Quad{Extents: scene.Vec2{X: extents.X / float64(split), Y: extents.Y / float64(split)}}
	out := make([]scene.Quad, split*split)
	for i := range out {
		out[i] = q
	}
	return out
}

func yawQuat(yaw float64) scene.Quat {
	if yaw == 0 {
		return scene.IdentityQuat
	}
	return scene.Quat{Y: math.Sin(yaw / 2), W: math.Cos(yaw / 2)}
}
