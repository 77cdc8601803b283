package observation

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scene.report/internal/monitoring"
	"github.com/banshee-data/scene.report/internal/scene"
)

func obj(id int, t scene.SurfaceType, x float64) *scene.Object {
	return &scene.Object{
		ID:          id,
		SurfaceType: t,
		Pose:        scene.Pose{Position: scene.Vec3{X: x}, Orientation: scene.IdentityQuat},
		Quads:       []scene.Quad{{Extents: scene.Vec2{X: 1, Y: 1}}},
	}
}

// captureLogs redirects the package logger for the duration of the test.
func captureLogs(t *testing.T) *[]string {
	t.Helper()
	var mu sync.Mutex
	var lines []string
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		lines = append(lines, fmt.Sprintf(format, v...))
		mu.Unlock()
	})
	t.Cleanup(func() { monitoring.SetLogger(prev) })
	return &lines
}

// assertConsistent checks that every id is in exactly one bucket and has
// a ledger entry exactly while it does.
func assertConsistent(t *testing.T, s *Store) {
	t.Helper()
	seen := make(map[int]scene.SurfaceType)
	for surface, bucket := range s.index {
		assert.NotEmpty(t, bucket, "empty bucket %s left behind", surface)
		for id := range bucket {
			if other, dup := seen[id]; dup {
				t.Errorf("id %d in buckets %s and %s", id, other, surface)
			}
			seen[id] = surface
		}
	}
	assert.Equal(t, seen, s.where)
	assert.Len(t, s.ledger, len(seen))
	for id := range seen {
		_, ok := s.ledger[id]
		assert.True(t, ok, "id %d has no ledger entry", id)
	}
}

func TestStore_Added(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	o := obj(1, scene.SurfaceFloor, 0)

	s.Added(1, scene.SurfaceFloor, o)

	assert.Equal(t, map[int]*scene.Object{1: o}, s.ByType(scene.SurfaceFloor))
	count, ok := s.UpdateCount(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), count)
	assert.Equal(t, 1, s.Len())
	assertConsistent(t, s)
}

func TestStore_DuplicateAddedIsIdempotent(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	first := obj(1, scene.SurfaceFloor, 0)
	second := obj(1, scene.SurfaceFloor, 1)

	s.Added(1, scene.SurfaceFloor, first)
	s.Added(1, scene.SurfaceFloor, second)

	floor := s.ByType(scene.SurfaceFloor)
	require.Len(t, floor, 1)
	assert.Same(t, second, floor[1])
	count, ok := s.UpdateCount(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), count, "duplicate add is applied as an update")
	assertConsistent(t, s)
}

func TestStore_UpdateCounting(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	o0, o1, o2 := obj(7, scene.SurfaceWall, 0), obj(7, scene.SurfaceWall, 1), obj(7, scene.SurfaceWall, 2)

	s.Added(7, scene.SurfaceWall, o0)
	s.Updated(7, scene.SurfaceWall, o1)
	s.Updated(7, scene.SurfaceWall, o2)

	count, ok := s.UpdateCount(7)
	require.True(t, ok)
	assert.Equal(t, uint64(2), count)
	assert.Same(t, o2, s.ByType(scene.SurfaceWall)[7])
	assertConsistent(t, s)
}

func TestStore_UpdateCountNeverWraps(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	s.Added(7, scene.SurfaceWall, obj(7, scene.SurfaceWall, 0))

	s.ledger[7] = math.MaxUint32
	s.Updated(7, scene.SurfaceWall, obj(7, scene.SurfaceWall, 1))
	count, _ := s.UpdateCount(7)
	assert.Equal(t, uint64(math.MaxUint32)+1, count)

	s.ledger[7] = math.MaxUint64
	s.Updated(7, scene.SurfaceWall, obj(7, scene.SurfaceWall, 2))
	count, _ = s.UpdateCount(7)
	assert.Equal(t, uint64(math.MaxUint64), count)
}

func TestStore_TypeMigration(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	o := obj(3, scene.SurfaceWall, 0)
	moved := obj(3, scene.SurfaceFloor, 0)

	s.Added(3, scene.SurfaceWall, o)
	s.Updated(3, scene.SurfaceFloor, moved)

	assert.NotContains(t, s.ByType(scene.SurfaceWall), 3)
	assert.Same(t, moved, s.ByType(scene.SurfaceFloor)[3])
	count, _ := s.UpdateCount(3)
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, map[scene.SurfaceType]int{scene.SurfaceFloor: 1}, s.Counts(), "emptied wall bucket is dropped")

	entry, ok := s.Entry(3)
	require.True(t, ok)
	assert.Equal(t, scene.SurfaceFloor, entry.SurfaceType)
	assertConsistent(t, s)
}

func TestStore_Removal(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	s.Added(9, scene.SurfaceCeiling, obj(9, scene.SurfaceCeiling, 0))
	s.Added(10, scene.SurfaceCeiling, obj(10, scene.SurfaceCeiling, 0))

	s.Removed(9)

	_, ok := s.UpdateCount(9)
	assert.False(t, ok)
	for _, surface := range scene.AllSurfaceTypes() {
		assert.NotContains(t, s.ByType(surface), 9)
	}
	_, ok = s.Get(9)
	assert.False(t, ok)

	s.Removed(9)
	assert.Equal(t, 1, s.Len())
	_, ok = s.Get(10)
	assert.True(t, ok)
	assertConsistent(t, s)
}

func TestStore_RemovedUnknownIsNoop(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	s.Removed(42)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Counts())
}

func TestStore_UpdatedUnknownIsAdded(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	o := obj(5, scene.SurfacePlatform, 0)

	s.Updated(5, scene.SurfacePlatform, o)

	assert.Same(t, o, s.ByType(scene.SurfacePlatform)[5])
	count, ok := s.UpdateCount(5)
	require.True(t, ok)
	assert.Equal(t, uint64(0), count)
	assertConsistent(t, s)
}

func TestStore_ReaddAfterRemoveResetsCount(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	s.Added(4, scene.SurfaceWall, obj(4, scene.SurfaceWall, 0))
	s.Updated(4, scene.SurfaceWall, obj(4, scene.SurfaceWall, 1))
	s.Removed(4)
	s.Added(4, scene.SurfaceFloor, obj(4, scene.SurfaceFloor, 2))

	count, ok := s.UpdateCount(4)
	require.True(t, ok)
	assert.Equal(t, uint64(0), count)
	assertConsistent(t, s)
}

func TestStore_ByTypeReturnsCopy(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	s.Added(1, scene.SurfaceFloor, obj(1, scene.SurfaceFloor, 0))

	view := s.ByType(scene.SurfaceFloor)
	delete(view, 1)
	view[99] = obj(99, scene.SurfaceFloor, 0)

	assert.Contains(t, s.ByType(scene.SurfaceFloor), 1)
	assert.NotContains(t, s.ByType(scene.SurfaceFloor), 99)
	assert.Empty(t, s.ByType(scene.SurfaceWall))
}

func TestStore_RandomSequenceKeepsInvariants(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	types := scene.AllSurfaceTypes()
	live := make(map[int]uint64)

	for i := 0; i < 500; i++ {
		id := (i * 7) % 13
		surface := types[(i*5)%len(types)]
		switch i % 4 {
		case 0, 1:
			if _, ok := live[id]; ok {
				live[id]++
			} else {
				live[id] = 0
			}
			if i%4 == 0 {
				s.Added(id, surface, obj(id, surface, float64(i)))
			} else {
				s.Updated(id, surface, obj(id, surface, float64(i)))
			}
		case 2:
			if _, ok := live[id]; ok {
				live[id]++
			} else {
				live[id] = 0
			}
			s.Updated(id, surface, obj(id, surface, float64(i)))
		case 3:
			delete(live, id)
			s.Removed(id)
		}
		assertConsistent(t, s)
	}

	require.Equal(t, len(live), s.Len())
	for id, want := range live {
		got, ok := s.UpdateCount(id)
		require.True(t, ok, "id %d", id)
		assert.Equal(t, want, got, "id %d", id)
	}
}

func TestStore_LogsLedgerChanges(t *testing.T) {
	lines := captureLogs(t)
	s := NewStore()

	s.Added(2, scene.SurfaceWall, obj(2, scene.SurfaceWall, 0))
	s.Updated(2, scene.SurfaceWall, obj(2, scene.SurfaceWall, 1))
	s.Removed(2)

	assert.Equal(t, []string{
		"[Observation] Started tracking surface 2 (wall)",
		"[Observation] Surface 2 has been updated 1 times",
		"[Observation] No longer tracking surface 2",
	}, *lines)
}

func TestGuarded_ConcurrentReaders(t *testing.T) {
	captureLogs(t)
	monitoring.SetLogger(nil)
	g := NewGuarded(nil)

	var wg sync.WaitGroup
	done := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for id, o := range g.ByType(scene.SurfaceWall) {
					if o.ID != id {
						t.Errorf("bucket key %d holds object %d", id, o.ID)
						return
					}
				}
				g.Counts()
				g.UpdateCount(1)
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		id := i % 10
		g.Updated(id, scene.SurfaceWall, obj(id, scene.SurfaceWall, float64(i)))
		if i%3 == 0 {
			g.Removed(id)
		}
	}
	close(done)
	wg.Wait()

	assert.LessOrEqual(t, g.Len(), 10)
}

func TestStore_Entries(t *testing.T) {
	captureLogs(t)
	s := NewStore()
	s.Added(4, scene.SurfaceWall, obj(4, scene.SurfaceWall, 0))
	s.Added(1, scene.SurfaceFloor, obj(1, scene.SurfaceFloor, 0))
	s.Added(2, scene.SurfaceWall, obj(2, scene.SurfaceWall, 0))
	s.Updated(2, scene.SurfaceWall, obj(2, scene.SurfaceWall, 1))

	all := s.Entries()
	require.Len(t, all, 3)
	assert.Equal(t, []int{1, 2, 4}, []int{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, uint64(1), all[1].UpdateCount)

	walls := s.Entries(scene.SurfaceWall)
	require.Len(t, walls, 2)
	assert.Equal(t, 2, walls[0].ID)
	assert.Empty(t, s.Entries(scene.SurfaceCeiling))
}

// A surface flipping between two types is listed exactly once by every
// read, however the reads interleave with the writes.
func TestGuarded_EntriesSeeEachSurfaceOnce(t *testing.T) {
	captureLogs(t)
	monitoring.SetLogger(nil)
	g := NewGuarded(nil)
	g.Added(1, scene.SurfaceWall, obj(1, scene.SurfaceWall, 0))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			surface := scene.SurfaceWall
			if i%2 == 0 {
				surface = scene.SurfaceFloor
			}
			g.Updated(1, surface, obj(1, surface, float64(i)))
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	for i := 0; i < 2000; i++ {
		entries := g.Entries(scene.SurfaceWall, scene.SurfaceFloor)
		if len(entries) != 1 {
			t.Fatalf("read %d: got %d entries, want 1", i, len(entries))
		}
	}
}
