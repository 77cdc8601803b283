// Package observation projects per-surface change notifications into a
// queryable index of live surfaces and a per-surface update ledger.
//
// Events flow through a Bus to any number of Handlers. A Store is the
// reference Handler; a Differ produces the events from consecutive
// acquisition snapshots, and a Feed runs the Differ off the producer's
// goroutine.
package observation

import (
	"math"
	"sort"

	"github.com/banshee-data/scene.report/internal/monitoring"
	"github.com/banshee-data/scene.report/internal/scene"
)

var logf = monitoring.Prefixed("Observation")

// Handler receives surface change notifications. Calls for one id arrive
// in the order the changes happened and never concurrently.
type Handler interface {
	Added(id int, surface scene.SurfaceType, obj *scene.Object)
	Updated(id int, surface scene.SurfaceType, obj *scene.Object)
	Removed(id int)
}

// Entry is the store's record for one live surface.
type Entry struct {
	ID          int               `json:"id"`
	SurfaceType scene.SurfaceType `json:"surface_type"`
	Object      *scene.Object     `json:"object"`
	UpdateCount uint64            `json:"update_count"`
}

// Store is the index of currently known surfaces, partitioned by surface
// type, plus the update ledger.
//
// An id lives in exactly one bucket, and has a ledger entry exactly while
// it does. Buckets are dropped when they empty.
//
// Store does no locking. Deliver events from a single goroutine (a Bus
// does this), or wrap it with Guarded when reads come from elsewhere.
type Store struct {
	index  map[scene.SurfaceType]map[int]*scene.Object
	where  map[int]scene.SurfaceType
	ledger map[int]uint64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		index:  make(map[scene.SurfaceType]map[int]*scene.Object),
		where:  make(map[int]scene.SurfaceType),
		ledger: make(map[int]uint64),
	}
}

// Added starts tracking id. A duplicate Added for a live id is applied as
// Updated so the id never appears twice.
func (s *Store) Added(id int, surface scene.SurfaceType, obj *scene.Object) {
	if _, ok := s.where[id]; ok {
		logf("duplicate add for surface %d, applying as update", id)
		s.Updated(id, surface, obj)
		return
	}
	s.put(id, surface, obj)
	s.ledger[id] = 0
	logf("Started tracking surface %d (%s)", id, surface)
}

// Updated replaces the object for id, moving it between buckets when the
// surface type changed, and bumps its update count. An update for an id
// that is not tracked is applied as Added.
func (s *Store) Updated(id int, surface scene.SurfaceType, obj *scene.Object) {
	prev, ok := s.where[id]
	if !ok {
		logf("update for untracked surface %d, applying as add", id)
		s.Added(id, surface, obj)
		return
	}
	if prev != surface {
		s.drop(id, prev)
		logf("Surface %d changed type %s -> %s", id, prev, surface)
	}
	s.put(id, surface, obj)
	if s.ledger[id] < math.MaxUint64 {
		s.ledger[id]++
	}
	logf("Surface %d has been updated %d times", id, s.ledger[id])
}

// Removed stops tracking id. Unknown ids are ignored.
func (s *Store) Removed(id int) {
	surface, ok := s.where[id]
	if !ok {
		return
	}
	s.drop(id, surface)
	delete(s.where, id)
	delete(s.ledger, id)
	logf("No longer tracking surface %d", id)
}

func (s *Store) put(id int, surface scene.SurfaceType, obj *scene.Object) {
	bucket := s.index[surface]
	if bucket == nil {
		bucket = make(map[int]*scene.Object)
		s.index[surface] = bucket
	}
	bucket[id] = obj
	s.where[id] = surface
}

func (s *Store) drop(id int, surface scene.SurfaceType) {
	bucket := s.index[surface]
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(s.index, surface)
	}
}

// ByType returns the live surfaces of one type keyed by id. The map is a
// copy; the objects are shared and must not be modified.
func (s *Store) ByType(t scene.SurfaceType) map[int]*scene.Object {
	bucket := s.index[t]
	out := make(map[int]*scene.Object, len(bucket))
	for id, obj := range bucket {
		out[id] = obj
	}
	return out
}

// UpdateCount returns the number of updates id received since it was
// added. ok is false when id is not tracked.
func (s *Store) UpdateCount(id int) (count uint64, ok bool) {
	count, ok = s.ledger[id]
	return count, ok
}

// Get returns the current object for id.
func (s *Store) Get(id int) (*scene.Object, bool) {
	surface, ok := s.where[id]
	if !ok {
		return nil, false
	}
	return s.index[surface][id], true
}

// Entry returns everything the store knows about id.
func (s *Store) Entry(id int) (Entry, bool) {
	surface, ok := s.where[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		ID:          id,
		SurfaceType: surface,
		Object:      s.index[surface][id],
		UpdateCount: s.ledger[id],
	}, true
}

// Entries returns the entries of every surface whose type is in types,
// ordered by id. With no types it returns every surface.
func (s *Store) Entries(types ...scene.SurfaceType) []Entry {
	want := make(map[scene.SurfaceType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	out := make([]Entry, 0, len(s.where))
	for id, surface := range s.where {
		if len(want) > 0 && !want[surface] {
			continue
		}
		out = append(out, Entry{
			ID:          id,
			SurfaceType: surface,
			Object:      s.index[surface][id],
			UpdateCount: s.ledger[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tracked surfaces.
func (s *Store) Len() int {
	return len(s.where)
}

// Counts returns the number of tracked surfaces per type. Types with no
// surfaces are absent.
func (s *Store) Counts() map[scene.SurfaceType]int {
	out := make(map[scene.SurfaceType]int, len(s.index))
	for t, bucket := range s.index {
		out[t] = len(bucket)
	}
	return out
}
