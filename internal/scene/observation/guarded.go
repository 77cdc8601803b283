package observation

import (
	"sync"

	"github.com/banshee-data/scene.report/internal/scene"
)

// Guarded wraps a Store with a read/write lock so it can be queried from
// goroutines other than the one delivering events.
type Guarded struct {
	mu    sync.RWMutex
	store *Store
}

// NewGuarded wraps store. A nil store gets a fresh one.
func NewGuarded(store *Store) *Guarded {
	if store == nil {
		store = NewStore()
	}
	return &Guarded{store: store}
}

func (g *Guarded) Added(id int, surface scene.SurfaceType, obj *scene.Object) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store.Added(id, surface, obj)
}

func (g *Guarded) Updated(id int, surface scene.SurfaceType, obj *scene.Object) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store.Updated(id, surface, obj)
}

func (g *Guarded) Removed(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store.Removed(id)
}

func (g *Guarded) ByType(t scene.SurfaceType) map[int]*scene.Object {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.ByType(t)
}

func (g *Guarded) UpdateCount(id int) (uint64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.UpdateCount(id)
}

func (g *Guarded) Get(id int) (*scene.Object, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Get(id)
}

func (g *Guarded) Entry(id int) (Entry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Entry(id)
}

// Entries reads all matching entries under one lock, so a surface that
// changes type concurrently appears exactly once.
func (g *Guarded) Entries(types ...scene.SurfaceType) []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Entries(types...)
}

func (g *Guarded) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Len()
}

func (g *Guarded) Counts() map[scene.SurfaceType]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Counts()
}
