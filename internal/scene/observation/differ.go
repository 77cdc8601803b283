package observation

import (
	"sort"
	"sync"

	"github.com/banshee-data/scene.report/internal/scene"
)

// Diff returns the events that turn prev into next, ordered by ascending
// id. Either snapshot may be nil. Nil objects are skipped and, when a
// snapshot repeats an id, its last object wins.
func Diff(prev, next *scene.Snapshot) []Event {
	before := byID(prev)
	after := byID(next)

	ids := make([]int, 0, len(before)+len(after))
	for id := range after {
		ids = append(ids, id)
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	var events []Event
	for _, id := range ids {
		old, had := before[id]
		cur, has := after[id]
		switch {
		case has && !had:
			events = append(events, Event{Kind: EventAdded, ID: id, SurfaceType: cur.SurfaceType, Object: cur})
		case had && !has:
			events = append(events, Event{Kind: EventRemoved, ID: id, SurfaceType: old.SurfaceType})
		case !old.Equal(cur):
			events = append(events, Event{Kind: EventUpdated, ID: id, SurfaceType: cur.SurfaceType, Object: cur})
		}
	}
	return events
}

func byID(snap *scene.Snapshot) map[int]*scene.Object {
	if snap == nil {
		return nil
	}
	out := make(map[int]*scene.Object, len(snap.Objects))
	for _, obj := range snap.Objects {
		if obj != nil {
			out[obj.ID] = obj
		}
	}
	return out
}

// Differ turns a sequence of snapshots into surface events on a Bus. Its
// Observe method fits acquire.Loop.Subscribe.
type Differ struct {
	bus *Bus

	mu   sync.Mutex
	prev *scene.Snapshot
}

// NewDiffer returns a Differ publishing to bus.
func NewDiffer(bus *Bus) *Differ {
	return &Differ{bus: bus}
}

// Observe diffs snap against the previously observed snapshot and
// dispatches the resulting events. Snapshots at or below the last seen
// sequence are ignored.
func (d *Differ) Observe(snap *scene.Snapshot) {
	if snap == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.prev != nil && snap.Sequence != 0 && snap.Sequence <= d.prev.Sequence {
		logf("ignoring stale snapshot %d (have %d)", snap.Sequence, d.prev.Sequence)
		return
	}
	events := Diff(d.prev, snap)
	d.prev = snap
	d.bus.Dispatch(events...)
}

// Reset forgets the last snapshot and removes every surface it held, so
// handlers return to an empty state.
func (d *Differ) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	events := Diff(d.prev, nil)
	d.prev = nil
	d.bus.Dispatch(events...)
}
