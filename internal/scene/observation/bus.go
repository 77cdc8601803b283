package observation

import (
	"fmt"
	"sync"

	"github.com/banshee-data/scene.report/internal/scene"
)

// EventKind identifies a surface change.
type EventKind uint8

const (
	EventAdded EventKind = iota + 1
	EventUpdated
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is one surface change. Object is nil for EventRemoved.
type Event struct {
	Kind        EventKind
	ID          int
	SurfaceType scene.SurfaceType
	Object      *scene.Object
}

// Deliver calls the Handler method matching e.Kind.
func (e Event) Deliver(h Handler) {
	switch e.Kind {
	case EventAdded:
		h.Added(e.ID, e.SurfaceType, e.Object)
	case EventUpdated:
		h.Updated(e.ID, e.SurfaceType, e.Object)
	case EventRemoved:
		h.Removed(e.ID)
	default:
		logf("dropping %s for surface %d", e.Kind, e.ID)
	}
}

// Bus fans surface events out to registered handlers. Dispatch calls are
// serialized, so a handler never sees two events at once even when events
// are produced on several goroutines.
//
// Handlers must be comparable (pointer receivers are). A handler may
// Register or Unregister from inside a callback; the change applies to
// the next Dispatch.
type Bus struct {
	dispatchMu sync.Mutex

	mu       sync.RWMutex
	handlers []Handler
}

// NewBus returns a Bus with no handlers.
func NewBus() *Bus {
	return &Bus{}
}

// Register adds h. Registering the same handler twice has no effect.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.handlers {
		if existing == h {
			return
		}
	}
	b.handlers = append(b.handlers, h)
	logf("registered handler %T", h)
}

// Unregister removes h. Unknown handlers are ignored.
func (b *Bus) Unregister(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.handlers {
		if existing == h {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			logf("unregistered handler %T", h)
			return
		}
	}
}

// Len returns the number of registered handlers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Dispatch delivers events in order to every handler, handler by handler
// in registration order for each event.
func (b *Bus) Dispatch(events ...Event) {
	if len(events) == 0 {
		return
	}
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, e := range events {
		for _, h := range handlers {
			e.Deliver(h)
		}
	}
}

// Bus is itself a Handler, so producers that speak the Handler interface
// can feed it directly.

func (b *Bus) Added(id int, surface scene.SurfaceType, obj *scene.Object) {
	b.Dispatch(Event{Kind: EventAdded, ID: id, SurfaceType: surface, Object: obj})
}

func (b *Bus) Updated(id int, surface scene.SurfaceType, obj *scene.Object) {
	b.Dispatch(Event{Kind: EventUpdated, ID: id, SurfaceType: surface, Object: obj})
}

func (b *Bus) Removed(id int) {
	b.Dispatch(Event{Kind: EventRemoved, ID: id})
}
