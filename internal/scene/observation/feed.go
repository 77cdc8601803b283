package observation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/scene.report/internal/scene"
)

// FeedStats reports Feed activity.
type FeedStats struct {
	Running   bool   `json:"running"`
	Offered   uint64 `json:"offered"`
	Delivered uint64 `json:"delivered"`
	Coalesced uint64 `json:"coalesced"`
}

// Feed delivers snapshots to a Differ on the goroutine running Run, so the
// producer never waits on the handlers behind the bus. It holds at most one
// pending snapshot: an undelivered snapshot is replaced by a newer one and
// the Differ diffs against whatever it delivered last.
type Feed struct {
	differ *Differ

	mu      sync.Mutex
	pending *scene.Snapshot
	wake    chan struct{}
	running bool

	offered   atomic.Uint64
	delivered atomic.Uint64
	coalesced atomic.Uint64
}

// NewFeed returns a Feed for d. Its Offer method fits acquire.Loop.Subscribe.
func NewFeed(d *Differ) *Feed {
	return &Feed{
		differ: d,
		wake:   make(chan struct{}, 1),
	}
}

// Offer queues snap for delivery and returns immediately.
func (f *Feed) Offer(snap *scene.Snapshot) {
	if snap == nil {
		return
	}
	f.offered.Add(1)
	f.mu.Lock()
	if f.pending != nil {
		f.coalesced.Add(1)
	}
	f.pending = snap
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Feed) take() *scene.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.pending
	f.pending = nil
	return snap
}

func (f *Feed) deliver() {
	if snap := f.take(); snap != nil {
		f.differ.Observe(snap)
		f.delivered.Add(1)
	}
}

// Run delivers offered snapshots until ctx is cancelled, then delivers the
// one still pending. A second concurrent Run returns nil immediately.
func (f *Feed) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			f.deliver()
			return nil
		case <-f.wake:
			f.deliver()
		}
	}
}

// Stats returns current feed counters.
func (f *Feed) Stats() FeedStats {
	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	return FeedStats{
		Running:   running,
		Offered:   f.offered.Load(),
		Delivered: f.delivered.Load(),
		Coalesced: f.coalesced.Load(),
	}
}
