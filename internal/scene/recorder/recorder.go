// Package recorder periodically persists the acquisition loop's latest
// snapshot.
package recorder

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scene.report/internal/scene"
	"github.com/banshee-data/scene.report/internal/timeutil"
)

// Source provides the snapshot to record. acquire.Loop implements it.
type Source interface {
	Latest() *scene.Snapshot
}

// Sink stores snapshots. sqlite.SnapshotStore implements it.
type Sink interface {
	InsertSnapshot(snap *scene.Snapshot) (string, error)
	PruneSnapshots(keep int) (int64, error)
}

// EventPruner trims an event log. sqlite.EventJournal implements it.
type EventPruner interface {
	PruneEvents(keep int) (int64, error)
}

// Config contains configuration for Recorder.
type Config struct {
	// Source is the snapshot provider (required).
	Source Source
	// Sink is where snapshots are written (required).
	Sink Sink
	// Interval is how often to check for a new snapshot.
	Interval time.Duration
	// Retention is how many snapshots to keep. Zero keeps everything.
	Retention int
	// Events is optional; when set it is pruned to EventRetention rows
	// whenever a snapshot is written.
	Events EventPruner
	// EventRetention is how many events to keep. Zero keeps everything.
	EventRetention int
	// Clock is optional; if nil, uses timeutil.RealClock.
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// Stats reports recorder activity.
type Stats struct {
	Running        bool   `json:"running"`
	Persisted      uint64 `json:"persisted"`
	Skipped        uint64 `json:"skipped"`
	Errors         uint64 `json:"errors"`
	Pruned         uint64 `json:"pruned"`
	PrunedEvents   uint64 `json:"pruned_events"`
	LastSequence   uint64 `json:"last_sequence"`
	LastSnapshotID string `json:"last_snapshot_id,omitempty"`
}

// Recorder writes each new published snapshot to a Sink on an interval,
// with a final write on shutdown. A snapshot whose sequence was already
// written is skipped.
type Recorder struct {
	source    Source
	sink      Sink
	interval  time.Duration
	retention int
	events    EventPruner
	eventKeep int
	clock     timeutil.Clock
	logger    *log.Logger

	persisted atomic.Uint64
	skipped   atomic.Uint64
	errors    atomic.Uint64
	pruned    atomic.Uint64
	prunedEv  atomic.Uint64

	flushMu sync.Mutex
	lastSeq uint64
	lastID  string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Recorder.
func New(cfg Config) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{
		source:    cfg.Source,
		sink:      cfg.Sink,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		events:    cfg.Events,
		eventKeep: cfg.EventRetention,
		clock:     clock,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run starts the recording loop. It blocks until ctx is cancelled or Stop
// is called. Returns nil on clean shutdown.
func (r *Recorder) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	defer func() {
		close(r.doneCh)
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if r.interval <= 0 {
		r.logger.Printf("[Recorder] interval is zero or negative, not starting")
		return nil
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Printf("[Recorder] started: interval=%v retention=%d event_retention=%d", r.interval, r.retention, r.eventKeep)

	for {
		select {
		case <-ctx.Done():
			r.logger.Printf("[Recorder] stopping due to context cancellation")
			r.flushFinal()
			return nil
		case <-r.stopCh:
			r.logger.Printf("[Recorder] stopping due to Stop() call")
			r.flushFinal()
			return nil
		case <-ticker.C():
			if _, err := r.FlushNow(); err != nil {
				r.logger.Printf("[Recorder] error persisting snapshot: %v", err)
			}
		}
	}
}

// Stop requests the recorder to stop and waits for the final write. It is
// safe to call multiple times.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	done := r.doneCh
	r.mu.Unlock()

	<-done
}

// IsRunning returns whether the recorder is currently running.
func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// FlushNow persists the latest snapshot if it has not been written yet.
// It reports whether a row was written.
func (r *Recorder) FlushNow() (bool, error) {
	if r.source == nil || r.sink == nil {
		return false, nil
	}
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	snap := r.source.Latest()
	if snap == nil || snap.Sequence == r.lastSeq {
		r.skipped.Add(1)
		return false, nil
	}

	id, err := r.sink.InsertSnapshot(snap)
	if err != nil {
		r.errors.Add(1)
		return false, err
	}
	r.lastSeq = snap.Sequence
	r.lastID = id
	r.persisted.Add(1)

	if r.retention > 0 {
		n, err := r.sink.PruneSnapshots(r.retention)
		if err != nil {
			r.errors.Add(1)
			return true, err
		}
		r.pruned.Add(uint64(n))
	}
	if r.events != nil && r.eventKeep > 0 {
		n, err := r.events.PruneEvents(r.eventKeep)
		if err != nil {
			r.errors.Add(1)
			return true, err
		}
		r.prunedEv.Add(uint64(n))
	}
	return true, nil
}

func (r *Recorder) flushFinal() {
	wrote, err := r.FlushNow()
	switch {
	case err != nil:
		r.logger.Printf("[Recorder] error during final flush: %v", err)
	case wrote:
		r.logger.Printf("[Recorder] final snapshot %d persisted", r.lastSequence())
	}
}

func (r *Recorder) lastSequence() uint64 {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	return r.lastSeq
}

// Stats returns current recorder counters.
func (r *Recorder) Stats() Stats {
	r.flushMu.Lock()
	lastSeq, lastID := r.lastSeq, r.lastID
	r.flushMu.Unlock()
	return Stats{
		Running:        r.IsRunning(),
		Persisted:      r.persisted.Load(),
		Skipped:        r.skipped.Load(),
		Errors:         r.errors.Load(),
		Pruned:         r.pruned.Load(),
		PrunedEvents:   r.prunedEv.Load(),
		LastSequence:   lastSeq,
		LastSnapshotID: lastID,
	}
}
