package acquire

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/banshee-data/scene.report/internal/scene"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// mockObserver answers every query through queryFn and records the
// settings it was asked for.
type mockObserver struct {
	supported bool
	access    AccessStatus
	accessErr error

	mu          sync.Mutex
	accessCalls int
	queries     []scene.QuerySettings
	queryFn     func(ctx context.Context, n int, qs scene.QuerySettings) (*scene.Snapshot, error)
}

func newMockObserver(fn func(ctx context.Context, n int, qs scene.QuerySettings) (*scene.Snapshot, error)) *mockObserver {
	return &mockObserver{supported: true, access: AccessAllowed, queryFn: fn}
}

func (m *mockObserver) IsSupported() bool { return m.supported }

func (m *mockObserver) RequestAccess(ctx context.Context) (AccessStatus, error) {
	m.mu.Lock()
	m.accessCalls++
	m.mu.Unlock()
	return m.access, m.accessErr
}

func (m *mockObserver) Query(ctx context.Context, qs scene.QuerySettings) (*scene.Snapshot, error) {
	m.mu.Lock()
	m.queries = append(m.queries, qs)
	n := len(m.queries)
	m.mu.Unlock()
	if m.queryFn == nil {
		return &scene.Snapshot{}, nil
	}
	return m.queryFn(ctx, n, qs)
}

func (m *mockObserver) getQueries() []scene.QuerySettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]scene.QuerySettings(nil), m.queries...)
}

func (m *mockObserver) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

// step is one scripted query outcome.
type step struct {
	snap *scene.Snapshot
	err  error
}

// stepObserver blocks every query until the test feeds it a step, so a
// test controls exactly when each cycle completes.
type stepObserver struct {
	steps chan step
}

func newStepObserver() *stepObserver {
	return &stepObserver{steps: make(chan step)}
}

func (s *stepObserver) IsSupported() bool { return true }

func (s *stepObserver) RequestAccess(ctx context.Context) (AccessStatus, error) {
	return AccessAllowed, nil
}

func (s *stepObserver) Query(ctx context.Context, qs scene.QuerySettings) (*scene.Snapshot, error) {
	select {
	case st := <-s.steps:
		return st.snap, st.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func snapshotWith(ids ...int) *scene.Snapshot {
	snap := &scene.Snapshot{}
	for _, id := range ids {
		snap.Objects = append(snap.Objects, &scene.Object{ID: id, SurfaceType: scene.SurfaceWall})
	}
	return snap
}
