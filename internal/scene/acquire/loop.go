// Package acquire runs the background acquisition loop that samples the
// sensing layer and publishes the most recent complete scene snapshot.
//
// A Loop is the single writer of its published snapshot. Readers call
// Latest at any time and receive either nil (nothing published yet) or a
// snapshot that a completed cycle fully built; never a partial one.
package acquire

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/banshee-data/scene.report/internal/scene"
	"github.com/banshee-data/scene.report/internal/timeutil"
)

const tracerName = "github.com/banshee-data/scene.report/internal/scene/acquire"

const (
	defaultFailureBackoff = 100 * time.Millisecond
	maxFailureBackoff     = 5 * time.Second
)

// Settings are the user-facing query knobs. They may be changed between
// cycles with SetSettings.
type Settings struct {
	BoundingRadiusMeters float64             `json:"bounding_radius_meters"`
	LevelOfDetail        scene.LevelOfDetail `json:"level_of_detail"`
	UseInference         bool                `json:"use_inference"`
}

// DefaultSettings mirrors config/scene.defaults.json.
func DefaultSettings() Settings {
	return Settings{
		BoundingRadiusMeters: 10,
		LevelOfDetail:        scene.LevelCoarse,
	}
}

// QuerySettings builds the request for one cycle. The first cycle always
// asks for the coarsest level so a usable result arrives quickly.
func (s Settings) QuerySettings(firstCycle bool) scene.QuerySettings {
	lod := s.LevelOfDetail
	if firstCycle {
		lod = scene.LevelCoarse
	}
	return scene.QuerySettings{
		IncludeQuads:         true,
		IncludeMeshes:        true,
		OnlyObservedObjects:  !s.UseInference,
		LevelOfDetail:        lod,
		BoundingRadiusMeters: scene.ClampRadius(s.BoundingRadiusMeters),
	}
}

// Config contains configuration for Loop.
type Config struct {
	// Observer is the sensing layer to sample (required).
	Observer Observer
	// Settings are the initial query settings.
	Settings Settings
	// CycleInterval is an optional pause between cycles. Zero starts the
	// next query as soon as the previous one finishes.
	CycleInterval time.Duration
	// QueryTimeout bounds each query. Zero means no timeout.
	QueryTimeout time.Duration
	// FailureBackoff is the pause after a failed cycle, doubled for each
	// further consecutive failure up to five seconds. A longer
	// CycleInterval wins. Zero means 100ms; negative disables it.
	FailureBackoff time.Duration
	// Clock is optional; if nil, uses timeutil.RealClock.
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
	// Tracer is optional; if nil, uses the global otel tracer provider.
	Tracer trace.Tracer
}

// Stats is a point-in-time view of loop activity.
type Stats struct {
	Running             bool          `json:"running"`
	Cycles              uint64        `json:"cycles"`
	Published           uint64        `json:"published"`
	Failures            uint64        `json:"failures"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	Discarded           uint64        `json:"discarded"`
	LastSequence        uint64        `json:"last_sequence"`
	LastError           string        `json:"last_error,omitempty"`
	LastSuccess         time.Time     `json:"last_success"`
	LastCycleDuration   time.Duration `json:"last_cycle_duration_ns"`
}

type subscriber struct {
	id int
	fn func(*scene.Snapshot)
}

// Loop repeatedly queries an Observer and publishes the latest snapshot.
type Loop struct {
	observer      Observer
	cycleInterval time.Duration
	queryTimeout  time.Duration
	backoff       time.Duration
	clock         timeutil.Clock
	logger        *log.Logger
	tracer        trace.Tracer

	settingsMu sync.Mutex
	settings   Settings

	latest atomic.Pointer[scene.Snapshot]

	cycles      atomic.Uint64
	published   atomic.Uint64
	failures    atomic.Uint64
	consecutive atomic.Uint64
	discarded   atomic.Uint64

	statsMu      sync.Mutex
	lastErr      string
	lastSuccess  time.Time
	lastDuration time.Duration

	subsMu    sync.Mutex
	subs      []subscriber
	nextSubID int

	mu         sync.Mutex
	running    bool
	abortStart bool
	cancel     context.CancelFunc
	doneCh     chan struct{}
}

// NewLoop creates a Loop. It does not contact the observer until Start.
func NewLoop(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	backoff := cfg.FailureBackoff
	if backoff == 0 {
		backoff = defaultFailureBackoff
	}
	return &Loop{
		observer:      cfg.Observer,
		cycleInterval: cfg.CycleInterval,
		queryTimeout:  cfg.QueryTimeout,
		backoff:       backoff,
		clock:         clock,
		logger:        logger,
		tracer:        tracer,
		settings:      cfg.Settings,
	}
}

// Start performs the capability handshake and, if access is granted,
// launches the acquisition goroutine. The loop lives until Stop is called
// or ctx is cancelled. Handshake failures are reported once and returned;
// no goroutine is started and nothing is retried.
func (l *Loop) Start(ctx context.Context) error {
	if l.observer == nil {
		return errors.New("acquire: nil observer")
	}

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.abortStart = false
	l.mu.Unlock()

	if err := l.handshake(ctx); err != nil {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	l.mu.Lock()
	if l.abortStart {
		l.running = false
		l.abortStart = false
		l.mu.Unlock()
		cancel()
		return context.Canceled
	}
	l.cancel = cancel
	l.doneCh = done
	l.mu.Unlock()

	go l.run(loopCtx, done)
	return nil
}

func (l *Loop) handshake(ctx context.Context) error {
	if !l.observer.IsSupported() {
		l.logger.Printf("[Acquire] scene understanding is not supported on this platform")
		return ErrUnsupported
	}

	status, err := l.observer.RequestAccess(ctx)
	if err != nil || status != AccessAllowed {
		if err != nil {
			l.logger.Printf("[Acquire] access request failed: %v", err)
		} else {
			l.logger.Printf("[Acquire] could not gain access to scene understanding: %s", status)
		}
		return accessError(status, err)
	}

	l.logger.Printf("[Acquire] scene understanding allowed")
	return nil
}

// Stop cancels the loop and waits for the acquisition goroutine to exit.
// A query still in flight is allowed to finish and its result is dropped.
// No snapshot is published after Stop returns. It is safe to call
// multiple times and before Start.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	if l.cancel == nil {
		// Still in the handshake; Start will bail out when it finishes.
		l.abortStart = true
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.doneCh
	l.mu.Unlock()

	cancel()
	<-done
}

// IsRunning returns whether the loop is started.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Latest returns the most recently published snapshot, or nil before the
// first successful cycle. It never blocks on an in-flight query. The
// returned snapshot is shared and must be treated as read-only.
func (l *Loop) Latest() *scene.Snapshot {
	return l.latest.Load()
}

// Settings returns the settings the next cycle will use.
func (l *Loop) Settings() Settings {
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	return l.settings
}

// SetSettings replaces the settings used from the next cycle onwards.
func (l *Loop) SetSettings(s Settings) {
	l.settingsMu.Lock()
	l.settings = s
	l.settingsMu.Unlock()
	l.logger.Printf("[Acquire] settings updated: radius=%.1fm (effective %.1fm) lod=%s inference=%t",
		s.BoundingRadiusMeters, scene.ClampRadius(s.BoundingRadiusMeters), s.LevelOfDetail, s.UseInference)
}

// Subscribe registers fn to be called on the loop goroutine after each
// publish, in registration order. fn must not block for long: the next
// cycle waits for it. The returned function removes the subscription.
func (l *Loop) Subscribe(fn func(*scene.Snapshot)) (cancel func()) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	l.nextSubID++
	id := l.nextSubID
	l.subs = append(l.subs, subscriber{id: id, fn: fn})
	return func() {
		l.subsMu.Lock()
		defer l.subsMu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// Stats returns current loop counters.
func (l *Loop) Stats() Stats {
	l.statsMu.Lock()
	lastErr, lastSuccess, lastDuration := l.lastErr, l.lastSuccess, l.lastDuration
	l.statsMu.Unlock()

	var seq uint64
	if snap := l.latest.Load(); snap != nil {
		seq = snap.Sequence
	}
	return Stats{
		Running:             l.IsRunning(),
		Cycles:              l.cycles.Load(),
		Published:           l.published.Load(),
		Failures:            l.failures.Load(),
		ConsecutiveFailures: l.consecutive.Load(),
		Discarded:           l.discarded.Load(),
		LastSequence:        seq,
		LastError:           lastErr,
		LastSuccess:         lastSuccess,
		LastCycleDuration:   lastDuration,
	}
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		l.running = false
		l.cancel = nil
		l.doneCh = nil
		l.mu.Unlock()
		close(done)
	}()

	l.logger.Printf("[Acquire] loop started: interval=%v query_timeout=%v", l.cycleInterval, l.queryTimeout)

	first := true
	for {
		if ctx.Err() != nil {
			l.logger.Printf("[Acquire] loop stopping: %v", context.Cause(ctx))
			return
		}
		l.cycle(ctx, first)
		first = false

		if !l.wait(ctx) {
			l.logger.Printf("[Acquire] loop stopping: %v", context.Cause(ctx))
			return
		}
	}
}

// wait pauses for the cycle interval, or the failure backoff while
// cycles are failing. It returns false once ctx is done.
func (l *Loop) wait(ctx context.Context) bool {
	d := l.cycleInterval
	if b := l.failureDelay(l.consecutive.Load()); b > d {
		d = b
	}
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-l.clock.After(d):
		return true
	}
}

// failureDelay is the backoff after n consecutive failures.
func (l *Loop) failureDelay(n uint64) time.Duration {
	if n == 0 || l.backoff <= 0 {
		return 0
	}
	d := l.backoff
	for i := uint64(1); i < n && d < maxFailureBackoff; i++ {
		d *= 2
	}
	return min(d, maxFailureBackoff)
}

// cycle runs one query and publishes its result on success.
func (l *Loop) cycle(ctx context.Context, first bool) {
	qs := l.Settings().QuerySettings(first)
	n := l.cycles.Add(1)

	ctx, span := l.tracer.Start(ctx, "scene.acquire.cycle", trace.WithAttributes(
		attribute.Int64("scene.cycle", int64(n)),
		attribute.String("scene.level_of_detail", qs.LevelOfDetail.String()),
		attribute.Float64("scene.bounding_radius_m", qs.BoundingRadiusMeters),
		attribute.Bool("scene.only_observed", qs.OnlyObservedObjects),
	))
	defer span.End()

	queryCtx := ctx
	if l.queryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, l.queryTimeout)
		defer cancel()
	}

	start := l.clock.Now()
	snap, err := l.observer.Query(queryCtx, qs)
	elapsed := l.clock.Now().Sub(start)

	if ctx.Err() != nil {
		// Stop was requested while the query ran.
		l.discarded.Add(1)
		span.SetAttributes(attribute.Bool("scene.discarded", true))
		return
	}
	if err == nil && snap == nil {
		err = errNilSnapshot
	}
	if err != nil {
		l.statsMu.Lock()
		l.lastErr = err.Error()
		l.lastDuration = elapsed
		l.statsMu.Unlock()
		l.consecutive.Add(1)
		l.failures.Add(1)

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.logger.Printf("[Acquire] cycle %d failed after %v: %v", n, elapsed, err)
		return
	}

	published := l.stamp(snap, qs)
	l.statsMu.Lock()
	l.lastErr = ""
	l.lastSuccess = published.CapturedAt
	l.lastDuration = elapsed
	l.statsMu.Unlock()
	l.consecutive.Store(0)
	l.latest.Store(published)

	span.SetAttributes(
		attribute.Int64("scene.sequence", int64(published.Sequence)),
		attribute.Int("scene.objects", len(published.Objects)),
	)
	if first {
		l.logger.Printf("[Acquire] initial coarse scene: %d objects in %v", len(published.Objects), elapsed)
	}

	l.notify(published)
}

// stamp returns a sequenced copy of snap ready to publish. The copy keeps
// the observer's value untouched, so a reader holding an older pointer
// never sees its fields change.
func (l *Loop) stamp(snap *scene.Snapshot, qs scene.QuerySettings) *scene.Snapshot {
	pub := *snap
	pub.Sequence = l.published.Add(1)
	pub.Settings = qs
	if pub.CapturedAt.IsZero() {
		pub.CapturedAt = l.clock.Now()
	}
	return &pub
}

func (l *Loop) notify(snap *scene.Snapshot) {
	l.subsMu.Lock()
	subs := make([]subscriber, len(l.subs))
	copy(subs, l.subs)
	l.subsMu.Unlock()

	for _, s := range subs {
		s.fn(snap)
	}
}
