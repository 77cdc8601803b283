// Command scene runs the scene acquisition service: it samples the sensing
// layer, maintains the live surface index, records snapshots to SQLite and
// serves the monitor API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/scene.report/internal/config"
	"github.com/banshee-data/scene.report/internal/db"
	"github.com/banshee-data/scene.report/internal/monitoring"
	"github.com/banshee-data/scene.report/internal/scene/acquire"
	"github.com/banshee-data/scene.report/internal/scene/monitor"
	"github.com/banshee-data/scene.report/internal/scene/observation"
	"github.com/banshee-data/scene.report/internal/scene/recorder"
	"github.com/banshee-data/scene.report/internal/scene/storage/sqlite"
	"github.com/banshee-data/scene.report/internal/scene/synthetic"
	"github.com/banshee-data/scene.report/internal/telemetry"
	"github.com/banshee-data/scene.report/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON config file (default: "+config.DefaultConfigPath+" if present)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address (overrides config)")
	dbFile      = flag.String("db", "", "Path to the SQLite database file (overrides config)")
	quietEvents = flag.Bool("quiet-events", false, "Do not log per-surface observation events")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads the config file, then SCENE_* environment overrides,
// then explicit flags.
func loadConfig(path string, overrides map[string]string) (*config.SceneConfig, error) {
	var (
		cfg *config.SceneConfig
		err error
	)
	switch {
	case path != "":
		cfg, err = config.LoadSceneConfig(path)
	case fileExists(config.DefaultConfigPath):
		cfg, err = config.LoadSceneConfig(config.DefaultConfigPath)
	default:
		cfg = config.EmptySceneConfig()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if v, ok := overrides["listen"]; ok {
		cfg.Listen = &v
	}
	if v, ok := overrides["grpc-listen"]; ok {
		cfg.GRPCListen = &v
	}
	if v, ok := overrides["db"]; ok {
		cfg.DBPath = &v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// setFlags returns the values of flags given on the command line.
func setFlags(fs *flag.FlagSet) map[string]string {
	out := make(map[string]string)
	fs.Visit(func(f *flag.Flag) {
		out[f.Name] = f.Value.String()
	})
	return out
}

// service is every long-lived component, wired together.
type service struct {
	cfg      *config.SceneConfig
	db       *db.DB
	loop     *acquire.Loop
	store    *observation.Guarded
	bus      *observation.Bus
	feed     *observation.Feed
	journal  *sqlite.EventJournal
	recorder *recorder.Recorder
	web      *monitor.WebServer
	health   *monitor.HealthServer
	unsub    func()
}

func newService(cfg *config.SceneConfig, d *db.DB, observer acquire.Observer, logger *log.Logger) *service {
	s := &service{cfg: cfg, db: d}

	s.loop = acquire.NewLoop(acquire.Config{
		Observer: observer,
		Settings: acquire.Settings{
			BoundingRadiusMeters: cfg.GetBoundingRadiusMeters(),
			LevelOfDetail:        cfg.GetLevelOfDetail(),
			UseInference:         cfg.GetUseInference(),
		},
		CycleInterval: cfg.GetCycleInterval(),
		QueryTimeout:  cfg.GetQueryTimeout(),
		Logger:        logger,
	})

	s.store = observation.NewGuarded(nil)
	s.journal = sqlite.NewEventJournal(d.DB, logger)
	s.bus = observation.NewBus()
	s.bus.Register(s.store)
	s.bus.Register(s.journal)
	// Reconciliation runs on the feed's goroutine so the journal's writes
	// never delay a query.
	s.feed = observation.NewFeed(observation.NewDiffer(s.bus))
	s.unsub = s.loop.Subscribe(s.feed.Offer)

	snapshots := sqlite.NewSnapshotStore(d.DB)
	s.recorder = recorder.New(recorder.Config{
		Source:         s.loop,
		Sink:           snapshots,
		Interval:       cfg.GetPersistInterval(),
		Retention:      cfg.GetSnapshotRetention(),
		Events:         s.journal,
		EventRetention: cfg.GetEventRetention(),
		Logger:         logger,
	})

	s.web = monitor.NewWebServer(monitor.WebServerConfig{
		Address:  cfg.GetListen(),
		Source:   s.loop,
		Surfaces: s.store,
		Archive:  snapshots,
		Events:   s.journal,
		DB:       d,
		Logger:   logger,
	})
	s.health = monitor.NewHealthServer(monitor.HealthConfig{Source: s.loop, Logger: logger})
	return s
}

// run starts the loop and servers and blocks until ctx is cancelled or a
// server fails.
func (s *service) run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("start acquisition: %w", err)
	}
	defer s.unsub()

	grpcLis, err := net.Listen("tcp", s.cfg.GetGRPCListen())
	if err != nil {
		s.loop.Stop()
		return fmt.Errorf("listen grpc: %w", err)
	}

	var wg sync.WaitGroup
	fail := func(name string, err error) {
		if err != nil {
			log.Printf("%s failed: %v", name, err)
			cancel(fmt.Errorf("%s: %w", name, err))
		}
	}

	wg.Add(4)
	go func() {
		defer wg.Done()
		fail("http server", s.web.Start(ctx))
	}()
	go func() {
		defer wg.Done()
		fail("grpc health", s.health.Serve(ctx, grpcLis))
	}()
	// The recorder and the feed outlive the loop so they see the last
	// published snapshot.
	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()
	go func() {
		defer wg.Done()
		fail("recorder", s.recorder.Run(drainCtx))
	}()
	go func() {
		defer wg.Done()
		fail("observation feed", s.feed.Run(drainCtx))
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	s.loop.Stop()
	stopDrain()
	wg.Wait()

	stats := s.loop.Stats()
	feed := s.feed.Stats()
	log.Printf("acquisition stopped: cycles=%d published=%d failures=%d discarded=%d delivered=%d coalesced=%d journal_failures=%d",
		stats.Cycles, stats.Published, stats.Failures, stats.Discarded, feed.Delivered, feed.Coalesced, s.journal.Failures())

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("scene %s\n", version.String())
		return
	}
	if err := runMain(); err != nil {
		log.Fatalf("scene: %v", err)
	}
}

func runMain() error {
	cfg, err := loadConfig(*configPath, setFlags(flag.CommandLine))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *quietEvents {
		monitoring.SetLogger(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "scene")
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	d, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer d.Close()
	if v, dirty, err := d.MigrateVersion(); err == nil {
		log.Printf("database %s at schema version %d (dirty=%t)", cfg.GetDBPath(), v, dirty)
	}

	observer := synthetic.New(synthetic.Config{
		Seed:         cfg.GetSyntheticSeed(),
		JitterMeters: cfg.GetSyntheticJitter(),
		BaseLatency:  cfg.GetSyntheticLatency(),
		FailEvery:    cfg.GetSyntheticFailEvery(),
	})

	log.Printf("scene %s starting: http=%s grpc=%s radius=%.1fm lod=%s",
		version.Version, cfg.GetListen(), cfg.GetGRPCListen(), cfg.GetBoundingRadiusMeters(), cfg.GetLevelOfDetail())

	return newService(cfg, d, observer, log.Default()).run(ctx)
}
