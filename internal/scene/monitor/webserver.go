// Package monitor exposes the live scene over HTTP and gRPC health.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/scene.report/internal/db"
	"github.com/banshee-data/scene.report/internal/httputil"
	"github.com/banshee-data/scene.report/internal/scene"
	"github.com/banshee-data/scene.report/internal/scene/acquire"
	"github.com/banshee-data/scene.report/internal/scene/observation"
	"github.com/banshee-data/scene.report/internal/scene/storage/sqlite"
	"github.com/banshee-data/scene.report/internal/timeutil"
)

// SceneSource is the acquisition loop as seen by the monitor.
type SceneSource interface {
	Latest() *scene.Snapshot
	Stats() acquire.Stats
	Settings() acquire.Settings
	SetSettings(acquire.Settings)
}

// SurfaceIndex is the read side of the observation store.
type SurfaceIndex interface {
	Entry(id int) (observation.Entry, bool)
	Entries(types ...scene.SurfaceType) []observation.Entry
	Counts() map[scene.SurfaceType]int
	Len() int
}

// SnapshotArchive lists persisted snapshots.
type SnapshotArchive interface {
	ListSnapshots(limit int) ([]*sqlite.SnapshotRecord, error)
	GetSnapshot(id string) (*sqlite.StoredSnapshot, error)
}

// EventLog lists journalled surface events.
type EventLog interface {
	ListEvents(surfaceID, limit int) ([]*sqlite.JournalEntry, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	// Source is required.
	Source SceneSource
	// Surfaces, Archive, Events and DB are optional; their endpoints
	// answer 404 when absent.
	Surfaces SurfaceIndex
	Archive  SnapshotArchive
	Events   EventLog
	DB       *db.DB
	// Clock is optional; if nil, uses timeutil.RealClock.
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// WebServer serves the scene API and debug pages.
type WebServer struct {
	address  string
	source   SceneSource
	surfaces SurfaceIndex
	archive  SnapshotArchive
	events   EventLog
	db       *db.DB
	clock    timeutil.Clock
	logger   *log.Logger
	server   *http.Server
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(cfg WebServerConfig) *WebServer {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	ws := &WebServer{
		address:  cfg.Address,
		source:   cfg.Source,
		surfaces: cfg.Surfaces,
		archive:  cfg.Archive,
		events:   cfg.Events,
		db:       cfg.DB,
		clock:    clock,
		logger:   logger,
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Handler returns the route table. Exposed for tests and for embedding.
func (ws *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/scene/latest", ws.handleLatest)
	mux.HandleFunc("/api/scene/surfaces", ws.handleSurfaces)
	mux.HandleFunc("/api/scene/surfaces/{id}", ws.handleSurface)
	mux.HandleFunc("/api/scene/stats", ws.handleStats)
	mux.HandleFunc("/api/scene/settings", ws.handleSettings)
	mux.HandleFunc("/api/scene/snapshots", ws.handleSnapshots)
	mux.HandleFunc("/api/scene/events", ws.handleEvents)
	mux.HandleFunc("/debug/scene/chart", ws.handleChart)
	mux.HandleFunc("/debug/scene/plan.png", ws.handlePlan)

	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux); err != nil {
			ws.logger.Printf("[Monitor] admin routes unavailable: %v", err)
		}
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", ws.address, err)
	}
	return ws.Serve(ctx, lis)
}

// Serve is Start on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, lis net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		ws.logger.Printf("[Monitor] HTTP server listening on %s", lis.Addr())
		serveErr <- ws.server.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	ws.logger.Printf("[Monitor] shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		ws.logger.Printf("[Monitor] HTTP shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			ws.logger.Printf("[Monitor] HTTP force close error: %v", err)
		}
	}
	<-serveErr
	return nil
}

type healthResponse struct {
	Status              string    `json:"status"`
	Service             string    `json:"service"`
	Running             bool      `json:"running"`
	LastSequence        uint64    `json:"last_sequence"`
	ConsecutiveFailures uint64    `json:"consecutive_failures"`
	Timestamp           time.Time `json:"timestamp"`
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := ws.source.Stats()
	status := "ok"
	if !Healthy(stats) {
		status = "degraded"
	}
	httputil.WriteJSONOK(w, healthResponse{
		Status:              status,
		Service:             "scene",
		Running:             stats.Running,
		LastSequence:        stats.LastSequence,
		ConsecutiveFailures: stats.ConsecutiveFailures,
		Timestamp:           ws.clock.Now().UTC(),
	})
}

func (ws *WebServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := ws.source.Latest()
	if snap == nil {
		httputil.ServiceUnavailable(w, "no scene published yet")
		return
	}
	httputil.WriteJSONOK(w, snap)
}

type surfacesResponse struct {
	Count    int                 `json:"count"`
	Surfaces []observation.Entry `json:"surfaces"`
}

// handleSurfaces lists tracked surfaces with their update counts.
// Query params:
//
//	type (optional) surface type name, e.g. "wall"
func (ws *WebServer) handleSurfaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.surfaces == nil {
		httputil.NotFound(w, "no surface index configured")
		return
	}

	var types []scene.SurfaceType
	if name := r.URL.Query().Get("type"); name != "" {
		t, err := scene.ParseSurfaceType(name)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		types = []scene.SurfaceType{t}
	}

	entries := ws.surfaces.Entries(types...)
	httputil.WriteJSONOK(w, surfacesResponse{Count: len(entries), Surfaces: entries})
}

func (ws *WebServer) handleSurface(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.surfaces == nil {
		httputil.NotFound(w, "no surface index configured")
		return
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, "invalid surface id")
		return
	}
	e, ok := ws.surfaces.Entry(id)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("surface %d is not tracked", id))
		return
	}
	httputil.WriteJSONOK(w, e)
}

type statsResponse struct {
	Loop     acquire.Stats             `json:"loop"`
	Tracked  int                       `json:"tracked"`
	Counts   map[scene.SurfaceType]int `json:"counts"`
	Surfaces SceneStats                `json:"surfaces"`
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := statsResponse{
		Loop:     ws.source.Stats(),
		Counts:   map[scene.SurfaceType]int{},
		Surfaces: ComputeSceneStats(ws.source.Latest()),
	}
	if ws.surfaces != nil {
		resp.Tracked = ws.surfaces.Len()
		resp.Counts = ws.surfaces.Counts()
	}
	httputil.WriteJSONOK(w, resp)
}

// settingsUpdate is a partial update; absent fields keep their value.
type settingsUpdate struct {
	BoundingRadiusMeters *float64             `json:"bounding_radius_meters"`
	LevelOfDetail        *scene.LevelOfDetail `json:"level_of_detail"`
	UseInference         *bool                `json:"use_inference"`
}

type settingsResponse struct {
	Settings acquire.Settings    `json:"settings"`
	Query    scene.QuerySettings `json:"query"`
}

func (ws *WebServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var upd settingsUpdate
		if err := httputil.DecodeJSON(r, &upd); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		s := ws.source.Settings()
		// Any radius is stored as given; each cycle clamps it.
		if upd.BoundingRadiusMeters != nil {
			s.BoundingRadiusMeters = *upd.BoundingRadiusMeters
		}
		if upd.LevelOfDetail != nil {
			s.LevelOfDetail = *upd.LevelOfDetail
		}
		if upd.UseInference != nil {
			s.UseInference = *upd.UseInference
		}
		ws.source.SetSettings(s)
		ws.logger.Printf("[Monitor] settings updated: radius=%.1fm lod=%s inference=%t",
			s.BoundingRadiusMeters, s.LevelOfDetail, s.UseInference)
	default:
		httputil.MethodNotAllowed(w)
		return
	}
	s := ws.source.Settings()
	httputil.WriteJSONOK(w, settingsResponse{Settings: s, Query: s.QuerySettings(false)})
}

// handleSnapshots lists persisted snapshots, newest first, or returns one.
// Query params:
//
//	id (optional) snapshot id; returns the decoded snapshot
//	limit (optional, default 20, max 500)
func (ws *WebServer) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.archive == nil {
		httputil.NotFound(w, "no snapshot archive configured")
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		stored, err := ws.archive.GetSnapshot(id)
		if errors.Is(err, sqlite.ErrNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("get snapshot: %v", err))
			return
		}
		httputil.WriteJSONOK(w, stored)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	records, err := ws.archive.ListSnapshots(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list snapshots: %v", err))
		return
	}
	if records == nil {
		records = []*sqlite.SnapshotRecord{}
	}
	httputil.WriteJSONOK(w, records)
}

// handleEvents lists journalled surface events.
// Query params:
//
//	surface_id (optional) restricts to one surface, oldest first
//	limit (optional, default 20, max 500)
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.events == nil {
		httputil.NotFound(w, "no event journal configured")
		return
	}
	surfaceID := -1
	if v := r.URL.Query().Get("surface_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 0 {
			httputil.BadRequest(w, "invalid surface_id")
			return
		}
		surfaceID = id
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	entries, err := ws.events.ListEvents(surfaceID, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list events: %v", err))
		return
	}
	if entries == nil {
		entries = []*sqlite.JournalEntry{}
	}
	httputil.WriteJSONOK(w, entries)
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}
