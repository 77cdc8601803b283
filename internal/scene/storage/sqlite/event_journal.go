package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scene.report/internal/scene"
	"github.com/banshee-data/scene.report/internal/scene/observation"
	"github.com/banshee-data/scene.report/internal/timeutil"
)

// JournalEntry is one recorded surface event.
type JournalEntry struct {
	EventID     int64             `json:"event_id"`
	SurfaceID   int               `json:"surface_id"`
	Kind        string            `json:"kind"`
	SurfaceType scene.SurfaceType `json:"surface_type"`
	Position    *scene.Vec3       `json:"position,omitempty"`
	QuadCount   int               `json:"quad_count"`
	TotalArea   float64           `json:"total_area_m2"`
	RecordedAt  time.Time         `json:"recorded_at"`
}

// EventJournal appends every surface event it receives to
// scene_surface_events. It is an observation.Handler; write failures are
// logged and counted since handlers cannot return errors.
type EventJournal struct {
	db       *sql.DB
	clock    timeutil.Clock
	logger   *log.Logger
	failures atomic.Uint64
}

var _ observation.Handler = (*EventJournal)(nil)

// NewEventJournal creates a journal writing to db. logger may be nil.
func NewEventJournal(db *sql.DB, logger *log.Logger) *EventJournal {
	if logger == nil {
		logger = log.Default()
	}
	return &EventJournal{db: db, clock: timeutil.RealClock{}, logger: logger}
}

func (j *EventJournal) Added(id int, surface scene.SurfaceType, obj *scene.Object) {
	j.record(observation.EventAdded, id, surface, obj)
}

func (j *EventJournal) Updated(id int, surface scene.SurfaceType, obj *scene.Object) {
	j.record(observation.EventUpdated, id, surface, obj)
}

func (j *EventJournal) Removed(id int) {
	j.record(observation.EventRemoved, id, scene.SurfaceUnknown, nil)
}

// Failures returns how many events could not be written.
func (j *EventJournal) Failures() uint64 {
	return j.failures.Load()
}

func (j *EventJournal) record(kind observation.EventKind, id int, surface scene.SurfaceType, obj *scene.Object) {
	var (
		surfaceName   sql.NullString
		x, y, z, area sql.NullFloat64
		quadCount     sql.NullInt64
	)
	if kind != observation.EventRemoved {
		surfaceName = sql.NullString{String: surface.String(), Valid: true}
	}
	if obj != nil {
		x = sql.NullFloat64{Float64: obj.Pose.Position.X, Valid: true}
		y = sql.NullFloat64{Float64: obj.Pose.Position.Y, Valid: true}
		z = sql.NullFloat64{Float64: obj.Pose.Position.Z, Valid: true}
		quadCount = sql.NullInt64{Int64: int64(len(obj.Quads)), Valid: true}
		area = sql.NullFloat64{Float64: obj.TotalArea(), Valid: true}
	}

	_, err := j.db.Exec(`
		INSERT INTO scene_surface_events (
			surface_id, kind, surface_type, pos_x, pos_y, pos_z, quad_count, total_area_m2, recorded_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, kind.String(), surfaceName, x, y, z, quadCount, area, j.clock.Now().UnixNano(),
	)
	if err != nil {
		j.failures.Add(1)
		j.logger.Printf("[Journal] failed to record %s for surface %d: %v", kind, id, err)
	}
}

// ListEvents returns up to limit events for one surface, oldest first.
// A negative surfaceID lists events for every surface, newest first.
func (j *EventJournal) ListEvents(surfaceID, limit int) ([]*JournalEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	const cols = `event_id, surface_id, kind, surface_type, pos_x, pos_y, pos_z, quad_count, total_area_m2, recorded_at_ns`

	var (
		rows *sql.Rows
		err  error
	)
	if surfaceID < 0 {
		rows, err = j.db.Query(`SELECT `+cols+` FROM scene_surface_events ORDER BY event_id DESC LIMIT ?`, limit)
	} else {
		rows, err = j.db.Query(`SELECT `+cols+` FROM scene_surface_events WHERE surface_id = ? ORDER BY event_id ASC LIMIT ?`, surfaceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var entries []*JournalEntry
	for rows.Next() {
		var (
			e           JournalEntry
			surfaceName sql.NullString
			x, y, z     sql.NullFloat64
			quadCount   sql.NullInt64
			area        sql.NullFloat64
			recordedNs  int64
		)
		if err := rows.Scan(&e.EventID, &e.SurfaceID, &e.Kind, &surfaceName, &x, &y, &z, &quadCount, &area, &recordedNs); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if surfaceName.Valid {
			t, err := scene.ParseSurfaceType(surfaceName.String)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", e.EventID, err)
			}
			e.SurfaceType = t
		}
		if x.Valid && y.Valid && z.Valid {
			e.Position = &scene.Vec3{X: x.Float64, Y: y.Float64, Z: z.Float64}
		}
		e.QuadCount = int(quadCount.Int64)
		e.TotalArea = area.Float64
		e.RecordedAt = time.Unix(0, recordedNs).UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return entries, nil
}

// PruneEvents deletes all but the keep most recent events and returns the
// number removed. keep <= 0 disables pruning.
func (j *EventJournal) PruneEvents(keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := j.db.Exec(`
		DELETE FROM scene_surface_events WHERE event_id < (
			SELECT event_id FROM scene_surface_events
			ORDER BY event_id DESC LIMIT 1 OFFSET ?
		)`, keep-1)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return n, nil
}
