package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scene.report/internal/scene"
	"github.com/banshee-data/scene.report/internal/timeutil"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SnapshotRecord describes a stored snapshot without its objects.
type SnapshotRecord struct {
	SnapshotID  string                    `json:"snapshot_id"`
	Sequence    uint64                    `json:"sequence"`
	CapturedAt  time.Time                 `json:"captured_at"`
	Settings    scene.QuerySettings       `json:"settings"`
	ObjectCount int                       `json:"object_count"`
	Counts      map[scene.SurfaceType]int `json:"counts"`
	CreatedAtNs int64                     `json:"created_at_ns"`
}

// StoredSnapshot is a record together with its decoded snapshot.
type StoredSnapshot struct {
	SnapshotRecord
	Snapshot *scene.Snapshot `json:"snapshot"`
}

// SnapshotStore provides persistence for published scene snapshots.
type SnapshotStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db, clock: timeutil.RealClock{}}
}

// InsertSnapshot stores snap under a new UUID and returns the id.
func (s *SnapshotStore) InsertSnapshot(snap *scene.Snapshot) (string, error) {
	if snap == nil {
		return "", errors.New("insert snapshot: nil snapshot")
	}
	blob, err := encodeObjects(snap.Objects)
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	counts, err := json.Marshal(snap.CountByType())
	if err != nil {
		return "", fmt.Errorf("insert snapshot: marshal counts: %w", err)
	}
	settings, err := json.Marshal(snap.Settings)
	if err != nil {
		return "", fmt.Errorf("insert snapshot: marshal settings: %w", err)
	}

	id := uuid.New().String()
	objectCount := 0
	for _, o := range snap.Objects {
		if o != nil {
			objectCount++
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO scene_snapshots (
			snapshot_id, sequence, captured_at_ns, level_of_detail, bounding_radius_m,
			settings_json, object_count, counts_json, objects_blob, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		int64(snap.Sequence),
		snap.CapturedAt.UnixNano(),
		snap.Settings.LevelOfDetail.String(),
		snap.Settings.BoundingRadiusMeters,
		string(settings),
		objectCount,
		string(counts),
		blob,
		s.clock.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

const recordColumns = `snapshot_id, sequence, captured_at_ns, settings_json, object_count, counts_json, created_at_ns`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, extra ...any) (*SnapshotRecord, error) {
	var (
		rec          SnapshotRecord
		seq          int64
		capturedAtNs int64
		settings     string
		counts       string
	)
	dest := append([]any{&rec.SnapshotID, &seq, &capturedAtNs, &settings, &rec.ObjectCount, &counts, &rec.CreatedAtNs}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rec.Sequence = uint64(seq)
	rec.CapturedAt = time.Unix(0, capturedAtNs).UTC()
	if err := json.Unmarshal([]byte(settings), &rec.Settings); err != nil {
		return nil, fmt.Errorf("decode settings for %s: %w", rec.SnapshotID, err)
	}
	if err := json.Unmarshal([]byte(counts), &rec.Counts); err != nil {
		return nil, fmt.Errorf("decode counts for %s: %w", rec.SnapshotID, err)
	}
	return &rec, nil
}

func (s *SnapshotStore) getWhere(query string, args ...any) (*StoredSnapshot, error) {
	var blob []byte
	rec, err := scanRecord(s.db.QueryRow(query, args...), &blob)
	if err != nil {
		return nil, err
	}
	objects, err := decodeObjects(blob)
	if err != nil {
		return nil, err
	}
	return &StoredSnapshot{
		SnapshotRecord: *rec,
		Snapshot: &scene.Snapshot{
			Sequence:   rec.Sequence,
			CapturedAt: rec.CapturedAt,
			Settings:   rec.Settings,
			Objects:    objects,
		},
	}, nil
}

// GetSnapshot retrieves a snapshot by id.
func (s *SnapshotStore) GetSnapshot(id string) (*StoredSnapshot, error) {
	stored, err := s.getWhere(`SELECT `+recordColumns+`, objects_blob FROM scene_snapshots WHERE snapshot_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return stored, nil
}

// LatestSnapshot retrieves the most recently captured snapshot.
func (s *SnapshotStore) LatestSnapshot() (*StoredSnapshot, error) {
	stored, err := s.getWhere(`SELECT ` + recordColumns + `, objects_blob FROM scene_snapshots
		ORDER BY captured_at_ns DESC, created_at_ns DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return stored, nil
}

// ListSnapshots returns up to limit records, newest first. A limit of zero
// or less returns all of them.
func (s *SnapshotStore) ListSnapshots(limit int) ([]*SnapshotRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+recordColumns+` FROM scene_snapshots
		ORDER BY captured_at_ns DESC, created_at_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var records []*SnapshotRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return records, nil
}

// PruneSnapshots deletes all but the keep most recent snapshots and
// returns the number removed. keep <= 0 disables pruning.
func (s *SnapshotStore) PruneSnapshots(keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.Exec(`
		DELETE FROM scene_snapshots WHERE snapshot_id NOT IN (
			SELECT snapshot_id FROM scene_snapshots
			ORDER BY captured_at_ns DESC, created_at_ns DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return n, nil
}
