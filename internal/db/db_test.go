package db

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "scene.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	assert.True(t, tableExists(t, db, "scene_snapshots"))
	assert.True(t, tableExists(t, db, "scene_surface_events"))
}

func TestNewDB_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.db")
	first, err := NewDB(path)
	require.NoError(t, err)
	_, err = first.Exec(`INSERT INTO scene_surface_events (surface_id, kind, recorded_at_ns) VALUES (1, 'added', 1)`)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewDB(path)
	require.NoError(t, err)
	defer second.Close()

	var n int
	require.NoError(t, second.QueryRow(`SELECT COUNT(*) FROM scene_surface_events`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNewDB_InMemory(t *testing.T) {
	db, err := NewDB(":memory:")
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, tableExists(t, db, "scene_snapshots"))
}

func TestApplyPragmas(t *testing.T) {
	db := newTestDB(t)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestApplyPragmas_ClosedDB(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.DB.Close())
	assert.Error(t, applyPragmas(db.DB))
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, tableExists(t, db, "scene_surface_events"))
	assert.True(t, tableExists(t, db, "scene_snapshots"))

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.MigrateUp(), "second up is a no-op")
	assert.True(t, tableExists(t, db, "scene_surface_events"))
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Exec(`INSERT INTO scene_snapshots (snapshot_id, sequence, captured_at_ns, level_of_detail,
		bounding_radius_m, settings_json, object_count, counts_json, objects_blob, created_at_ns)
		VALUES ('a', 1, 42, 'coarse', 10, '{}', 0, '{}', x'', 42)`)
	require.NoError(t, err)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint(2), stats.SchemaVersion)
	assert.Equal(t, int64(1), stats.TableRows["scene_snapshots"])
	assert.Equal(t, int64(0), stats.TableRows["scene_surface_events"])
	assert.Equal(t, int64(42), stats.LatestSnapshotNs)
	assert.Positive(t, stats.SizeBytes)
}

func TestAttachAdminRoutes_Registered(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, endpoint := range []string{"/debug/db-stats", "/debug/backup", "/debug/tailsql/"} {
		t.Run(endpoint, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, endpoint, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			// Debug routes may refuse non-local callers, but must exist.
			assert.NotEqual(t, http.StatusNotFound, w.Code)
			assert.NotEqual(t, http.StatusInternalServerError, w.Code)
		})
	}
}

func TestServeBackup(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Exec(`INSERT INTO scene_surface_events (surface_id, kind, recorded_at_ns) VALUES (7, 'added', 1)`)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	db.serveBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	restored, err := NewDB(path)
	require.NoError(t, err)
	defer restored.Close()

	var surface int
	require.NoError(t, restored.QueryRow(`SELECT surface_id FROM scene_surface_events`).Scan(&surface))
	assert.Equal(t, 7, surface)
}

func TestDatabaseStats_JSON(t *testing.T) {
	stats := DatabaseStats{Path: "x.db", SchemaVersion: 2, TableRows: map[string]int64{"scene_snapshots": 3}}
	b, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"x.db","schema_version":2,"dirty":false,"table_rows":{"scene_snapshots":3},
		"page_count":0,"page_size":0,"size_bytes":0}`, string(b))
}
