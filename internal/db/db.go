// Package db opens the scene database, keeps its schema current and
// exposes the SQL debugging routes.
package db

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
	path string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// NewDB opens (creating if needed) the database at path and migrates it to
// the latest schema. ":memory:" gives a private in-memory database.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if isMemory(path) {
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func applyPragmas(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return nil
}

// DatabaseStats is served on /debug/db-stats.
type DatabaseStats struct {
	Path             string           `json:"path"`
	SchemaVersion    uint             `json:"schema_version"`
	Dirty            bool             `json:"dirty"`
	TableRows        map[string]int64 `json:"table_rows"`
	PageCount        int64            `json:"page_count"`
	PageSize         int64            `json:"page_size"`
	SizeBytes        int64            `json:"size_bytes"`
	LatestSnapshotNs int64            `json:"latest_snapshot_ns,omitempty"`
}

var statTables = []string{"scene_snapshots", "scene_surface_events"}

// Stats summarises table sizes and schema state.
func (db *DB) Stats() (*DatabaseStats, error) {
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return nil, err
	}
	stats := &DatabaseStats{
		Path:          db.path,
		SchemaVersion: version,
		Dirty:         dirty,
		TableRows:     make(map[string]int64, len(statTables)),
	}
	for _, table := range statTables {
		var n int64
		// Table names come from the fixed list above.
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats.TableRows[table] = n
	}
	if err := db.QueryRow("PRAGMA page_count").Scan(&stats.PageCount); err != nil {
		return nil, fmt.Errorf("page_count: %w", err)
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&stats.PageSize); err != nil {
		return nil, fmt.Errorf("page_size: %w", err)
	}
	stats.SizeBytes = stats.PageCount * stats.PageSize

	var latest sql.NullInt64
	if err := db.QueryRow("SELECT MAX(captured_at_ns) FROM scene_snapshots").Scan(&latest); err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	stats.LatestSnapshotNs = latest.Int64
	return stats, nil
}

// AttachAdminRoutes mounts the tsweb debug index with tailsql, a stats
// endpoint and an on-demand backup under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://scene.db", db.DB, &tailsql.DBOptions{
		Label: "Scene DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-stats", "Table sizes and schema version", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.Stats()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read stats: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			log.Printf("[DB] failed to encode stats: %v", err)
		}
	}))

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "scene-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[DB] failed to remove backup dir: %v", err)
		}
	}()

	name := fmt.Sprintf("scene-backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		log.Printf("[DB] backup copy failed: %v", err)
	}
}
