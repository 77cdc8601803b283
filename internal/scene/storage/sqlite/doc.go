// Package sqlite persists scene snapshots and the surface event journal.
//
// Stores take a *sql.DB already migrated by internal/db. Snapshot objects
// are kept as a gob+gzip blob; the columns beside it carry what the debug
// SQL console needs to browse history without decoding.
package sqlite
