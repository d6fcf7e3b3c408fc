// Package store provides SQL-backed durable storage for the recorder.
//
// The store persists an append-only event log with:
//   - Events: one row per accepted bus event
//   - States: entity state snapshots, each linked to exactly one event row
//   - Recorder runs: start/end markers of contiguous recording sessions
//
// Two database/sql drivers are supported, selected from the connection URL:
// sqlite (mattn/go-sqlite3, the default) and postgres (pgx stdlib). Queries
// are written with ? placeholders and rebound for postgres at execution.
//
// # Ownership
//
// The recorder worker goroutine exclusively owns the live *Store while the
// pipeline is running. SQLite is additionally configured with a single
// connection, WAL mode and a busy timeout so concurrent readers (CLI
// inspection, tests) do not trip SQLITE_BUSY.
package store
