// Package harness provides a scenario-driven conformance harness for the
// recorder pipeline.
//
// Scenarios are YAML files describing a filter configuration and a
// sequence of bus events with fixed timestamps and context IDs. The
// harness runs a real recorder against a temporary SQLite database, drains
// the queue, performs an orderly shutdown, and snapshots the stored rows.
// Snapshots are compared against golden files in testdata/golden; the
// golden files are the source of truth for expected recorder behavior.
//
// To regenerate golden files after an intentional behavior change:
//
//	go test ./internal/harness -update
package harness
