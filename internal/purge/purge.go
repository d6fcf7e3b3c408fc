// Package purge deletes recorded data past the configured retention window.
//
// The routine runs inline on the recorder worker when a purge marker is
// dequeued, so its duration directly stalls new-event persistence. Keeping
// each delete bounded is this package's concern, not the pipeline's.
package purge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Store is the slice of the event store the purge routine needs.
// Implemented by *store.Store; queries use ? placeholders in both dialects.
type Store interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Run deletes events, states and closed runs older than keepDays.
//
// Deletion order respects foreign keys: states reference events, so states
// go first and event rows only go once no state references them. Open runs
// are never touched; run deletion only applies to runs that ended before
// the cutoff. Safe to call periodically; re-running with the same cutoff
// is a no-op.
func Run(ctx context.Context, s Store, keepDays int, now time.Time) error {
	cutoff := now.UTC().AddDate(0, 0, -keepDays)
	slog.Info("purging recorded data", "keep_days", keepDays, "cutoff", cutoff)

	states, err := s.Exec(ctx, `
		DELETE FROM states WHERE last_updated < ?
	`, cutoff)
	if err != nil {
		return fmt.Errorf("purge states: %w", err)
	}

	events, err := s.Exec(ctx, `
		DELETE FROM events
		WHERE time_fired < ?
		  AND NOT EXISTS (SELECT 1 FROM states WHERE states.event_id = events.event_id)
	`, cutoff)
	if err != nil {
		return fmt.Errorf("purge events: %w", err)
	}

	runs, err := s.Exec(ctx, `
		DELETE FROM recorder_runs WHERE "end" IS NOT NULL AND "end" < ?
	`, cutoff)
	if err != nil {
		return fmt.Errorf("purge runs: %w", err)
	}

	slog.Info("purge finished",
		"states_deleted", affected(states),
		"events_deleted", affected(events),
		"runs_deleted", affected(runs),
	)
	return nil
}

func affected(r sql.Result) int64 {
	if r == nil {
		return 0
	}
	n, err := r.RowsAffected()
	if err != nil {
		return -1
	}
	return n
}
