package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is a recorder run record: a contiguous interval during which the
// pipeline was actively recording. End is nil while the run is open.
type Run struct {
	RunID           int64
	Start           time.Time
	End             *time.Time
	ClosedIncorrect bool
	Created         time.Time
}

// CloseUnfinishedRuns ends every run left open by a prior session.
//
// Each such run gets end = recordingStart and closed_incorrect = true.
// Returns the runs that were recovered so the caller can log them.
// After this call exactly zero runs have a null end.
func (s *Store) CloseUnfinishedRuns(ctx context.Context, recordingStart time.Time) ([]Run, error) {
	rows, err := s.Query(ctx, `
		SELECT run_id, start, created FROM recorder_runs
		WHERE "end" IS NULL
		ORDER BY run_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("find unfinished runs: %w", err)
	}
	defer rows.Close()

	var recovered []Run
	for rows.Next() {
		end := recordingStart
		run := Run{End: &end, ClosedIncorrect: true}
		if err := rows.Scan(&run.RunID, &run.Start, &run.Created); err != nil {
			return nil, fmt.Errorf("scan unfinished run: %w", err)
		}
		recovered = append(recovered, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unfinished runs: %w", err)
	}

	for _, run := range recovered {
		_, err := s.Exec(ctx, `
			UPDATE recorder_runs
			SET "end" = ?, closed_incorrect = ?
			WHERE run_id = ?
		`, recordingStart, true, run.RunID)
		if err != nil {
			return nil, fmt.Errorf("close unfinished run %d: %w", run.RunID, err)
		}
	}

	return recovered, nil
}

// BeginRun inserts a new open run starting at recordingStart.
// The returned record is detached: its fields stay readable for the
// lifetime of the recorder regardless of any session or transaction scope.
func (s *Store) BeginRun(ctx context.Context, recordingStart time.Time) (Run, error) {
	created := time.Now().UTC()

	if s.dialect == DialectPostgres {
		var runID int64
		err := s.db.QueryRowContext(ctx, s.rebind(`
			INSERT INTO recorder_runs (start, created, closed_incorrect)
			VALUES (?, ?, ?)
			RETURNING run_id
		`), recordingStart, created, false).Scan(&runID)
		if err != nil {
			return Run{}, fmt.Errorf("begin run: %w", err)
		}
		return Run{RunID: runID, Start: recordingStart, Created: created}, nil
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO recorder_runs (start, created, closed_incorrect)
		VALUES (?, ?, ?)
	`, recordingStart, created, false)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return Run{}, fmt.Errorf("begin run: last insert id: %w", err)
	}

	return Run{RunID: runID, Start: recordingStart, Created: created}, nil
}

// EndRun closes a run at the given end time.
func (s *Store) EndRun(ctx context.Context, runID int64, end time.Time) error {
	_, err := s.Exec(ctx, `
		UPDATE recorder_runs SET "end" = ? WHERE run_id = ?
	`, end, runID)
	if err != nil {
		return fmt.Errorf("end run %d: %w", runID, err)
	}
	return nil
}

// RunCovering returns a detached copy of the run whose interval strictly
// contains pointInTime, or nil if no closed run covers it. The in-memory
// current run is the caller's concern; this only consults storage.
func (s *Store) RunCovering(ctx context.Context, pointInTime time.Time) (*Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT run_id, start, "end", closed_incorrect, created
		FROM recorder_runs
		WHERE start < ? AND "end" > ?
		ORDER BY start DESC
		LIMIT 1
	`), pointInTime, pointInTime)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run covering %s: %w", pointInTime, err)
	}
	return &run, nil
}

// Runs returns all run records ordered by run_id.
// Used by tests and CLI inspection.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.Query(ctx, `
		SELECT run_id, start, "end", closed_incorrect, created
		FROM recorder_runs
		ORDER BY run_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var end sql.NullTime
	if err := row.Scan(&run.RunID, &run.Start, &end, &run.ClosedIncorrect, &run.Created); err != nil {
		return Run{}, err
	}
	if end.Valid {
		t := end.Time
		run.End = &t
	}
	return run, nil
}
