package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/chronicle/internal/event"
)

// RecordEvent durably persists one accepted event.
//
// One transaction boundary = one event: the event row and, for state-change
// events, the linked state row commit or roll back together. There is no
// batching across events.
//
// Time-tick events are the caller's concern; the recorder drops them before
// they reach the store.
func (s *Store) RecordEvent(ctx context.Context, ev event.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	eventID, err := s.insertEvent(ctx, tx, ev)
	if err != nil {
		return err
	}

	if ev.IsStateChanged() {
		if err := s.insertState(ctx, tx, ev, eventID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record event: commit: %w", err)
	}

	return nil
}

// insertEvent writes the event row and returns its generated ID.
// Postgres has no LastInsertId, so the ID comes back via RETURNING there.
func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, ev event.Event) (int64, error) {
	dataJSON, err := marshalPayload(ev.Data)
	if err != nil {
		return 0, fmt.Errorf("record event: %w", err)
	}

	created := time.Now().UTC()

	if s.dialect == DialectPostgres {
		var eventID int64
		err := tx.QueryRowContext(ctx, s.rebind(`
			INSERT INTO events (event_type, event_data, origin, time_fired, created, context_id)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING event_id
		`),
			ev.Type, dataJSON, string(ev.Origin), ev.TimeFired, created, ev.ContextID,
		).Scan(&eventID)
		if err != nil {
			return 0, fmt.Errorf("record event: insert event: %w", err)
		}
		return eventID, nil
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_type, event_data, origin, time_fired, created, context_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		ev.Type, dataJSON, string(ev.Origin), ev.TimeFired, created, ev.ContextID,
	)
	if err != nil {
		return 0, fmt.Errorf("record event: insert event: %w", err)
	}

	eventID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record event: last insert id: %w", err)
	}
	return eventID, nil
}

// insertState writes the state row linked to an already-inserted event row.
func (s *Store) insertState(ctx context.Context, tx *sql.Tx, ev event.Event, eventID int64) error {
	entityID, ok := ev.EntityID()
	if !ok {
		return fmt.Errorf("record event: state_changed event without entity_id")
	}

	state, _ := ev.Data["new_state"].(string)
	attributes, _ := ev.Data["attributes"].(map[string]any)

	attrJSON, err := marshalPayload(attributes)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO states
		(domain, entity_id, state, attributes, event_id, last_changed, last_updated, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		event.Domain(entityID),
		entityID,
		state,
		attrJSON,
		eventID,
		ev.TimeFired,
		ev.TimeFired,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record event: insert state: %w", err)
	}

	return nil
}
