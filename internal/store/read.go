package store

import (
	"context"
	"fmt"
	"time"
)

// StoredEvent is a durable event row.
type StoredEvent struct {
	EventID   int64
	Type      string
	Data      map[string]any
	Origin    string
	TimeFired time.Time
	Created   time.Time
	ContextID string
}

// StoredState is a durable entity state row, linked to exactly one event.
type StoredState struct {
	StateID     int64
	Domain      string
	EntityID    string
	State       string
	Attributes  map[string]any
	EventID     int64
	LastChanged time.Time
	LastUpdated time.Time
	Created     time.Time
}

// Events returns all stored events in insertion order.
// Used by tests and CLI inspection; the hot path never reads events back.
func (s *Store) Events(ctx context.Context) ([]StoredEvent, error) {
	rows, err := s.Query(ctx, `
		SELECT event_id, event_type, event_data, origin, time_fired, created, context_id
		FROM events
		ORDER BY event_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var dataJSON string
		if err := rows.Scan(&ev.EventID, &ev.Type, &dataJSON, &ev.Origin, &ev.TimeFired, &ev.Created, &ev.ContextID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Data, err = unmarshalPayload(dataJSON); err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.EventID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// StatesForEntity returns the stored states of one entity in insertion order.
func (s *Store) StatesForEntity(ctx context.Context, entityID string) ([]StoredState, error) {
	rows, err := s.Query(ctx, `
		SELECT state_id, domain, entity_id, state, attributes, event_id,
		       last_changed, last_updated, created
		FROM states
		WHERE entity_id = ?
		ORDER BY state_id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list states for %s: %w", entityID, err)
	}
	defer rows.Close()

	var states []StoredState
	for rows.Next() {
		var st StoredState
		var attrJSON string
		if err := rows.Scan(&st.StateID, &st.Domain, &st.EntityID, &st.State, &attrJSON,
			&st.EventID, &st.LastChanged, &st.LastUpdated, &st.Created); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		if st.Attributes, err = unmarshalPayload(attrJSON); err != nil {
			return nil, fmt.Errorf("state %d: %w", st.StateID, err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// CountEvents returns the number of stored event rows.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// CountStates returns the number of stored state rows.
func (s *Store) CountStates(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM states`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count states: %w", err)
	}
	return count, nil
}
