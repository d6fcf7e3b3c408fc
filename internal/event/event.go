// Package event defines the domain event model consumed by the recorder
// pipeline: generic bus events, entity state-change events, and the
// well-known signal events exchanged with the host.
package event

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Well-known event types.
const (
	// TypeStateChanged carries an entity identifier plus old/new state.
	TypeStateChanged = "state_changed"
	// TypeTimeChanged is the periodic clock tick. It carries no persistable
	// payload and is dropped by the recorder before filtering.
	TypeTimeChanged = "time_changed"
	// TypeHostStart is fired by the host once it has fully started.
	TypeHostStart = "host_start"
	// TypeHostStop is fired by the host when it begins shutting down.
	TypeHostStop = "host_stop"
	// TypeServiceCall is fired for service invocations; recorded like any
	// other non-entity event.
	TypeServiceCall = "service_call"
)

// Origin identifies where an event entered the system.
type Origin string

const (
	// OriginLocal marks events produced by the host process itself.
	OriginLocal Origin = "LOCAL"
	// OriginRemote marks events injected from outside the host process.
	OriginRemote Origin = "REMOTE"
)

// DataEntityID is the data key carrying the entity identifier, when present.
const DataEntityID = "entity_id"

// Event is a single occurrence on the host bus.
//
// Events are immutable once fired: producers build them via New or
// NewStateChanged and consumers only read them. The recorder relies on this
// to share events across the producer and worker goroutines without copying.
type Event struct {
	Type      string
	Data      map[string]any
	Origin    Origin
	TimeFired time.Time
	// ContextID correlates the event with the action that caused it.
	// UUIDv7 in production; fixed strings in tests.
	ContextID string
}

// New builds an event fired now with the given type and payload.
// The data map is used as-is; callers must not mutate it afterwards.
func New(eventType string, data map[string]any, ctxID string) Event {
	return Event{
		Type:      eventType,
		Data:      data,
		Origin:    OriginLocal,
		TimeFired: time.Now().UTC(),
		ContextID: ctxID,
	}
}

// NewStateChanged builds a state_changed event for an entity.
// oldState may be empty for the first state an entity ever reports.
func NewStateChanged(entityID, newState, oldState string, attributes map[string]any, ctxID string) Event {
	data := map[string]any{
		DataEntityID: NormalizeEntityID(entityID),
		"new_state":  newState,
	}
	if oldState != "" {
		data["old_state"] = oldState
	}
	if attributes != nil {
		data["attributes"] = attributes
	}
	return New(TypeStateChanged, data, ctxID)
}

// EntityID returns the entity identifier carried in the event data,
// normalized to NFC, and whether one is present. Events without an entity
// identifier are never subject to include/exclude filtering.
func (e Event) EntityID() (string, bool) {
	raw, ok := e.Data[DataEntityID]
	if !ok {
		return "", false
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return "", false
	}
	return NormalizeEntityID(id), true
}

// IsTimeTick reports whether this is the periodic clock tick.
func (e Event) IsTimeTick() bool {
	return e.Type == TypeTimeChanged
}

// IsStateChanged reports whether this is an entity state-change event.
func (e Event) IsStateChanged() bool {
	return e.Type == TypeStateChanged
}

// NormalizeEntityID lowercases and NFC-normalizes an entity identifier so
// that filter membership checks and stored rows agree on one spelling.
func NormalizeEntityID(id string) string {
	return norm.NFC.String(strings.ToLower(strings.TrimSpace(id)))
}

// SplitEntityID splits "domain.object" into its domain and object parts.
// An identifier without a dot is treated as all domain.
func SplitEntityID(entityID string) (domain, object string) {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[:i], entityID[i+1:]
	}
	return entityID, ""
}

// Domain returns the domain part of an entity identifier.
func Domain(entityID string) string {
	d, _ := SplitEntityID(entityID)
	return d
}
