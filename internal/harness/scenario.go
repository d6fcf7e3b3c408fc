package harness

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/chronicle/internal/event"
)

// Scenario defines a recorder conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; it doubles as the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// KeepDays is the retention window; scenarios leave it at 0 unless
	// they exercise purging.
	KeepDays int `yaml:"keep_days,omitempty"`

	// Include/Exclude are the filter lists under test.
	Include FilterLists `yaml:"include,omitempty"`
	Exclude FilterLists `yaml:"exclude,omitempty"`

	// Events is the bus event sequence, fired in order.
	Events []EventStep `yaml:"events"`
}

// FilterLists mirrors the config file's include/exclude shape.
type FilterLists struct {
	Entities []string `yaml:"entities,omitempty"`
	Domains  []string `yaml:"domains,omitempty"`
}

// EventStep is one event fired on the bus.
type EventStep struct {
	// Type is the event type; state_changed steps may instead set Entity.
	Type string `yaml:"type,omitempty"`

	// Entity, when set, makes this a state_changed step for that entity.
	Entity string `yaml:"entity,omitempty"`
	State  string `yaml:"state,omitempty"`

	// Data is the payload for non-entity events.
	Data map[string]any `yaml:"data,omitempty"`

	// TimeFired is an RFC3339 timestamp; fixed so snapshots are
	// deterministic.
	TimeFired string `yaml:"time_fired"`

	// ContextID is the fixed context ID for this event.
	ContextID string `yaml:"context_id"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s: missing name", path)
	}
	if len(sc.Events) == 0 {
		return nil, fmt.Errorf("scenario %s: no events", path)
	}
	for i, step := range sc.Events {
		if step.Type == "" && step.Entity == "" {
			return nil, fmt.Errorf("scenario %s: event %d has neither type nor entity", path, i)
		}
		if _, err := time.Parse(time.RFC3339, step.TimeFired); err != nil {
			return nil, fmt.Errorf("scenario %s: event %d: bad time_fired: %w", path, i, err)
		}
	}
	return &sc, nil
}

// buildEvent converts a step into the bus event it describes.
func (s EventStep) buildEvent() event.Event {
	fired, _ := time.Parse(time.RFC3339, s.TimeFired)

	if s.Entity != "" {
		ev := event.NewStateChanged(s.Entity, s.State, "", nil, s.ContextID)
		ev.TimeFired = fired.UTC()
		return ev
	}

	ev := event.New(s.Type, s.Data, s.ContextID)
	ev.TimeFired = fired.UTC()
	return ev
}
