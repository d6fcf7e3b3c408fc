package harness

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/store"
)

// Snapshot is the canonical serialization of a scenario's stored rows,
// compared against golden files. Wall-clock columns (created, run times,
// host-signal timestamps) are normalized out so snapshots stay
// byte-identical across runs.
type Snapshot struct {
	Scenario string     `json:"scenario"`
	Events   []eventRow `json:"events"`
	States   []stateRow `json:"states"`
	Runs     []runRow   `json:"runs"`
}

type eventRow struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Data      string `json:"data"`
	Origin    string `json:"origin"`
	TimeFired string `json:"time_fired,omitempty"`
	ContextID string `json:"context_id"`
}

type stateRow struct {
	ID          int64  `json:"id"`
	EntityID    string `json:"entity_id"`
	Domain      string `json:"domain"`
	State       string `json:"state"`
	EventID     int64  `json:"event_id"`
	LastUpdated string `json:"last_updated"`
}

type runRow struct {
	ID              int64 `json:"id"`
	Closed          bool  `json:"closed"`
	ClosedIncorrect bool  `json:"closed_incorrect"`
}

// AssertGolden snapshots the result and compares it to
// testdata/golden/{scenario.Name}.golden.
func AssertGolden(t *testing.T, sc *Scenario, result *Result) {
	t.Helper()

	snap := Snapshot{
		Scenario: sc.Name,
		Events:   []eventRow{},
		States:   []stateRow{},
		Runs:     []runRow{},
	}

	for _, ev := range result.Events {
		data, err := json.Marshal(orEmpty(ev.Data))
		require.NoError(t, err)

		row := eventRow{
			ID:        ev.EventID,
			Type:      ev.Type,
			Data:      string(data),
			Origin:    ev.Origin,
			ContextID: ev.ContextID,
		}
		// Host signal events fire at wall-clock time; leave their
		// timestamps out of the snapshot.
		if ev.Type != event.TypeHostStart && ev.Type != event.TypeHostStop {
			row.TimeFired = ev.TimeFired.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		snap.Events = append(snap.Events, row)
	}

	var states []store.StoredState
	for _, entityStates := range result.States {
		states = append(states, entityStates...)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].StateID < states[j].StateID })
	for _, st := range states {
		snap.States = append(snap.States, stateRow{
			ID:          st.StateID,
			EntityID:    st.EntityID,
			Domain:      st.Domain,
			State:       st.State,
			EventID:     st.EventID,
			LastUpdated: st.LastUpdated.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	for _, run := range result.Runs {
		snap.Runs = append(snap.Runs, runRow{
			ID:              run.RunID,
			Closed:          run.End != nil,
			ClosedIncorrect: run.ClosedIncorrect,
		})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	require.NoError(t, err)
	data = append(data, '\n')

	g := goldie.New(t, goldie.WithFixtureDir(filepath.Join("testdata", "golden")))
	g.Assert(t, sc.Name, data)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
