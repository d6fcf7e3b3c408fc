package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/bus"
	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/filter"
	"github.com/roach88/chronicle/internal/pipeline"
	"github.com/roach88/chronicle/internal/store"
)

// Result is everything a scenario leaves behind for assertions.
type Result struct {
	Events []store.StoredEvent
	States map[string][]store.StoredState
	Runs   []store.Run
}

// RunScenario executes a scenario end to end: real recorder, real queue,
// temporary SQLite database, orderly shutdown. Returns the stored rows
// after the recorder has terminated.
func RunScenario(t *testing.T, sc *Scenario) *Result {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "scenario.db")
	host := bus.New(event.NewFixedGenerator("ctx-host"))
	defer host.Close()

	rec, err := pipeline.New(pipeline.Config{
		URL:      dbPath,
		KeepDays: sc.KeepDays,
		Filter: filter.Config{
			IncludeEntities: sc.Include.Entities,
			IncludeDomains:  sc.Include.Domains,
			ExcludeEntities: sc.Exclude.Entities,
			ExcludeDomains:  sc.Exclude.Domains,
		},
	}, host)
	require.NoError(t, err)

	rec.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, rec.WaitUntilReady(ctx))

	host.Fire(event.TypeHostStart, nil)

	for _, step := range sc.Events {
		host.FireEvent(step.buildEvent())
	}

	rec.Drain()

	// Blocks until the worker has closed the run and the connection.
	host.Fire(event.TypeHostStop, nil)
	require.Equal(t, pipeline.PhaseTerminated, rec.Phase())

	// Reopen read-only now that the worker released the connection.
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	result := &Result{States: make(map[string][]store.StoredState)}

	result.Events, err = st.Events(ctx)
	require.NoError(t, err)

	entities := map[string]struct{}{}
	for _, step := range sc.Events {
		if step.Entity != "" {
			entities[event.NormalizeEntityID(step.Entity)] = struct{}{}
		}
	}
	for entity := range entities {
		states, err := st.StatesForEntity(ctx, entity)
		require.NoError(t, err)
		if len(states) > 0 {
			result.States[entity] = states
		}
	}

	result.Runs, err = st.Runs(ctx)
	require.NoError(t, err)

	return result
}
