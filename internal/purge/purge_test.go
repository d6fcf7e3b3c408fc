package purge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "purge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, store.Migrate(s))
	return s
}

func recordAt(t *testing.T, s *store.Store, entity string, fired time.Time) {
	t.Helper()
	ev := event.NewStateChanged(entity, "on", "", nil, "ctx-"+entity)
	ev.TimeFired = fired
	require.NoError(t, s.RecordEvent(context.Background(), ev))
}

func TestRunDeletesExpiredData(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	recordAt(t, s, "sensor.stale", now.AddDate(0, 0, -30))
	recordAt(t, s, "sensor.fresh", now.AddDate(0, 0, -1))

	// Non-entity event past the window, with no state row referencing it.
	old := event.New(event.TypeServiceCall, nil, "ctx-old-call")
	old.TimeFired = now.AddDate(0, 0, -30)
	require.NoError(t, s.RecordEvent(ctx, old))

	require.NoError(t, Run(ctx, s, 7, now))

	states, err := s.StatesForEntity(ctx, "sensor.stale")
	require.NoError(t, err)
	assert.Empty(t, states)

	states, err = s.StatesForEntity(ctx, "sensor.fresh")
	require.NoError(t, err)
	assert.Len(t, states, 1)

	events, err := s.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ctx-sensor.fresh", events[0].ContextID)
}

func TestRunKeepsEventsReferencedByLiveStates(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	// Event fired past the window, but its state row was updated inside it;
	// the state survives, so the event must too.
	ev := event.NewStateChanged("sensor.mixed", "on", "", nil, "ctx-mixed")
	ev.TimeFired = now.AddDate(0, 0, -30)
	require.NoError(t, s.RecordEvent(ctx, ev))
	_, err := s.Exec(ctx, `UPDATE states SET last_updated = ? WHERE entity_id = ?`,
		now.AddDate(0, 0, -1), "sensor.mixed")
	require.NoError(t, err)

	require.NoError(t, Run(ctx, s, 7, now))

	n, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunDeletesExpiredClosedRuns(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	// Closed long before the cutoff: deleted.
	expired, err := s.BeginRun(ctx, now.AddDate(0, 0, -40))
	require.NoError(t, err)
	require.NoError(t, s.EndRun(ctx, expired.RunID, now.AddDate(0, 0, -39)))

	// Closed inside the window: kept.
	recent, err := s.BeginRun(ctx, now.AddDate(0, 0, -3))
	require.NoError(t, err)
	require.NoError(t, s.EndRun(ctx, recent.RunID, now.AddDate(0, 0, -2)))

	// Still open, however old: never touched.
	open, err := s.BeginRun(ctx, now.AddDate(0, 0, -40))
	require.NoError(t, err)

	require.NoError(t, Run(ctx, s, 7, now))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, recent.RunID, runs[0].RunID)
	assert.Equal(t, open.RunID, runs[1].RunID)
	assert.Nil(t, runs[1].End)
}

func TestRunIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	recordAt(t, s, "sensor.stale", now.AddDate(0, 0, -30))
	recordAt(t, s, "sensor.fresh", now.AddDate(0, 0, -1))

	require.NoError(t, Run(ctx, s, 7, now))
	require.NoError(t, Run(ctx, s, 7, now))

	n, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
