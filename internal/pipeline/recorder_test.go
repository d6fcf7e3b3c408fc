package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/bus"
	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/filter"
	"github.com/roach88/chronicle/internal/store"
)

type captureNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *captureNotifier) Notify(message, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *captureNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// startSession spins up a recorder against a temp SQLite file and waits for
// readiness. The caller fires host signals and events.
func startSession(t *testing.T, cfg Config, opts ...Option) (*Recorder, *bus.Bus, string) {
	t.Helper()

	if cfg.URL == "" {
		cfg.URL = filepath.Join(t.TempDir(), "recorder.db")
	}
	host := bus.New(event.NewFixedGenerator("ctx-host"))
	t.Cleanup(host.Close)

	rec, err := New(cfg, host, opts...)
	require.NoError(t, err)
	rec.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, rec.WaitUntilReady(ctx))

	return rec, host, cfg.URL
}

func reopen(t *testing.T, url string) *store.Store {
	t.Helper()
	st, err := store.Open(url)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRecorderSessionPersistsEvents(t *testing.T) {
	rec, host, url := startSession(t, Config{})
	ctx := context.Background()

	host.Fire(event.TypeHostStart, nil)
	host.FireEvent(event.NewStateChanged("light.kitchen", "on", "", nil, "ctx-1"))
	host.Fire(event.TypeTimeChanged, nil)

	rec.Drain()
	assert.Equal(t, 0, rec.QueueLen())
	assert.Equal(t, PhaseConsuming, rec.Phase())

	// Blocks until the worker has terminated.
	host.Fire(event.TypeHostStop, nil)
	assert.Equal(t, PhaseTerminated, rec.Phase())

	st := reopen(t, url)

	events, err := st.Events(ctx)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	// The time tick is dropped before persistence.
	assert.Equal(t, []string{event.TypeHostStart, event.TypeStateChanged, event.TypeHostStop}, types)

	states, err := st.StatesForEntity(ctx, "light.kitchen")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "on", states[0].State)
	assert.Equal(t, "light", states[0].Domain)

	runs, err := st.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotNil(t, runs[0].End)
	assert.False(t, runs[0].ClosedIncorrect)
}

func TestRecorderAppliesFilter(t *testing.T) {
	rec, host, url := startSession(t, Config{
		Filter: filter.Config{ExcludeDomains: []string{"light"}},
	})
	ctx := context.Background()

	host.Fire(event.TypeHostStart, nil)
	host.FireEvent(event.NewStateChanged("light.hallway", "on", "", nil, "ctx-1"))
	host.FireEvent(event.NewStateChanged("sensor.temperature", "20", "", nil, "ctx-2"))

	rec.Drain()
	host.Fire(event.TypeHostStop, nil)

	st := reopen(t, url)

	states, err := st.StatesForEntity(ctx, "light.hallway")
	require.NoError(t, err)
	assert.Empty(t, states)

	states, err = st.StatesForEntity(ctx, "sensor.temperature")
	require.NoError(t, err)
	assert.Len(t, states, 1)
}

func TestRecorderRecoversUnfinishedRun(t *testing.T) {
	url := filepath.Join(t.TempDir(), "recorder.db")
	ctx := context.Background()

	// Simulate a crashed prior session: an open run nothing ever closed.
	prior, err := store.Open(url)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(prior))
	_, err = prior.BeginRun(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, prior.Close())

	rec, host, _ := startSession(t, Config{URL: url})
	host.Fire(event.TypeHostStart, nil)
	host.Fire(event.TypeHostStop, nil)

	st := reopen(t, url)
	runs, err := st.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	crashed, current := runs[0], runs[1]
	assert.True(t, crashed.ClosedIncorrect)
	require.NotNil(t, crashed.End)
	assert.WithinDuration(t, rec.RecordingStart(), *crashed.End, time.Second)

	assert.False(t, current.ClosedIncorrect)
	assert.NotNil(t, current.End)
}

func TestRecorderShutdownBeforeHostStart(t *testing.T) {
	rec, host, url := startSession(t, Config{})
	ctx := context.Background()

	// Host shuts down without ever reporting started.
	host.Fire(event.TypeHostStop, nil)

	rec.Join()
	assert.Equal(t, PhaseTerminated, rec.Phase())

	// The run is left open for the next session to recover.
	st := reopen(t, url)
	runs, err := st.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].End)

	events, err := st.Events(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecorderConnectRetryExhaustion(t *testing.T) {
	// Parent directory does not exist, so every open attempt fails.
	url := filepath.Join(t.TempDir(), "missing", "nested", "recorder.db")
	host := bus.New(nil)
	defer host.Close()

	notifier := &captureNotifier{}
	rec, err := New(Config{URL: url}, host,
		WithNotifier(notifier),
		WithConnectRetry(2, time.Millisecond),
	)
	require.NoError(t, err)

	rec.Start()
	rec.Join()

	assert.Equal(t, PhaseFailedFatally, rec.Phase())

	messages := notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "could not start")

	err = rec.WaitUntilReady(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminated before becoming ready")
}

func TestRecorderRunCovering(t *testing.T) {
	url := filepath.Join(t.TempDir(), "recorder.db")
	ctx := context.Background()

	// Prior closed run covering [t0, t1].
	t0 := time.Now().UTC().Add(-3 * time.Hour)
	t1 := time.Now().UTC().Add(-1 * time.Hour)
	prior, err := store.Open(url)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(prior))
	priorRun, err := prior.BeginRun(ctx, t0)
	require.NoError(t, err)
	require.NoError(t, prior.EndRun(ctx, priorRun.RunID, t1))
	require.NoError(t, prior.Close())

	rec, host, _ := startSession(t, Config{URL: url})
	host.Fire(event.TypeHostStart, nil)

	// Nil point resolves to the in-memory current run.
	current, err := rec.RunCovering(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Nil(t, current.End)
	assert.NotEqual(t, priorRun.RunID, current.RunID)

	// A point after the recording start does too.
	future := time.Now().UTC().Add(time.Hour)
	got, err := rec.RunCovering(ctx, &future)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, current.RunID, got.RunID)

	// A point inside the prior run's interval resolves from storage.
	inside := time.Now().UTC().Add(-2 * time.Hour)
	got, err = rec.RunCovering(ctx, &inside)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, priorRun.RunID, got.RunID)

	// A point before any run resolves to nothing.
	before := t0.Add(-time.Hour)
	got, err = rec.RunCovering(ctx, &before)
	require.NoError(t, err)
	assert.Nil(t, got)

	host.Fire(event.TypeHostStop, nil)
}

func TestRecorderRunCoveringWhileConnecting(t *testing.T) {
	// Connection attempts keep failing, so the store never materializes.
	url := filepath.Join(t.TempDir(), "missing", "nested", "recorder.db")
	host := bus.New(nil)
	defer host.Close()

	rec, err := New(Config{URL: url}, host, WithConnectRetry(3, 20*time.Millisecond))
	require.NoError(t, err)
	rec.Start()

	past := rec.RecordingStart().Add(-time.Hour)
	_, err = rec.RunCovering(context.Background(), &past)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage not connected")

	// The in-memory path still degrades to no-run rather than an error.
	got, err := rec.RunCovering(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	rec.Join()
}

func TestRecorderRunCoveringAfterShutdown(t *testing.T) {
	rec, host, _ := startSession(t, Config{})

	host.Fire(event.TypeHostStart, nil)
	host.Fire(event.TypeHostStop, nil)

	past := rec.RecordingStart().Add(-time.Hour)
	_, err := rec.RunCovering(context.Background(), &past)
	assert.Error(t, err)
}

func TestRecorderRejectsEventsAfterShutdown(t *testing.T) {
	rec, host, _ := startSession(t, Config{})

	host.Fire(event.TypeHostStart, nil)
	host.Fire(event.TypeHostStop, nil)

	host.FireEvent(event.NewStateChanged("light.kitchen", "on", "", nil, "ctx-late"))
	assert.Equal(t, 0, rec.QueueLen())

	done := make(chan struct{})
	go func() {
		rec.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain blocked after shutdown")
	}
}

func TestRecorderFatalFailureReleasesDrain(t *testing.T) {
	rec, host, url := startSession(t, Config{})
	ctx := context.Background()

	host.Fire(event.TypeHostStart, nil)

	// Break storage behind the worker's back so the next write fails.
	saboteur, err := store.Open(url)
	require.NoError(t, err)
	_, err = saboteur.Exec(ctx, `DROP TABLE states`)
	require.NoError(t, err)
	require.NoError(t, saboteur.Close())

	host.FireEvent(event.NewStateChanged("light.kitchen", "on", "", nil, "ctx-1"))

	rec.Join()
	assert.Equal(t, PhaseFailedFatally, rec.Phase())

	done := make(chan struct{})
	go func() {
		rec.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain blocked after fatal worker failure")
	}

	// Producers get a rejection, not unbounded pending growth.
	host.FireEvent(event.NewStateChanged("light.kitchen", "off", "", nil, "ctx-2"))
	assert.Equal(t, 0, rec.QueueLen())
}

func TestRecorderPurgesOnTimer(t *testing.T) {
	rec, host, url := startSession(t,
		Config{KeepDays: 7},
		WithPurgeInterval(10*time.Millisecond),
	)
	ctx := context.Background()

	host.Fire(event.TypeHostStart, nil)

	stale := event.NewStateChanged("sensor.stale", "1", "", nil, "ctx-old")
	stale.TimeFired = time.Now().UTC().AddDate(0, 0, -30)
	host.FireEvent(stale)
	host.FireEvent(event.NewStateChanged("sensor.fresh", "2", "", nil, "ctx-new"))

	rec.Drain()
	// Let the purge timer fire at least once, then drain its marker.
	time.Sleep(50 * time.Millisecond)
	rec.Drain()

	host.Fire(event.TypeHostStop, nil)

	st := reopen(t, url)

	states, err := st.StatesForEntity(ctx, "sensor.stale")
	require.NoError(t, err)
	assert.Empty(t, states)

	states, err = st.StatesForEntity(ctx, "sensor.fresh")
	require.NoError(t, err)
	assert.Len(t, states, 1)
}
