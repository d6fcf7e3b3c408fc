package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/config"
	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/store"
)

func TestRootCommandWiring(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "chronicled", cmd.Use)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "purge")
	assert.Contains(t, names, "runs")

	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("data-dir"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("verbose"))
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := loadConfig(&RootOptions{DataDir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, config.DefaultDBFile), cfg.DBURL)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_url: /data/custom.db\nkeep_days: 5\n"), 0o644))

	cfg, err := loadConfig(&RootOptions{ConfigPath: path, DataDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "/data/custom.db", cfg.DBURL)
	assert.Equal(t, 5, cfg.KeepDays)

	_, err = loadConfig(&RootOptions{ConfigPath: filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}

func TestRunPurgeRequiresRetentionWindow(t *testing.T) {
	err := runPurge(&RootOptions{DataDir: t.TempDir()}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keep-days")
}

func TestRunPurgeDeletesExpiredRows(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, config.DefaultDBFile)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(st))

	ctx := context.Background()
	stale := event.NewStateChanged("sensor.stale", "1", "", nil, "ctx-1")
	stale.TimeFired = time.Now().UTC().AddDate(0, 0, -30)
	require.NoError(t, st.RecordEvent(ctx, stale))
	fresh := event.NewStateChanged("sensor.fresh", "2", "", nil, "ctx-2")
	require.NoError(t, st.RecordEvent(ctx, fresh))
	require.NoError(t, st.Close())

	require.NoError(t, runPurge(&RootOptions{DataDir: dir}, 7))

	st, err = store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	n, err := st.CountStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunRunsAgainstEmptyDatabase(t *testing.T) {
	// Opens, migrates and lists zero runs without error.
	require.NoError(t, runRuns(&RootOptions{DataDir: t.TempDir()}))
}
