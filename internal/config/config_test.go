package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
db_url: /data/recorder.db
keep_days: 10
include:
  domains: [sensor, light]
exclude:
  entities: [light.hallway]
  domains: [sun]
`))
	require.NoError(t, err)

	assert.Equal(t, "/data/recorder.db", cfg.DBURL)
	assert.Equal(t, 10, cfg.KeepDays)
	assert.Equal(t, []string{"sensor", "light"}, cfg.Include.Domains)
	assert.Equal(t, []string{"light.hallway"}, cfg.Exclude.Entities)
	assert.Equal(t, []string{"sun"}, cfg.Exclude.Domains)
}

func TestParseEmptyConfig(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)

	assert.Empty(t, cfg.DBURL)
	assert.Zero(t, cfg.KeepDays)
	assert.Empty(t, cfg.Include.Entities)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown key", "retention_days: 5\n"},
		{"keep_days below one", "keep_days: 0\n"},
		{"keep_days not an int", "keep_days: soon\n"},
		{"empty db_url", `db_url: ""` + "\n"},
		{"empty filter entry", "exclude:\n  entities: [\"\"]\n"},
		{"unknown filter key", "include:\n  areas: [kitchen]\n"},
		{"malformed yaml", "include: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keep_days: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.KeepDays)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults("/data")
	assert.Equal(t, filepath.Join("/data", DefaultDBFile), cfg.DBURL)

	cfg = Config{DBURL: "postgres://host/db"}.WithDefaults("/data")
	assert.Equal(t, "postgres://host/db", cfg.DBURL)
}

func TestFilterConfig(t *testing.T) {
	cfg := Config{
		Include: Filters{Entities: []string{"light.kitchen"}, Domains: []string{"sensor"}},
		Exclude: Filters{Entities: []string{"sun.sun"}, Domains: []string{"sun"}},
	}
	fc := cfg.FilterConfig()
	assert.Equal(t, []string{"light.kitchen"}, fc.IncludeEntities)
	assert.Equal(t, []string{"sensor"}, fc.IncludeDomains)
	assert.Equal(t, []string{"sun.sun"}, fc.ExcludeEntities)
	assert.Equal(t, []string{"sun"}, fc.ExcludeDomains)
}
