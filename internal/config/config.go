// Package config loads and validates the recorder configuration.
//
// Configuration is YAML on disk, validated against an embedded CUE schema
// before it is decoded into the typed Config. Validation rejects unknown
// keys and out-of-range values; missing include/exclude lists are simply
// empty, never an error.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/chronicle/internal/filter"
)

//go:embed schema.cue
var schemaSource string

// DefaultDBFile is the SQLite file used when db_url is not configured.
const DefaultDBFile = "chronicle_v1.db"

// Filters is one include or exclude list pair.
type Filters struct {
	Entities []string `yaml:"entities"`
	Domains  []string `yaml:"domains"`
}

// Config is the recorder configuration.
type Config struct {
	// DBURL is the database connection URL. Empty selects the default
	// SQLite file under the host's data directory.
	DBURL string `yaml:"db_url"`
	// KeepDays is the retention window in days; 0 disables purging.
	KeepDays int `yaml:"keep_days"`
	Include  Filters `yaml:"include"`
	Exclude  Filters `yaml:"exclude"`
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates raw YAML against the schema and decodes it.
func Parse(raw []byte) (Config, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if tree == nil {
		tree = map[string]any{}
	}

	if err := validate(tree); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// validate unifies the config tree with the embedded CUE schema.
func validate(tree map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config schema missing #Config: %w", err)
	}

	data := ctx.Encode(tree)
	if err := data.Err(); err != nil {
		return fmt.Errorf("encode config for validation: %w", err)
	}

	unified := def.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WithDefaults fills unset fields: an empty DBURL becomes the default
// SQLite file under dataDir.
func (c Config) WithDefaults(dataDir string) Config {
	if c.DBURL == "" {
		c.DBURL = filepath.Join(dataDir, DefaultDBFile)
	}
	return c
}

// FilterConfig maps the include/exclude lists onto the filter engine's
// configuration.
func (c Config) FilterConfig() filter.Config {
	return filter.Config{
		IncludeEntities: c.Include.Entities,
		IncludeDomains:  c.Include.Domains,
		ExcludeEntities: c.Exclude.Entities,
		ExcludeDomains:  c.Exclude.Domains,
	}
}
