package store

import (
	"fmt"
)

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added context_id index on events
const currentSchemaVersion = 1

// Migrate applies the schema and any pending versioned migrations.
//
// Called exactly once per successful Open, before run recovery. Idempotent:
// the schema uses IF NOT EXISTS throughout and migrations are guarded by
// the stored schema version (PRAGMA user_version on SQLite, a
// schema_version table on postgres).
func Migrate(s *Store) error {
	schema := schemaSQLite
	if s.dialect == DialectPostgres {
		schema = schemaPostgres
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return err
		}
		version = 1
	}

	if err := s.setSchemaVersion(currentSchemaVersion); err != nil {
		return err
	}

	return nil
}

// migrateToV1 adds the context_id index for databases created before v1.
// New databases get a no-op here: CREATE INDEX IF NOT EXISTS is safe.
func (s *Store) migrateToV1() error {
	_, err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_context_id
		ON events(context_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	if s.dialect == DialectPostgres {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)
		`); err != nil {
			return 0, fmt.Errorf("ensure schema_version: %w", err)
		}
		var version int
		err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
		if err != nil {
			return 0, fmt.Errorf("get schema version: %w", err)
		}
		return version, nil
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(version int) error {
	if s.dialect == DialectPostgres {
		if _, err := s.db.Exec(`DELETE FROM schema_version`); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, version); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
