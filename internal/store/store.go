package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var schemaSQLite string

//go:embed schema_postgres.sql
var schemaPostgres string

// Dialect identifies the SQL dialect behind a Store.
type Dialect string

const (
	// DialectSQLite is the default file-backed (or in-memory) database.
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres is selected for postgres:// connection URLs.
	DialectPostgres Dialect = "postgres"
)

// ConnectionError wraps a failure to establish or prepare the database
// connection. The recorder treats these as transient and retries.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", redactURL(e.URL), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Store provides durable storage for recorded events, states and runs.
type Store struct {
	db      *sql.DB
	dialect Dialect
	url     string
}

// Open establishes a database connection for the given URL.
//
// URL forms:
//   - "postgres://..." / "postgresql://..." → pgx driver
//   - "sqlite://" or any URL containing ":memory:" → in-memory SQLite
//   - "sqlite:///path/to.db" or a bare filesystem path → file-backed SQLite
//
// SQLite connections are configured with WAL mode, NORMAL synchronous,
// a 5-second busy timeout, foreign key enforcement, and a single writer
// connection. Open does NOT apply the schema; callers run Migrate once
// per successful connect, before run recovery.
func Open(url string) (*Store, error) {
	driver, dsn, dialect := resolveURL(url)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &ConnectionError{URL: url, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &ConnectionError{URL: url, Err: err}
	}

	if dialect == DialectSQLite {
		// SQLite supports one writer at a time; a single connection keeps
		// the worker from racing itself into SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, &ConnectionError{URL: url, Err: err}
		}
	}

	return &Store{db: db, dialect: dialect, url: url}, nil
}

// Close closes the database connection. Safe to call more than once.
// Queries issued after Close return errors from database/sql rather than
// panicking, so a stale Store reference degrades gracefully.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect returns the SQL dialect behind this store.
func (s *Store) Dialect() Dialect { return s.dialect }

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Store methods when available.
func (s *Store) DB() *sql.DB { return s.db }

// Query executes a query and returns the resulting rows.
// Placeholders use ? in both dialects; callers close the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// Exec executes a statement with ? placeholders in both dialects.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

// rebind converts ? placeholders to the dialect's positional form.
// SQLite takes ? as-is; postgres needs $1, $2, ...
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func resolveURL(url string) (driver, dsn string, dialect Dialect) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "pgx", url, DialectPostgres
	case url == "sqlite://", strings.Contains(url, ":memory:"):
		// Shared cache keeps the in-memory database alive across the
		// pool's (single) connection re-open.
		return "sqlite3", "file::memory:?cache=shared", DialectSQLite
	case strings.HasPrefix(url, "sqlite:///"):
		return "sqlite3", strings.TrimPrefix(url, "sqlite:///"), DialectSQLite
	default:
		return "sqlite3", url, DialectSQLite
	}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// redactURL strips userinfo from a connection URL before it reaches logs
// or error messages.
func redactURL(url string) string {
	scheme := strings.Index(url, "://")
	if scheme < 0 {
		return url
	}
	at := strings.LastIndexByte(url, '@')
	if at < scheme+3 {
		return url
	}
	return url[:scheme+3] + "***" + url[at:]
}
