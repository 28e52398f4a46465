// Package sqlstore is the durable fact store. One code path serves SQLite
// (mattn/go-sqlite3) and PostgreSQL (pgx through database/sql); the dialect
// only decides the DDL, the placeholder style and the connection setup.
//
// A batch is written in one transaction. Reads that walk the graph run in
// one transaction too, so a query never observes half of a batch.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/factgraph/internal/matcher"
	"github.com/roach88/factgraph/internal/metrics"
	"github.com/roach88/factgraph/internal/storage"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Schema versions:
// 1 - facts, edges, signatures
const currentSchemaVersion = 1

// DefaultCacheSize is the number of verified records kept in memory.
const DefaultCacheSize = 1024

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	name   string
	schema string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	readTx   *sql.TxOptions
}

var (
	sqliteDialect = dialect{
		name:   DriverSQLite,
		schema: sqliteSchema,
	}
	postgresDialect = dialect{
		name:     DriverPostgres,
		schema:   postgresSchema,
		numbered: true,
		readTx:   &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
	}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store is a fact store backed by a SQL database.
type Store struct {
	db      *sql.DB
	dialect dialect
	cache   *recordCache
	closed  atomic.Bool

	cacheSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

var (
	_ storage.Storage = (*Store)(nil)
	_ matcher.Graph   = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the collectors. Default is unregistered collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithCacheSize sets the record cache capacity. Zero disables the cache.
func WithCacheSize(n int) Option {
	return func(s *Store) { s.cacheSize = n }
}

// Open connects to the database named by driver and dsn, applies the
// schema and checks its version.
//
// For SQLite, dsn is a file path or a mattn DSN. The connection is
// configured with:
//   - WAL journal so readers do not block the writer
//   - NORMAL synchronous mode
//   - 5-second busy timeout
//   - foreign keys enforced
//
// For PostgreSQL, dsn is anything pgx.ParseConfig accepts.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	s := &Store{
		cacheSize: DefaultCacheSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}

	var err error
	switch driver {
	case DriverSQLite:
		s.dialect = sqliteDialect
		s.db, err = openSQLite(ctx, dsn)
	case DriverPostgres:
		s.dialect = postgresDialect
		s.db, err = openPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.applySchema(ctx); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("sqlstore: apply schema: %w", err)
	}

	s.cache, err = newRecordCache(s.cacheSize, s.metrics)
	if err != nil {
		s.db.Close()
		return nil, fmt.Errorf("sqlstore: %w", err)
	}

	s.logger.Debug("opened store", "driver", driver, "cache_size", s.cacheSize)
	return s, nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: connect sqlite: %w", err)
	}

	// One connection: SQLite has a single writer, and pragmas are per
	// connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlstore: execute %q: %w", pragma, err)
		}
	}
	return db, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: parse postgres dsn: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: connect postgres: %w", err)
	}
	return db, nil
}

// applySchema runs the dialect DDL statement by statement, then checks the
// recorded schema version.
func (s *Store) applySchema(ctx context.Context) error {
	for _, stmt := range splitStatements(s.dialect.schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return s.runMigrations(ctx)
}

// runMigrations brings an older database up to currentSchemaVersion and
// refuses one written by a newer release.
func (s *Store) runMigrations(ctx context.Context) error {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	switch {
	case !version.Valid:
		_, err = s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO schema_version (version) VALUES (?)`), currentSchemaVersion)
		if err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	case version.Int64 > currentSchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version.Int64, currentSchemaVersion)
	}
	return nil
}

func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if hasSQL(stmt) {
			out = append(out, strings.TrimSpace(stmt))
		}
	}
	return out
}

// hasSQL reports whether stmt holds anything besides comments and space.
func hasSQL(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}

// Driver returns the dialect name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// DB returns the underlying handle. Tests use it to inspect or corrupt rows.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database. Further calls fail with storage.ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return nil
}
