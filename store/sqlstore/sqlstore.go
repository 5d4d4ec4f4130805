/*
Package sqlstore implements claims.Store and reference.Store on SQL.

PURPOSE:
  One implementation, two dialects. SQLite (mattn/go-sqlite3) serves local
  runs and tests; PostgreSQL (pgx stdlib driver) serves deployments. The
  SQL is written once with "?" placeholders and rebound to "$n" for
  PostgreSQL.

KEY TABLES:
  cases, workers, employment, dependants, attachments, hearings, staff
  calculations:           one row per case, keyed by irn
  worker_compensation:    death-case summary, keyed by irn
  dependant_compensation: keyed by (irn, dependant_id)
  review_queue:           unique idempotency_key
  injury_criteria, claim_types, system_parameters: reference tables

LOCKS:
  A case lock is a conditional UPDATE on cases.locked_by/locked_at. Acquire
  succeeds when the row is free, already held by the caller or stale;
  release only clears the caller's own lock.

CONCURRENCY:
  SQLite access is serialized with sync.RWMutex. PostgreSQL relies on
  database-level concurrency control.

MIGRATION:
  Versioned migrations in migrations/ are embedded and applied with
  golang-migrate on open.

USAGE:
  store, err := sqlstore.OpenSQLite("./claims.db", logger)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - claims/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/reference"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// timeLayout is fixed-width so stored timestamps compare as text.
const timeLayout = "2006-01-02T15:04:05Z"

// Store implements all storage interfaces over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *logrus.Logger
	mu      sync.RWMutex
}

// PoolOptions tunes the PostgreSQL connection pool.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New wraps an open database without migrating it.
func New(db *sql.DB, dialect Dialect, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{db: db, dialect: dialect, logger: logger}
}

// OpenSQLite opens (creating if needed) a SQLite database and migrates it.
// Use ":memory:" for an in-memory database.
func OpenSQLite(path string, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := New(db, SQLite, logger)
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// OpenPostgres connects with the pgx driver and migrates the schema.
func OpenPostgres(ctx context.Context, url string, pool PoolOptions, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := New(db, Postgres, logger)
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Dialect() Dialect { return s.dialect }

// Migrate applies all pending up migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	var m *migrate.Migrate
	switch s.dialect {
	case SQLite:
		driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
		if err != nil {
			return err
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite3", driver)
		if err != nil {
			return err
		}
	case Postgres:
		driver, err := migratepgx.WithInstance(s.db, &migratepgx.Config{})
		if err != nil {
			return err
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx5", driver)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported dialect %q", s.dialect)
	}

	// m.Close is not called: it would close s.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	version, dirty, _ := m.Version()
	s.logger.WithFields(logrus.Fields{
		"dialect": s.dialect,
		"version": version,
		"dirty":   dirty,
	}).Info("database migrated")
	return nil
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func rebind(dialect Dialect, query string) string {
	if dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// conn binds a querier to a dialect.
type conn struct {
	q       querier
	dialect Dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, rebind(c.dialect, query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, rebind(c.dialect, query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, rebind(c.dialect, query), args...)
}

func (s *Store) conn() conn {
	return conn{q: s.db, dialect: s.dialect}
}

// readLock and writeLock serialize SQLite access; both are no-ops for
// PostgreSQL. Use as: defer s.writeLock()()
func (s *Store) readLock() func() {
	if s.dialect != SQLite {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) writeLock() func() {
	if s.dialect != SQLite {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(claims.CalculationStore) error) error {
	defer s.writeLock()()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{c: conn{q: sqlTx, dialect: s.dialect}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs CalculationStore methods on an open transaction. The
// parent's lock is already held.
type txStore struct {
	c conn
}

func (ts *txStore) GetCalculation(ctx context.Context, irn generic.IRN) (*claims.CalculationRecord, error) {
	return getCalculation(ctx, ts.c, irn)
}

func (ts *txStore) UpsertCalculation(ctx context.Context, rec claims.CalculationRecord) (bool, error) {
	return upsertCalculation(ctx, ts.c, rec)
}

func (ts *txStore) UpsertWorkerSummary(ctx context.Context, sum claims.WorkerSummary) error {
	return upsertWorkerSummary(ctx, ts.c, sum)
}

func (ts *txStore) UpsertDependantCompensation(ctx context.Context, d claims.DependantCompensation) error {
	return upsertDependantCompensation(ctx, ts.c, d)
}

func (ts *txStore) GuardLock(ctx context.Context, irn generic.IRN, staff generic.StaffID, staleBefore time.Time) error {
	return guardLock(ctx, ts.c, irn, staff, staleBefore)
}

func (ts *txStore) GetWorkerSummary(ctx context.Context, irn generic.IRN) (*claims.WorkerSummary, error) {
	return getWorkerSummary(ctx, ts.c, irn)
}

func (ts *txStore) ListDependantCompensation(ctx context.Context, irn generic.IRN) ([]claims.DependantCompensation, error) {
	return listDependantCompensation(ctx, ts.c, irn)
}

// =============================================================================
// VALUE HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullDate(tp generic.TimePoint) sql.NullString {
	return nullString(tp.String())
}

func parseDate(ns sql.NullString) generic.TimePoint {
	if !ns.Valid || ns.String == "" {
		return generic.TimePoint{}
	}
	tp, err := generic.ParseDate(ns.String)
	if err != nil {
		return generic.TimePoint{}
	}
	return tp
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func inPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var (
	_ claims.Store    = (*Store)(nil)
	_ reference.Store = (*Store)(nil)
)
