// Package sqlstore implements the repositories on PostgreSQL (lib/pq) or SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

// Dialect captures the few statements that differ between the supported databases.
type Dialect struct {
	Name          string
	DriverName    string
	TimestampType string
	JSONType      string
	// LockSuffix is appended to claim queries so concurrent dispatchers skip locked rows.
	LockSuffix string
	// RowLockSuffix is appended to reads inside a transaction that precede a write to the
	// same row, so competing transitions queue behind each other and see the committed state.
	RowLockSuffix string
}

var (
	DialectPostgres = Dialect{Name: "postgres", DriverName: "postgres", TimestampType: "TIMESTAMPTZ", JSONType: "JSONB", LockSuffix: " FOR UPDATE SKIP LOCKED", RowLockSuffix: " FOR UPDATE"}
	DialectSQLite   = Dialect{Name: "sqlite", DriverName: "sqlite", TimestampType: "TIMESTAMP", JSONType: "TEXT"}
)

// DialectFor maps a configured driver name to its dialect.
func DialectFor(driverName string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driverName)) {
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return Dialect{}, fmt.Errorf("sqlstore: unsupported driver %q", driverName)
}

// Store is the SQL-backed repositories.Registry.
type Store struct {
	db      *sql.DB
	dialect Dialect
	health  repositories.HealthRepository
	now     func() time.Time
}

var _ repositories.Registry = (*Store)(nil)

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, driverName, dsn string) (*Store, error) {
	dialect, err := DialectFor(driverName)
	if err != nil {
		return nil, err
	}
	if dialect.Name == DialectSQLite.Name {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dialect.Name, err)
	}
	if dialect.Name == DialectSQLite.Name {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", dialect.Name, err)
	}
	store := New(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing handle without touching the schema.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

func sqliteDSN(dsn string) string {
	params := []string{"_pragma=busy_timeout(5000)", "_pragma=foreign_keys(1)", "_time_format=sqlite"}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// WithHealth attaches the readiness repository returned by Health.
func (s *Store) WithHealth(health repositories.HealthRepository) *Store {
	s.health = health
	return s
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close(context.Context) error { return s.db.Close() }

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return s.db
}

// rowLock returns the dialect's row lock clause when ctx carries a transaction. SQLite
// serialises writers on its single connection and needs none.
func (s *Store) rowLock(ctx context.Context) string {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return s.dialect.RowLockSuffix
	}
	return ""
}

// RunInTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("tx.begin", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return wrapError("tx.commit", err)
	}
	return nil
}

func (s *Store) Orders() repositories.OrderRepository               { return orderRepository{s} }
func (s *Store) Purchases() repositories.PurchaseRepository         { return purchaseRepository{s} }
func (s *Store) Catalog() repositories.CatalogRepository            { return catalogRepository{s} }
func (s *Store) BankAccounts() repositories.BankAccountRepository   { return bankAccountRepository{s} }
func (s *Store) Notifications() repositories.NotificationRepository { return notificationRepository{s} }
func (s *Store) Articles() repositories.ArticleRepository           { return articleRepository{s} }
func (s *Store) Outbox() repositories.OutboxRepository              { return outboxRepository{s} }
func (s *Store) Counters() repositories.CounterRepository           { return counterRepository{s} }
func (s *Store) Health() repositories.HealthRepository              { return s.health }

// wrapError classifies driver errors into repositories.Error kinds.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *repositories.Error
	if errors.As(err, &existing) {
		return err
	}
	return repositories.NewError(op, classify(err), err)
}

func classify(err error) repositories.ErrorKind {
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.ErrorKindNotFound
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return repositories.ErrorKindUnavailable
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505" || pqErr.Code == "40001":
			return repositories.ErrorKindConflict
		case pqErr.Code.Class() == "08" || pqErr.Code.Class() == "53" || pqErr.Code.Class() == "57":
			return repositories.ErrorKindUnavailable
		}
		return repositories.ErrorKindUnknown
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return repositories.ErrorKindConflict
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return repositories.ErrorKindUnavailable
		}
	}
	return repositories.ErrorKindUnknown
}

func notFound(op, what string) error {
	return repositories.NewError(op, repositories.ErrorKindNotFound, fmt.Errorf("%s not found", what))
}

type scanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func encodeJSON(value any) (string, error) {
	if value == nil {
		return "null", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON[T any](raw string) (T, error) {
	var out T
	if raw == "" || raw == "null" {
		return out, nil
	}
	err := json.Unmarshal([]byte(raw), &out)
	return out, err
}
