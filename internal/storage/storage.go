// Package storage owns the database connection, the SQL dialect used to build
// queries, and transaction handling shared by every store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	// ErrConcurrencyConflict is returned when a compare-and-swap on a row
	// version finds the row already changed. Callers retry the whole unit.
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrUnknownDriver       = errors.New("unknown database driver")
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, so stores run the same
// code inside and outside a transaction.
type Querier interface {
	sqlx.ExtContext
}

// DB wraps a sqlx connection together with the goqu dialect matching it.
type DB struct {
	*sqlx.DB
	driver  string
	dialect goqu.DialectWrapper
}

// Open connects to the database behind dsn. For sqlite the pool is limited to
// one connection, which serializes writers instead of failing with SQLITE_BUSY.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	var dialectName string
	switch driver {
	case DriverPostgres:
		dialectName = "postgres"
	case DriverSQLite:
		dialectName = "sqlite3"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
		conn.SetConnMaxIdleTime(2 * time.Minute)
	} else {
		conn.SetMaxOpenConns(20)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(time.Hour)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{DB: conn, driver: driver, dialect: goqu.Dialect(dialectName)}, nil
}

// SQLiteDSN builds a DSN for a sqlite file with WAL, a busy timeout and
// foreign keys enabled.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Driver returns the driver name the connection was opened with.
func (db *DB) Driver() string { return db.driver }

// Dialect returns the goqu dialect for building queries against db.
func (db *DB) Dialect() goqu.DialectWrapper { return db.dialect }

// WithTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise. fn's error is returned unchanged unless
// Postgres aborted the transaction as a deadlock or serialization victim,
// which is reported as ErrConcurrencyConflict.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return db.WithTxOptions(ctx, nil, fn)
}

// WithTxOptions is WithTx with explicit isolation and read-only settings.
// The isolation level is dropped for sqlite, whose single connection already
// gives every transaction one consistent view.
func (db *DB) WithTxOptions(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	if db.driver == DriverSQLite && opts != nil {
		opts = &sql.TxOptions{ReadOnly: opts.ReadOnly}
	}
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if IsSerializationFailure(err) {
			return ErrConcurrencyConflict
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if IsSerializationFailure(err) {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique or primary key constraint
// violation from either supported driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// IsSerializationFailure reports whether Postgres aborted the transaction
// because of a concurrent update.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Timestamp normalizes t for storage: UTC at microsecond precision, which is
// what Postgres keeps. Values read back compare equal to the values written.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ExpectOneRow turns a zero-row result of a versioned update into
// ErrConcurrencyConflict.
func ExpectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n != 1 {
		return ErrConcurrencyConflict
	}
	return nil
}
