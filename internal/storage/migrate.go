package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

var columnTypes = map[string]*strings.Replacer{
	DriverPostgres: strings.NewReplacer(
		"{{serial}}", "BIGSERIAL PRIMARY KEY",
		"{{uuid}}", "UUID",
		"{{ts}}", "TIMESTAMPTZ",
		"{{json}}", "JSONB",
	),
	DriverSQLite: strings.NewReplacer(
		"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{uuid}}", "TEXT",
		"{{ts}}", "DATETIME",
		"{{json}}", "TEXT",
	),
}

// migrations are applied in order; each entry is one schema version.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS events (
			id {{serial}},
			aggregate_id {{uuid}} NOT NULL,
			aggregate_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data {{json}} NOT NULL,
			metadata {{json}},
			version INTEGER NOT NULL,
			created_at {{ts}} NOT NULL,
			UNIQUE (aggregate_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS books (
			id {{uuid}} PRIMARY KEY,
			isbn TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'General',
			publisher TEXT NOT NULL DEFAULT '',
			published_year INTEGER NOT NULL DEFAULT 0,
			total_copies INTEGER NOT NULL CHECK (total_copies >= 1),
			available_copies INTEGER NOT NULL CHECK (available_copies >= 0 AND available_copies <= total_copies),
			total_borrowed INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			version INTEGER NOT NULL DEFAULT 1,
			created_at {{ts}} NOT NULL,
			updated_at {{ts}} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id {{uuid}} PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL,
			member_code TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			password_salt TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			version INTEGER NOT NULL DEFAULT 1,
			created_at {{ts}} NOT NULL,
			updated_at {{ts}} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS issues (
			id {{uuid}} PRIMARY KEY,
			book_id {{uuid}} NOT NULL REFERENCES books (id),
			user_id {{uuid}} NOT NULL REFERENCES users (id),
			issue_date {{ts}} NOT NULL,
			due_date {{ts}} NOT NULL,
			return_date {{ts}},
			status TEXT NOT NULL,
			fine_amount INTEGER NOT NULL DEFAULT 0,
			fine_paid BOOLEAN NOT NULL DEFAULT FALSE,
			fine_paid_at {{ts}},
			renewal_count INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at {{ts}} NOT NULL,
			updated_at {{ts}} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_user ON issues (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_book ON issues (book_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_issues_open_loan ON issues (book_id, user_id) WHERE return_date IS NULL`,
	},
	{
		`CREATE TABLE IF NOT EXISTS relay_offsets (
			consumer TEXT PRIMARY KEY,
			position BIGINT NOT NULL,
			updated_at {{ts}} NOT NULL
		)`,
	},
}

// Migrate brings the schema up to the latest version. Already applied
// versions are skipped, so it is safe to run on every start.
func (db *DB) Migrate(ctx context.Context) error {
	replacer := columnTypes[db.driver]

	create := replacer.Replace(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at {{ts}} NOT NULL
	)`)
	if _, err := db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	query, args, err := db.dialect.From("schema_migrations").Prepared(true).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).ToSQL()
	if err != nil {
		return fmt.Errorf("build version query: %w", err)
	}
	if err := db.GetContext(ctx, &current, query, args...); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, stmt := range migrations[i] {
				if _, err := tx.ExecContext(ctx, replacer.Replace(stmt)); err != nil {
					return fmt.Errorf("apply migration %d: %w", version, err)
				}
			}
			query, args, err := db.dialect.Insert("schema_migrations").Prepared(true).
				Rows(goqu.Record{"version": version, "applied_at": Timestamp(time.Now())}).ToSQL()
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, query, args...)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
