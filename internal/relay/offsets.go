// internal/relay/offsets.go
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"libraryhub/internal/storage"
)

const offsetsTable = "relay_offsets"

// Offsets remembers, per consumer, the id of the last event delivered.
type Offsets struct {
	dialect goqu.DialectWrapper
}

// NewOffsets creates an offset store for db's dialect.
func NewOffsets(db *storage.DB) *Offsets {
	return &Offsets{dialect: db.Dialect()}
}

// Position returns the last delivered event id for consumer, or zero when
// the consumer has never delivered anything.
func (o *Offsets) Position(ctx context.Context, q storage.Querier, consumer string) (int64, error) {
	query, args, err := o.dialect.From(offsetsTable).Prepared(true).
		Select("position").
		Where(goqu.Ex{"consumer": consumer}).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var pos int64
	if err := sqlx.GetContext(ctx, q, &pos, query, args...); err != nil {
		if storage.IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read relay offset: %w", err)
	}
	return pos, nil
}

// Save records pos as the last delivered event id for consumer.
func (o *Offsets) Save(ctx context.Context, q storage.Querier, consumer string, pos int64, now time.Time) error {
	query, args, err := o.dialect.Update(offsetsTable).Prepared(true).
		Set(goqu.Record{"position": pos, "updated_at": storage.Timestamp(now)}).
		Where(goqu.Ex{"consumer": consumer}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save relay offset: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}

	query, args, err = o.dialect.Insert(offsetsTable).Prepared(true).
		Rows(goqu.Record{"consumer": consumer, "position": pos, "updated_at": storage.Timestamp(now)}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save relay offset: %w", err)
	}
	return nil
}
