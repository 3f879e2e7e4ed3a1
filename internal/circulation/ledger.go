package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libraryhub/internal/eventstore"
	"libraryhub/internal/storage"
)

const table = "issues"

var issueColumns = []interface{}{
	"id", "book_id", "user_id", "issue_date", "due_date", "return_date", "status",
	"fine_amount", "fine_paid", "fine_paid_at", "renewal_count", "version",
	"created_at", "updated_at",
}

// Ledger stores issue rows. Writes are compare-and-swaps on the row version
// and append to the issue's event stream, so they belong in a transaction.
type Ledger struct {
	dialect goqu.DialectWrapper
	events  *eventstore.EventStore
}

// NewLedger creates a ledger for db's dialect.
func NewLedger(db *storage.DB, events *eventstore.EventStore) *Ledger {
	return &Ledger{dialect: db.Dialect(), events: events}
}

// Insert records a new open issue as version 1. A second open issue for the
// same book and user fails with ErrDuplicateLoan.
func (l *Ledger) Insert(ctx context.Context, q storage.Querier, is *Issue) error {
	query, args, err := l.dialect.Insert(table).Prepared(true).Rows(goqu.Record{
		"id":            is.ID.String(),
		"book_id":       is.BookID.String(),
		"user_id":       is.UserID.String(),
		"issue_date":    is.IssueDate,
		"due_date":      is.DueDate,
		"status":        string(is.Status),
		"fine_amount":   0,
		"fine_paid":     false,
		"renewal_count": is.RenewalCount,
		"version":       1,
		"created_at":    is.CreatedAt,
		"updated_at":    is.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrDuplicateLoan
		}
		return fmt.Errorf("failed to insert issue: %w", err)
	}
	is.Version = 1

	return l.append(ctx, q, is.ID, 0, "BookIssued", BookIssuedEvent{
		IssueID:   is.ID,
		BookID:    is.BookID,
		UserID:    is.UserID,
		IssueDate: is.IssueDate,
		DueDate:   is.DueDate,
	})
}

// MarkReturned closes is at returnDate with the assessed fine.
func (l *Ledger) MarkReturned(ctx context.Context, q storage.Querier, is *Issue, returnDate time.Time, fine int) error {
	prev := is.Version
	err := l.swap(ctx, q, is, returnDate, goqu.Record{
		"return_date": returnDate,
		"status":      string(StatusReturned),
		"fine_amount": fine,
	})
	if err != nil {
		return err
	}
	is.ReturnDate = &returnDate
	is.Status = StatusReturned
	is.Fine.Amount = fine

	return l.append(ctx, q, is.ID, prev, "BookReturned", BookReturnedEvent{
		IssueID:    is.ID,
		BookID:     is.BookID,
		UserID:     is.UserID,
		ReturnDate: returnDate,
		Fine:       fine,
	})
}

// MarkFinePaid settles the fine of is at paidAt.
func (l *Ledger) MarkFinePaid(ctx context.Context, q storage.Querier, is *Issue, paidAt time.Time) error {
	prev := is.Version
	err := l.swap(ctx, q, is, paidAt, goqu.Record{
		"fine_paid":    true,
		"fine_paid_at": paidAt,
	})
	if err != nil {
		return err
	}
	is.Fine.IsPaid = true
	is.Fine.PaidDate = &paidAt

	return l.append(ctx, q, is.ID, prev, "FineSettled", FineSettledEvent{
		IssueID:  is.ID,
		Amount:   is.Fine.Amount,
		PaidDate: paidAt,
	})
}

// MarkOverdue refreshes the cached status of the given open issues. The
// version is left alone because the status column only caches DeriveStatus.
func (l *Ledger) MarkOverdue(ctx context.Context, q storage.Querier, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	query, args, err := l.dialect.Update(table).Prepared(true).
		Set(goqu.Record{"status": string(StatusOverdue)}).
		Where(
			goqu.C("id").In(keys),
			goqu.C("return_date").IsNull(),
			goqu.C("status").Eq(string(StatusIssued)),
		).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue: %w", err)
	}
	return res.RowsAffected()
}

// Get returns the issue with id.
func (l *Ledger) Get(ctx context.Context, q storage.Querier, id uuid.UUID) (*Issue, error) {
	issues, err := l.list(ctx, q, goqu.Ex{"id": id.String()})
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, ErrIssueNotFound
	}
	return issues[0], nil
}

// FindOpen returns the open issue of bookID to userID, or ErrNoActiveLoan.
func (l *Ledger) FindOpen(ctx context.Context, q storage.Querier, bookID, userID uuid.UUID) (*Issue, error) {
	issues, err := l.list(ctx, q, goqu.Ex{
		"book_id":     bookID.String(),
		"user_id":     userID.String(),
		"return_date": nil,
	})
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, ErrNoActiveLoan
	}
	return issues[0], nil
}

// ListByUser returns every issue of userID, oldest first.
func (l *Ledger) ListByUser(ctx context.Context, q storage.Querier, userID uuid.UUID) ([]*Issue, error) {
	return l.list(ctx, q, goqu.Ex{"user_id": userID.String()})
}

// ListOpen returns every issue not yet returned.
func (l *Ledger) ListOpen(ctx context.Context, q storage.Querier) ([]*Issue, error) {
	return l.list(ctx, q, goqu.Ex{"return_date": nil})
}

// ListFined returns every issue with an assessed fine.
func (l *Ledger) ListFined(ctx context.Context, q storage.Querier) ([]*Issue, error) {
	return l.list(ctx, q, goqu.C("fine_amount").Gt(0))
}

// ListAll returns the whole ledger.
func (l *Ledger) ListAll(ctx context.Context, q storage.Querier) ([]*Issue, error) {
	return l.list(ctx, q)
}

// CountOpenLoans counts copies of bookID currently out.
func (l *Ledger) CountOpenLoans(ctx context.Context, q storage.Querier, bookID uuid.UUID) (int, error) {
	return l.count(ctx, q, goqu.Ex{"book_id": bookID.String(), "return_date": nil})
}

// HasLoans reports whether bookID was ever issued.
func (l *Ledger) HasLoans(ctx context.Context, q storage.Querier, bookID uuid.UUID) (bool, error) {
	n, err := l.count(ctx, q, goqu.Ex{"book_id": bookID.String()})
	return n > 0, err
}

func (l *Ledger) count(ctx context.Context, q storage.Querier, where goqu.Ex) (int, error) {
	query, args, err := l.dialect.From(table).Prepared(true).
		Select(goqu.COUNT(goqu.Star())).
		Where(where).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var n int
	if err := sqlx.GetContext(ctx, q, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count issues: %w", err)
	}
	return n, nil
}

func (l *Ledger) list(ctx context.Context, q storage.Querier, where ...goqu.Expression) ([]*Issue, error) {
	query, args, err := l.dialect.From(table).Prepared(true).
		Select(issueColumns...).
		Where(where...).
		Order(goqu.C("issue_date").Asc(), goqu.C("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []issueRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}

	issues := make([]*Issue, 0, len(rows))
	for _, r := range rows {
		issues = append(issues, r.toIssue())
	}
	return issues, nil
}

func (l *Ledger) swap(ctx context.Context, q storage.Querier, is *Issue, now time.Time, set goqu.Record) error {
	set["version"] = goqu.L("version + 1")
	set["updated_at"] = now

	query, args, err := l.dialect.Update(table).Prepared(true).
		Set(set).
		Where(goqu.Ex{"id": is.ID.String(), "version": is.Version}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update issue: %w", err)
	}
	if err := storage.ExpectOneRow(res); err != nil {
		return err
	}
	is.Version++
	is.UpdatedAt = now
	return nil
}

func (l *Ledger) append(ctx context.Context, q storage.Querier, id uuid.UUID, expected int, eventType string, payload interface{}) error {
	event, err := eventstore.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	if err := l.events.AppendEvents(ctx, q, id, AggregateType, expected, event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", eventType, err)
	}
	return nil
}
