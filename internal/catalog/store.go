// internal/catalog/store.go
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libraryhub/internal/eventstore"
	"libraryhub/internal/storage"
)

const table = "books"

var bookColumns = []interface{}{
	"id", "isbn", "title", "author", "category", "publisher", "published_year",
	"total_copies", "available_copies", "total_borrowed", "is_active", "version",
	"created_at", "updated_at",
}

// Store reads and writes book rows. Every write is a compare-and-swap on the
// row version and appends the matching event to the book's stream, so it
// must run inside the caller's transaction.
type Store struct {
	dialect goqu.DialectWrapper
	events  *eventstore.EventStore
}

// NewStore creates a book store for db's dialect.
func NewStore(db *storage.DB, events *eventstore.EventStore) *Store {
	return &Store{dialect: db.Dialect(), events: events}
}

// Insert adds b as version 1.
func (s *Store) Insert(ctx context.Context, q storage.Querier, b *Book) error {
	query, args, err := s.dialect.Insert(table).Prepared(true).Rows(goqu.Record{
		"id":               b.ID.String(),
		"isbn":             b.ISBN,
		"title":            b.Title,
		"author":           b.Author,
		"category":         b.Category,
		"publisher":        b.Publisher,
		"published_year":   b.PublishedYear,
		"total_copies":     b.TotalCopies,
		"available_copies": b.AvailableCopies,
		"total_borrowed":   b.TotalBorrowed,
		"is_active":        b.IsActive,
		"version":          1,
		"created_at":       b.CreatedAt,
		"updated_at":       b.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrDuplicateISBN
		}
		return fmt.Errorf("failed to insert book: %w", err)
	}
	b.Version = 1

	return s.append(ctx, q, b.ID, 0, "BookAdded", BookAddedEvent{
		ID:          b.ID,
		ISBN:        b.ISBN,
		Title:       b.Title,
		Author:      b.Author,
		Category:    b.Category,
		TotalCopies: b.TotalCopies,
	})
}

// Update writes the editable fields and copy counts of b.
func (s *Store) Update(ctx context.Context, q storage.Querier, b *Book) error {
	b.Clamp()
	prev := b.Version
	err := s.swap(ctx, q, b, goqu.Record{
		"title":            b.Title,
		"author":           b.Author,
		"category":         b.Category,
		"publisher":        b.Publisher,
		"published_year":   b.PublishedYear,
		"total_copies":     b.TotalCopies,
		"available_copies": b.AvailableCopies,
	}, nil)
	if err != nil {
		return err
	}

	return s.append(ctx, q, b.ID, prev, "BookUpdated", BookUpdatedEvent{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		Category:        b.Category,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	})
}

// Lend takes one copy of b off the shelf for issueID and counts the borrow.
// It fails with storage.ErrConcurrencyConflict when b changed since it was
// read or no copy is left.
func (s *Store) Lend(ctx context.Context, q storage.Querier, b *Book, issueID uuid.UUID) error {
	prev := b.Version
	err := s.swap(ctx, q, b, goqu.Record{
		"available_copies": goqu.L("available_copies - 1"),
		"total_borrowed":   goqu.L("total_borrowed + 1"),
	}, goqu.C("available_copies").Gt(0))
	if err != nil {
		return err
	}
	b.AvailableCopies--
	b.TotalBorrowed++

	return s.append(ctx, q, b.ID, prev, "CopyLent", CopyLentEvent{
		BookID:          b.ID,
		IssueID:         issueID,
		AvailableCopies: b.AvailableCopies,
	})
}

// Restock puts one copy of b back, never above its total.
func (s *Store) Restock(ctx context.Context, q storage.Querier, b *Book, issueID uuid.UUID) error {
	prev := b.Version
	err := s.swap(ctx, q, b, goqu.Record{
		"available_copies": goqu.L("CASE WHEN available_copies < total_copies THEN available_copies + 1 ELSE total_copies END"),
	}, nil)
	if err != nil {
		return err
	}
	b.AvailableCopies = ClampAvailable(b.AvailableCopies+1, b.TotalCopies)

	return s.append(ctx, q, b.ID, prev, "CopyReturned", CopyReturnedEvent{
		BookID:          b.ID,
		IssueID:         issueID,
		AvailableCopies: b.AvailableCopies,
	})
}

// Retire hides b from the catalog while keeping the row for loan history.
func (s *Store) Retire(ctx context.Context, q storage.Querier, b *Book) error {
	prev := b.Version
	if err := s.swap(ctx, q, b, goqu.Record{"is_active": false}, nil); err != nil {
		return err
	}
	b.IsActive = false

	return s.append(ctx, q, b.ID, prev, "BookRemoved", BookRemovedEvent{ID: b.ID, ISBN: b.ISBN})
}

// Delete removes the row of a book no loan has ever referenced.
func (s *Store) Delete(ctx context.Context, q storage.Querier, b *Book) error {
	query, args, err := s.dialect.Delete(table).Prepared(true).
		Where(goqu.Ex{"id": b.ID.String(), "version": b.Version}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if err := storage.ExpectOneRow(res); err != nil {
		return err
	}

	return s.append(ctx, q, b.ID, b.Version, "BookRemoved", BookRemovedEvent{ID: b.ID, ISBN: b.ISBN, Hard: true})
}

// GetByID returns the book with id, active or not.
func (s *Store) GetByID(ctx context.Context, q storage.Querier, id uuid.UUID) (*Book, error) {
	return s.getOne(ctx, q, goqu.Ex{"id": id.String()})
}

// GetByISBN returns the book with isbn, active or not.
func (s *Store) GetByISBN(ctx context.Context, q storage.Querier, isbn string) (*Book, error) {
	return s.getOne(ctx, q, goqu.Ex{"isbn": strings.TrimSpace(isbn)})
}

// ListActive returns active books ordered by title.
func (s *Store) ListActive(ctx context.Context, q storage.Querier) ([]*Book, error) {
	return s.list(ctx, q, s.selectBooks().Where(goqu.Ex{"is_active": true}))
}

// ListAll returns every book, retired ones included, ordered by title.
func (s *Store) ListAll(ctx context.Context, q storage.Querier) ([]*Book, error) {
	return s.list(ctx, q, s.selectBooks())
}

// Search matches query case-insensitively against title, author, ISBN and
// category of active books.
func (s *Store) Search(ctx context.Context, q storage.Querier, query string, limit uint) ([]*Book, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	ds := s.selectBooks().Where(
		goqu.Ex{"is_active": true},
		goqu.Or(
			goqu.Func("LOWER", goqu.C("title")).Like(pattern),
			goqu.Func("LOWER", goqu.C("author")).Like(pattern),
			goqu.Func("LOWER", goqu.C("isbn")).Like(pattern),
			goqu.Func("LOWER", goqu.C("category")).Like(pattern),
		),
	).Limit(limit)
	return s.list(ctx, q, ds)
}

// Categories counts active books per category.
func (s *Store) Categories(ctx context.Context, q storage.Querier) ([]CategoryCount, error) {
	query, args, err := s.dialect.From(table).Prepared(true).
		Select(goqu.C("category"), goqu.COUNT(goqu.Star()).As("count")).
		Where(goqu.Ex{"is_active": true}).
		GroupBy("category").
		Order(goqu.C("category").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var counts []CategoryCount
	if err := sqlx.SelectContext(ctx, q, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}
	return counts, nil
}

func (s *Store) selectBooks() *goqu.SelectDataset {
	return s.dialect.From(table).Prepared(true).
		Select(bookColumns...).
		Order(goqu.C("title").Asc(), goqu.C("isbn").Asc())
}

func (s *Store) getOne(ctx context.Context, q storage.Querier, where goqu.Ex) (*Book, error) {
	query, args, err := s.dialect.From(table).Prepared(true).
		Select(bookColumns...).
		Where(where).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	b := &Book{}
	if err := sqlx.GetContext(ctx, q, b, query, args...); err != nil {
		if storage.IsNoRows(err) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return b, nil
}

func (s *Store) list(ctx context.Context, q storage.Querier, ds *goqu.SelectDataset) ([]*Book, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	books := []*Book{}
	if err := sqlx.SelectContext(ctx, q, &books, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// swap applies set to b's row if its version is still b.Version, then bumps
// b.Version. extra narrows the match further.
func (s *Store) swap(ctx context.Context, q storage.Querier, b *Book, set goqu.Record, extra goqu.Expression) error {
	now := storage.Timestamp(time.Now())
	set["version"] = goqu.L("version + 1")
	set["updated_at"] = now

	where := []goqu.Expression{goqu.Ex{"id": b.ID.String(), "version": b.Version}}
	if extra != nil {
		where = append(where, extra)
	}

	query, args, err := s.dialect.Update(table).Prepared(true).
		Set(set).
		Where(where...).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	if err := storage.ExpectOneRow(res); err != nil {
		return err
	}
	b.Version++
	b.UpdatedAt = now
	return nil
}

func (s *Store) append(ctx context.Context, q storage.Querier, id uuid.UUID, expected int, eventType string, payload interface{}) error {
	event, err := eventstore.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	if err := s.events.AppendEvents(ctx, q, id, AggregateType, expected, event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", eventType, err)
	}
	return nil
}
