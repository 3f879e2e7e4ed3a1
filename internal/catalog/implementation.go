// internal/catalog/implementation.go
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"libraryhub/internal/storage"
)

// service implements the Service interface.
type service struct {
	db     *storage.DB
	store  *Store
	loans  LoanCounter
	logger zerolog.Logger
}

// Option configures the catalog service.
type Option func(*service)

// WithLogger sets the logger used for catalog writes.
func WithLogger(l zerolog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// NewService creates a new catalog service instance.
func NewService(db *storage.DB, store *Store, loans LoanCounter, opts ...Option) Service {
	s := &service{
		db:     db,
		store:  store,
		loans:  loans,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddBook creates a new book with all copies on the shelf.
func (s *service) AddBook(ctx context.Context, nb NewBook) (*Book, error) {
	if err := nb.normalize(); err != nil {
		return nil, err
	}

	now := storage.Timestamp(time.Now())
	book := &Book{
		ID:              uuid.New(),
		ISBN:            nb.ISBN,
		Title:           nb.Title,
		Author:          nb.Author,
		Category:        nb.Category,
		Publisher:       nb.Publisher,
		PublishedYear:   nb.PublishedYear,
		TotalCopies:     nb.TotalCopies,
		AvailableCopies: nb.TotalCopies,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.store.Insert(ctx, tx, book)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("isbn", book.ISBN).Str("book_id", book.ID.String()).Msg("book added")
	return book, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return s.store.GetByID(ctx, s.db, id)
}

// GetBookByISBN retrieves a book by its ISBN.
func (s *service) GetBookByISBN(ctx context.Context, isbn string) (*Book, error) {
	return s.store.GetByISBN(ctx, s.db, isbn)
}

// UpdateBook edits an active book. A new total recomputes the shelf count
// from the copies currently on loan.
func (s *service) UpdateBook(ctx context.Context, isbn string, upd BookUpdate) (*Book, error) {
	if upd.TotalCopies < 0 {
		return nil, ErrInvalidCopies
	}
	if upd.PublishedYear < 0 {
		return nil, ErrInvalidYear
	}

	var book *Book
	err := storage.RetryOnConflict(ctx, nil, func() error {
		return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			b, err := s.activeByISBN(ctx, tx, isbn)
			if err != nil {
				return err
			}

			upd.apply(b)
			if upd.TotalCopies > 0 {
				onLoan, err := s.loans.CountOpenLoans(ctx, tx, b.ID)
				if err != nil {
					return err
				}
				if upd.TotalCopies < onLoan {
					return ErrCopiesOnLoan
				}
				b.TotalCopies = upd.TotalCopies
				b.AvailableCopies = upd.TotalCopies - onLoan
			}

			if err := s.store.Update(ctx, tx, b); err != nil {
				return err
			}
			book = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("isbn", book.ISBN).Int("version", book.Version).Msg("book updated")
	return book, nil
}

// RemoveBook takes a book out of the catalog. Books that were never lent are
// deleted; the rest are retired so loan history keeps its reference.
func (s *service) RemoveBook(ctx context.Context, isbn string) error {
	var hard bool
	err := storage.RetryOnConflict(ctx, nil, func() error {
		return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			b, err := s.activeByISBN(ctx, tx, isbn)
			if err != nil {
				return err
			}

			onLoan, err := s.loans.CountOpenLoans(ctx, tx, b.ID)
			if err != nil {
				return err
			}
			if onLoan > 0 {
				return ErrBookOnLoan
			}

			lent, err := s.loans.HasLoans(ctx, tx, b.ID)
			if err != nil {
				return err
			}
			hard = !lent
			if hard {
				return s.store.Delete(ctx, tx, b)
			}
			return s.store.Retire(ctx, tx, b)
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("isbn", isbn).Bool("hard", hard).Msg("book removed")
	return nil
}

// Search finds active books matching query.
func (s *service) Search(ctx context.Context, query string) ([]*Book, error) {
	return s.store.Search(ctx, s.db, query, SearchLimit)
}

// ListBooks returns the active catalog ordered by title.
func (s *service) ListBooks(ctx context.Context) ([]*Book, error) {
	return s.store.ListActive(ctx, s.db)
}

func (s *service) activeByISBN(ctx context.Context, q storage.Querier, isbn string) (*Book, error) {
	b, err := s.store.GetByISBN(ctx, q, isbn)
	if err != nil {
		return nil, err
	}
	if !b.IsActive {
		return nil, ErrBookNotFound
	}
	return b, nil
}
