// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"

	"libraryhub/internal/storage"
)

// SearchLimit caps the number of books a search returns.
const SearchLimit = 20

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, nb NewBook) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	GetBookByISBN(ctx context.Context, isbn string) (*Book, error)
	UpdateBook(ctx context.Context, isbn string, upd BookUpdate) (*Book, error)
	RemoveBook(ctx context.Context, isbn string) error
	Search(ctx context.Context, query string) ([]*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
}

// LoanCounter reports how the circulation ledger references a book. The
// catalog consults it before shrinking or removing a book.
type LoanCounter interface {
	CountOpenLoans(ctx context.Context, q storage.Querier, bookID uuid.UUID) (int, error)
	HasLoans(ctx context.Context, q storage.Querier, bookID uuid.UUID) (bool, error)
}
