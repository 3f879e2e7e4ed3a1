// internal/catalog/domain.go
package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"libraryhub/internal/apperr"
)

// AggregateType names book streams in the event store.
const AggregateType = "book"

// DefaultCategory is used when a book is added without one.
const DefaultCategory = "General"

// Book is a catalog entry. ISBN is its business identity; ID is the handle
// loans refer to.
type Book struct {
	ID              uuid.UUID `json:"id" db:"id"`
	ISBN            string    `json:"isbn" db:"isbn"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	Category        string    `json:"category" db:"category"`
	Publisher       string    `json:"publisher,omitempty" db:"publisher"`
	PublishedYear   int       `json:"publishedYear,omitempty" db:"published_year"`
	TotalCopies     int       `json:"totalCopies" db:"total_copies"`
	AvailableCopies int       `json:"availableCopies" db:"available_copies"`
	TotalBorrowed   int       `json:"totalBorrowed" db:"total_borrowed"`
	IsActive        bool      `json:"isActive" db:"is_active"`
	Version         int       `json:"version" db:"version"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// Clamp forces AvailableCopies into [0, TotalCopies].
func (b *Book) Clamp() {
	b.AvailableCopies = ClampAvailable(b.AvailableCopies, b.TotalCopies)
}

// ClampAvailable returns available bounded by zero and total.
func ClampAvailable(available, total int) int {
	if available < 0 {
		return 0
	}
	if available > total {
		return total
	}
	return available
}

// NewBook is the input to AddBook.
type NewBook struct {
	ISBN          string `json:"isbn"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Category      string `json:"category"`
	Publisher     string `json:"publisher"`
	PublishedYear int    `json:"publishedYear"`
	TotalCopies   int    `json:"totalCopies"`
}

func (n *NewBook) normalize() error {
	n.ISBN = strings.TrimSpace(n.ISBN)
	n.Title = strings.TrimSpace(n.Title)
	n.Author = strings.TrimSpace(n.Author)
	n.Category = strings.TrimSpace(n.Category)
	n.Publisher = strings.TrimSpace(n.Publisher)

	switch {
	case n.ISBN == "":
		return ErrISBNRequired
	case n.Title == "":
		return ErrTitleRequired
	case n.Author == "":
		return ErrAuthorRequired
	}
	if n.Category == "" {
		n.Category = DefaultCategory
	}
	if n.TotalCopies == 0 {
		n.TotalCopies = 1
	}
	if n.TotalCopies < 1 {
		return ErrInvalidCopies
	}
	if n.PublishedYear < 0 {
		return ErrInvalidYear
	}
	return nil
}

// BookUpdate carries the editable fields of a book. Empty strings and zero
// numbers leave the current value in place.
type BookUpdate struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	Category      string `json:"category"`
	Publisher     string `json:"publisher"`
	PublishedYear int    `json:"publishedYear"`
	TotalCopies   int    `json:"totalCopies"`
}

func (u BookUpdate) apply(b *Book) {
	if v := strings.TrimSpace(u.Title); v != "" {
		b.Title = v
	}
	if v := strings.TrimSpace(u.Author); v != "" {
		b.Author = v
	}
	if v := strings.TrimSpace(u.Category); v != "" {
		b.Category = v
	}
	if v := strings.TrimSpace(u.Publisher); v != "" {
		b.Publisher = v
	}
	if u.PublishedYear > 0 {
		b.PublishedYear = u.PublishedYear
	}
}

// CategoryCount is one bucket of the category histogram.
type CategoryCount struct {
	Category string `json:"category" db:"category"`
	Count    int    `json:"count" db:"count"`
}

var (
	ErrBookNotFound   = apperr.New(apperr.NotFound, "book_not_found", "Book not found.")
	ErrDuplicateISBN  = apperr.New(apperr.Conflict, "duplicate_isbn", "Book with this ISBN already exists.")
	ErrBookOnLoan     = apperr.New(apperr.Conflict, "book_on_loan", "Cannot remove book. It is currently issued to students.")
	ErrCopiesOnLoan   = apperr.New(apperr.Conflict, "copies_on_loan", "Total copies cannot be lower than the copies currently issued.")
	ErrISBNRequired   = apperr.Validationf("isbn_required", "ISBN is required.")
	ErrTitleRequired  = apperr.Validationf("title_required", "Title is required.")
	ErrAuthorRequired = apperr.Validationf("author_required", "Author is required.")
	ErrInvalidCopies  = apperr.Validationf("invalid_copies", "Total copies must be at least 1.")
	ErrInvalidYear    = apperr.Validationf("invalid_year", "Published year must not be negative.")
)

// BookAddedEvent is appended when a book enters the catalog.
type BookAddedEvent struct {
	ID          uuid.UUID `json:"id"`
	ISBN        string    `json:"isbn"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Category    string    `json:"category"`
	TotalCopies int       `json:"total_copies"`
}

// BookUpdatedEvent is appended when catalog details or copy counts change.
type BookUpdatedEvent struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Category        string    `json:"category"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
}

// BookRemovedEvent is appended when a book is retired. Hard is set when the
// row was deleted outright.
type BookRemovedEvent struct {
	ID   uuid.UUID `json:"id"`
	ISBN string    `json:"isbn"`
	Hard bool      `json:"hard"`
}

// CopyLentEvent is appended to a book stream when a copy goes out on loan.
type CopyLentEvent struct {
	BookID          uuid.UUID `json:"book_id"`
	IssueID         uuid.UUID `json:"issue_id"`
	AvailableCopies int       `json:"available_copies"`
}

// CopyReturnedEvent is appended to a book stream when a copy comes back.
type CopyReturnedEvent struct {
	BookID          uuid.UUID `json:"book_id"`
	IssueID         uuid.UUID `json:"issue_id"`
	AvailableCopies int       `json:"available_copies"`
}
