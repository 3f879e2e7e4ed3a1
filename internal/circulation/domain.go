// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"

	"libraryhub/internal/apperr"
)

// AggregateType names issue streams in the event store.
const AggregateType = "issue"

// Status is the lifecycle state of an issue.
type Status string

const (
	StatusIssued   Status = "issued"
	StatusOverdue  Status = "overdue"
	StatusReturned Status = "returned"
)

// Fine is the charge assessed on a late return.
type Fine struct {
	Amount   int        `json:"amount"`
	IsPaid   bool       `json:"isPaid"`
	PaidDate *time.Time `json:"paidDate,omitempty"`
}

// Issue is one loan of a book to a user. Status is the value stored at the
// last write; read paths use DeriveStatus instead.
type Issue struct {
	ID           uuid.UUID  `json:"id"`
	BookID       uuid.UUID  `json:"bookId"`
	UserID       uuid.UUID  `json:"userId"`
	IssueDate    time.Time  `json:"issueDate"`
	DueDate      time.Time  `json:"dueDate"`
	ReturnDate   *time.Time `json:"returnDate,omitempty"`
	Status       Status     `json:"status"`
	Fine         Fine       `json:"fine"`
	RenewalCount int        `json:"renewalCount"`
	Version      int        `json:"version"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// IsOpen reports whether the book is still out.
func (is *Issue) IsOpen() bool { return is.ReturnDate == nil }

type issueRow struct {
	ID           uuid.UUID  `db:"id"`
	BookID       uuid.UUID  `db:"book_id"`
	UserID       uuid.UUID  `db:"user_id"`
	IssueDate    time.Time  `db:"issue_date"`
	DueDate      time.Time  `db:"due_date"`
	ReturnDate   *time.Time `db:"return_date"`
	Status       string     `db:"status"`
	FineAmount   int        `db:"fine_amount"`
	FinePaid     bool       `db:"fine_paid"`
	FinePaidAt   *time.Time `db:"fine_paid_at"`
	RenewalCount int        `db:"renewal_count"`
	Version      int        `db:"version"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func (r issueRow) toIssue() *Issue {
	return &Issue{
		ID:           r.ID,
		BookID:       r.BookID,
		UserID:       r.UserID,
		IssueDate:    r.IssueDate.UTC(),
		DueDate:      r.DueDate.UTC(),
		ReturnDate:   utcPtr(r.ReturnDate),
		Status:       Status(r.Status),
		Fine:         Fine{Amount: r.FineAmount, IsPaid: r.FinePaid, PaidDate: utcPtr(r.FinePaidAt)},
		RenewalCount: r.RenewalCount,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// IssuedBook is one open loan as shown to its borrower.
type IssuedBook struct {
	IssueID       uuid.UUID `json:"issueId"`
	BookID        uuid.UUID `json:"bookId"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	ISBN          string    `json:"isbn"`
	Date          time.Time `json:"date"`
	DueDate       time.Time `json:"dueDate"`
	IsOverdue     bool      `json:"isOverdue"`
	DaysOverdue   int       `json:"daysOverdue"`
	EstimatedFine int       `json:"estimatedFine"`
}

// FineLine is one entry of a borrower's fines. Accruing lines belong to
// open overdue loans and are estimates until the book comes back.
type FineLine struct {
	IssueID    uuid.UUID  `json:"issueId"`
	BookTitle  string     `json:"bookTitle"`
	Amount     int        `json:"amount"`
	DueDate    time.Time  `json:"dueDate"`
	ReturnDate *time.Time `json:"returnDate,omitempty"`
	Accruing   bool       `json:"accruing"`
}

// FineSummary is what a borrower owes.
type FineSummary struct {
	TotalFine int        `json:"totalFine"`
	Fines     []FineLine `json:"fines"`
}

var (
	ErrUnavailable    = apperr.New(apperr.Conflict, "unavailable", "Book is not available.")
	ErrDuplicateLoan  = apperr.New(apperr.Conflict, "duplicate_loan", "User already has this book issued.")
	ErrNoActiveLoan   = apperr.New(apperr.NotFound, "no_active_loan", "No active issue found for this book.")
	ErrIssueNotFound  = apperr.New(apperr.NotFound, "issue_not_found", "Issue not found.")
	ErrNothingOwed    = apperr.New(apperr.Conflict, "nothing_owed", "No fine is owed on this issue.")
	ErrAlreadyPaid    = apperr.New(apperr.Conflict, "already_paid", "Fine has already been paid.")
	ErrUserInactive   = apperr.New(apperr.Conflict, "user_inactive", "User account is inactive.")
	ErrInvalidDueDate = apperr.Validationf("invalid_due_date", "Due date must be in the future.")
	ErrAmountMismatch = apperr.Validationf("amount_mismatch", "Amount must equal the fine owed.")
	ErrInvalidID      = apperr.Validationf("invalid_id", "A valid id is required.")
	ErrUsernameNeeded = apperr.Validationf("username_required", "Username is required.")
)

// BookIssuedEvent is appended when an issue is created.
type BookIssuedEvent struct {
	IssueID   uuid.UUID `json:"issue_id"`
	BookID    uuid.UUID `json:"book_id"`
	UserID    uuid.UUID `json:"user_id"`
	IssueDate time.Time `json:"issue_date"`
	DueDate   time.Time `json:"due_date"`
}

// BookReturnedEvent is appended when an issue is closed.
type BookReturnedEvent struct {
	IssueID    uuid.UUID `json:"issue_id"`
	BookID     uuid.UUID `json:"book_id"`
	UserID     uuid.UUID `json:"user_id"`
	ReturnDate time.Time `json:"return_date"`
	Fine       int       `json:"fine"`
}

// FineSettledEvent is appended when a fine is paid.
type FineSettledEvent struct {
	IssueID  uuid.UUID `json:"issue_id"`
	Amount   int       `json:"amount"`
	PaidDate time.Time `json:"paid_date"`
}
