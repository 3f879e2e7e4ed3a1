// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the circulation service.
type Service interface {
	IssueBook(ctx context.Context, bookID, userID uuid.UUID, dueDate *time.Time) (*Issue, error)
	ReturnBook(ctx context.Context, bookID, userID uuid.UUID) (*Issue, error)
	SettleFine(ctx context.Context, issueID uuid.UUID, amount *int) (*Issue, error)
	ViewIssued(ctx context.Context, username string) ([]IssuedBook, error)
	GetFines(ctx context.Context, username string) (*FineSummary, error)
	SyncOverdueStatus(ctx context.Context) (int, error)
}
