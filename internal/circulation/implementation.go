// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"libraryhub/internal/catalog"
	"libraryhub/internal/membership"
	"libraryhub/internal/storage"
)

// service implements the Service interface.
type service struct {
	db         *storage.DB
	ledger     *Ledger
	books      *catalog.Store
	users      *membership.Store
	now        func() time.Time
	loanPeriod time.Duration
	logger     zerolog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	metrics    *metrics
}

// Option configures the circulation service.
type Option func(*service)

// WithLogger sets the logger used for circulation events.
func WithLogger(l zerolog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithLoanPeriod sets the default time between issue and due date.
func WithLoanPeriod(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.loanPeriod = d
		}
	}
}

// WithMeter sets the meter circulation counters are registered on.
func WithMeter(m metric.Meter) Option {
	return func(s *service) { s.meter = m }
}

// NewService creates a new circulation service instance.
func NewService(db *storage.DB, ledger *Ledger, books *catalog.Store, users *membership.Store, opts ...Option) Service {
	s := &service{
		db:         db,
		ledger:     ledger,
		books:      books,
		users:      users,
		now:        time.Now,
		loanPeriod: DefaultLoanPeriod,
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer("libraryhub/circulation"),
		meter:      otel.Meter("libraryhub/circulation"),
	}
	for _, opt := range opts {
		opt(s)
	}

	m, err := newMetrics(s.meter)
	if err != nil {
		s.logger.Warn().Err(err).Msg("circulation metrics disabled")
		m, _ = newMetrics(noop.NewMeterProvider().Meter(""))
	}
	s.metrics = m
	return s
}

// IssueBook lends one copy of a book to a user. The ledger insert and the
// shelf decrement commit together; a lost race on the book row re-runs the
// whole unit against fresh state.
func (s *service) IssueBook(ctx context.Context, bookID, userID uuid.UUID, dueDate *time.Time) (_ *Issue, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.issue", trace.WithAttributes(
		attribute.String("book.id", bookID.String()),
		attribute.String("user.id", userID.String()),
	))
	defer func() { endSpan(span, err) }()

	now := storage.Timestamp(s.now())
	due := now.Add(s.loanPeriod)
	if dueDate != nil {
		if !dueDate.After(now) {
			return nil, ErrInvalidDueDate
		}
		due = storage.Timestamp(*dueDate)
	}

	var issue *Issue
	err = storage.RetryOnConflict(ctx, s.onConflict(ctx, "issue"), func() error {
		return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			book, err := s.books.GetByID(ctx, tx, bookID)
			if err != nil {
				return err
			}
			if !book.IsActive {
				return catalog.ErrBookNotFound
			}

			user, err := s.users.GetByID(ctx, tx, userID)
			if err != nil {
				return err
			}
			if !user.IsActive {
				return ErrUserInactive
			}

			if book.AvailableCopies <= 0 {
				return ErrUnavailable
			}
			if _, err := s.ledger.FindOpen(ctx, tx, bookID, userID); err == nil {
				return ErrDuplicateLoan
			} else if !errors.Is(err, ErrNoActiveLoan) {
				return err
			}

			is := &Issue{
				ID:        uuid.New(),
				BookID:    bookID,
				UserID:    userID,
				IssueDate: now,
				DueDate:   due,
				Status:    StatusIssued,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.ledger.Insert(ctx, tx, is); err != nil {
				return err
			}
			if err := s.books.Lend(ctx, tx, book, is.ID); err != nil {
				return err
			}
			issue = is
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.issued.Add(ctx, 1)
	span.SetAttributes(attribute.String("issue.id", issue.ID.String()))
	s.logger.Info().
		Str("issue_id", issue.ID.String()).
		Str("book_id", bookID.String()).
		Str("user_id", userID.String()).
		Time("due_date", issue.DueDate).
		Msg("book issued")
	return issue, nil
}

// ReturnBook closes the open issue of a book to a user, assessing the fine
// for a late return and putting the copy back on the shelf.
func (s *service) ReturnBook(ctx context.Context, bookID, userID uuid.UUID) (_ *Issue, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return", trace.WithAttributes(
		attribute.String("book.id", bookID.String()),
		attribute.String("user.id", userID.String()),
	))
	defer func() { endSpan(span, err) }()

	now := storage.Timestamp(s.now())

	var issue *Issue
	err = storage.RetryOnConflict(ctx, s.onConflict(ctx, "return"), func() error {
		return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			is, err := s.ledger.FindOpen(ctx, tx, bookID, userID)
			if err != nil {
				return err
			}
			book, err := s.books.GetByID(ctx, tx, bookID)
			if err != nil {
				return err
			}

			if err := s.ledger.MarkReturned(ctx, tx, is, now, ComputeFine(is.DueDate, now)); err != nil {
				return err
			}
			if err := s.books.Restock(ctx, tx, book, is.ID); err != nil {
				return err
			}
			issue = is
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.returned.Add(ctx, 1)
	if issue.Fine.Amount > 0 {
		s.metrics.finesAssessed.Add(ctx, int64(issue.Fine.Amount))
	}
	span.SetAttributes(attribute.Int("fine.amount", issue.Fine.Amount))
	s.logger.Info().
		Str("issue_id", issue.ID.String()).
		Int("fine", issue.Fine.Amount).
		Msg("book returned")
	return issue, nil
}

// SettleFine marks the fine of an issue paid. When amount is given it must
// match the fine exactly.
func (s *service) SettleFine(ctx context.Context, issueID uuid.UUID, amount *int) (_ *Issue, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.settle_fine", trace.WithAttributes(
		attribute.String("issue.id", issueID.String()),
	))
	defer func() { endSpan(span, err) }()

	now := storage.Timestamp(s.now())

	var issue *Issue
	err = storage.RetryOnConflict(ctx, s.onConflict(ctx, "settle"), func() error {
		return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			is, err := s.ledger.Get(ctx, tx, issueID)
			if err != nil {
				return err
			}
			switch {
			case is.Fine.IsPaid:
				return ErrAlreadyPaid
			case is.Fine.Amount == 0:
				return ErrNothingOwed
			case amount != nil && *amount != is.Fine.Amount:
				return ErrAmountMismatch
			}

			if err := s.ledger.MarkFinePaid(ctx, tx, is, now); err != nil {
				return err
			}
			issue = is
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.finesSettled.Add(ctx, int64(issue.Fine.Amount))
	s.logger.Info().Str("issue_id", issue.ID.String()).Int("amount", issue.Fine.Amount).Msg("fine settled")
	return issue, nil
}

// ViewIssued lists the open loans of username with live overdue figures.
func (s *service) ViewIssued(ctx context.Context, username string) ([]IssuedBook, error) {
	user, issues, err := s.loadBorrower(ctx, username)
	if err != nil {
		return nil, err
	}

	now := s.now()
	books := s.bookCache()
	out := []IssuedBook{}
	for _, is := range issues {
		if !is.IsOpen() {
			continue
		}
		book, err := books(ctx, is.BookID)
		if err != nil {
			return nil, err
		}
		out = append(out, IssuedBook{
			IssueID:       is.ID,
			BookID:        book.ID,
			Title:         book.Title,
			Author:        book.Author,
			ISBN:          book.ISBN,
			Date:          is.IssueDate,
			DueDate:       is.DueDate,
			IsOverdue:     DeriveStatus(is, now) == StatusOverdue,
			DaysOverdue:   DaysOverdue(is.DueDate, now),
			EstimatedFine: EstimateFine(is, now),
		})
	}

	s.logger.Debug().Str("user_id", user.ID.String()).Int("open", len(out)).Msg("issued books viewed")
	return out, nil
}

// GetFines lists unpaid assessed fines of username plus the fines accruing
// on its open overdue loans.
func (s *service) GetFines(ctx context.Context, username string) (*FineSummary, error) {
	_, issues, err := s.loadBorrower(ctx, username)
	if err != nil {
		return nil, err
	}

	now := s.now()
	books := s.bookCache()
	summary := &FineSummary{Fines: []FineLine{}}
	for _, is := range issues {
		line := FineLine{IssueID: is.ID, DueDate: is.DueDate, ReturnDate: is.ReturnDate}
		switch {
		case !is.IsOpen() && Outstanding(is) > 0:
			line.Amount = Outstanding(is)
		case is.IsOpen() && DeriveStatus(is, now) == StatusOverdue:
			line.Amount = ComputeFine(is.DueDate, now)
			line.Accruing = true
		default:
			continue
		}

		book, err := books(ctx, is.BookID)
		if err != nil {
			return nil, err
		}
		line.BookTitle = book.Title
		summary.Fines = append(summary.Fines, line)
		summary.TotalFine += line.Amount
	}
	return summary, nil
}

// SyncOverdueStatus rewrites the cached status of open loans that have
// passed their due date. It returns how many rows changed.
func (s *service) SyncOverdueStatus(ctx context.Context) (_ int, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.sync_overdue")
	defer func() { endSpan(span, err) }()

	open, err := s.ledger.ListOpen(ctx, s.db)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var stale []uuid.UUID
	for _, is := range open {
		if is.Status == StatusIssued && DeriveStatus(is, now) == StatusOverdue {
			stale = append(stale, is.ID)
		}
	}

	n, err := s.ledger.MarkOverdue(ctx, s.db, stale)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("count", n).Msg("overdue status refreshed")
	}
	return int(n), nil
}

func (s *service) loadBorrower(ctx context.Context, username string) (*membership.User, []*Issue, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil, ErrUsernameNeeded
	}
	user, err := s.users.GetByUsername(ctx, s.db, username)
	if err != nil {
		return nil, nil, err
	}
	issues, err := s.ledger.ListByUser(ctx, s.db, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, issues, nil
}

// bookCache returns a lookup that reads each book at most once.
func (s *service) bookCache() func(context.Context, uuid.UUID) (*catalog.Book, error) {
	seen := map[uuid.UUID]*catalog.Book{}
	return func(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
		if b, ok := seen[id]; ok {
			return b, nil
		}
		b, err := s.books.GetByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		seen[id] = b
		return b, nil
	}
}

func (s *service) onConflict(ctx context.Context, op string) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		s.metrics.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
		s.logger.Debug().Err(err).Str("operation", op).Dur("wait", wait).Msg("retrying after conflict")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
