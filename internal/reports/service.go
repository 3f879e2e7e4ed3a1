// internal/reports/service.go
package reports

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/membership"
	"libraryhub/internal/storage"
)

// Service serves the read-only library reports.
type Service interface {
	Overdue(ctx context.Context) ([]OverdueBook, error)
	PopularBooks(ctx context.Context, limit int) ([]PopularBook, error)
	UserActivity(ctx context.Context) ([]Activity, error)
	Fines(ctx context.Context) (*FinesReport, error)
	LibraryStats(ctx context.Context) (*Stats, error)
}

type service struct {
	db     *storage.DB
	books  *catalog.Store
	users  *membership.Store
	ledger *circulation.Ledger
	now    func() time.Time
	logger zerolog.Logger
	tracer trace.Tracer
}

// Option configures the report service.
type Option func(*service)

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// WithClock replaces time.Now when deriving status and fines.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a report service reading from the given stores.
func NewService(db *storage.DB, books *catalog.Store, users *membership.Store, ledger *circulation.Ledger, opts ...Option) Service {
	s := &service{
		db:     db,
		books:  books,
		users:  users,
		ledger: ledger,
		now:    time.Now,
		logger: zerolog.Nop(),
		tracer: otel.Tracer("libraryhub/reports"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Overdue(ctx context.Context) ([]OverdueBook, error) {
	snap, now, err := s.load(ctx, "overdue")
	if err != nil {
		return nil, err
	}
	return Overdue(snap, now), nil
}

func (s *service) PopularBooks(ctx context.Context, limit int) ([]PopularBook, error) {
	snap, _, err := s.load(ctx, "popular-books")
	if err != nil {
		return nil, err
	}
	return PopularBooks(snap, limit), nil
}

func (s *service) UserActivity(ctx context.Context) ([]Activity, error) {
	snap, now, err := s.load(ctx, "user-activity")
	if err != nil {
		return nil, err
	}
	return UserActivity(snap, now), nil
}

func (s *service) Fines(ctx context.Context) (*FinesReport, error) {
	snap, _, err := s.load(ctx, "fines")
	if err != nil {
		return nil, err
	}
	return Fines(snap), nil
}

func (s *service) LibraryStats(ctx context.Context) (*Stats, error) {
	snap, now, err := s.load(ctx, "library-stats")
	if err != nil {
		return nil, err
	}
	return LibraryStats(snap, now), nil
}

// snapshotTx gives every statement in load the same snapshot on Postgres,
// where the default READ COMMITTED would re-snapshot per statement.
var snapshotTx = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

// load reads every table a report needs inside one read-only transaction so
// the projections see a single committed state.
func (s *service) load(ctx context.Context, report string) (_ *Snapshot, _ time.Time, err error) {
	ctx, span := s.tracer.Start(ctx, "reports.load", trace.WithAttributes(attribute.String("report", report)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	snap := &Snapshot{}
	err = s.db.WithTxOptions(ctx, snapshotTx, func(tx *sqlx.Tx) error {
		var err error
		if snap.Books, err = s.books.ListAll(ctx, tx); err != nil {
			return err
		}
		if snap.Users, err = s.users.List(ctx, tx); err != nil {
			return err
		}
		if snap.Issues, err = s.ledger.ListAll(ctx, tx); err != nil {
			return err
		}
		snap.Categories, err = s.books.Categories(ctx, tx)
		return err
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	s.logger.Debug().
		Str("report", report).
		Int("books", len(snap.Books)).
		Int("issues", len(snap.Issues)).
		Msg("report generated")
	return snap, s.now(), nil
}
