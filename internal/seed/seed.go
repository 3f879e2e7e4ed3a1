// Package seed loads demonstration data through the public services, so the
// seeded state carries the same events and invariants as real traffic.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/eventstore"
	"libraryhub/internal/membership"
	"libraryhub/internal/storage"
)

// Users are the demo accounts.
var Users = []membership.NewUser{
	{Role: membership.RoleAdmin, Username: "admin1", Password: "adminpass"},
	{Role: membership.RoleStudent, Username: "student1", Password: "studentpass"},
	{Role: membership.RoleTeacher, Username: "teacher1", Password: "teacherpass"},
	{Role: membership.RoleStudent, Username: "Anamika", Password: "Anamika123", MemberCode: "S123"},
	{Role: membership.RoleAssistant, Username: "assistant1", Password: "assistantpass", MemberCode: "A001"},
}

// Books are the demo titles.
var Books = []catalog.NewBook{
	{Title: "The Midnight Library", Author: "Matt Haig", ISBN: "978-0735211292", Category: "Fiction", TotalCopies: 3},
	{Title: "Project Hail Mary", Author: "Andy Weir", ISBN: "978-0593135204", Category: "Science Fiction", TotalCopies: 2},
	{Title: "Klara and the Sun", Author: "Kazuo Ishiguro", ISBN: "978-0593318171", Category: "Fiction", TotalCopies: 2},
	{Title: "A Brief History of Time", Author: "Stephen Hawking", ISBN: "978-0553380163", Category: "Science", TotalCopies: 1},
	{Title: "Mrinmoy's History", Author: "Mrinmoy", ISBN: "20015n", Category: "History", TotalCopies: 1},
	{Title: "To Kill a Mockingbird", Author: "Harper Lee", ISBN: "978-0061120084", Category: "Classic Literature", TotalCopies: 2},
}

// Loan is a demo issue, relative to the time the seed runs.
type Loan struct {
	ISBN         string
	Username     string
	IssuedAgo    time.Duration
	ReturnedAgo  time.Duration // zero while the book is still out
	PaidAtReturn bool
}

// Loans are issued with the default loan period, so the first two are
// overdue and the third is still within its period.
var Loans = []Loan{
	{ISBN: "978-0735211292", Username: "student1", IssuedAgo: 20 * circulation.Day},
	{ISBN: "978-0593135204", Username: "Anamika", IssuedAgo: 18 * circulation.Day},
	{ISBN: "978-0553380163", Username: "teacher1", IssuedAgo: 10 * circulation.Day},
	{ISBN: "978-0061120084", Username: "student1", IssuedAgo: 25 * circulation.Day, ReturnedAgo: 5 * circulation.Day, PaidAtReturn: true},
}

// Result counts what a run created.
type Result struct {
	Users  int `json:"users"`
	Books  int `json:"books"`
	Issues int `json:"issues"`
}

// Seeder writes the demo data.
type Seeder struct {
	db      *storage.DB
	books   *catalog.Store
	users   *membership.Store
	ledger  *circulation.Ledger
	catalog catalog.Service
	members membership.Service
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Seeder.
type Option func(*Seeder)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Seeder) { s.logger = l }
}

// WithClock sets the time loans are dated relative to.
func WithClock(now func() time.Time) Option {
	return func(s *Seeder) { s.now = now }
}

// New creates a seeder writing through db.
func New(db *storage.DB, es *eventstore.EventStore, opts ...Option) *Seeder {
	s := &Seeder{
		db:     db,
		books:  catalog.NewStore(db, es),
		users:  membership.NewStore(db, es),
		ledger: circulation.NewLedger(db, es),
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.catalog = catalog.NewService(db, s.books, s.ledger, catalog.WithLogger(s.logger))
	// Only registration is used, which needs no token issuer.
	s.members = membership.NewService(db, s.users, nil, membership.WithLogger(s.logger))
	return s
}

// Run creates the demo users and books that do not exist yet. Loans are only
// created for books this run added, so running it twice is harmless.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	for _, nu := range Users {
		_, err := s.members.RegisterUser(ctx, nu)
		switch {
		case err == nil:
			res.Users++
		case errors.Is(err, membership.ErrDuplicateUsername):
			s.logger.Debug().Str("username", nu.Username).Msg("seed user exists")
		default:
			return res, fmt.Errorf("failed to seed user %s: %w", nu.Username, err)
		}
	}

	added := make(map[string]*catalog.Book)
	for _, nb := range Books {
		b, err := s.catalog.AddBook(ctx, nb)
		switch {
		case err == nil:
			added[b.ISBN] = b
			res.Books++
		case errors.Is(err, catalog.ErrDuplicateISBN):
			s.logger.Debug().Str("isbn", nb.ISBN).Msg("seed book exists")
		default:
			return res, fmt.Errorf("failed to seed book %s: %w", nb.ISBN, err)
		}
	}

	now := s.now()
	for _, l := range Loans {
		b, ok := added[l.ISBN]
		if !ok {
			continue
		}
		if err := s.loan(ctx, now, b, l); err != nil {
			return res, fmt.Errorf("failed to seed loan of %s: %w", l.ISBN, err)
		}
		res.Issues++
	}

	s.logger.Info().Int("users", res.Users).Int("books", res.Books).Int("issues", res.Issues).Msg("database seeded")
	return res, nil
}

func (s *Seeder) loan(ctx context.Context, now time.Time, b *catalog.Book, l Loan) error {
	u, err := s.users.GetByUsername(ctx, s.db, l.Username)
	if err != nil {
		return err
	}

	at := now.Add(-l.IssuedAgo)
	svc := circulation.NewService(s.db, s.ledger, s.books, s.users,
		circulation.WithLogger(s.logger),
		circulation.WithClock(func() time.Time { return at }),
	)

	issue, err := svc.IssueBook(ctx, b.ID, u.ID, nil)
	if err != nil {
		return err
	}
	if l.ReturnedAgo == 0 {
		return nil
	}

	at = now.Add(-l.ReturnedAgo)
	issue, err = svc.ReturnBook(ctx, b.ID, u.ID)
	if err != nil {
		return err
	}
	if l.PaidAtReturn && issue.Fine.Amount > 0 {
		_, err = svc.SettleFine(ctx, issue.ID, nil)
	}
	return err
}
