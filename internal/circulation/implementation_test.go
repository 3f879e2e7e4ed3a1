package circulation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"libraryhub/internal/catalog"
	"libraryhub/internal/eventstore"
	"libraryhub/internal/membership"
	"libraryhub/internal/storage"
	"libraryhub/internal/storage/storagetest"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// tb is what the fixture helpers need from both *testing.T and *rapid.T.
type tb interface {
	require.TestingT
	Helper()
}

type fixture struct {
	db      *storage.DB
	events  *eventstore.EventStore
	books   *catalog.Store
	users   *membership.Store
	ledger  *Ledger
	catalog catalog.Service
	members membership.Service
	clock   *testClock
	svc     Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.Open(t)
	es := eventstore.NewEventStore(db)
	books := catalog.NewStore(db, es)
	users := membership.NewStore(db, es)
	ledger := NewLedger(db, es)
	clock := &testClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}

	return &fixture{
		db:      db,
		events:  es,
		books:   books,
		users:   users,
		ledger:  ledger,
		catalog: catalog.NewService(db, books, ledger),
		members: membership.NewService(db, users, membership.NewTokenIssuer("secret", time.Hour)),
		clock:   clock,
		svc:     NewService(db, ledger, books, users, WithClock(clock.Now)),
	}
}

func (f *fixture) book(t tb, copies int) *catalog.Book {
	t.Helper()
	b, err := f.catalog.AddBook(context.Background(), catalog.NewBook{
		ISBN:        uuid.NewString(),
		Title:       "Book " + uuid.NewString()[:8],
		Author:      "Author",
		TotalCopies: copies,
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) user(t tb) *membership.User {
	t.Helper()
	u, err := f.members.RegisterUser(context.Background(), membership.NewUser{
		Username: "user-" + uuid.NewString()[:8],
		Password: "password",
		Role:     membership.RoleStudent,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) available(t tb, id uuid.UUID) int {
	t.Helper()
	b, err := f.catalog.GetBook(context.Background(), id)
	require.NoError(t, err)
	return b.AvailableCopies
}

func TestIssueBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 2)
	user := f.user(t)

	issue, err := f.svc.IssueBook(ctx, book.ID, user.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, issue.Status)
	assert.Equal(t, f.clock.Now(), issue.IssueDate)
	assert.Equal(t, f.clock.Now().Add(DefaultLoanPeriod), issue.DueDate)
	assert.Nil(t, issue.ReturnDate)
	assert.Zero(t, issue.RenewalCount)

	stored, err := f.catalog.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AvailableCopies)
	assert.Equal(t, 1, stored.TotalBorrowed)

	events, err := f.events.LoadEvents(ctx, f.db, issue.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "BookIssued", events[0].EventType)
}

func TestIssueBookWithDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)
	user := f.user(t)

	past := f.clock.Now().Add(-time.Hour)
	_, err := f.svc.IssueBook(ctx, book.ID, user.ID, &past)
	assert.ErrorIs(t, err, ErrInvalidDueDate)

	due := f.clock.Now().Add(3 * Day)
	issue, err := f.svc.IssueBook(ctx, book.ID, user.ID, &due)
	require.NoError(t, err)
	assert.Equal(t, due, issue.DueDate)
}

func TestIssueBookFailuresLeaveStateAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)
	user := f.user(t)
	other := f.user(t)

	_, err := f.svc.IssueBook(ctx, uuid.New(), user.ID, nil)
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)

	_, err = f.svc.IssueBook(ctx, book.ID, uuid.New(), nil)
	assert.ErrorIs(t, err, membership.ErrUserNotFound)

	_, err = f.svc.IssueBook(ctx, book.ID, user.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.IssueBook(ctx, book.ID, other.ID, nil)
	assert.ErrorIs(t, err, ErrUnavailable)

	stored, err := f.catalog.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.AvailableCopies)
	assert.Equal(t, 1, stored.TotalBorrowed)

	loans, err := f.ledger.ListByUser(ctx, f.db, other.ID)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestIssueBookRejectsDuplicateLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 3)
	user := f.user(t)

	_, err := f.svc.IssueBook(ctx, book.ID, user.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.IssueBook(ctx, book.ID, user.ID, nil)
	assert.ErrorIs(t, err, ErrDuplicateLoan)
	assert.Equal(t, 2, f.available(t, book.ID))
}

func TestIssueBookRejectsInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)
	user := f.user(t)

	_, err := f.members.SetActive(ctx, user.Username, false)
	require.NoError(t, err)
	_, err = f.svc.IssueBook(ctx, book.ID, user.ID, nil)
	assert.ErrorIs(t, err, ErrUserInactive)

	active := f.user(t)
	require.NoError(t, f.catalog.RemoveBook(ctx, book.ISBN))
	_, err = f.svc.IssueBook(ctx, book.ID, active.ID, nil)
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)
}

func TestReturnBookRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 2)
	user := f.user(t)

	_, err := f.svc.IssueBook(ctx, book.ID, user.ID, nil)
	require.NoError(t, err)
	f.clock.Advance(2 * Day)

	issue, err := f.svc.ReturnBook(ctx, book.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, issue.Status)
	require.NotNil(t, issue.ReturnDate)
	assert.Equal(t, f.clock.Now(), *issue.ReturnDate)
	assert.Zero(t, issue.Fine.Amount)
	assert.Equal(t, 2, f.available(t, book.ID))

	_, err = f.svc.ReturnBook(ctx, book.ID, user.ID)
	assert.ErrorIs(t, err, ErrNoActiveLoan)
	assert.Equal(t, 2, f.available(t, book.ID))

	// The pair may borrow again once the first loan is closed.
	_, err = f.svc.IssueBook(ctx, book.ID, user.ID, nil)
	require.NoError(t, err)
}

func TestReturnBookWithoutLoan(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	user := f.user(t)

	_, err := f.svc.ReturnBook(context.Background(), book.ID, user.ID)
	assert.ErrorIs(t, err, ErrNoActiveLoan)
	assert.Equal(t, 1, f.available(t, book.ID))
}

func TestLateReturnAssessesFine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)
	user := f.user(t)

	issued, err := f.svc.IssueBook(ctx, book.ID, user.ID, nil)
	require.NoError(t, err)
	f.clock.Advance(DefaultLoanPeriod + 3*Day + 12*time.Hour)

	issue, err := f.svc.ReturnBook(ctx, book.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, issue.Fine.Amount)

	stored, err := f.ledger.Get(ctx, f.db, issued.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, stored.Fine.Amount)
	assert.Equal(t, ComputeFine(stored.DueDate, *stored.ReturnDate), stored.Fine.Amount, "fine reproduces from the frozen return date")

	f.clock.Advance(30 * Day)
	assert.Equal(t, 8, EstimateFine(stored, f.clock.Now()))
}

func TestSettleFine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)
	user := f.user(t)

	open, err := f.svc.IssueBook(ctx, book.ID, user.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.SettleFine(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, ErrIssueNotFound)

	f.clock.Advance(DefaultLoanPeriod + Day)
	_, err = f.svc.SettleFine(ctx, open.ID, nil)
	assert.ErrorIs(t, err, ErrNothingOwed, "accruing fines cannot be paid before return")

	_, err = f.svc.ReturnBook(ctx, book.ID, user.ID)
	require.NoError(t, err)

	wrong := 3
	_, err = f.svc.SettleFine(ctx, open.ID, &wrong)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	amount := 2
	paid, err := f.svc.SettleFine(ctx, open.ID, &amount)
	require.NoError(t, err)
	assert.True(t, paid.Fine.IsPaid)
	require.NotNil(t, paid.Fine.PaidDate)
	paidAt := *paid.Fine.PaidDate

	f.clock.Advance(Day)
	_, err = f.svc.SettleFine(ctx, open.ID, nil)
	assert.ErrorIs(t, err, ErrAlreadyPaid)

	stored, err := f.ledger.Get(ctx, f.db, open.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Fine.PaidDate)
	assert.True(t, paidAt.Equal(*stored.Fine.PaidDate), "paid date is unchanged")

	events, err := f.events.LoadEvents(ctx, f.db, open.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "FineSettled", events[2].EventType)
}

func TestSettleFineOnTimeReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)
	user := f.user(t)

	issue, err := f.svc.IssueBook(ctx, book.ID, user.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.ReturnBook(ctx, book.ID, user.ID)
	require.NoError(t, err)

	_, err = f.svc.SettleFine(ctx, issue.ID, nil)
	assert.ErrorIs(t, err, ErrNothingOwed)
}

func TestConcurrentIssueOfLastCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)

	const n = 8
	users := make([]*membership.User, n)
	for i := range users {
		users[i] = f.user(t)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.IssueBook(ctx, book.ID, users[i].ID, nil)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, f.available(t, book.ID))

	open, err := f.ledger.CountOpenLoans(ctx, f.db, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, open)
}

func TestConcurrentIssueBySameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 5)
	user := f.user(t)

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.IssueBook(ctx, book.ID, user.ID, nil)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateLoan)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 4, f.available(t, book.ID))
}

func TestViewIssuedAndGetFines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	late := f.book(t, 1)
	onTime := f.book(t, 1)
	returned := f.book(t, 1)
	user := f.user(t)

	_, err := f.svc.IssueBook(ctx, returned.ID, user.ID, nil)
	require.NoError(t, err)
	f.clock.Advance(DefaultLoanPeriod + 2*Day)
	_, err = f.svc.ReturnBook(ctx, returned.ID, user.ID)
	require.NoError(t, err)

	lateDue := f.clock.Now().Add(Day)
	_, err = f.svc.IssueBook(ctx, late.ID, user.ID, &lateDue)
	require.NoError(t, err)
	_, err = f.svc.IssueBook(ctx, onTime.ID, user.ID, nil)
	require.NoError(t, err)
	f.clock.Advance(3 * Day)

	books, err := f.svc.ViewIssued(ctx, user.Username)
	require.NoError(t, err)
	require.Len(t, books, 2)
	byTitle := map[string]IssuedBook{}
	for _, b := range books {
		byTitle[b.Title] = b
	}
	assert.True(t, byTitle[late.Title].IsOverdue)
	assert.Equal(t, 2, byTitle[late.Title].DaysOverdue)
	assert.Equal(t, 4, byTitle[late.Title].EstimatedFine)
	assert.False(t, byTitle[onTime.Title].IsOverdue)

	summary, err := f.svc.GetFines(ctx, user.Username)
	require.NoError(t, err)
	require.Len(t, summary.Fines, 2)
	assert.Equal(t, 4+4, summary.TotalFine)
	for _, line := range summary.Fines {
		assert.Equal(t, line.BookTitle == late.Title, line.Accruing)
	}

	_, err = f.svc.ViewIssued(ctx, "ghost")
	assert.ErrorIs(t, err, membership.ErrUserNotFound)
	_, err = f.svc.GetFines(ctx, " ")
	assert.ErrorIs(t, err, ErrUsernameNeeded)
}

func TestSyncOverdueStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 2)
	a, b := f.user(t), f.user(t)

	first, err := f.svc.IssueBook(ctx, book.ID, a.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.IssueBook(ctx, book.ID, b.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.ReturnBook(ctx, book.ID, b.ID)
	require.NoError(t, err)

	n, err := f.svc.SyncOverdueStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(DefaultLoanPeriod + time.Hour)
	n, err = f.svc.SyncOverdueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.ledger.Get(ctx, f.db, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOverdue, stored.Status)
	assert.Equal(t, 1, stored.Version, "status refresh does not bump the version")

	// Returning an overdue loan still works against the unchanged version.
	_, err = f.svc.ReturnBook(ctx, book.ID, a.ID)
	require.NoError(t, err)
}

func TestCopyCountsStayInBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := make([]*membership.User, 4)
	for i := range users {
		users[i] = f.user(t)
	}

	rapid.Check(t, func(rt *rapid.T) {
		copies := rapid.IntRange(1, 3).Draw(rt, "copies")
		book := f.book(rt, copies)
		open := map[uuid.UUID]bool{}

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			u := users[rapid.IntRange(0, len(users)-1).Draw(rt, "user")]
			if rapid.Bool().Draw(rt, "issue") {
				_, err := f.svc.IssueBook(ctx, book.ID, u.ID, nil)
				switch {
				case err == nil:
					open[u.ID] = true
				case open[u.ID] && len(open) < copies:
					assert.ErrorIs(rt, err, ErrDuplicateLoan)
				default:
					assert.ErrorIs(rt, err, ErrUnavailable)
				}
			} else {
				_, err := f.svc.ReturnBook(ctx, book.ID, u.ID)
				if open[u.ID] {
					require.NoError(rt, err)
					delete(open, u.ID)
				} else {
					assert.ErrorIs(rt, err, ErrNoActiveLoan)
				}
			}

			stored, err := f.catalog.GetBook(ctx, book.ID)
			require.NoError(rt, err)
			if stored.AvailableCopies < 0 || stored.AvailableCopies > stored.TotalCopies {
				rt.Fatalf("available %d outside [0,%d]", stored.AvailableCopies, stored.TotalCopies)
			}
			assert.Equal(rt, copies-len(open), stored.AvailableCopies, fmt.Sprintf("after step %d", i))
		}
	})
}
