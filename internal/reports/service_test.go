package reports

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/eventstore"
	"libraryhub/internal/membership"
	"libraryhub/internal/storage/storagetest"
)

type library struct {
	catalog catalog.Service
	members membership.Service
	loans   circulation.Service
	reports Service
	now     time.Time
}

func newLibrary(t *testing.T) *library {
	t.Helper()
	db := storagetest.Open(t)
	es := eventstore.NewEventStore(db)
	books := catalog.NewStore(db, es)
	users := membership.NewStore(db, es)
	ledger := circulation.NewLedger(db, es)

	l := &library{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return l.now }
	l.catalog = catalog.NewService(db, books, ledger)
	l.members = membership.NewService(db, users, membership.NewTokenIssuer("secret", time.Hour))
	l.loans = circulation.NewService(db, ledger, books, users, circulation.WithClock(clock))
	l.reports = NewService(db, books, users, ledger, WithClock(clock))
	return l
}

func TestServiceReports(t *testing.T) {
	ctx := context.Background()
	l := newLibrary(t)

	midnight, err := l.catalog.AddBook(ctx, catalog.NewBook{ISBN: "111", Title: "The Midnight Library", Author: "Matt Haig", Category: "Fiction", TotalCopies: 3})
	require.NoError(t, err)
	hail, err := l.catalog.AddBook(ctx, catalog.NewBook{ISBN: "222", Title: "Project Hail Mary", Author: "Andy Weir", Category: "Science Fiction", TotalCopies: 2})
	require.NoError(t, err)
	student, err := l.members.RegisterUser(ctx, membership.NewUser{Username: "student1", Password: "studentpass", Role: membership.RoleStudent})
	require.NoError(t, err)

	_, err = l.loans.IssueBook(ctx, midnight.ID, student.ID, nil)
	require.NoError(t, err)
	_, err = l.loans.IssueBook(ctx, hail.ID, student.ID, nil)
	require.NoError(t, err)

	l.now = l.now.Add(circulation.DefaultLoanPeriod + 2*circulation.Day + time.Hour)
	back, err := l.loans.ReturnBook(ctx, midnight.ID, student.ID)
	require.NoError(t, err)
	require.Equal(t, 6, back.Fine.Amount)

	overdue, err := l.reports.Overdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "Project Hail Mary", overdue[0].Title)
	assert.Equal(t, "student1", overdue[0].Borrower)
	assert.Equal(t, 3, overdue[0].DaysOverdue)
	assert.Equal(t, 6, overdue[0].Fine)

	popular, err := l.reports.PopularBooks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, popular, 2)
	assert.Equal(t, "222", popular[0].ISBN, "equal borrow counts break by title")
	assert.Equal(t, 1, popular[0].TotalBorrowed)

	activity, err := l.reports.UserActivity(ctx)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, 2, activity[0].TotalIssued)
	assert.Equal(t, 1, activity[0].TotalReturned)
	assert.Equal(t, 1, activity[0].CurrentlyIssued)
	assert.Equal(t, 6, activity[0].OutstandingFines)
	assert.Equal(t, 6, activity[0].AccruingFines)

	_, err = l.loans.SettleFine(ctx, back.ID, nil)
	require.NoError(t, err)
	fines, err := l.reports.Fines(ctx)
	require.NoError(t, err)
	assert.Equal(t, FinesSummary{TotalCollected: 6}, fines.Summary)

	stats, err := l.reports.LibraryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalBooks)
	assert.Equal(t, 5, stats.TotalCopies)
	assert.Equal(t, 4, stats.AvailableCopies)
	assert.Equal(t, 1, stats.ActiveIssues)
	assert.Equal(t, 1, stats.OverdueIssues)
	assert.Equal(t, 1, stats.TotalUsers)
	assert.Equal(t, map[string]int{"Fiction": 1, "Science Fiction": 1}, stats.CategoriesBreakdown)
}

func TestHandlerReports(t *testing.T) {
	l := newLibrary(t)
	h := NewHandler(l.reports)

	get := func(fn http.HandlerFunc, target string) (int, map[string]interface{}) {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodGet, target, nil))
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return rec.Code, out
	}

	code, out := get(h.Overdue, "/api/reports/overdue")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(0), out["count"])
	assert.Equal(t, []interface{}{}, out["overdueBooks"])

	code, out = get(h.PopularBooks, "/api/reports/popular-books?limit=-1")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_limit", out["code"])

	code, out = get(h.LibraryStats, "/api/reports/library-stats")
	assert.Equal(t, http.StatusOK, code)
	stats := out["stats"].(map[string]interface{})
	assert.Equal(t, float64(0), stats["totalBooks"])

	code, out = get(h.Fines, "/api/reports/fines")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, out, "summary")
}
