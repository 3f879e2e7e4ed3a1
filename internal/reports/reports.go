// internal/reports/reports.go
package reports

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/membership"
)

// Snapshot is the committed state a report is computed from. Books and Users
// include inactive rows so historical issues can still be labelled.
type Snapshot struct {
	Books      []*catalog.Book
	Users      []*membership.User
	Issues     []*circulation.Issue
	Categories []catalog.CategoryCount
}

type index struct {
	books map[uuid.UUID]*catalog.Book
	users map[uuid.UUID]*membership.User
}

func (s *Snapshot) index() index {
	ix := index{
		books: make(map[uuid.UUID]*catalog.Book, len(s.Books)),
		users: make(map[uuid.UUID]*membership.User, len(s.Users)),
	}
	for _, b := range s.Books {
		ix.books[b.ID] = b
	}
	for _, u := range s.Users {
		ix.users[u.ID] = u
	}
	return ix
}

func (ix index) book(id uuid.UUID) *catalog.Book {
	if b, ok := ix.books[id]; ok {
		return b
	}
	return &catalog.Book{ID: id}
}

func (ix index) user(id uuid.UUID) *membership.User {
	if u, ok := ix.users[id]; ok {
		return u
	}
	return &membership.User{ID: id}
}

// OverdueBook is one open loan past its due date.
type OverdueBook struct {
	IssueID      uuid.UUID       `json:"issueId"`
	Title        string          `json:"title"`
	Author       string          `json:"author"`
	ISBN         string          `json:"isbn"`
	Borrower     string          `json:"borrower"`
	BorrowerRole membership.Role `json:"borrowerRole"`
	IssueDate    time.Time       `json:"issueDate"`
	DueDate      time.Time       `json:"dueDate"`
	DaysOverdue  int             `json:"daysOverdue"`
	Fine         int             `json:"fine"`
}

// Overdue lists open loans whose derived status at now is overdue, most
// overdue first.
func Overdue(s *Snapshot, now time.Time) []OverdueBook {
	ix := s.index()
	out := []OverdueBook{}
	for _, is := range s.Issues {
		if circulation.DeriveStatus(is, now) != circulation.StatusOverdue {
			continue
		}
		b, u := ix.book(is.BookID), ix.user(is.UserID)
		out = append(out, OverdueBook{
			IssueID:      is.ID,
			Title:        b.Title,
			Author:       b.Author,
			ISBN:         b.ISBN,
			Borrower:     u.Username,
			BorrowerRole: u.Role,
			IssueDate:    is.IssueDate,
			DueDate:      is.DueDate,
			DaysOverdue:  circulation.DaysOverdue(is.DueDate, now),
			Fine:         circulation.EstimateFine(is, now),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DaysOverdue != b.DaysOverdue {
			return a.DaysOverdue > b.DaysOverdue
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.IssueID.String() < b.IssueID.String()
	})
	return out
}

// PopularBook is one row of the popularity ranking.
type PopularBook struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	Category        string `json:"category"`
	TotalBorrowed   int    `json:"totalBorrowed"`
	AvailableCopies int    `json:"availableCopies"`
	TotalCopies     int    `json:"totalCopies"`
}

// PopularBooks ranks active books by how often they were borrowed. A limit
// of zero or less returns every book.
func PopularBooks(s *Snapshot, limit int) []PopularBook {
	out := []PopularBook{}
	for _, b := range s.Books {
		if !b.IsActive {
			continue
		}
		out = append(out, PopularBook{
			Title:           b.Title,
			Author:          b.Author,
			ISBN:            b.ISBN,
			Category:        b.Category,
			TotalBorrowed:   b.TotalBorrowed,
			AvailableCopies: catalog.ClampAvailable(b.AvailableCopies, b.TotalCopies),
			TotalCopies:     b.TotalCopies,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TotalBorrowed != b.TotalBorrowed {
			return a.TotalBorrowed > b.TotalBorrowed
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ISBN < b.ISBN
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Activity summarises one member's borrowing.
type Activity struct {
	Username         string          `json:"username"`
	Role             membership.Role `json:"role"`
	MemberCode       string          `json:"userId,omitempty"`
	JoinDate         time.Time       `json:"joinDate"`
	TotalIssued      int             `json:"totalBooksIssued"`
	TotalReturned    int             `json:"totalBooksReturned"`
	CurrentlyIssued  int             `json:"currentlyIssued"`
	OutstandingFines int             `json:"outstandingFines"`
	AccruingFines    int             `json:"accruingFines"`
}

// UserActivity reports every active user, ordered by username.
func UserActivity(s *Snapshot, now time.Time) []Activity {
	byUser := make(map[uuid.UUID]*Activity)
	out := make([]*Activity, 0, len(s.Users))
	for _, u := range s.Users {
		if !u.IsActive {
			continue
		}
		a := &Activity{
			Username:   u.Username,
			Role:       u.Role,
			MemberCode: u.MemberCode,
			JoinDate:   u.CreatedAt,
		}
		byUser[u.ID] = a
		out = append(out, a)
	}

	for _, is := range s.Issues {
		a, ok := byUser[is.UserID]
		if !ok {
			continue
		}
		a.TotalIssued++
		if is.IsOpen() {
			a.CurrentlyIssued++
			a.AccruingFines += circulation.EstimateFine(is, now)
			continue
		}
		a.TotalReturned++
		a.OutstandingFines += circulation.Outstanding(is)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	rows := make([]Activity, len(out))
	for i, a := range out {
		rows[i] = *a
	}
	return rows
}

// FineStatus labels a fine in the fines report.
type FineStatus string

const (
	FinePaid        FineStatus = "Paid"
	FineOutstanding FineStatus = "Outstanding"
)

// FineDetail is one assessed fine.
type FineDetail struct {
	IssueID   uuid.UUID  `json:"issueId"`
	Username  string     `json:"username"`
	BookTitle string     `json:"bookTitle"`
	Amount    int        `json:"amount"`
	Status    FineStatus `json:"status"`
	DueDate   time.Time  `json:"dueDate"`
	PaidDate  *time.Time `json:"paidDate,omitempty"`
}

// FinesSummary totals assessed fines by payment state.
type FinesSummary struct {
	TotalOutstanding int `json:"totalOutstanding"`
	TotalCollected   int `json:"totalCollected"`
}

// FinesReport partitions every assessed fine into paid and outstanding.
type FinesReport struct {
	Summary     FinesSummary `json:"summary"`
	Fines       []FineDetail `json:"fines"`
	Paid        []FineDetail `json:"paid"`
	Outstanding []FineDetail `json:"outstanding"`
}

// Fines reports issues with a fine greater than zero. Accruing estimates on
// open loans are not fines yet and are left out.
func Fines(s *Snapshot) *FinesReport {
	ix := s.index()
	r := &FinesReport{Fines: []FineDetail{}, Paid: []FineDetail{}, Outstanding: []FineDetail{}}

	issues := make([]*circulation.Issue, 0, len(s.Issues))
	for _, is := range s.Issues {
		if is.Fine.Amount > 0 {
			issues = append(issues, is)
		}
	}
	sort.Slice(issues, func(i, j int) bool {
		if !issues[i].DueDate.Equal(issues[j].DueDate) {
			return issues[i].DueDate.Before(issues[j].DueDate)
		}
		return issues[i].ID.String() < issues[j].ID.String()
	})

	for _, is := range issues {
		d := FineDetail{
			IssueID:   is.ID,
			Username:  ix.user(is.UserID).Username,
			BookTitle: ix.book(is.BookID).Title,
			Amount:    is.Fine.Amount,
			DueDate:   is.DueDate,
			PaidDate:  is.Fine.PaidDate,
		}
		if is.Fine.IsPaid {
			d.Status = FinePaid
			r.Summary.TotalCollected += d.Amount
			r.Paid = append(r.Paid, d)
		} else {
			d.Status = FineOutstanding
			r.Summary.TotalOutstanding += d.Amount
			r.Outstanding = append(r.Outstanding, d)
		}
		r.Fines = append(r.Fines, d)
	}
	return r
}

// Stats are the headline numbers of the library.
type Stats struct {
	TotalBooks          int            `json:"totalBooks"`
	TotalCopies         int            `json:"totalCopies"`
	AvailableCopies     int            `json:"availableCopies"`
	IssuedCopies        int            `json:"issuedCopies"`
	ActiveIssues        int            `json:"activeIssues"`
	OverdueIssues       int            `json:"overdueIssues"`
	TotalUsers          int            `json:"totalUsers"`
	CategoriesBreakdown map[string]int `json:"categoriesBreakdown"`
}

// LibraryStats counts active books, copies, users and open loans at now.
func LibraryStats(s *Snapshot, now time.Time) *Stats {
	st := &Stats{CategoriesBreakdown: make(map[string]int, len(s.Categories))}
	for _, b := range s.Books {
		if !b.IsActive {
			continue
		}
		st.TotalBooks++
		st.TotalCopies += b.TotalCopies
		st.AvailableCopies += catalog.ClampAvailable(b.AvailableCopies, b.TotalCopies)
	}
	for _, u := range s.Users {
		if u.IsActive {
			st.TotalUsers++
		}
	}
	for _, is := range s.Issues {
		switch circulation.DeriveStatus(is, now) {
		case circulation.StatusOverdue:
			st.OverdueIssues++
			st.ActiveIssues++
		case circulation.StatusIssued:
			st.ActiveIssues++
		}
	}
	st.IssuedCopies = st.ActiveIssues
	for _, c := range s.Categories {
		name := c.Category
		if name == "" {
			name = catalog.DefaultCategory
		}
		st.CategoriesBreakdown[name] += c.Count
	}
	return st
}
