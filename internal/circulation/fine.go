package circulation

import "time"

const (
	// FlatRatePerDay is charged for every started day past the due date.
	FlatRatePerDay = 2
	// DefaultLoanPeriod applies when an issue is created without a due date.
	DefaultLoanPeriod = 14 * Day
	Day               = 24 * time.Hour
)

// DaysOverdue counts started days between due and asOf. It is zero when
// asOf is not after due.
func DaysOverdue(due, asOf time.Time) int {
	late := asOf.Sub(due)
	if late <= 0 {
		return 0
	}
	days := int(late / Day)
	if late%Day != 0 {
		days++
	}
	return days
}

// ComputeFine is the charge for returning on asOf a book due on due.
func ComputeFine(due, asOf time.Time) int {
	return DaysOverdue(due, asOf) * FlatRatePerDay
}

// DeriveStatus is the authoritative status of is at now.
func DeriveStatus(is *Issue, now time.Time) Status {
	switch {
	case is.ReturnDate != nil:
		return StatusReturned
	case now.After(is.DueDate):
		return StatusOverdue
	default:
		return StatusIssued
	}
}

// EstimateFine is the assessed fine of a returned issue, or what an open
// issue would be charged if returned at now.
func EstimateFine(is *Issue, now time.Time) int {
	if is.ReturnDate != nil {
		return is.Fine.Amount
	}
	return ComputeFine(is.DueDate, now)
}

// Outstanding is the assessed fine still unpaid.
func Outstanding(is *Issue) int {
	if is.Fine.IsPaid {
		return 0
	}
	return is.Fine.Amount
}
