// cmd/library/report.go
package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"libraryhub/internal/reports"
)

var reportNames = []string{"overdue", "popular-books", "user-activity", "fines", "library-stats"}

func newReportCmd() *cobra.Command {
	var asJSON bool
	var limit int
	cmd := &cobra.Command{
		Use:       "report <name>",
		Short:     "Print a library report",
		Long:      "Print one of: overdue, popular-books, user-activity, fines, library-stats.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: reportNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			data, err := loadReport(cmd, a.reports, args[0], limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(data)
			}
			return printReport(cmd.OutOrStdout(), data, time.Now())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows for popular-books")
	return cmd
}

func loadReport(cmd *cobra.Command, svc reports.Service, name string, limit int) (interface{}, error) {
	ctx := cmd.Context()
	switch name {
	case "overdue":
		return svc.Overdue(ctx)
	case "popular-books":
		return svc.PopularBooks(ctx, limit)
	case "user-activity":
		return svc.UserActivity(ctx)
	case "fines":
		return svc.Fines(ctx)
	case "library-stats":
		return svc.LibraryStats(ctx)
	}
	return nil, fmt.Errorf("unknown report %q", name)
}

func printReport(out io.Writer, data interface{}, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	switch r := data.(type) {
	case []reports.OverdueBook:
		fmt.Fprintln(w, "TITLE\tBORROWER\tDUE\tDAYS\tFINE")
		for _, b := range r {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", b.Title, b.Borrower, humanize.RelTime(b.DueDate, now, "ago", "from now"), b.DaysOverdue, money(b.Fine))
		}
	case []reports.PopularBook:
		fmt.Fprintln(w, "TITLE\tAUTHOR\tISBN\tBORROWED\tAVAILABLE")
		for _, b := range r {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\n", b.Title, b.Author, b.ISBN, humanize.Comma(int64(b.TotalBorrowed)), b.AvailableCopies, b.TotalCopies)
		}
	case []reports.Activity:
		fmt.Fprintln(w, "USER\tROLE\tJOINED\tISSUED\tRETURNED\tOUT\tOWED\tACCRUING")
		for _, u := range r {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n", u.Username, u.Role, humanize.RelTime(u.JoinDate, now, "ago", "from now"),
				u.TotalIssued, u.TotalReturned, u.CurrentlyIssued, money(u.OutstandingFines), money(u.AccruingFines))
		}
	case *reports.FinesReport:
		fmt.Fprintln(w, "USER\tBOOK\tAMOUNT\tSTATUS\tDUE")
		for _, f := range r.Fines {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.Username, f.BookTitle, money(f.Amount), f.Status, f.DueDate.Format(time.DateOnly))
		}
		fmt.Fprintf(w, "\ncollected %s, outstanding %s\n", money(r.Summary.TotalCollected), money(r.Summary.TotalOutstanding))
	case *reports.Stats:
		fmt.Fprintf(w, "books\t%s\n", humanize.Comma(int64(r.TotalBooks)))
		fmt.Fprintf(w, "copies\t%s (%s available)\n", humanize.Comma(int64(r.TotalCopies)), humanize.Comma(int64(r.AvailableCopies)))
		fmt.Fprintf(w, "active issues\t%d (%d overdue)\n", r.ActiveIssues, r.OverdueIssues)
		fmt.Fprintf(w, "users\t%d\n", r.TotalUsers)
		categories := make([]string, 0, len(r.CategoriesBreakdown))
		for c := range r.CategoriesBreakdown {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			fmt.Fprintf(w, "  %s\t%d\n", c, r.CategoriesBreakdown[c])
		}
	default:
		return fmt.Errorf("cannot print %T", data)
	}
	return w.Flush()
}

func money(amount int) string {
	return "₹" + humanize.Comma(int64(amount))
}
