// internal/circulation/handler.go
package circulation

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"libraryhub/internal/membership"
	"libraryhub/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type loanRequest struct {
	BookID  string     `json:"bookId"`
	UserID  string     `json:"userId"`
	DueDate *time.Time `json:"dueDate"`
}

func (req loanRequest) ids() (uuid.UUID, uuid.UUID, error) {
	bookID, err := uuid.Parse(req.BookID)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidID.Wrap(err)
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidID.Wrap(err)
	}
	return bookID, userID, nil
}

func (h *Handler) IssueBook(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	bookID, userID, err := req.ids()
	if err != nil {
		web.Error(w, r, err)
		return
	}

	issue, err := h.service.IssueBook(r.Context(), bookID, userID, req.DueDate)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{
		"message": "Book issued successfully!",
		"issue":   issue,
	})
}

func (h *Handler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	bookID, userID, err := req.ids()
	if err != nil {
		web.Error(w, r, err)
		return
	}

	issue, err := h.service.ReturnBook(r.Context(), bookID, userID)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{
		"message": "Book returned successfully!",
		"fine":    issue.Fine.Amount,
		"issue":   issue,
	})
}

func (h *Handler) PayFine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IssueID string `json:"issueId"`
		Amount  *int   `json:"amount"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	issueID, err := uuid.Parse(req.IssueID)
	if err != nil {
		web.Error(w, r, ErrInvalidID.Wrap(err))
		return
	}

	issue, err := h.service.SettleFine(r.Context(), issueID, req.Amount)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{
		"message": "Fine paid successfully!",
		"issue":   issue,
	})
}

func (h *Handler) ViewIssued(w http.ResponseWriter, r *http.Request) {
	username, ok := h.borrower(w, r)
	if !ok {
		return
	}

	books, err := h.service.ViewIssued(r.Context(), username)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{"books": books})
}

func (h *Handler) GetFines(w http.ResponseWriter, r *http.Request) {
	username, ok := h.borrower(w, r)
	if !ok {
		return
	}

	summary, err := h.service.GetFines(r.Context(), username)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{
		"totalFine": summary.TotalFine,
		"fines":     summary.Fines,
	})
}

// borrower reads the username of a borrower request and checks the caller
// may see that account.
func (h *Handler) borrower(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Username string `json:"username"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return "", false
	}
	if req.Username == "" {
		web.Error(w, r, ErrUsernameNeeded)
		return "", false
	}

	claims, ok := membership.ClaimsFromContext(r.Context())
	if !ok {
		web.Error(w, r, membership.ErrInvalidToken)
		return "", false
	}
	if !claims.CanActFor(req.Username) {
		web.Error(w, r, membership.ErrForbidden)
		return "", false
	}
	return req.Username, true
}
