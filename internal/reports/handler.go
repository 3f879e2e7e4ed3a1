// internal/reports/handler.go
package reports

import (
	"net/http"
	"strconv"

	"libraryhub/internal/apperr"
	"libraryhub/internal/web"
)

// ErrInvalidLimit rejects a limit query parameter that is not a whole number.
var ErrInvalidLimit = apperr.Validationf("invalid_limit", "Limit must be a non-negative integer.")

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Overdue(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Overdue(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, web.Envelope{"overdueBooks": books, "count": len(books)})
}

func (h *Handler) PopularBooks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			web.Error(w, r, ErrInvalidLimit)
			return
		}
		limit = n
	}

	books, err := h.service.PopularBooks(r.Context(), limit)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, web.Envelope{"books": books})
}

func (h *Handler) UserActivity(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.UserActivity(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, web.Envelope{"users": users})
}

func (h *Handler) Fines(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Fines(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, web.Envelope{
		"summary":     report.Summary,
		"fines":       report.Fines,
		"paid":        report.Paid,
		"outstanding": report.Outstanding,
	})
}

func (h *Handler) LibraryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.LibraryStats(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, web.Envelope{"stats": stats})
}
