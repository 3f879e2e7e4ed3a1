// internal/catalog/handler.go
package catalog

import (
	"net/http"

	"libraryhub/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) AddBook(w http.ResponseWriter, r *http.Request) {
	var req NewBook
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	book, err := h.service.AddBook(r.Context(), req)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.Respond(w, http.StatusCreated, web.Envelope{
		"message": "Book added successfully!",
		"book":    book,
	})
}

func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ISBN string `json:"isbn"`
		BookUpdate
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	if req.ISBN == "" {
		web.Error(w, r, ErrISBNRequired)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), req.ISBN, req.BookUpdate)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{
		"message": "Book updated successfully!",
		"book":    book,
	})
}

func (h *Handler) RemoveBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ISBN string `json:"isbn"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	if req.ISBN == "" {
		web.Error(w, r, ErrISBNRequired)
		return
	}

	if err := h.service.RemoveBook(r.Context(), req.ISBN); err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{"message": "Book removed successfully!"})
}

func (h *Handler) SearchBooks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	books, err := h.service.Search(r.Context(), req.Query)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{"books": books})
}

func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{"books": books})
}
