// internal/membership/handler.go
package membership

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

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role     Role   `json:"role"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	session, err := h.service.Authenticate(r.Context(), req.Role, req.Username, req.Password)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{
		"role": session.User.Role,
		"user": web.Envelope{
			"id":       session.User.ID,
			"username": session.User.Username,
			"userId":   session.User.MemberCode,
		},
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
	})
}

func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req NewUser
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.Respond(w, http.StatusCreated, web.Envelope{
		"message": "User created successfully!",
		"user":    user,
	})
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		IsActive *bool  `json:"isActive"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	if req.Username == "" {
		web.Error(w, r, ErrUsernameRequired)
		return
	}
	if req.IsActive == nil {
		web.Error(w, r, errActiveRequired)
		return
	}

	user, err := h.service.SetActive(r.Context(), req.Username, *req.IsActive)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{"user": user})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}

	web.OK(w, web.Envelope{"users": users})
}
