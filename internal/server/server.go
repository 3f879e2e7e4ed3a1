// Package server exposes the library services over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/membership"
	"libraryhub/internal/reports"
	"libraryhub/internal/web"
)

const shutdownGrace = 10 * time.Second

// Services are the handlers' backends.
type Services struct {
	Catalog     catalog.Service
	Members     membership.Service
	Circulation circulation.Service
	Reports     reports.Service
}

// Pinger reports whether the database answers.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server routes HTTP requests to the library services.
type Server struct {
	services Services
	db       Pinger
	origins  []string
	logger   zerolog.Logger
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCORSOrigins sets the browser origins allowed to call the API.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithHealthCheck makes /healthz ping db.
func WithHealthCheck(db Pinger) Option {
	return func(s *Server) { s.db = db }
}

// New builds the router.
func New(services Services, opts ...Option) *Server {
	s := &Server{
		services: services,
		origins:  []string{"*"},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	books := catalog.NewHandler(s.services.Catalog)
	members := membership.NewHandler(s.services.Members)
	loans := circulation.NewHandler(s.services.Circulation)
	report := reports.NewHandler(s.services.Reports)

	staff := requireRole(membership.RoleAdmin, membership.RoleAssistant)
	admin := requireRole(membership.RoleAdmin)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}).Handler)

	r.Get("/healthz", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(authenticate(s.services.Members))

		r.Post("/login", members.Login)
		r.Post("/searchbooks", books.SearchBooks)
		r.Get("/books", books.ListBooks)

		r.Group(func(r chi.Router) {
			r.Use(admin)
			r.Get("/users", members.ListUsers)
			r.Post("/users", members.RegisterUser)
			r.Post("/users/status", members.SetActive)
		})

		r.Group(func(r chi.Router) {
			r.Use(staff)
			r.Post("/addbook", books.AddBook)
			r.Post("/updatebook", books.UpdateBook)
			r.Post("/removebook", books.RemoveBook)
			r.Post("/issuebook", loans.IssueBook)
			r.Post("/returnbook", loans.ReturnBook)
			r.Post("/payfine", loans.PayFine)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole())
			r.Post("/viewissued", loans.ViewIssued)
			r.Post("/getfines", loans.GetFines)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Use(requireRole(membership.RoleAdmin, membership.RoleAssistant, membership.RoleTeacher))
			r.Get("/overdue", report.Overdue)
			r.Get("/popular-books", report.PopularBooks)
			r.Get("/user-activity", report.UserActivity)
			r.Get("/fines", report.Fines)
			r.Get("/library-stats", report.LibraryStats)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		web.JSON(w, http.StatusNotFound, web.Envelope{"success": false, "message": "Route not found."})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
			web.JSON(w, http.StatusServiceUnavailable, web.Envelope{"success": false, "status": "unavailable"})
			return
		}
	}
	web.OK(w, web.Envelope{"status": "ok"})
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Warn().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
