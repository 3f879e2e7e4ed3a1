// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"libraryhub/internal/storage"
)

// service implements the Service interface.
type service struct {
	db       *storage.DB
	store    *Store
	tokens   *TokenIssuer
	throttle *LoginThrottle
	logger   zerolog.Logger
}

// Option configures the membership service.
type Option func(*service)

// WithLogger sets the logger used for registrations and logins.
func WithLogger(l zerolog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// WithThrottle limits login attempts per username.
func WithThrottle(t *LoginThrottle) Option {
	return func(s *service) { s.throttle = t }
}

// NewService creates a new membership service instance.
func NewService(db *storage.DB, store *Store, tokens *TokenIssuer, opts ...Option) Service {
	s := &service{
		db:     db,
		store:  store,
		tokens: tokens,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterUser creates an active account with a hashed password.
func (s *service) RegisterUser(ctx context.Context, nu NewUser) (*User, error) {
	nu.Username = strings.TrimSpace(nu.Username)
	switch {
	case nu.Username == "":
		return nil, ErrUsernameRequired
	case len(nu.Password) < MinPasswordLength:
		return nil, ErrPasswordTooShort
	case !nu.Role.Valid():
		return nil, ErrInvalidRole
	}

	hash, salt, err := hashPassword(nu.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := storage.Timestamp(time.Now())
	user := &User{
		ID:           uuid.New(),
		Username:     nu.Username,
		Role:         nu.Role,
		MemberCode:   strings.TrimSpace(nu.MemberCode),
		Email:        strings.TrimSpace(nu.Email),
		PasswordHash: hash,
		PasswordSalt: salt,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.store.Insert(ctx, tx, user)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("username", user.Username).Str("role", string(user.Role)).Msg("user registered")
	return user, nil
}

// Authenticate checks credentials for an active user holding role and
// issues an access token. Unknown users, wrong roles, inactive accounts and
// wrong passwords all fail the same way.
func (s *service) Authenticate(ctx context.Context, role Role, username, password string) (*Session, error) {
	if !s.throttle.Allow(username) {
		s.logger.Warn().Str("username", username).Msg("login throttled")
		return nil, ErrTooManyAttempts
	}

	user, err := s.store.GetByUsername(ctx, s.db, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !user.IsActive || user.Role != role {
		return nil, ErrInvalidCredentials
	}

	ok, err := verifyPassword(password, user.PasswordSalt, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		s.logger.Info().Str("username", username).Msg("login rejected")
		return nil, ErrInvalidCredentials
	}

	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, ExpiresAt: expires}, nil
}

// VerifyToken validates an access token and checks that its user is still
// active.
func (s *service) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidToken.Wrap(err)
	}

	user, err := s.store.GetByID(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive || user.Role != claims.Role {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GetUser retrieves a user by ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.store.GetByID(ctx, s.db, id)
}

// GetUserByUsername retrieves a user by username.
func (s *service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.store.GetByUsername(ctx, s.db, username)
}

// SetActive enables or disables login for username.
func (s *service) SetActive(ctx context.Context, username string, active bool) (*User, error) {
	var user *User
	err := storage.RetryOnConflict(ctx, nil, func() error {
		return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			u, err := s.store.GetByUsername(ctx, tx, username)
			if err != nil {
				return err
			}
			if u.IsActive == active {
				user = u
				return nil
			}
			if err := s.store.SetActive(ctx, tx, u, active); err != nil {
				return err
			}
			user = u
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("username", user.Username).Bool("active", active).Msg("user activation changed")
	return user, nil
}

// ListUsers returns every account ordered by username.
func (s *service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.store.List(ctx, s.db)
}
