// internal/membership/store.go
package membership

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libraryhub/internal/eventstore"
	"libraryhub/internal/storage"
)

const table = "users"

var userColumns = []interface{}{
	"id", "username", "role", "member_code", "email", "password_hash",
	"password_salt", "is_active", "version", "created_at", "updated_at",
}

// Store reads and writes user rows and appends to their event streams.
type Store struct {
	dialect goqu.DialectWrapper
	events  *eventstore.EventStore
}

// NewStore creates a user store for db's dialect.
func NewStore(db *storage.DB, events *eventstore.EventStore) *Store {
	return &Store{dialect: db.Dialect(), events: events}
}

// Insert adds u as version 1.
func (s *Store) Insert(ctx context.Context, q storage.Querier, u *User) error {
	query, args, err := s.dialect.Insert(table).Prepared(true).Rows(goqu.Record{
		"id":            u.ID.String(),
		"username":      u.Username,
		"role":          string(u.Role),
		"member_code":   u.MemberCode,
		"email":         u.Email,
		"password_hash": u.PasswordHash,
		"password_salt": u.PasswordSalt,
		"is_active":     u.IsActive,
		"version":       1,
		"created_at":    u.CreatedAt,
		"updated_at":    u.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	u.Version = 1

	return s.append(ctx, q, u.ID, 0, "UserRegistered", UserRegisteredEvent{
		ID:         u.ID,
		Username:   u.Username,
		Role:       u.Role,
		MemberCode: u.MemberCode,
	})
}

// SetActive flips the active flag of u if its row is still at u.Version.
func (s *Store) SetActive(ctx context.Context, q storage.Querier, u *User, active bool) error {
	now := storage.Timestamp(time.Now())
	query, args, err := s.dialect.Update(table).Prepared(true).
		Set(goqu.Record{
			"is_active":  active,
			"version":    goqu.L("version + 1"),
			"updated_at": now,
		}).
		Where(goqu.Ex{"id": u.ID.String(), "version": u.Version}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if err := storage.ExpectOneRow(res); err != nil {
		return err
	}

	prev := u.Version
	u.Version++
	u.IsActive = active
	u.UpdatedAt = now
	return s.append(ctx, q, u.ID, prev, "UserActivationChanged", UserActivationChangedEvent{ID: u.ID, IsActive: active})
}

// GetByID returns the user with id.
func (s *Store) GetByID(ctx context.Context, q storage.Querier, id uuid.UUID) (*User, error) {
	return s.getOne(ctx, q, goqu.Ex{"id": id.String()})
}

// GetByUsername returns the user with username.
func (s *Store) GetByUsername(ctx context.Context, q storage.Querier, username string) (*User, error) {
	return s.getOne(ctx, q, goqu.Ex{"username": strings.TrimSpace(username)})
}

// List returns every user ordered by username.
func (s *Store) List(ctx context.Context, q storage.Querier) ([]*User, error) {
	query, args, err := s.dialect.From(table).Prepared(true).
		Select(userColumns...).
		Order(goqu.C("username").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	users := []*User{}
	if err := sqlx.SelectContext(ctx, q, &users, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Store) getOne(ctx context.Context, q storage.Querier, where goqu.Ex) (*User, error) {
	query, args, err := s.dialect.From(table).Prepared(true).
		Select(userColumns...).
		Where(where).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	u := &User{}
	if err := sqlx.GetContext(ctx, q, u, query, args...); err != nil {
		if storage.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *Store) append(ctx context.Context, q storage.Querier, id uuid.UUID, expected int, eventType string, payload interface{}) error {
	event, err := eventstore.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	if err := s.events.AppendEvents(ctx, q, id, AggregateType, expected, event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", eventType, err)
	}
	return nil
}
