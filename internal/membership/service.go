// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterUser(ctx context.Context, nu NewUser) (*User, error)
	Authenticate(ctx context.Context, role Role, username, password string) (*Session, error)
	VerifyToken(ctx context.Context, token string) (*Claims, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SetActive(ctx context.Context, username string, active bool) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
}
