// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"

	"libraryhub/internal/apperr"
)

// AggregateType names user streams in the event store.
const AggregateType = "user"

// MinPasswordLength is the shortest password RegisterUser accepts.
const MinPasswordLength = 6

// Role decides which operations a user may call.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleStudent   Role = "student"
	RoleTeacher   Role = "teacher"
	RoleAssistant Role = "assistant"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleStudent, RoleTeacher, RoleAssistant}

// Valid reports whether r is one of Roles.
func (r Role) Valid() bool {
	for _, v := range Roles {
		if r == v {
			return true
		}
	}
	return false
}

// User is a library account. Password material never leaves the package in
// JSON.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Role         Role      `json:"role" db:"role"`
	MemberCode   string    `json:"userId,omitempty" db:"member_code"`
	Email        string    `json:"email,omitempty" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	PasswordSalt string    `json:"-" db:"password_salt"`
	IsActive     bool      `json:"isActive" db:"is_active"`
	Version      int       `json:"version" db:"version"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// NewUser is the input to RegisterUser.
type NewUser struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Role       Role   `json:"role"`
	MemberCode string `json:"userId"`
	Email      string `json:"email"`
}

// Session is the result of a successful login.
type Session struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

var (
	ErrUserNotFound       = apperr.New(apperr.NotFound, "user_not_found", "User not found.")
	ErrDuplicateUsername  = apperr.New(apperr.Conflict, "duplicate_username", "A user with this username already exists.")
	ErrInvalidCredentials = apperr.New(apperr.Unauthorized, "invalid_credentials", "Invalid credentials.")
	ErrTooManyAttempts    = apperr.New(apperr.Unauthorized, "too_many_attempts", "Too many login attempts. Try again later.")
	ErrInvalidToken       = apperr.New(apperr.Unauthorized, "invalid_token", "Missing or invalid token.")
	ErrForbidden          = apperr.New(apperr.Forbidden, "forbidden", "You are not allowed to do that.")
	ErrUsernameRequired   = apperr.Validationf("username_required", "Username is required.")
	ErrPasswordTooShort   = apperr.Validationf("password_too_short", "Password must be at least 6 characters.")
	ErrInvalidRole        = apperr.Validationf("invalid_role", "Role must be one of admin, student, teacher or assistant.")

	errActiveRequired = apperr.Validationf("is_active_required", "isActive is required.")
)

// UserRegisteredEvent is appended when an account is created.
type UserRegisteredEvent struct {
	ID         uuid.UUID `json:"id"`
	Username   string    `json:"username"`
	Role       Role      `json:"role"`
	MemberCode string    `json:"member_code,omitempty"`
}

// UserActivationChangedEvent is appended when an account is enabled or
// disabled.
type UserActivationChangedEvent struct {
	ID       uuid.UUID `json:"id"`
	IsActive bool      `json:"is_active"`
}
