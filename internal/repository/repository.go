package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// UserDirectory reads users and persists their lockout and login-audit state
type UserDirectory interface {
	// FindByEmail matches email case-insensitively and loads the role graph.
	FindByEmail(ctx context.Context, email string) (*User, error)
	// FindByID locks the user for the rest of the unit of work.
	FindByID(ctx context.Context, id string) (*User, error)
	// GetByID is a plain read for callers that never write the user back.
	GetByID(ctx context.Context, id string) (*User, error)
	Save(ctx context.Context, user *User) error
}

// RefreshTokenStore reads and writes refresh token records
type RefreshTokenStore interface {
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)
	// FindActiveByUser returns tokens not revoked and expiring after now.
	FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]*RefreshToken, error)
	Add(ctx context.Context, token *RefreshToken) error
	Save(ctx context.Context, token *RefreshToken) error
}

// UnitOfWork groups the reads and writes of one operation into a single
// atomic commit. Rollback after Commit is a no-op.
type UnitOfWork interface {
	Users() UserDirectory
	RefreshTokens() RefreshTokenStore
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transactor begins units of work
type Transactor interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}
