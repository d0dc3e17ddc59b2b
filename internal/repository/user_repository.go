package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the subset of pgx.Tx the repositories need
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `
	id, email, full_name, password_hash, status,
	failed_login_attempts, last_failed_login_at, lockout_end_at, last_login_at,
	created_at, updated_at, deleted_at
`

// UserRepository handles user data operations inside a transaction
type UserRepository struct {
	db    querier
	roles *RoleRepository
}

// NewUserRepository creates a new user repository
func NewUserRepository(db querier) *UserRepository {
	return &UserRepository{db: db, roles: NewRoleRepository(db)}
}

// FindByEmail retrieves a live user by email, ignoring case.
// The row stays locked until the transaction ends.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE lower(email) = lower($1) AND deleted_at IS NULL
		FOR UPDATE
	`

	user, err := r.scanOne(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// FindByID retrieves a live user by ID and locks the row until the
// transaction ends
func (r *UserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`
	return r.findByID(ctx, query, id)
}

// GetByID retrieves a live user by ID without locking the row
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`
	return r.findByID(ctx, query, id)
}

func (r *UserRepository) findByID(ctx context.Context, query, id string) (*User, error) {
	// ids are UUIDs; anything else cannot name a user
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("failed to get user %q: %w", id, ErrNotFound)
	}

	user, err := r.scanOne(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Save writes the lockout and login-audit fields back
func (r *UserRepository) Save(ctx context.Context, user *User) error {
	query := `
		UPDATE users
		SET failed_login_attempts = $2,
		    last_failed_login_at = $3,
		    lockout_end_at = $4,
		    last_login_at = $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		user.ID,
		user.FailedLoginAttempts,
		user.LastFailedLoginAt,
		user.LockoutEndAt,
		user.LastLoginAt,
	).Scan(&user.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to update user %s: %w", user.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return nil
}

func (r *UserRepository) scanOne(ctx context.Context, query string, arg any) (*User, error) {
	user := &User{}
	var status string

	err := r.db.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&status,
		&user.FailedLoginAttempts,
		&user.LastFailedLoginAt,
		&user.LockoutEndAt,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.Status = UserStatus(status)

	user.Roles, err = r.roles.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return user, nil
}
