package repository

import "time"

// UserStatus is the lifecycle status of a user account
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusPending  UserStatus = "pending"
)

// User represents a user in the directory.
// Only the lockout and login-audit fields are written by this service.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Status       UserStatus

	FailedLoginAttempts int
	LastFailedLoginAt   *time.Time
	LockoutEndAt        *time.Time
	LastLoginAt         *time.Time

	Roles []Role

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Role represents a role assigned to a user
type Role struct {
	ID          string
	Name        string
	Permissions []Permission
}

// Permission represents a permission granted through a role
type Permission struct {
	ID  string
	Key string
}

// RefreshToken represents a persisted refresh token. Rows are never deleted;
// expiry and revocation are soft states kept for audit and reuse detection.
type RefreshToken struct {
	ID          string
	UserID      string
	Token       string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	CreatedByIP *string

	RevokedAt       *time.Time
	RevokedByIP     *string
	ReasonRevoked   *string
	ReplacedByToken *string
}

// IsRevoked reports whether the token has been revoked
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired reports whether the token's validity window has closed at now
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// IsActive reports whether the token can still be exchanged at now
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// Revoke marks the token revoked at now
func (t *RefreshToken) Revoke(now time.Time, ip, reason string) {
	revokedAt := now
	t.RevokedAt = &revokedAt
	t.RevokedByIP = nullableString(ip)
	t.ReasonRevoked = nullableString(reason)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
