// Package lockout decides when repeated password failures lock an account.
package lockout

import (
	"time"

	"github.com/pesio-ai/be-plt-auth/internal/repository"
)

const (
	DefaultThreshold = 5
	DefaultDuration  = 15 * time.Minute
)

// Policy locks an account for Duration once FailedLoginAttempts reaches
// Threshold. Failures while locked are not counted by callers, so lockouts
// never compound.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, Duration: DefaultDuration}
}

// IsLocked reports whether the user's lockout window is still open at now
func (p Policy) IsLocked(user *repository.User, now time.Time) bool {
	return user.LockoutEndAt != nil && user.LockoutEndAt.After(now)
}

// RecordFailure counts a failed password attempt and opens a lockout window
// when the threshold is reached
func (p Policy) RecordFailure(user *repository.User, now time.Time) {
	user.FailedLoginAttempts++
	failedAt := now
	user.LastFailedLoginAt = &failedAt

	if user.FailedLoginAttempts >= p.Threshold {
		end := now.Add(p.Duration)
		user.LockoutEndAt = &end
	}
}

// RecordSuccess resets the failure state and stamps the login time
func (p Policy) RecordSuccess(user *repository.User, now time.Time) {
	user.FailedLoginAttempts = 0
	user.LockoutEndAt = nil
	user.LastFailedLoginAt = nil
	loginAt := now
	user.LastLoginAt = &loginAt
}

// ClearExpired drops a lockout window that has already closed at now
func (p Policy) ClearExpired(user *repository.User, now time.Time) bool {
	if user.LockoutEndAt == nil || user.LockoutEndAt.After(now) {
		return false
	}
	user.LockoutEndAt = nil
	return true
}
