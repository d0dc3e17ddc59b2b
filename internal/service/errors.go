package service

import "errors"

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountLocked       = errors.New("account is locked")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUserNotFound        = errors.New("user not found")
)

// Kind classifies a service error for transport code
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidCredentials
	KindAccountLocked
	KindInvalidRefreshToken
	KindUserNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindAccountLocked:
		return "account_locked"
	case KindInvalidRefreshToken:
		return "invalid_refresh_token"
	case KindUserNotFound:
		return "user_not_found"
	default:
		return "internal"
	}
}

// KindOf maps err to its Kind. Anything that is not one of the service
// sentinels is internal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return KindAccountLocked
	case errors.Is(err, ErrInvalidRefreshToken):
		return KindInvalidRefreshToken
	case errors.Is(err, ErrUserNotFound):
		return KindUserNotFound
	default:
		return KindInternal
	}
}
