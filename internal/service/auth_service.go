package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-auth/internal/audit"
	"github.com/pesio-ai/be-plt-auth/internal/lockout"
	"github.com/pesio-ai/be-plt-auth/internal/logger"
	"github.com/pesio-ai/be-plt-auth/internal/repository"
	"github.com/pesio-ai/be-plt-auth/pkg/clock"
	jwtpkg "github.com/pesio-ai/be-plt-auth/pkg/jwt"
)

// Revocation reasons stored on refresh tokens
const (
	ReasonReplaced     = "replaced by new token"
	ReasonReuse        = "security: attempted reuse of revoked token"
	ReasonInactiveUser = "inactive user"
	ReasonLocked       = "account locked"
	ReasonLogout       = "User logout"
)

// PasswordHasher hashes and verifies passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) bool
}

// TokenEncoder issues access tokens and mints refresh tokens at a given time
type TokenEncoder interface {
	CreateAccessTokenAt(sub jwtpkg.Subject, roles, permissions []string, now time.Time) (string, time.Time, error)
	CreateRefreshTokenAt(createdByIP string, now time.Time) (*jwtpkg.RefreshToken, error)
}

// decoyPassword is hashed once and verified against on login paths that
// have no real hash to check, so every rejected login costs one Verify
const decoyPassword = "decoy-password-never-matches"

type AuthService struct {
	tx      repository.Transactor
	hasher  PasswordHasher
	tokens  TokenEncoder
	lockout lockout.Policy
	clock   clock.Clock
	audit   audit.Publisher
	log     *logger.Logger

	decoyOnce sync.Once
	decoyHash string
}

func NewAuthService(
	tx repository.Transactor,
	hasher PasswordHasher,
	tokens TokenEncoder,
	policy lockout.Policy,
	clk clock.Clock,
	publisher audit.Publisher,
	log *logger.Logger,
) *AuthService {
	if clk == nil {
		clk = clock.System{}
	}
	if publisher == nil {
		publisher = audit.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if policy.Threshold <= 0 {
		policy.Threshold = lockout.DefaultThreshold
	}
	if policy.Duration <= 0 {
		policy.Duration = lockout.DefaultDuration
	}
	return &AuthService{
		tx:      tx,
		hasher:  hasher,
		tokens:  tokens,
		lockout: policy,
		clock:   clk,
		audit:   publisher,
		log:     log,
	}
}

type LoginRequest struct {
	Email    string
	Password string
	ClientIP string
}

type RefreshRequest struct {
	RefreshToken string
	ClientIP     string
}

type LogoutRequest struct {
	RefreshToken string
	ClientIP     string
}

// AuthResult is the token pair handed back after Login and Refresh
type AuthResult struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

type Profile struct {
	ID       string
	Email    string
	FullName string
	Roles    []string
}

// Login authenticates a user by email and password and issues a token pair
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	now := s.clock.Now()

	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = uow.Rollback(ctx) }()

	user, err := uow.Users().FindByEmail(ctx, req.Email)
	if errors.Is(err, repository.ErrNotFound) {
		s.burnVerify(req.Password)
		s.log.Warn().Str("client_ip", req.ClientIP).Msg("Login for unknown email")
		s.publish(ctx, audit.Event{
			Type: audit.LoginFailed, ClientIP: req.ClientIP, OccurredAt: now,
			Attrs: map[string]string{"reason": "unknown_email"},
		})
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if s.lockout.IsLocked(user, now) {
		s.log.Warn().Str("user_id", user.ID).Time("lockout_end_at", *user.LockoutEndAt).Msg("Account is locked")
		s.publish(ctx, audit.Event{Type: audit.LoginLocked, UserID: user.ID, ClientIP: req.ClientIP, OccurredAt: now})
		return nil, ErrAccountLocked
	}

	if user.Status != repository.UserStatusActive {
		s.burnVerify(req.Password)
		s.log.Warn().Str("user_id", user.ID).Str("status", string(user.Status)).Msg("Account is inactive")
		s.publish(ctx, audit.Event{
			Type: audit.LoginFailed, UserID: user.ID, ClientIP: req.ClientIP, OccurredAt: now,
			Attrs: map[string]string{"reason": "inactive"},
		})
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		s.lockout.RecordFailure(user, now)
		if err := uow.Users().Save(ctx, user); err != nil {
			return nil, err
		}
		if err := uow.Commit(ctx); err != nil {
			return nil, err
		}

		locked := s.lockout.IsLocked(user, now)
		if locked {
			s.log.Warn().Str("user_id", user.ID).Int("failed_attempts", user.FailedLoginAttempts).
				Msg("Account locked due to too many failed login attempts")
		} else {
			s.log.Warn().Str("user_id", user.ID).Int("failed_attempts", user.FailedLoginAttempts).Msg("Invalid password")
		}
		s.publish(ctx, audit.Event{
			Type: audit.LoginFailed, UserID: user.ID, ClientIP: req.ClientIP, OccurredAt: now,
			Attrs: map[string]string{
				"reason":          "bad_password",
				"failed_attempts": strconv.Itoa(user.FailedLoginAttempts),
				"locked":          strconv.FormatBool(locked),
			},
		})
		return nil, ErrInvalidCredentials
	}

	s.lockout.RecordSuccess(user, now)

	result, record, err := s.issue(user, req.ClientIP, now)
	if err != nil {
		return nil, err
	}
	if err := uow.Users().Save(ctx, user); err != nil {
		return nil, err
	}
	if err := uow.RefreshTokens().Add(ctx, record); err != nil {
		return nil, err
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Str("token_id", record.ID).Msg("Login successful")
	s.publish(ctx, audit.Event{Type: audit.LoginSucceeded, UserID: user.ID, ClientIP: req.ClientIP, OccurredAt: now})

	return result, nil
}

// Refresh exchanges an active refresh token for a new token pair. The
// presented token is revoked and linked to its replacement. Presenting a
// token that was already revoked revokes every active token of its owner.
func (s *AuthService) Refresh(ctx context.Context, req RefreshRequest) (*AuthResult, error) {
	now := s.clock.Now()

	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = uow.Rollback(ctx) }()

	current, err := uow.RefreshTokens().FindByToken(ctx, req.RefreshToken)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Warn().Str("client_ip", req.ClientIP).Msg("Refresh with unknown token")
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}

	if current.IsRevoked() {
		revoked, err := s.revokeAllActive(ctx, uow, current.UserID, ReasonReuse, req.ClientIP, now)
		if err != nil {
			return nil, err
		}
		if err := uow.Commit(ctx); err != nil {
			return nil, err
		}

		s.log.Warn().Str("user_id", current.UserID).Str("token_id", current.ID).Int("revoked", revoked).
			Msg("Revoked refresh token reused, all active tokens revoked")
		s.publish(ctx, audit.Event{
			Type: audit.TokenReuseFound, UserID: current.UserID, ClientIP: req.ClientIP, OccurredAt: now,
			Attrs: map[string]string{"token_id": current.ID, "revoked": strconv.Itoa(revoked)},
		})
		return nil, ErrInvalidRefreshToken
	}

	if current.IsExpired(now) {
		s.log.Info().Str("user_id", current.UserID).Str("token_id", current.ID).Msg("Refresh with expired token")
		return nil, ErrInvalidRefreshToken
	}

	user, err := uow.Users().FindByID(ctx, current.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up token owner: %w", err)
	}
	if user == nil || user.Status != repository.UserStatusActive {
		if err := s.revokeOne(ctx, uow, current, ReasonInactiveUser, req.ClientIP, now); err != nil {
			return nil, err
		}
		s.log.Warn().Str("user_id", current.UserID).Str("token_id", current.ID).Msg("Refresh for inactive user")
		return nil, ErrInvalidRefreshToken
	}

	if s.lockout.IsLocked(user, now) {
		if err := s.revokeOne(ctx, uow, current, ReasonLocked, req.ClientIP, now); err != nil {
			return nil, err
		}
		s.log.Warn().Str("user_id", user.ID).Str("token_id", current.ID).Msg("Refresh for locked account")
		return nil, ErrAccountLocked
	}

	result, next, err := s.issue(user, req.ClientIP, now)
	if err != nil {
		return nil, err
	}

	current.Revoke(now, req.ClientIP, ReasonReplaced)
	replacedBy := next.Token
	current.ReplacedByToken = &replacedBy

	if err := uow.RefreshTokens().Save(ctx, current); err != nil {
		return nil, err
	}
	if err := uow.RefreshTokens().Add(ctx, next); err != nil {
		return nil, err
	}
	if s.lockout.ClearExpired(user, now) {
		if err := uow.Users().Save(ctx, user); err != nil {
			return nil, err
		}
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Str("token_id", current.ID).Str("replaced_by_id", next.ID).Msg("Refresh token rotated")
	s.publish(ctx, audit.Event{
		Type: audit.TokenRefreshed, UserID: user.ID, ClientIP: req.ClientIP, OccurredAt: now,
		Attrs: map[string]string{"token_id": current.ID, "replaced_by_id": next.ID},
	})

	return result, nil
}

// Logout revokes a refresh token. Unknown and already revoked tokens are
// accepted without touching the store.
func (s *AuthService) Logout(ctx context.Context, req LogoutRequest) error {
	now := s.clock.Now()

	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback(ctx) }()

	current, err := uow.RefreshTokens().FindByToken(ctx, req.RefreshToken)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up refresh token: %w", err)
	}
	if current.IsRevoked() {
		return nil
	}

	if err := s.revokeOne(ctx, uow, current, ReasonLogout, req.ClientIP, now); err != nil {
		return err
	}

	s.log.Info().Str("user_id", current.UserID).Str("token_id", current.ID).Msg("Logout successful")
	s.publish(ctx, audit.Event{
		Type: audit.TokenRevoked, UserID: current.UserID, ClientIP: req.ClientIP, OccurredAt: now,
		Attrs: map[string]string{"token_id": current.ID, "reason": ReasonLogout},
	})
	return nil
}

// GetProfile returns the display profile of a user
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = uow.Rollback(ctx) }()

	user, err := uow.Users().GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	roles := make([]string, 0, len(user.Roles))
	for _, r := range user.Roles {
		roles = append(roles, r.Name)
	}

	return &Profile{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Roles:    roles,
	}, nil
}

// RevokeAllActiveTokensForUser revokes every active refresh token of the
// user and returns how many were revoked
func (s *AuthService) RevokeAllActiveTokensForUser(ctx context.Context, userID, reason, clientIP string) (int, error) {
	now := s.clock.Now()

	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = uow.Rollback(ctx) }()

	revoked, err := s.revokeAllActive(ctx, uow, userID, reason, clientIP, now)
	if err != nil {
		return 0, err
	}
	if err := uow.Commit(ctx); err != nil {
		return 0, err
	}

	s.log.Info().Str("user_id", userID).Str("reason", reason).Int("revoked", revoked).Msg("Revoked all active refresh tokens")
	s.publish(ctx, audit.Event{
		Type: audit.TokensRevokedAll, UserID: userID, ClientIP: clientIP, OccurredAt: now,
		Attrs: map[string]string{"reason": reason, "revoked": strconv.Itoa(revoked)},
	})
	return revoked, nil
}

func (s *AuthService) revokeAllActive(ctx context.Context, uow repository.UnitOfWork, userID, reason, clientIP string, now time.Time) (int, error) {
	active, err := uow.RefreshTokens().FindActiveByUser(ctx, userID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list active tokens: %w", err)
	}
	for _, t := range active {
		t.Revoke(now, clientIP, reason)
		if err := uow.RefreshTokens().Save(ctx, t); err != nil {
			return 0, err
		}
	}
	return len(active), nil
}

// revokeOne revokes a single token and commits
func (s *AuthService) revokeOne(ctx context.Context, uow repository.UnitOfWork, t *repository.RefreshToken, reason, clientIP string, now time.Time) error {
	t.Revoke(now, clientIP, reason)
	if err := uow.RefreshTokens().Save(ctx, t); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

// issue mints an access token and a refresh token record for user
func (s *AuthService) issue(user *repository.User, clientIP string, now time.Time) (*AuthResult, *repository.RefreshToken, error) {
	roles, permissions := flattenRoles(user.Roles)

	sub := jwtpkg.Subject{ID: user.ID, FullName: user.FullName, Email: user.Email}
	accessToken, accessExpiresAt, err := s.tokens.CreateAccessTokenAt(sub, roles, permissions, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create access token: %w", err)
	}

	minted, err := s.tokens.CreateRefreshTokenAt(clientIP, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	record := &repository.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Token:     minted.Token,
		ExpiresAt: minted.ExpiresAt,
		CreatedAt: minted.CreatedAt,
	}
	if minted.CreatedByIP != "" {
		ip := minted.CreatedByIP
		record.CreatedByIP = &ip
	}

	return &AuthResult{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          minted.Token,
		RefreshTokenExpiresAt: minted.ExpiresAt,
	}, record, nil
}

// flattenRoles projects the role graph onto role names and distinct
// permission keys, both in first-seen order
func flattenRoles(roles []repository.Role) ([]string, []string) {
	names := make([]string, 0, len(roles))
	var permissions []string
	seen := make(map[string]struct{})

	for _, r := range roles {
		names = append(names, r.Name)
		for _, p := range r.Permissions {
			if _, ok := seen[p.Key]; ok {
				continue
			}
			seen[p.Key] = struct{}{}
			permissions = append(permissions, p.Key)
		}
	}
	return names, permissions
}

// burnVerify spends the same hashing work as a real password check
func (s *AuthService) burnVerify(password string) {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash(decoyPassword)
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to prepare decoy password hash")
			return
		}
		s.decoyHash = hash
	})
	if s.decoyHash != "" {
		_ = s.hasher.Verify(password, s.decoyHash)
	}
}

// publish delivers an audit event. Delivery failures never fail the caller.
func (s *AuthService) publish(ctx context.Context, event audit.Event) {
	if err := s.audit.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("event", string(event.Type)).Msg("Failed to publish audit event")
	}
}
