// Package memory is an in-process implementation of the repository ports.
// A unit of work holds the store exclusively from Begin until Commit or
// Rollback; its writes are staged and become visible only on Commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pesio-ai/be-plt-auth/internal/repository"
	"github.com/pesio-ai/be-plt-auth/pkg/clock"
)

// Store keeps users and refresh tokens in maps
type Store struct {
	sem   chan struct{}
	clock clock.Clock

	mu        sync.Mutex
	users     map[string]*repository.User
	tokens    map[string]*repository.RefreshToken
	byValue   map[string]string
	commits   int
	commitErr error
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used to stamp UpdatedAt on saved users
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clock = clk }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		sem:     make(chan struct{}, 1),
		clock:   clock.System{},
		users:   make(map[string]*repository.User),
		tokens:  make(map[string]*repository.RefreshToken),
		byValue: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutUser inserts or replaces a user outside any unit of work
func (s *Store) PutUser(u *repository.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = cloneUser(u)
}

// User returns a committed snapshot of the user
func (s *Store) User(id string) (*repository.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false
	}
	return cloneUser(u), true
}

// Token returns a committed snapshot of the token with the given value
func (s *Store) Token(value string) (*repository.RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byValue[value]
	if !ok {
		return nil, false
	}
	return cloneToken(s.tokens[id]), true
}

// TokensForUser returns committed snapshots of every token the user owns, oldest first
func (s *Store) TokensForUser(userID string) []*repository.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.RefreshToken, 0)
	for _, t := range s.tokens {
		if t.UserID == userID {
			out = append(out, cloneToken(t))
		}
	}
	sortTokens(out)
	return out
}

// Commits counts successful commits
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// FailCommits makes every following Commit return err without applying
// anything. A nil err restores normal behavior.
func (s *Store) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// Begin waits for exclusive access to the store
func (s *Store) Begin(ctx context.Context) (repository.UnitOfWork, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to begin unit of work: %w", ctx.Err())
	}
	return &unitOfWork{
		store:  s,
		users:  make(map[string]*repository.User),
		tokens: make(map[string]*repository.RefreshToken),
	}, nil
}

type unitOfWork struct {
	store *Store
	done  bool

	users  map[string]*repository.User
	tokens map[string]*repository.RefreshToken
}

func (u *unitOfWork) Users() repository.UserDirectory            { return userDirectory{u} }
func (u *unitOfWork) RefreshTokens() repository.RefreshTokenStore { return tokenStore{u} }

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return fmt.Errorf("unit of work already finished")
	}
	defer u.release()

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitErr != nil {
		return fmt.Errorf("failed to commit unit of work: %w", s.commitErr)
	}
	for id, usr := range u.users {
		s.users[id] = usr
	}
	for id, t := range u.tokens {
		s.tokens[id] = t
		s.byValue[t.Token] = id
	}
	s.commits++
	return nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.release()
	return nil
}

func (u *unitOfWork) release() {
	u.done = true
	u.users = nil
	u.tokens = nil
	<-u.store.sem
}

func (u *unitOfWork) lookupUser(id string) (*repository.User, bool) {
	if usr, ok := u.users[id]; ok {
		return usr, true
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	usr, ok := u.store.users[id]
	return usr, ok
}

type userDirectory struct{ uow *unitOfWork }

func (d userDirectory) FindByEmail(ctx context.Context, email string) (*repository.User, error) {
	if d.uow.done {
		return nil, fmt.Errorf("unit of work already finished")
	}

	s := d.uow.store
	s.mu.Lock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for id := range d.uow.users {
		ids = append(ids, id)
	}

	for _, id := range ids {
		usr, ok := d.uow.lookupUser(id)
		if !ok || usr.DeletedAt != nil {
			continue
		}
		if strings.EqualFold(usr.Email, email) {
			return cloneUser(usr), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (d userDirectory) FindByID(ctx context.Context, id string) (*repository.User, error) {
	if d.uow.done {
		return nil, fmt.Errorf("unit of work already finished")
	}
	usr, ok := d.uow.lookupUser(id)
	if !ok || usr.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	return cloneUser(usr), nil
}

// GetByID is FindByID; a unit of work already holds the whole store
func (d userDirectory) GetByID(ctx context.Context, id string) (*repository.User, error) {
	return d.FindByID(ctx, id)
}

func (d userDirectory) Save(ctx context.Context, user *repository.User) error {
	if d.uow.done {
		return fmt.Errorf("unit of work already finished")
	}
	existing, ok := d.uow.lookupUser(user.ID)
	if !ok {
		return fmt.Errorf("failed to update user %s: %w", user.ID, repository.ErrNotFound)
	}

	// only the lockout and login-audit fields are persisted
	updated := cloneUser(existing)
	updated.FailedLoginAttempts = user.FailedLoginAttempts
	updated.LastFailedLoginAt = cloneTime(user.LastFailedLoginAt)
	updated.LockoutEndAt = cloneTime(user.LockoutEndAt)
	updated.LastLoginAt = cloneTime(user.LastLoginAt)
	updated.UpdatedAt = d.uow.store.clock.Now()
	d.uow.users[user.ID] = updated
	return nil
}

type tokenStore struct{ uow *unitOfWork }

func (ts tokenStore) FindByToken(ctx context.Context, token string) (*repository.RefreshToken, error) {
	if ts.uow.done {
		return nil, fmt.Errorf("unit of work already finished")
	}
	for _, t := range ts.uow.tokens {
		if t.Token == token {
			return cloneToken(t), nil
		}
	}

	s := ts.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byValue[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneToken(s.tokens[id]), nil
}

func (ts tokenStore) FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]*repository.RefreshToken, error) {
	if ts.uow.done {
		return nil, fmt.Errorf("unit of work already finished")
	}

	merged := make(map[string]*repository.RefreshToken)
	s := ts.uow.store
	s.mu.Lock()
	for id, t := range s.tokens {
		if t.UserID == userID {
			merged[id] = t
		}
	}
	s.mu.Unlock()
	for id, t := range ts.uow.tokens {
		if t.UserID == userID {
			merged[id] = t
		}
	}

	out := make([]*repository.RefreshToken, 0, len(merged))
	for _, t := range merged {
		if t.IsActive(now) {
			out = append(out, cloneToken(t))
		}
	}
	sortTokens(out)
	return out, nil
}

func (ts tokenStore) Add(ctx context.Context, token *repository.RefreshToken) error {
	if ts.uow.done {
		return fmt.Errorf("unit of work already finished")
	}
	if _, err := ts.FindByToken(ctx, token.Token); err == nil {
		return fmt.Errorf("failed to create refresh token: duplicate token value")
	}
	if _, exists := ts.uow.tokens[token.ID]; exists {
		return fmt.Errorf("failed to create refresh token: duplicate id %s", token.ID)
	}
	ts.uow.tokens[token.ID] = cloneToken(token)
	return nil
}

func (ts tokenStore) Save(ctx context.Context, token *repository.RefreshToken) error {
	if ts.uow.done {
		return fmt.Errorf("unit of work already finished")
	}
	existing, staged := ts.uow.tokens[token.ID]
	if !staged {
		s := ts.uow.store
		s.mu.Lock()
		existing = s.tokens[token.ID]
		s.mu.Unlock()
	}
	if existing == nil {
		return fmt.Errorf("failed to update refresh token %s: %w", token.ID, repository.ErrNotFound)
	}

	updated := cloneToken(existing)
	updated.RevokedAt = cloneTime(token.RevokedAt)
	updated.RevokedByIP = cloneString(token.RevokedByIP)
	updated.ReasonRevoked = cloneString(token.ReasonRevoked)
	updated.ReplacedByToken = cloneString(token.ReplacedByToken)
	ts.uow.tokens[token.ID] = updated
	return nil
}

func sortTokens(tokens []*repository.RefreshToken) {
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].CreatedAt.Equal(tokens[j].CreatedAt) {
			return tokens[i].ID < tokens[j].ID
		}
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
}

func cloneUser(u *repository.User) *repository.User {
	c := *u
	c.LastFailedLoginAt = cloneTime(u.LastFailedLoginAt)
	c.LockoutEndAt = cloneTime(u.LockoutEndAt)
	c.LastLoginAt = cloneTime(u.LastLoginAt)
	c.DeletedAt = cloneTime(u.DeletedAt)
	if u.Roles != nil {
		c.Roles = make([]repository.Role, len(u.Roles))
		for i, r := range u.Roles {
			c.Roles[i] = repository.Role{ID: r.ID, Name: r.Name}
			if r.Permissions != nil {
				c.Roles[i].Permissions = append([]repository.Permission(nil), r.Permissions...)
			}
		}
	}
	return &c
}

func cloneToken(t *repository.RefreshToken) *repository.RefreshToken {
	c := *t
	c.CreatedByIP = cloneString(t.CreatedByIP)
	c.RevokedAt = cloneTime(t.RevokedAt)
	c.RevokedByIP = cloneString(t.RevokedByIP)
	c.ReasonRevoked = cloneString(t.ReasonRevoked)
	c.ReplacedByToken = cloneString(t.ReplacedByToken)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
