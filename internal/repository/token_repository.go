package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const tokenColumns = `
	id, user_id, token, expires_at, created_at, created_by_ip,
	revoked_at, revoked_by_ip, reason_revoked, replaced_by_token
`

// TokenRepository handles refresh token data operations inside a transaction
type TokenRepository struct {
	db querier
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db querier) *TokenRepository {
	return &TokenRepository{db: db}
}

// FindByToken retrieves a refresh token by its exact value and locks the row
func (r *TokenRepository) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	query := `SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE token = $1
		FOR UPDATE
	`

	rt, err := scanToken(r.db.QueryRow(ctx, query, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return rt, nil
}

// FindActiveByUser retrieves the user's tokens that are neither revoked nor expired at now
func (r *TokenRepository) FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]*RefreshToken, error) {
	query := `SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at
		FOR UPDATE
	`

	rows, err := r.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*RefreshToken, 0)
	for rows.Next() {
		rt, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tokens: %w", err)
	}

	return tokens, nil
}

// Add inserts a new refresh token
func (r *TokenRepository) Add(ctx context.Context, token *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.Token,
		token.ExpiresAt,
		token.CreatedAt,
		token.CreatedByIP,
		token.RevokedAt,
		token.RevokedByIP,
		token.ReasonRevoked,
		token.ReplacedByToken,
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}

	return nil
}

// Save writes the revocation fields back
func (r *TokenRepository) Save(ctx context.Context, token *RefreshToken) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2, revoked_by_ip = $3, reason_revoked = $4, replaced_by_token = $5
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		token.ID,
		token.RevokedAt,
		token.RevokedByIP,
		token.ReasonRevoked,
		token.ReplacedByToken,
	)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update refresh token %s: %w", token.ID, ErrNotFound)
	}

	return nil
}

func scanToken(row pgx.Row) (*RefreshToken, error) {
	rt := &RefreshToken{}
	err := row.Scan(
		&rt.ID,
		&rt.UserID,
		&rt.Token,
		&rt.ExpiresAt,
		&rt.CreatedAt,
		&rt.CreatedByIP,
		&rt.RevokedAt,
		&rt.RevokedByIP,
		&rt.ReasonRevoked,
		&rt.ReplacedByToken,
	)
	if err != nil {
		return nil, err
	}
	return rt, nil
}
