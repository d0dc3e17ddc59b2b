package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTransactor opens one pgx transaction per unit of work
type PostgresTransactor struct {
	pool *pgxpool.Pool
}

func NewPostgresTransactor(pool *pgxpool.Pool) *PostgresTransactor {
	return &PostgresTransactor{pool: pool}
}

// Begin starts a read-committed transaction. Rows read through the returned
// unit of work are locked with FOR UPDATE, so concurrent operations on the
// same user or token serialize on the database.
func (t *PostgresTransactor) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresUnitOfWork{
		tx:     tx,
		users:  NewUserRepository(tx),
		tokens: NewTokenRepository(tx),
	}, nil
}

type postgresUnitOfWork struct {
	tx     pgx.Tx
	users  *UserRepository
	tokens *TokenRepository
}

func (u *postgresUnitOfWork) Users() UserDirectory            { return u.users }
func (u *postgresUnitOfWork) RefreshTokens() RefreshTokenStore { return u.tokens }

func (u *postgresUnitOfWork) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (u *postgresUnitOfWork) Rollback(ctx context.Context) error {
	err := u.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return fmt.Errorf("failed to rollback transaction: %w", err)
}
