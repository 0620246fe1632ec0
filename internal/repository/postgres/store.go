package repository

import (
	"context"
	"database/sql"
	"fmt"

	repo "github.com/campuscoin/coin-service/internal/repository"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so the same repository code
// runs against the pool or inside an open transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func bind(db DBTX) repo.Repos {
	return repo.Repos{
		Users:        NewPostgresUserRepository(db),
		Transactions: NewPostgresTransactionRepository(db),
		Goals:        NewPostgresGoalRepository(db),
		Requests:     NewPostgresGoalRequestRepository(db),
		Achievements: NewPostgresAchievementRepository(db),
	}
}

// Repos returns repositories bound to the shared pool.
func (s *Store) Repos() repo.Repos {
	return bind(s.db)
}

// Within runs fn inside one database transaction. Any error from fn rolls
// back every write fn made.
func (s *Store) Within(ctx context.Context, fn func(r repo.Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(bind(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
