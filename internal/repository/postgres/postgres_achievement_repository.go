package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/campuscoin/coin-service/internal/models"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
)

type PostgresAchievementRepository struct {
	db DBTX
}

func NewPostgresAchievementRepository(db DBTX) *PostgresAchievementRepository {
	return &PostgresAchievementRepository{db: db}
}

func (r *PostgresAchievementRepository) List(ctx context.Context) ([]models.Achievement, error) {
	query := `SELECT id, name, description, rule, category, icon, created_at FROM achievements ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	var out []models.Achievement
	for rows.Next() {
		var a models.Achievement
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Rule, &a.Category, &a.Icon, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresAchievementRepository) GetByID(ctx context.Context, id int32) (*models.Achievement, error) {
	query := `SELECT id, name, description, rule, category, icon, created_at FROM achievements WHERE id = $1`
	var a models.Achievement
	err := r.db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Name, &a.Description, &a.Rule, &a.Category, &a.Icon, &a.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrAchievementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get achievement: %w", err)
	}
	return &a, nil
}

// Seed inserts any catalog entry whose rule is missing. Existing rows are
// left untouched, so redeploys never duplicate or rewrite the catalog.
func (r *PostgresAchievementRepository) Seed(ctx context.Context, catalog []models.Achievement) error {
	query := `
		INSERT INTO achievements (name, description, rule, category, icon)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (rule) DO NOTHING
		`
	for _, a := range catalog {
		if _, err := r.db.ExecContext(ctx, query, a.Name, a.Description, a.Rule, a.Category, a.Icon); err != nil {
			return fmt.Errorf("failed to seed achievement %q: %w", a.Rule, err)
		}
	}
	return nil
}
