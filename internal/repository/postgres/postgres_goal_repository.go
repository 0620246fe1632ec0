package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/campuscoin/coin-service/internal/models"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
	"github.com/lib/pq"
)

const goalColumns = `id, title, description, category, reward, active, requires_approval,
	max_completions, starts_at, ends_at, evidence_required, evidence_type, evidence_hint, created_at`

type PostgresGoalRepository struct {
	db DBTX
}

func NewPostgresGoalRepository(db DBTX) *PostgresGoalRepository {
	return &PostgresGoalRepository{db: db}
}

func (r *PostgresGoalRepository) Create(ctx context.Context, goal *models.Goal) error {
	if goal == nil {
		return fmt.Errorf("%w: goal is nil", pkgerrors.ErrInvalidInput)
	}
	if goal.Reward <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	query := `
		INSERT INTO goals (title, description, category, reward, active, requires_approval,
			max_completions, starts_at, ends_at, evidence_required, evidence_type, evidence_hint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
		`
	err := r.db.QueryRowContext(ctx, query,
		goal.Title, goal.Description, goal.Category, goal.Reward, goal.Active, goal.RequiresApproval,
		goal.MaxCompletions, goal.StartsAt, goal.EndsAt, goal.EvidenceRequired, goal.EvidenceType, goal.EvidenceHint,
	).Scan(&goal.ID, &goal.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create goal: %w", err)
	}
	return nil
}

func (r *PostgresGoalRepository) Update(ctx context.Context, goal *models.Goal) error {
	if goal == nil {
		return fmt.Errorf("%w: goal is nil", pkgerrors.ErrInvalidInput)
	}
	query := `
		UPDATE goals
		SET title = $1, description = $2, category = $3, reward = $4, active = $5, requires_approval = $6,
			max_completions = $7, starts_at = $8, ends_at = $9, evidence_required = $10, evidence_type = $11, evidence_hint = $12
		WHERE id = $13
		`
	res, err := r.db.ExecContext(ctx, query,
		goal.Title, goal.Description, goal.Category, goal.Reward, goal.Active, goal.RequiresApproval,
		goal.MaxCompletions, goal.StartsAt, goal.EndsAt, goal.EvidenceRequired, goal.EvidenceType, goal.EvidenceHint,
		goal.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrGoalNotFound
	}
	return nil
}

func (r *PostgresGoalRepository) Delete(ctx context.Context, id int32) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM goals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrGoalNotFound
	}
	return nil
}

func scanGoal(scan func(dest ...any) error) (*models.Goal, error) {
	var g models.Goal
	var maxCompletions sql.NullInt32
	var endsAt sql.NullTime
	err := scan(&g.ID, &g.Title, &g.Description, &g.Category, &g.Reward, &g.Active, &g.RequiresApproval,
		&maxCompletions, &g.StartsAt, &endsAt, &g.EvidenceRequired, &g.EvidenceType, &g.EvidenceHint, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	if maxCompletions.Valid {
		v := maxCompletions.Int32
		g.MaxCompletions = &v
	}
	if endsAt.Valid {
		t := endsAt.Time
		g.EndsAt = &t
	}
	return &g, nil
}

func (r *PostgresGoalRepository) GetByID(ctx context.Context, id int32) (*models.Goal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1`, id)
	goal, err := scanGoal(row.Scan)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrGoalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}
	return goal, nil
}

func (r *PostgresGoalRepository) ListActive(ctx context.Context, now time.Time, category string) ([]models.Goal, error) {
	query := `
		SELECT ` + goalColumns + `
		FROM goals
		WHERE active = TRUE
		AND starts_at <= $1
		AND (ends_at IS NULL OR ends_at >= $1)
		AND ($2 = '' OR category = $2)
		ORDER BY created_at DESC
		`
	rows, err := r.db.QueryContext(ctx, query, now, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list active goals: %w", err)
	}
	defer rows.Close()
	return collectGoals(rows)
}

func (r *PostgresGoalRepository) ListAll(ctx context.Context, category string) ([]models.Goal, error) {
	query := `
		SELECT ` + goalColumns + `
		FROM goals
		WHERE ($1 = '' OR category = $1)
		ORDER BY created_at DESC
		`
	rows, err := r.db.QueryContext(ctx, query, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()
	return collectGoals(rows)
}

func (r *PostgresGoalRepository) ListCompletedBy(ctx context.Context, userID int32) ([]models.Goal, error) {
	query := `
		SELECT ` + goalColumns + `
		FROM goals
		WHERE id IN (SELECT goal_id FROM goal_completions WHERE user_id = $1)
		ORDER BY created_at DESC
		`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed goals: %w", err)
	}
	defer rows.Close()
	return collectGoals(rows)
}

func collectGoals(rows *sql.Rows) ([]models.Goal, error) {
	var out []models.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (r *PostgresGoalRepository) HasCompleted(ctx context.Context, goalID, userID int32) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM goal_completions WHERE goal_id = $1 AND user_id = $2)`
	if err := r.db.QueryRowContext(ctx, query, goalID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check goal completion: %w", err)
	}
	return exists, nil
}

func (r *PostgresGoalRepository) CompletionCount(ctx context.Context, goalID int32) (int32, error) {
	var count int32
	query := `SELECT COUNT(*) FROM goal_completions WHERE goal_id = $1`
	if err := r.db.QueryRowContext(ctx, query, goalID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count goal completions: %w", err)
	}
	return count, nil
}

// AddCompletion maps the primary-key violation to ErrAlreadyCompleted, so the
// at-most-once payout holds even under concurrent completion attempts.
func (r *PostgresGoalRepository) AddCompletion(ctx context.Context, goalID, userID int32) error {
	query := `INSERT INTO goal_completions (goal_id, user_id) VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, query, goalID, userID); err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			return pkgerrors.ErrAlreadyCompleted
		}
		return fmt.Errorf("failed to record goal completion: %w", err)
	}
	return nil
}
