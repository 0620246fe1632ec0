package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuscoin/coin-service/internal/models"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
)

const requestColumns = `id, goal_id, student_id, status, evidence_text, evidence_file,
	reviewer_id, reviewed_at, review_note, created_at`

type PostgresGoalRequestRepository struct {
	db DBTX
}

func NewPostgresGoalRequestRepository(db DBTX) *PostgresGoalRequestRepository {
	return &PostgresGoalRequestRepository{db: db}
}

func (r *PostgresGoalRequestRepository) Create(ctx context.Context, req *models.GoalRequest) error {
	if req == nil {
		return fmt.Errorf("%w: goal request is nil", pkgerrors.ErrInvalidInput)
	}
	query := `
		INSERT INTO goal_requests (goal_id, student_id, status, evidence_text, evidence_file)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
		`
	err := r.db.QueryRowContext(ctx, query, req.GoalID, req.StudentID, req.Status, req.EvidenceText, req.EvidenceFile).
		Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create goal request: %w", err)
	}
	return nil
}

func scanRequest(scan func(dest ...any) error) (*models.GoalRequest, error) {
	var req models.GoalRequest
	var goalID, reviewerID sql.NullInt32
	var reviewedAt sql.NullTime
	err := scan(&req.ID, &goalID, &req.StudentID, &req.Status, &req.EvidenceText, &req.EvidenceFile,
		&reviewerID, &reviewedAt, &req.ReviewNote, &req.CreatedAt)
	if err != nil {
		return nil, err
	}
	if goalID.Valid {
		v := goalID.Int32
		req.GoalID = &v
	}
	if reviewerID.Valid {
		v := reviewerID.Int32
		req.ReviewerID = &v
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		req.ReviewedAt = &t
	}
	return &req, nil
}

func (r *PostgresGoalRequestRepository) GetByID(ctx context.Context, id int32) (*models.GoalRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM goal_requests WHERE id = $1`, id)
	req, err := scanRequest(row.Scan)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal request: %w", err)
	}
	return req, nil
}

func (r *PostgresGoalRequestRepository) HasPending(ctx context.Context, goalID, studentID int32) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM goal_requests WHERE goal_id = $1 AND student_id = $2 AND status = 'pending')`
	if err := r.db.QueryRowContext(ctx, query, goalID, studentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check pending request: %w", err)
	}
	return exists, nil
}

func (r *PostgresGoalRequestRepository) ListByStatus(ctx context.Context, status models.Status) ([]models.GoalRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM goal_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		`
	rows, err := r.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list goal requests: %w", err)
	}
	defer rows.Close()

	var out []models.GoalRequest
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// Resolve guards on status = 'pending' inside the UPDATE, so only one of two
// concurrent resolutions can win.
func (r *PostgresGoalRequestRepository) Resolve(ctx context.Context, id int32, to models.Status, reviewerID int32, note string, at time.Time) error {
	if to != models.StatusApproved && to != models.StatusRejected {
		return fmt.Errorf("%w: cannot resolve to %q", pkgerrors.ErrInvalidInput, to)
	}
	query := `
		UPDATE goal_requests
		SET status = $2, reviewer_id = $3, review_note = $4, reviewed_at = $5
		WHERE id = $1 AND status = 'pending'
		`
	res, err := r.db.ExecContext(ctx, query, id, to, reviewerID, note, at)
	if err != nil {
		return fmt.Errorf("failed to resolve goal request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve goal request: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrAlreadyProcessed
	}
	slog.Info("goal request resolved", "id", id, "status", to, "reviewer_id", reviewerID)
	return nil
}

func (r *PostgresGoalRequestRepository) DetachApproved(ctx context.Context, goalID int32) error {
	query := `UPDATE goal_requests SET goal_id = NULL WHERE goal_id = $1 AND status = 'approved'`
	if _, err := r.db.ExecContext(ctx, query, goalID); err != nil {
		return fmt.Errorf("failed to detach approved requests: %w", err)
	}
	return nil
}
