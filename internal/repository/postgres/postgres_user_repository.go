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
	"github.com/lib/pq"
)

const userColumns = `id, name, email, password_hash, role, approval_status, balance, photo_ref, active,
	transfers_sent, transfers_received, goals_completed, coins_earned, login_streak, last_streak_login, has_profile_photo,
	last_login, created_at`

type PostgresUserRepository struct {
	db DBTX
}

func NewPostgresUserRepository(db DBTX) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("%w: user is nil", pkgerrors.ErrInvalidInput)
	}
	if user.Email == "" || user.PasswordHash == "" {
		return fmt.Errorf("%w: email and password are required", pkgerrors.ErrInvalidInput)
	}

	query := `
	INSERT INTO users (name, email, password_hash, role, approval_status, balance, active)
	VALUES ($1, $2, $3, $4, $5, $6, TRUE)
	RETURNING id, created_at
	`
	err := r.db.QueryRowContext(
		ctx,
		query,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Approval,
		user.Balance,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			return pkgerrors.ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.Active = true
	return nil
}

func (r *PostgresUserRepository) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	var lastStreak, lastLogin sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Approval,
		&user.Balance,
		&user.PhotoRef,
		&user.Active,
		&user.Stats.TransfersSent,
		&user.Stats.TransfersReceived,
		&user.Stats.GoalsCompleted,
		&user.Stats.CoinsEarned,
		&user.Stats.LoginStreak,
		&lastStreak,
		&user.Stats.HasProfilePhoto,
		&lastLogin,
		&user.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if lastStreak.Valid {
		user.Stats.LastStreakLogin = lastStreak.Time
	}
	if lastLogin.Valid {
		user.LastLogin = lastLogin.Time
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int32) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: email cannot be empty", pkgerrors.ErrInvalidInput)
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresUserRepository) GetBalance(ctx context.Context, userID int32) (int32, error) {
	var balance int32
	err := r.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (r *PostgresUserRepository) AddCoins(ctx context.Context, userID, amount int32) (int32, error) {
	query := `
		UPDATE users
		SET balance = balance + $1
		WHERE id = $2
		RETURNING balance
		`
	var newBalance int32
	err := r.db.QueryRowContext(ctx, query, amount, userID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to add coins: %w", err)
	}
	return newBalance, nil
}

// SpendCoins relies on the WHERE guard for the sufficiency check, so two
// concurrent debits can never both pass it.
func (r *PostgresUserRepository) SpendCoins(ctx context.Context, userID, amount int32) (int32, error) {
	query := `
		UPDATE users
		SET balance = balance - $1
		WHERE id = $2 AND balance >= $1
		RETURNING balance
		`
	var newBalance int32
	err := r.db.QueryRowContext(ctx, query, amount, userID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		// The guard hides whether the row was missing or the balance was
		// short, so tell them apart before reporting.
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("failed to spend coins: %w", err)
		}
		if !exists {
			return 0, pkgerrors.ErrUserNotFound
		}
		return 0, pkgerrors.ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("failed to spend coins: %w", err)
	}
	return newBalance, nil
}

func (r *PostgresUserRepository) SpendCoinsClamped(ctx context.Context, userID, amount int32) (int32, error) {
	query := `
		UPDATE users
		SET balance = GREATEST(0, balance - $1)
		WHERE id = $2
		RETURNING balance
		`
	var newBalance int32
	err := r.db.QueryRowContext(ctx, query, amount, userID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to spend coins: %w", err)
	}
	return newBalance, nil
}

func statColumn(kind models.StatKind) (string, error) {
	switch kind {
	case models.StatTransfersSent:
		return "transfers_sent", nil
	case models.StatTransfersReceived:
		return "transfers_received", nil
	case models.StatGoalsCompleted:
		return "goals_completed", nil
	case models.StatCoinsEarned:
		return "coins_earned", nil
	default:
		return "", fmt.Errorf("%w: counter %q cannot be bumped", pkgerrors.ErrInvalidInput, kind)
	}
}

func (r *PostgresUserRepository) BumpCounter(ctx context.Context, userID int32, kind models.StatKind, delta int32) error {
	col, err := statColumn(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE users SET %s = %s + $1 WHERE id = $2`, col, col)
	res, err := r.db.ExecContext(ctx, query, delta, userID)
	if err != nil {
		return fmt.Errorf("failed to bump %s: %w", col, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserRepository) SetLoginStreak(ctx context.Context, userID, days int32, at time.Time) error {
	query := `UPDATE users SET login_streak = $1, last_streak_login = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, days, at, userID)
	if err != nil {
		return fmt.Errorf("failed to set login streak: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserRepository) SetProfilePhoto(ctx context.Context, userID int32, photoRef string) error {
	query := `UPDATE users SET photo_ref = $1, has_profile_photo = TRUE WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, photoRef, userID)
	if err != nil {
		return fmt.Errorf("failed to set profile photo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrUserNotFound
	}
	return nil
}

// GrantAchievement is idempotent: re-granting an achievement the user already
// holds writes nothing and reports false.
func (r *PostgresUserRepository) GrantAchievement(ctx context.Context, userID, achievementID int32, at time.Time) (bool, error) {
	query := `
		INSERT INTO user_achievements (user_id, achievement_id, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, achievement_id) DO NOTHING
		`
	res, err := r.db.ExecContext(ctx, query, userID, achievementID, at)
	if err != nil {
		return false, fmt.Errorf("failed to grant achievement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to grant achievement: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresUserRepository) ListGrants(ctx context.Context, userID int32) ([]models.AchievementGrant, error) {
	query := `SELECT achievement_id, granted_at FROM user_achievements WHERE user_id = $1 ORDER BY granted_at`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievement grants: %w", err)
	}
	defer rows.Close()

	var grants []models.AchievementGrant
	for rows.Next() {
		var g models.AchievementGrant
		if err := rows.Scan(&g.AchievementID, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan achievement grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (r *PostgresUserRepository) SetApproval(ctx context.Context, userID int32, status models.ApprovalStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET approval_status = $1 WHERE id = $2`, status, userID)
	if err != nil {
		return fmt.Errorf("failed to set approval status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrUserNotFound
	}
	slog.Info("approval status updated", "user_id", userID, "status", status)
	return nil
}

func (r *PostgresUserRepository) SetActive(ctx context.Context, userID int32, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET active = $1 WHERE id = $2`, active, userID)
	if err != nil {
		return fmt.Errorf("failed to set active flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserRepository) UpdateLastLogin(ctx context.Context, userID int32, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, at, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrUserNotFound
	}
	return nil
}
