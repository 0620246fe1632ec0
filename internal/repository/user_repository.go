package repository

import (
	"context"
	"time"

	"github.com/campuscoin/coin-service/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int32) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetBalance(ctx context.Context, userID int32) (int32, error)

	// AddCoins unconditionally credits the wallet.
	AddCoins(ctx context.Context, userID, amount int32) (newBalance int32, err error)
	// SpendCoins debits only when the balance covers the amount; returns
	// ErrInsufficientBalance otherwise.
	SpendCoins(ctx context.Context, userID, amount int32) (newBalance int32, err error)
	// SpendCoinsClamped debits and clamps the result at zero, never failing
	// on the balance. Staff wallets use this path.
	SpendCoinsClamped(ctx context.Context, userID, amount int32) (newBalance int32, err error)

	BumpCounter(ctx context.Context, userID int32, kind models.StatKind, delta int32) error
	SetLoginStreak(ctx context.Context, userID, days int32, at time.Time) error
	SetProfilePhoto(ctx context.Context, userID int32, photoRef string) error

	// GrantAchievement inserts the grant if absent and reports whether a new
	// row was written.
	GrantAchievement(ctx context.Context, userID, achievementID int32, at time.Time) (bool, error)
	ListGrants(ctx context.Context, userID int32) ([]models.AchievementGrant, error)

	SetApproval(ctx context.Context, userID int32, status models.ApprovalStatus) error
	SetActive(ctx context.Context, userID int32, active bool) error
	UpdateLastLogin(ctx context.Context, userID int32, at time.Time) error
}
