package repository

import (
	"context"

	"github.com/campuscoin/coin-service/internal/models"
)

type AchievementRepository interface {
	List(ctx context.Context) ([]models.Achievement, error)
	GetByID(ctx context.Context, id int32) (*models.Achievement, error)
	// Seed inserts catalog entries whose rule type is not present yet.
	Seed(ctx context.Context, catalog []models.Achievement) error
}
