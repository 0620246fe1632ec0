package repository

import (
	"context"
	"time"

	"github.com/campuscoin/coin-service/internal/models"
)

type GoalRepository interface {
	Create(ctx context.Context, goal *models.Goal) error
	Update(ctx context.Context, goal *models.Goal) error
	Delete(ctx context.Context, id int32) error
	GetByID(ctx context.Context, id int32) (*models.Goal, error)
	ListActive(ctx context.Context, now time.Time, category string) ([]models.Goal, error)
	ListAll(ctx context.Context, category string) ([]models.Goal, error)

	HasCompleted(ctx context.Context, goalID, userID int32) (bool, error)
	CompletionCount(ctx context.Context, goalID int32) (int32, error)
	// AddCompletion records membership in the goal's completion set; returns
	// ErrAlreadyCompleted when the pair already exists.
	AddCompletion(ctx context.Context, goalID, userID int32) error
	ListCompletedBy(ctx context.Context, userID int32) ([]models.Goal, error)
}

type GoalRequestRepository interface {
	Create(ctx context.Context, req *models.GoalRequest) error
	GetByID(ctx context.Context, id int32) (*models.GoalRequest, error)
	HasPending(ctx context.Context, goalID, studentID int32) (bool, error)
	ListByStatus(ctx context.Context, status models.Status) ([]models.GoalRequest, error)
	// Resolve transitions pending -> to and stamps the reviewer. Returns
	// ErrAlreadyProcessed if the request is no longer pending.
	Resolve(ctx context.Context, id int32, to models.Status, reviewerID int32, note string, at time.Time) error
	// DetachApproved nulls the goal reference on approved requests so the
	// review history survives goal deletion.
	DetachApproved(ctx context.Context, goalID int32) error
}
