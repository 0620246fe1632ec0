package repository

import (
	"context"

	"github.com/campuscoin/coin-service/internal/models"
)

// TransactionFilter narrows history reads. Zero values mean "any".
type TransactionFilter struct {
	Direction models.Direction
	Status    models.Status
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id int32) (*models.Transaction, error)
	History(ctx context.Context, userID int32, filter TransactionFilter) ([]models.Transaction, error)
	ListByStatus(ctx context.Context, status models.Status) ([]models.Transaction, error)
	// MarkResolved transitions pending -> to. Returns ErrAlreadyProcessed if
	// the row is no longer pending; the check and the transition are one
	// statement.
	MarkResolved(ctx context.Context, id int32, to models.Status) error
}
