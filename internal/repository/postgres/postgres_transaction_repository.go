package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuscoin/coin-service/internal/infrastructure/observability"
	"github.com/campuscoin/coin-service/internal/models"
	repo "github.com/campuscoin/coin-service/internal/repository"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresTransactionRepository struct {
	db DBTX
}

func NewPostgresTransactionRepository(db DBTX) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) (err error) {
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateTransaction", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateTransaction").Observe(time.Since(start).Seconds())
	}()

	if tx == nil {
		err = fmt.Errorf("%w: transaction is nil", pkgerrors.ErrInvalidInput)
		return err
	}
	if tx.Direction != models.DirectionSent && tx.Direction != models.DirectionReceived {
		err = fmt.Errorf("%w: direction %q", pkgerrors.ErrInvalidInput, tx.Direction)
		return err
	}
	if tx.Status != models.StatusPending && tx.Status != models.StatusApproved && tx.Status != models.StatusRejected {
		err = fmt.Errorf("%w: status %q", pkgerrors.ErrInvalidInput, tx.Status)
		return err
	}
	if tx.Amount <= 0 {
		err = pkgerrors.ErrInvalidAmount
		return err
	}

	span.SetAttributes(
		attribute.Int("dest_id", int(tx.DestID)),
		attribute.Int("amount", int(tx.Amount)),
		attribute.String("direction", string(tx.Direction)),
		attribute.String("status", string(tx.Status)),
	)

	var source sql.NullInt32
	if tx.SourceID != nil {
		source = sql.NullInt32{Int32: *tx.SourceID, Valid: true}
	}

	query := `
		INSERT INTO transactions (direction, source_id, dest_id, amount, description, hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
		`
	err = r.db.QueryRowContext(ctx, query, tx.Direction, source, tx.DestID, tx.Amount, tx.Description, tx.Hash, tx.Status).
		Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		err = fmt.Errorf("failed to create transaction: %w", err)
		return err
	}

	slog.Info("transaction created", "id", tx.ID, "dest_id", tx.DestID, "direction", tx.Direction, "status", tx.Status)
	return nil
}

func scanTransaction(scan func(dest ...any) error) (*models.Transaction, error) {
	var tx models.Transaction
	var source sql.NullInt32
	err := scan(&tx.ID, &tx.Direction, &source, &tx.DestID, &tx.Amount, &tx.Description, &tx.Hash, &tx.Status, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	if source.Valid {
		id := source.Int32
		tx.SourceID = &id
	}
	return &tx, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int32) (*models.Transaction, error) {
	query := `
		SELECT id, direction, source_id, dest_id, amount, description, hash, status, created_at
		FROM transactions WHERE id = $1
		`
	row := r.db.QueryRowContext(ctx, query, id)
	tx, err := scanTransaction(row.Scan)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) History(ctx context.Context, userID int32, filter repo.TransactionFilter) ([]models.Transaction, error) {
	query := `
		SELECT id, direction, source_id, dest_id, amount, description, hash, status, created_at
		FROM transactions
		WHERE (source_id = $1 OR dest_id = $1)
		AND ($2 = '' OR direction = $2)
		AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		`
	rows, err := r.db.QueryContext(ctx, query, userID, string(filter.Direction), string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction history: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *PostgresTransactionRepository) ListByStatus(ctx context.Context, status models.Status) ([]models.Transaction, error) {
	query := `
		SELECT id, direction, source_id, dest_id, amount, description, hash, status, created_at
		FROM transactions
		WHERE status = $1
		ORDER BY created_at DESC
		`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// MarkResolved performs the pending check and the transition in a single
// UPDATE so concurrent resolutions cannot both succeed.
func (r *PostgresTransactionRepository) MarkResolved(ctx context.Context, id int32, to models.Status) (err error) {
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "MarkResolved")
	span.SetAttributes(attribute.Int("transaction_id", int(id)), attribute.String("to", string(to)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("MarkResolved", status).Inc()
		observability.RepositoryDuration.WithLabelValues("MarkResolved").Observe(time.Since(start).Seconds())
	}()

	if to != models.StatusApproved && to != models.StatusRejected {
		err = fmt.Errorf("%w: cannot resolve to %q", pkgerrors.ErrInvalidInput, to)
		return err
	}

	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET status = $2 WHERE id = $1 AND status = 'pending'`, id, to)
	if err != nil {
		err = fmt.Errorf("failed to resolve transaction: %w", err)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to resolve transaction: %w", err)
		return err
	}
	if n == 0 {
		err = pkgerrors.ErrAlreadyProcessed
		return err
	}

	slog.Info("transaction resolved", "id", id, "status", to)
	return nil
}
