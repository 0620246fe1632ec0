package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/campuscoin/coin-service/internal/infrastructure/kafka"
	"github.com/campuscoin/coin-service/internal/infrastructure/redis"
	"github.com/campuscoin/coin-service/internal/models"
	repo "github.com/campuscoin/coin-service/internal/repository"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// TransferService drives the transaction ledger: immediate settlements,
// pending instructor-to-student transfers, minted rewards and history reads.
type TransferService struct {
	store  repo.Atomic
	repos  repo.Repos
	wallet BalanceLedger
	stats  StatsAggregator
	engine *AchievementEngine
	cache  redis.RedisClient
	events kafka.KafkaProducer
}

func NewTransferService(store repo.Atomic, repos repo.Repos, engine *AchievementEngine, cache redis.RedisClient, events kafka.KafkaProducer) *TransferService {
	return &TransferService{
		store:  store,
		repos:  repos,
		engine: engine,
		cache:  cache,
		events: events,
	}
}

// InitiateTransfer creates the ledger entry and, unless oversight is
// required, settles it in the same atomic unit. Instructor-to-student
// transfers are created pending and settle only on admin approval.
func (s *TransferService) InitiateTransfer(ctx context.Context, sourceID, destID, amount int32, description string) (*models.Transaction, error) {
	tracer := otel.Tracer("transfer-service")
	ctx, span := tracer.Start(ctx, "InitiateTransfer")
	defer span.End()

	if amount <= 0 {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, pkgerrors.ErrInvalidAmount
	}
	if sourceID == destID {
		span.SetStatus(codes.Error, "self transfer")
		return nil, pkgerrors.ErrSelfTransfer
	}

	source, err := s.repos.Users.GetByID(ctx, sourceID)
	if err != nil {
		slog.Error("transfer source not found", "user_id", sourceID, "error", err)
		return nil, err
	}
	dest, err := s.repos.Users.GetByID(ctx, destID)
	if err != nil {
		slog.Error("transfer destination not found", "user_id", destID, "error", err)
		return nil, err
	}

	// Friendly pre-check; the SQL guard inside settle is authoritative.
	if !source.Role.UnlimitedSpending() && source.Balance < amount {
		span.SetStatus(codes.Error, "insufficient balance")
		return nil, pkgerrors.ErrInsufficientBalance
	}

	status := models.StatusApproved
	if source.Role == models.RoleInstructor && dest.Role == models.RoleStudent {
		status = models.StatusPending
	}

	if description == "" {
		description = "Transfer between users"
	}
	tx := &models.Transaction{
		Direction:   models.DirectionSent,
		SourceID:    &source.ID,
		DestID:      dest.ID,
		Amount:      amount,
		Description: description,
		Hash:        transferHash(source.ID, dest.ID, amount),
		Status:      status,
	}

	var earned []models.Achievement
	if status == models.StatusApproved {
		release, err := s.lockWallets(ctx, source.ID, dest.ID)
		if err != nil {
			return nil, err
		}
		defer release()

		err = s.store.Within(ctx, func(r repo.Repos) error {
			if err := r.Transactions.Create(ctx, tx); err != nil {
				return err
			}
			earned, err = s.settle(ctx, r, source, dest, amount)
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "settlement failed")
			return nil, err
		}
		s.invalidateBalances(ctx, source.ID, dest.ID)
	} else {
		if err := s.store.Within(ctx, func(r repo.Repos) error {
			return r.Transactions.Create(ctx, tx)
		}); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	s.publishSettlement(tx, earned)
	slog.Info("transfer initiated",
		"transaction_id", tx.ID,
		"source_id", source.ID,
		"dest_id", dest.ID,
		"amount", amount,
		"status", tx.Status)
	return tx, nil
}

// IssueReward mints coins into the recipient's wallet. The grantor is
// recorded on the ledger entry but never debited.
func (s *TransferService) IssueReward(ctx context.Context, grantorID, recipientID, amount int32, description string) (*models.Transaction, error) {
	tracer := otel.Tracer("transfer-service")
	ctx, span := tracer.Start(ctx, "IssueReward")
	defer span.End()

	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	grantor, err := s.repos.Users.GetByID(ctx, grantorID)
	if err != nil {
		return nil, err
	}
	if !grantor.Role.IsStaff() {
		return nil, pkgerrors.ErrForbidden
	}
	recipient, err := s.repos.Users.GetByID(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	if description == "" {
		description = "Reward granted"
	}
	tx := &models.Transaction{
		Direction:   models.DirectionReceived,
		SourceID:    &grantor.ID,
		DestID:      recipient.ID,
		Amount:      amount,
		Description: description,
		Hash:        fmt.Sprintf("reward_%s", uuid.NewString()),
		Status:      models.StatusApproved,
	}

	var earned []models.Achievement
	err = s.store.Within(ctx, func(r repo.Repos) error {
		if err := r.Transactions.Create(ctx, tx); err != nil {
			return err
		}
		if _, err := s.wallet.Credit(ctx, r.Users, recipient, amount); err != nil {
			return err
		}
		if err := s.stats.Bump(ctx, r.Users, recipient, models.StatTransfersReceived, 1); err != nil {
			return err
		}
		if err := s.stats.Bump(ctx, r.Users, recipient, models.StatCoinsEarned, amount); err != nil {
			return err
		}
		earned, err = s.engine.Evaluate(ctx, r, recipient)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reward failed")
		return nil, err
	}

	s.invalidateBalances(ctx, recipient.ID)
	s.publishSettlement(tx, earned)
	slog.Info("reward issued", "transaction_id", tx.ID, "grantor_id", grantorID, "recipient_id", recipientID, "amount", amount)
	return tx, nil
}

// ResolvePending settles or rejects a pending transfer exactly once. Only
// admins resolve: instructors initiate the transfers under review, so letting
// them resolve would let them approve their own. The pending precondition is
// re-checked by the status-guarded UPDATE inside the same transaction as the
// settlement.
func (s *TransferService) ResolvePending(ctx context.Context, resolverID, txID int32, decision Decision) (*models.Transaction, error) {
	tracer := otel.Tracer("transfer-service")
	ctx, span := tracer.Start(ctx, "ResolvePending")
	defer span.End()

	resolver, err := s.repos.Users.GetByID(ctx, resolverID)
	if err != nil {
		return nil, err
	}
	if resolver.Role != models.RoleAdmin {
		return nil, pkgerrors.ErrForbidden
	}

	tx, err := s.repos.Transactions.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.StatusPending {
		return nil, pkgerrors.ErrAlreadyProcessed
	}

	if decision == DecisionReject {
		if err := s.store.Within(ctx, func(r repo.Repos) error {
			return r.Transactions.MarkResolved(ctx, tx.ID, models.StatusRejected)
		}); err != nil {
			return nil, err
		}
		tx.Status = models.StatusRejected
		slog.Info("pending transfer rejected", "transaction_id", tx.ID)
		return tx, nil
	}
	if decision != DecisionApprove {
		return nil, fmt.Errorf("%w: decision %q", pkgerrors.ErrInvalidInput, decision)
	}

	if tx.SourceID == nil {
		return nil, fmt.Errorf("%w: pending transfer without source", pkgerrors.ErrInvalidInput)
	}
	source, err := s.repos.Users.GetByID(ctx, *tx.SourceID)
	if err != nil {
		return nil, err
	}
	dest, err := s.repos.Users.GetByID(ctx, tx.DestID)
	if err != nil {
		return nil, err
	}

	release, err := s.lockWallets(ctx, source.ID, dest.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	var earned []models.Achievement
	err = s.store.Within(ctx, func(r repo.Repos) error {
		if err := r.Transactions.MarkResolved(ctx, tx.ID, models.StatusApproved); err != nil {
			return err
		}
		earned, err = s.settle(ctx, r, source, dest, tx.Amount)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "approval failed")
		return nil, err
	}

	tx.Status = models.StatusApproved
	s.invalidateBalances(ctx, source.ID, dest.ID)
	s.publishSettlement(tx, earned)
	slog.Info("pending transfer approved", "transaction_id", tx.ID, "source_id", source.ID, "dest_id", dest.ID)
	return tx, nil
}

// settle performs the debit/credit/statistics/achievement sequence for one
// logical transfer. Callers run it inside a store transaction.
func (s *TransferService) settle(ctx context.Context, r repo.Repos, source, dest *models.User, amount int32) ([]models.Achievement, error) {
	if _, err := s.wallet.Debit(ctx, r.Users, source, amount); err != nil {
		return nil, err
	}
	if _, err := s.wallet.Credit(ctx, r.Users, dest, amount); err != nil {
		return nil, err
	}
	if err := s.stats.Bump(ctx, r.Users, source, models.StatTransfersSent, 1); err != nil {
		return nil, err
	}
	if err := s.stats.Bump(ctx, r.Users, dest, models.StatTransfersReceived, 1); err != nil {
		return nil, err
	}
	if err := s.stats.Bump(ctx, r.Users, dest, models.StatCoinsEarned, amount); err != nil {
		return nil, err
	}

	earnedSource, err := s.engine.Evaluate(ctx, r, source)
	if err != nil {
		return nil, err
	}
	earnedDest, err := s.engine.Evaluate(ctx, r, dest)
	if err != nil {
		return nil, err
	}
	return append(earnedSource, earnedDest...), nil
}

func (s *TransferService) GetBalance(ctx context.Context, userID int32) (int32, error) {
	balanceKey := fmt.Sprintf("user:%d:balance", userID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, balanceKey); err == nil {
			var balance int32
			if err := json.Unmarshal([]byte(cached), &balance); err == nil {
				return balance, nil
			}
		}
	}

	balance, err := s.repos.Users.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, balanceKey, balance, 5*time.Minute); err != nil {
			slog.Error("failed to cache balance", "user_id", userID, "error", err)
		}
	}
	return balance, nil
}

func (s *TransferService) History(ctx context.Context, userID int32, filter repo.TransactionFilter) ([]models.Transaction, error) {
	return s.repos.Transactions.History(ctx, userID, filter)
}

func (s *TransferService) ListPending(ctx context.Context) ([]models.Transaction, error) {
	return s.repos.Transactions.ListByStatus(ctx, models.StatusPending)
}

// GetTransaction restricts reads to participants and admins.
func (s *TransferService) GetTransaction(ctx context.Context, id, callerID int32, callerRole models.Role) (*models.Transaction, error) {
	tx, err := s.repos.Transactions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerRole != models.RoleAdmin && tx.DestID != callerID && (tx.SourceID == nil || *tx.SourceID != callerID) {
		return nil, pkgerrors.ErrForbidden
	}
	return tx, nil
}

func (s *TransferService) lockWallets(ctx context.Context, ids ...int32) (func(), error) {
	if s.cache == nil {
		return func() {}, nil
	}
	acquired := make([]string, 0, len(ids))
	release := func() {
		for _, key := range acquired {
			if err := s.cache.Del(context.Background(), key); err != nil {
				slog.Error("failed to release wallet lock", "key", key, "error", err)
			}
		}
	}
	for _, id := range ids {
		key := fmt.Sprintf("user:%d:lock", id)
		ok, err := s.cache.SetNX(ctx, key, "locked", 3*time.Second)
		if err != nil || !ok {
			release()
			slog.Error("wallet is locked", "key", key, "error", err)
			return nil, pkgerrors.ErrWalletLocked
		}
		acquired = append(acquired, key)
	}
	return release, nil
}

func (s *TransferService) invalidateBalances(ctx context.Context, ids ...int32) {
	if s.cache == nil {
		return
	}
	for _, id := range ids {
		if err := s.cache.Del(ctx, fmt.Sprintf("user:%d:balance", id)); err != nil && !stderrors.Is(err, redis.ErrKeyNotFound) {
			slog.Error("failed to invalidate balance cache", "user_id", id, "error", err)
		}
	}
}

func (s *TransferService) publishSettlement(tx *models.Transaction, earned []models.Achievement) {
	event := map[string]interface{}{
		"event_type":     "transaction." + string(tx.Status),
		"transaction_id": tx.ID,
		"dest_id":        tx.DestID,
		"amount":         tx.Amount,
		"hash":           tx.Hash,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	if tx.SourceID != nil {
		event["source_id"] = *tx.SourceID
	}
	publishEvent(s.events, TopicCoinEvents, tx.Hash, event)

	for _, a := range earned {
		publishEvent(s.events, TopicCoinEvents, uuid.NewString(), map[string]interface{}{
			"event_type":     "achievement.granted",
			"achievement_id": a.ID,
			"rule":           string(a.Rule),
			"created_at":     time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func transferHash(sourceID, destID, amount int32) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d_%d_%d_%d_%s", time.Now().UnixNano(), sourceID, destID, amount, uuid.NewString()))
	return hex.EncodeToString(sum[:])
}
