package service

import (
	"context"

	"github.com/campuscoin/coin-service/internal/models"
	repo "github.com/campuscoin/coin-service/internal/repository"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
)

// BalanceLedger owns the role-dependent balance rules. It operates on
// whatever repository binding the caller passes in, so the same rules apply
// inside and outside a storage transaction.
type BalanceLedger struct{}

func (BalanceLedger) Credit(ctx context.Context, users repo.UserRepository, user *models.User, amount int32) (int32, error) {
	if amount <= 0 {
		return 0, pkgerrors.ErrInvalidAmount
	}
	newBalance, err := users.AddCoins(ctx, user.ID, amount)
	if err != nil {
		return 0, err
	}
	user.Balance = newBalance
	return newBalance, nil
}

// Debit clamps staff wallets at zero instead of rejecting; students fail
// with ErrInsufficientBalance when the balance does not cover the amount.
func (BalanceLedger) Debit(ctx context.Context, users repo.UserRepository, user *models.User, amount int32) (int32, error) {
	if amount <= 0 {
		return 0, pkgerrors.ErrInvalidAmount
	}
	var newBalance int32
	var err error
	if user.Role.UnlimitedSpending() {
		newBalance, err = users.SpendCoinsClamped(ctx, user.ID, amount)
	} else {
		newBalance, err = users.SpendCoins(ctx, user.ID, amount)
	}
	if err != nil {
		return 0, err
	}
	user.Balance = newBalance
	return newBalance, nil
}
