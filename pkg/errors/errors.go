package errors

import (
	"errors"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSelfTransfer        = errors.New("cannot transfer to yourself")
	ErrAlreadyProcessed    = errors.New("already processed")
	ErrAlreadyCompleted    = errors.New("goal already completed")
	ErrDuplicatePending    = errors.New("pending request already exists for this goal")
	ErrGoalInactive        = errors.New("goal is not active")

	ErrUserNotFound        = errors.New("user not found")
	ErrGoalNotFound        = errors.New("goal not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrRequestNotFound     = errors.New("goal request not found")
	ErrAchievementNotFound = errors.New("achievement not found")

	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is deactivated")
	ErrApprovalPending    = errors.New("account awaiting administrator approval")
	ErrApprovalRejected   = errors.New("account registration was rejected")
	ErrForbidden          = errors.New("access denied")

	ErrWalletLocked = errors.New("wallet is locked by another operation")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)
