package repository

import "context"

// Repos bundles every repository bound to the same storage handle, either
// the shared pool or one open transaction.
type Repos struct {
	Users        UserRepository
	Transactions TransactionRepository
	Goals        GoalRepository
	Requests     GoalRequestRepository
	Achievements AchievementRepository
}

// Atomic runs fn with all repositories bound to a single transaction. If fn
// returns an error the transaction rolls back and nothing fn wrote is
// observable.
type Atomic interface {
	Within(ctx context.Context, fn func(r Repos) error) error
}
