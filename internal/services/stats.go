package service

import (
	"context"
	"time"

	"github.com/campuscoin/coin-service/internal/models"
	repo "github.com/campuscoin/coin-service/internal/repository"
)

// StatsAggregator maintains the per-user counters that feed achievement
// evaluation. Bump persists the change and mirrors it onto the in-memory
// user so a following Evaluate sees the fresh snapshot.
type StatsAggregator struct{}

func (StatsAggregator) Bump(ctx context.Context, users repo.UserRepository, user *models.User, kind models.StatKind, delta int32) error {
	switch kind {
	case models.StatLoginStreak:
		// The caller pre-computes the streak; delta replaces the counter.
		now := time.Now().UTC()
		if err := users.SetLoginStreak(ctx, user.ID, delta, now); err != nil {
			return err
		}
		user.Stats.LoginStreak = delta
		user.Stats.LastStreakLogin = now
		return nil
	case models.StatProfilePhoto:
		if err := users.SetProfilePhoto(ctx, user.ID, user.PhotoRef); err != nil {
			return err
		}
		user.Stats.HasProfilePhoto = true
		return nil
	default:
		if err := users.BumpCounter(ctx, user.ID, kind, delta); err != nil {
			return err
		}
		switch kind {
		case models.StatTransfersSent:
			user.Stats.TransfersSent += delta
		case models.StatTransfersReceived:
			user.Stats.TransfersReceived += delta
		case models.StatGoalsCompleted:
			user.Stats.GoalsCompleted += delta
		case models.StatCoinsEarned:
			user.Stats.CoinsEarned += delta
		}
		return nil
	}
}

// NextLoginStreak derives the new streak from the calendar-day gap since the
// last streak-counting login. The second return is false when no update
// should be persisted (another login on the same day).
func NextLoginStreak(now, last time.Time, current int32) (int32, bool) {
	if last.IsZero() {
		return 1, true
	}
	gap := calendarDays(last, now)
	switch {
	case gap == 0:
		return current, false
	case gap == 1:
		return current + 1, true
	default:
		return 1, true
	}
}

func calendarDays(from, to time.Time) int {
	from = from.UTC()
	to = to.UTC()
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
