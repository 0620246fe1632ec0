package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/campuscoin/coin-service/internal/infrastructure/observability"
	"github.com/campuscoin/coin-service/internal/infrastructure/redis"
	"github.com/campuscoin/coin-service/internal/models"
	repo "github.com/campuscoin/coin-service/internal/repository"
	"go.opentelemetry.io/otel"
)

const (
	catalogCacheKey = "achievements:catalog"
	catalogCacheTTL = time.Hour
)

// AchievementEngine evaluates the fixed achievement catalog against a user's
// statistics snapshot and grants newly unlocked achievements exactly once.
// It reaches the catalog and the grant set only through the injected
// readers, never through other components' internals.
type AchievementEngine struct {
	cache redis.RedisClient
}

func NewAchievementEngine(cache redis.RedisClient) *AchievementEngine {
	return &AchievementEngine{cache: cache}
}

// Evaluate is called after every statistics-changing action, so the
// skip-if-granted check is load-bearing: re-evaluating an unchanged snapshot
// grants nothing. Returns only the achievements granted by this call.
func (e *AchievementEngine) Evaluate(ctx context.Context, r repo.Repos, user *models.User) ([]models.Achievement, error) {
	tracer := otel.Tracer("achievement-engine")
	ctx, span := tracer.Start(ctx, "Evaluate")
	defer span.End()

	catalog, err := e.loadCatalog(ctx, r.Achievements)
	if err != nil {
		return nil, err
	}

	grants, err := r.Users.ListGrants(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	have := make(map[int32]bool, len(grants))
	for _, g := range grants {
		have[g.AchievementID] = true
	}

	var earned []models.Achievement
	for _, a := range catalog {
		if have[a.ID] {
			continue
		}
		if !ruleUnlocked(a.Rule, user.Stats) {
			continue
		}
		granted, err := r.Users.GrantAchievement(ctx, user.ID, a.ID, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		if !granted {
			continue
		}
		observability.AchievementsGranted.WithLabelValues(string(a.Rule)).Inc()
		slog.Info("achievement granted", "user_id", user.ID, "rule", a.Rule, "name", a.Name)
		earned = append(earned, a)
	}
	return earned, nil
}

func (e *AchievementEngine) loadCatalog(ctx context.Context, achievements repo.AchievementRepository) ([]models.Achievement, error) {
	if e.cache != nil {
		if cached, err := e.cache.Get(ctx, catalogCacheKey); err == nil {
			var catalog []models.Achievement
			if err := json.Unmarshal([]byte(cached), &catalog); err == nil {
				return catalog, nil
			}
			slog.Error("failed to unmarshal cached catalog", "error", err)
		} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
			slog.Error("failed to read catalog cache", "error", err)
		}
	}

	catalog, err := achievements.List(ctx)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if raw, err := json.Marshal(catalog); err == nil {
			if err := e.cache.Set(ctx, catalogCacheKey, string(raw), catalogCacheTTL); err != nil {
				slog.Error("failed to cache catalog", "error", err)
			}
		}
	}
	return catalog, nil
}

func ruleUnlocked(rule models.RuleType, s models.Statistics) bool {
	switch rule {
	case models.RuleFirstTransfer:
		return s.TransfersSent >= 1
	case models.RuleTransfers10:
		return s.TransfersSent >= 10
	case models.RuleTransfers50:
		return s.TransfersSent >= 50
	case models.RuleTransfers100:
		return s.TransfersSent >= 100
	case models.RuleFirstReceived:
		return s.TransfersReceived >= 1
	case models.RuleReceived10:
		return s.TransfersReceived >= 10
	case models.RuleReceived50:
		return s.TransfersReceived >= 50
	case models.RuleReceived100:
		return s.TransfersReceived >= 100
	case models.RuleFirstGoal:
		return s.GoalsCompleted >= 1
	case models.RuleGoals10:
		return s.GoalsCompleted >= 10
	case models.RuleGoals50:
		return s.GoalsCompleted >= 50
	case models.RuleGoals100:
		return s.GoalsCompleted >= 100
	case models.RuleCoins100:
		return s.CoinsEarned >= 100
	case models.RuleCoins500:
		return s.CoinsEarned >= 500
	case models.RuleCoins1000:
		return s.CoinsEarned >= 1000
	case models.RuleCoins5000:
		return s.CoinsEarned >= 5000
	case models.RuleStreak7:
		return s.LoginStreak >= 7
	case models.RuleStreak30:
		return s.LoginStreak >= 30
	case models.RuleStreak100:
		return s.LoginStreak >= 100
	case models.RuleProfilePhoto:
		return s.HasProfilePhoto
	case models.RuleBalanced:
		return s.TransfersSent >= 10 && s.TransfersReceived >= 10
	case models.RuleSocial:
		return s.TransfersSent >= 5 && s.TransfersReceived >= 5
	default:
		return false
	}
}
