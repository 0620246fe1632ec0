package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/campuscoin/coin-service/internal/infrastructure/auth"
	"github.com/campuscoin/coin-service/internal/infrastructure/kafka"
	"github.com/campuscoin/coin-service/internal/infrastructure/redis"
	"github.com/campuscoin/coin-service/internal/models"
	repo "github.com/campuscoin/coin-service/internal/repository"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AuthService handles registration, login and the login-streak counter
// that feeds streak achievements.
type AuthService struct {
	store     repo.Atomic
	repos     repo.Repos
	stats     StatsAggregator
	engine    *AchievementEngine
	cache     redis.RedisClient
	events    kafka.KafkaProducer
	jwtSecret string
}

func NewAuthService(store repo.Atomic, repos repo.Repos, engine *AchievementEngine, cache redis.RedisClient, events kafka.KafkaProducer, jwtSecret string) *AuthService {
	return &AuthService{
		store:     store,
		repos:     repos,
		engine:    engine,
		cache:     cache,
		events:    events,
		jwtSecret: jwtSecret,
	}
}

// Register creates an account. Instructor accounts start unapproved and
// cannot sign in until an administrator reviews them.
func (s *AuthService) Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	if name == "" || email == "" {
		return nil, fmt.Errorf("%w: name and email are required", pkgerrors.ErrInvalidInput)
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", pkgerrors.ErrInvalidInput)
	}
	switch role {
	case models.RoleStudent, models.RoleInstructor:
	default:
		return nil, fmt.Errorf("%w: role %q cannot self-register", pkgerrors.ErrInvalidInput, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	approval := models.ApprovalApproved
	if role == models.RoleInstructor {
		approval = models.ApprovalPending
	}

	user := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Approval:     approval,
		Active:       true,
	}
	if err := s.repos.Users.Create(ctx, user); err != nil {
		return nil, err
	}

	publishEvent(s.events, TopicUserEvents, uuid.NewString(), map[string]interface{}{
		"event_type": "user.registered",
		"user_id":    user.ID,
		"role":       string(user.Role),
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	slog.Info("user registered", "user_id", user.ID, "role", user.Role, "approval", user.Approval)
	return user, nil
}

// Login verifies credentials, advances the login streak when a new calendar
// day begins, and issues a session token stored in Redis so it can be
// revoked before expiry.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.repos.Users.GetByEmail(ctx, email)
	if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		return "", nil, pkgerrors.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !user.Active {
		return "", nil, pkgerrors.ErrAccountInactive
	}
	if user.Role == models.RoleInstructor {
		switch user.Approval {
		case models.ApprovalPending:
			return "", nil, pkgerrors.ErrApprovalPending
		case models.ApprovalRejected:
			return "", nil, pkgerrors.ErrApprovalRejected
		}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, pkgerrors.ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.repos.Users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		slog.Error("failed to stamp last login", "user_id", user.ID, "error", err)
	}

	streak, advance := NextLoginStreak(now, user.Stats.LastStreakLogin, user.Stats.LoginStreak)
	if advance {
		var earned []models.Achievement
		err = s.store.Within(ctx, func(r repo.Repos) error {
			if err := s.stats.Bump(ctx, r.Users, user, models.StatLoginStreak, streak); err != nil {
				return err
			}
			earned, err = s.engine.Evaluate(ctx, r, user)
			return err
		})
		if err != nil {
			return "", nil, err
		}
		for _, a := range earned {
			publishEvent(s.events, TopicUserEvents, uuid.NewString(), map[string]interface{}{
				"event_type":     "achievement.granted",
				"achievement_id": a.ID,
				"user_id":        user.ID,
				"rule":           string(a.Rule),
				"created_at":     now.Format(time.RFC3339),
			})
		}
	}

	token, err := auth.GenerateToken(user.ID, user.Role, s.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, fmt.Sprintf("user:%d:token", user.ID), token, auth.TokenTTL); err != nil {
			slog.Error("failed to store session token", "user_id", user.ID, "error", err)
		}
	}

	slog.Info("user logged in", "user_id", user.ID, "streak", streak)
	return token, user, nil
}

// Logout drops the stored session token, revoking it immediately.
func (s *AuthService) Logout(ctx context.Context, userID int32) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Del(ctx, fmt.Sprintf("user:%d:token", userID)); err != nil && !stderrors.Is(err, redis.ErrKeyNotFound) {
		return err
	}
	return nil
}
