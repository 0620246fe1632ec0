package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuscoin/coin-service/internal/infrastructure/kafka"
	"github.com/campuscoin/coin-service/internal/models"
	repo "github.com/campuscoin/coin-service/internal/repository"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
	"github.com/google/uuid"
)

// UserAchievement is one catalog entry annotated with the user's unlock
// state.
type UserAchievement struct {
	models.Achievement
	Unlocked  bool       `json:"unlocked"`
	GrantedAt *time.Time `json:"granted_at,omitempty"`
}

// AccountService covers profile and account-lifecycle operations.
type AccountService struct {
	store  repo.Atomic
	repos  repo.Repos
	engine *AchievementEngine
	events kafka.KafkaProducer
}

func NewAccountService(store repo.Atomic, repos repo.Repos, engine *AchievementEngine, events kafka.KafkaProducer) *AccountService {
	return &AccountService{
		store:  store,
		repos:  repos,
		engine: engine,
		events: events,
	}
}

func (s *AccountService) GetUser(ctx context.Context, userID int32) (*models.User, error) {
	return s.repos.Users.GetByID(ctx, userID)
}

// SetProfilePhoto records the photo reference and flips the profile-photo
// statistic, which may unlock its achievement.
func (s *AccountService) SetProfilePhoto(ctx context.Context, userID int32, photoRef string) ([]models.Achievement, error) {
	if photoRef == "" {
		return nil, fmt.Errorf("%w: photo reference is required", pkgerrors.ErrInvalidInput)
	}
	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var earned []models.Achievement
	err = s.store.Within(ctx, func(r repo.Repos) error {
		if err := r.Users.SetProfilePhoto(ctx, userID, photoRef); err != nil {
			return err
		}
		user.PhotoRef = photoRef
		user.Stats.HasProfilePhoto = true
		earned, err = s.engine.Evaluate(ctx, r, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, a := range earned {
		publishEvent(s.events, TopicUserEvents, uuid.NewString(), map[string]interface{}{
			"event_type":     "achievement.granted",
			"achievement_id": a.ID,
			"user_id":        userID,
			"rule":           string(a.Rule),
			"created_at":     time.Now().UTC().Format(time.RFC3339),
		})
	}
	slog.Info("profile photo updated", "user_id", userID)
	return earned, nil
}

// Deactivate soft-deletes the account. History, balances and grants stay in
// place; the user simply cannot sign in anymore.
func (s *AccountService) Deactivate(ctx context.Context, userID int32) error {
	if _, err := s.repos.Users.GetByID(ctx, userID); err != nil {
		return err
	}
	if err := s.repos.Users.SetActive(ctx, userID, false); err != nil {
		return err
	}
	publishEvent(s.events, TopicUserEvents, uuid.NewString(), map[string]interface{}{
		"event_type": "user.deactivated",
		"user_id":    userID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	slog.Info("account deactivated", "user_id", userID)
	return nil
}

func (s *AccountService) ApproveInstructor(ctx context.Context, userID int32) error {
	return s.setInstructorApproval(ctx, userID, models.ApprovalApproved)
}

func (s *AccountService) RejectInstructor(ctx context.Context, userID int32) error {
	return s.setInstructorApproval(ctx, userID, models.ApprovalRejected)
}

func (s *AccountService) setInstructorApproval(ctx context.Context, userID int32, approval models.ApprovalStatus) error {
	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role != models.RoleInstructor {
		return fmt.Errorf("%w: user %d is not an instructor", pkgerrors.ErrInvalidInput, userID)
	}
	if err := s.repos.Users.SetApproval(ctx, userID, approval); err != nil {
		return err
	}
	slog.Info("instructor approval updated", "user_id", userID, "approval", approval)
	return nil
}

// Achievements returns the full catalog with the user's unlock state, so
// clients can render locked and unlocked entries side by side.
func (s *AccountService) Achievements(ctx context.Context, userID int32) ([]UserAchievement, error) {
	catalog, err := s.repos.Achievements.List(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := s.repos.Users.ListGrants(ctx, userID)
	if err != nil {
		return nil, err
	}

	granted := make(map[int32]time.Time, len(grants))
	for _, g := range grants {
		granted[g.AchievementID] = g.GrantedAt
	}

	out := make([]UserAchievement, 0, len(catalog))
	for _, a := range catalog {
		ua := UserAchievement{Achievement: a}
		if at, ok := granted[a.ID]; ok {
			ua.Unlocked = true
			t := at
			ua.GrantedAt = &t
		}
		out = append(out, ua)
	}
	return out, nil
}
