package service

import (
	"context"
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

// Evidence is the student's completion proof. FileRef is an opaque reference
// supplied by the upload layer; the core never interprets it.
type Evidence struct {
	Text    string
	FileRef string
}

// CompletionOutcome describes what RequestCompletion did: either a pending
// request was queued for review, or the reward was credited immediately.
type CompletionOutcome struct {
	Request *models.GoalRequest
	Reward  int32
	Earned  []models.Achievement
}

// ResolutionOutcome describes how a request resolution ended. GoalRemoved is
// set when the request was approved but its goal no longer exists, in which
// case nothing was credited.
type ResolutionOutcome struct {
	Request     *models.GoalRequest
	Credited    bool
	GoalRemoved bool
	Reward      int32
	Earned      []models.Achievement
}

// GoalService manages goal definitions, direct completions and the review
// workflow for approval-gated goals.
type GoalService struct {
	store  repo.Atomic
	repos  repo.Repos
	wallet BalanceLedger
	stats  StatsAggregator
	engine *AchievementEngine
	cache  redis.RedisClient
	events kafka.KafkaProducer
}

func NewGoalService(store repo.Atomic, repos repo.Repos, engine *AchievementEngine, cache redis.RedisClient, events kafka.KafkaProducer) *GoalService {
	return &GoalService{
		store:  store,
		repos:  repos,
		engine: engine,
		cache:  cache,
		events: events,
	}
}

func (s *GoalService) CreateGoal(ctx context.Context, goal *models.Goal) error {
	if goal.Title == "" || goal.Description == "" {
		return fmt.Errorf("%w: title and description are required", pkgerrors.ErrInvalidInput)
	}
	if goal.Reward <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	if goal.StartsAt.IsZero() {
		goal.StartsAt = time.Now().UTC()
	}
	if goal.EvidenceType == "" {
		goal.EvidenceType = models.EvidenceText
	}
	if err := s.repos.Goals.Create(ctx, goal); err != nil {
		return err
	}
	slog.Info("goal created", "goal_id", goal.ID, "title", goal.Title, "reward", goal.Reward)
	return nil
}

func (s *GoalService) UpdateGoal(ctx context.Context, goal *models.Goal) error {
	if goal.Reward <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	return s.repos.Goals.Update(ctx, goal)
}

// DeleteGoal removes the definition while preserving review history:
// approved requests keep their rows with the goal reference nulled out.
// Pending requests are left untouched; resolving them later follows the
// goal-removed path.
func (s *GoalService) DeleteGoal(ctx context.Context, goalID int32) error {
	err := s.store.Within(ctx, func(r repo.Repos) error {
		if err := r.Requests.DetachApproved(ctx, goalID); err != nil {
			return err
		}
		return r.Goals.Delete(ctx, goalID)
	})
	if err != nil {
		return err
	}
	slog.Info("goal deleted, request history preserved", "goal_id", goalID)
	return nil
}

func (s *GoalService) GetGoal(ctx context.Context, goalID, userID int32) (*models.Goal, error) {
	goal, err := s.repos.Goals.GetByID(ctx, goalID)
	if err != nil {
		return nil, err
	}
	goal.Completed, err = s.repos.Goals.HasCompleted(ctx, goalID, userID)
	if err != nil {
		return nil, err
	}
	return goal, nil
}

// ListAvailable returns active goals inside their validity window, marked
// with the caller's completion and pending-request state.
func (s *GoalService) ListAvailable(ctx context.Context, userID int32, category string) ([]models.Goal, error) {
	goals, err := s.repos.Goals.ListActive(ctx, time.Now().UTC(), category)
	if err != nil {
		return nil, err
	}
	for i := range goals {
		g := &goals[i]
		g.Completed, err = s.repos.Goals.HasCompleted(ctx, g.ID, userID)
		if err != nil {
			return nil, err
		}
		if !g.Completed && g.RequiresApproval {
			g.PendingRequest, err = s.repos.Requests.HasPending(ctx, g.ID, userID)
			if err != nil {
				return nil, err
			}
		}
	}
	return goals, nil
}

func (s *GoalService) ListAll(ctx context.Context, category string) ([]models.Goal, error) {
	return s.repos.Goals.ListAll(ctx, category)
}

func (s *GoalService) ListCompletedBy(ctx context.Context, userID int32) ([]models.Goal, error) {
	return s.repos.Goals.ListCompletedBy(ctx, userID)
}

func (s *GoalService) ListRequests(ctx context.Context, status models.Status) ([]models.GoalRequest, error) {
	return s.repos.Requests.ListByStatus(ctx, status)
}

// RequestCompletion claims a goal for a student. Approval-gated goals queue
// a pending request carrying the evidence; everything else settles now.
func (s *GoalService) RequestCompletion(ctx context.Context, studentID, goalID int32, ev Evidence) (*CompletionOutcome, error) {
	tracer := otel.Tracer("goal-service")
	ctx, span := tracer.Start(ctx, "RequestCompletion")
	defer span.End()

	goal, err := s.repos.Goals.GetByID(ctx, goalID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !goal.AvailableAt(now) {
		span.SetStatus(codes.Error, "goal inactive")
		return nil, pkgerrors.ErrGoalInactive
	}
	if goal.MaxCompletions != nil {
		count, err := s.repos.Goals.CompletionCount(ctx, goalID)
		if err != nil {
			return nil, err
		}
		if count >= *goal.MaxCompletions {
			span.SetStatus(codes.Error, "goal full")
			return nil, pkgerrors.ErrGoalInactive
		}
	}

	done, err := s.repos.Goals.HasCompleted(ctx, goalID, studentID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, pkgerrors.ErrAlreadyCompleted
	}

	if goal.RequiresApproval {
		pending, err := s.repos.Requests.HasPending(ctx, goalID, studentID)
		if err != nil {
			return nil, err
		}
		if pending {
			return nil, pkgerrors.ErrDuplicatePending
		}
		if goal.EvidenceRequired && ev.Text == "" && ev.FileRef == "" {
			return nil, fmt.Errorf("%w: evidence is required for this goal", pkgerrors.ErrInvalidInput)
		}

		req := &models.GoalRequest{
			GoalID:       &goal.ID,
			StudentID:    studentID,
			Status:       models.StatusPending,
			EvidenceText: ev.Text,
			EvidenceFile: ev.FileRef,
		}
		if err := s.repos.Requests.Create(ctx, req); err != nil {
			return nil, err
		}
		slog.Info("goal completion queued for review", "goal_id", goalID, "student_id", studentID, "request_id", req.ID)
		return &CompletionOutcome{Request: req}, nil
	}

	student, err := s.repos.Users.GetByID(ctx, studentID)
	if err != nil {
		return nil, err
	}

	var earned []models.Achievement
	err = s.store.Within(ctx, func(r repo.Repos) error {
		earned, err = s.complete(ctx, r, goal, student)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, err
	}

	s.invalidateBalance(ctx, student.ID)
	s.publishCompletion(goal, student.ID, earned)
	slog.Info("goal completed", "goal_id", goalID, "student_id", studentID, "reward", goal.Reward)
	return &CompletionOutcome{Reward: goal.Reward, Earned: earned}, nil
}

// ResolveRequest settles a reviewer's decision exactly once. Approving a
// request whose goal was deleted in the meantime resolves it with nothing
// credited.
func (s *GoalService) ResolveRequest(ctx context.Context, requestID, reviewerID int32, decision Decision, comment string) (*ResolutionOutcome, error) {
	tracer := otel.Tracer("goal-service")
	ctx, span := tracer.Start(ctx, "ResolveRequest")
	defer span.End()

	reviewer, err := s.repos.Users.GetByID(ctx, reviewerID)
	if err != nil {
		return nil, err
	}
	if !reviewer.Role.IsStaff() {
		return nil, pkgerrors.ErrForbidden
	}

	req, err := s.repos.Requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusPending {
		return nil, pkgerrors.ErrAlreadyProcessed
	}

	now := time.Now().UTC()
	outcome := &ResolutionOutcome{Request: req}

	if decision == DecisionReject {
		if err := s.store.Within(ctx, func(r repo.Repos) error {
			return r.Requests.Resolve(ctx, req.ID, models.StatusRejected, reviewerID, comment, now)
		}); err != nil {
			return nil, err
		}
		stampResolution(req, models.StatusRejected, reviewerID, comment, now)
		return outcome, nil
	}
	if decision != DecisionApprove {
		return nil, fmt.Errorf("%w: decision %q", pkgerrors.ErrInvalidInput, decision)
	}

	var goal *models.Goal
	var student *models.User
	err = s.store.Within(ctx, func(r repo.Repos) error {
		if err := r.Requests.Resolve(ctx, req.ID, models.StatusApproved, reviewerID, comment, now); err != nil {
			return err
		}
		if req.GoalID == nil {
			outcome.GoalRemoved = true
			return nil
		}

		goal, err = r.Goals.GetByID(ctx, *req.GoalID)
		if stderrors.Is(err, pkgerrors.ErrGoalNotFound) {
			outcome.GoalRemoved = true
			return nil
		}
		if err != nil {
			return err
		}

		done, err := r.Goals.HasCompleted(ctx, goal.ID, req.StudentID)
		if err != nil {
			return err
		}
		if done {
			// Re-approval attempts never duplicate the payout.
			return nil
		}

		student, err = r.Users.GetByID(ctx, req.StudentID)
		if err != nil {
			return err
		}
		outcome.Earned, err = s.complete(ctx, r, goal, student)
		if err != nil {
			return err
		}
		outcome.Credited = true
		outcome.Reward = goal.Reward
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		return nil, err
	}

	stampResolution(req, models.StatusApproved, reviewerID, comment, now)
	if outcome.Credited {
		s.invalidateBalance(ctx, student.ID)
		s.publishCompletion(goal, student.ID, outcome.Earned)
	}
	slog.Info("goal request resolved",
		"request_id", req.ID,
		"reviewer_id", reviewerID,
		"credited", outcome.Credited,
		"goal_removed", outcome.GoalRemoved)
	return outcome, nil
}

// complete adds the student to the completion set, pays the reward, updates
// statistics and achievements, and writes the minted audit entry. Runs
// inside a store transaction.
func (s *GoalService) complete(ctx context.Context, r repo.Repos, goal *models.Goal, student *models.User) ([]models.Achievement, error) {
	if err := r.Goals.AddCompletion(ctx, goal.ID, student.ID); err != nil {
		return nil, err
	}
	if _, err := s.wallet.Credit(ctx, r.Users, student, goal.Reward); err != nil {
		return nil, err
	}
	if err := s.stats.Bump(ctx, r.Users, student, models.StatGoalsCompleted, 1); err != nil {
		return nil, err
	}
	if err := s.stats.Bump(ctx, r.Users, student, models.StatCoinsEarned, goal.Reward); err != nil {
		return nil, err
	}
	earned, err := s.engine.Evaluate(ctx, r, student)
	if err != nil {
		return nil, err
	}

	audit := &models.Transaction{
		Direction:   models.DirectionReceived,
		SourceID:    nil, // minted reward
		DestID:      student.ID,
		Amount:      goal.Reward,
		Description: fmt.Sprintf("Reward for completing goal: %s", goal.Title),
		Hash:        fmt.Sprintf("goal_%d_%d_%s", goal.ID, student.ID, uuid.NewString()),
		Status:      models.StatusApproved,
	}
	if err := r.Transactions.Create(ctx, audit); err != nil {
		return nil, err
	}
	return earned, nil
}

// invalidateBalance drops the cached balance. Must run after the store
// transaction commits, or a concurrent read can repopulate the cache with
// the pre-commit value.
func (s *GoalService) invalidateBalance(ctx context.Context, userID int32) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, fmt.Sprintf("user:%d:balance", userID)); err != nil && !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Error("failed to invalidate balance cache", "user_id", userID, "error", err)
	}
}

func (s *GoalService) publishCompletion(goal *models.Goal, studentID int32, earned []models.Achievement) {
	publishEvent(s.events, TopicCoinEvents, uuid.NewString(), map[string]interface{}{
		"event_type": "goal.completed",
		"goal_id":    goal.ID,
		"user_id":    studentID,
		"amount":     goal.Reward,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	for _, a := range earned {
		publishEvent(s.events, TopicCoinEvents, uuid.NewString(), map[string]interface{}{
			"event_type":     "achievement.granted",
			"achievement_id": a.ID,
			"user_id":        studentID,
			"rule":           string(a.Rule),
			"created_at":     time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func stampResolution(req *models.GoalRequest, status models.Status, reviewerID int32, comment string, at time.Time) {
	req.Status = status
	req.ReviewerID = &reviewerID
	req.ReviewNote = comment
	req.ReviewedAt = &at
}
