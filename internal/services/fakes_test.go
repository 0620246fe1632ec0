package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/campuscoin/coin-service/internal/infrastructure/redis"
	"github.com/campuscoin/coin-service/internal/models"
	repo "github.com/campuscoin/coin-service/internal/repository"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
)

// In-memory repository fakes. They mirror the guarded-SQL semantics of the
// Postgres layer (conditional debits, idempotent grants, status-guarded
// resolutions) so service tests exercise the same contracts.

type memStore struct {
	repos repo.Repos
	inTx  bool
}

func (s *memStore) Within(_ context.Context, fn func(r repo.Repos) error) error {
	s.inTx = true
	defer func() { s.inTx = false }()
	return fn(s.repos)
}

// spyCache records cache deletions and whether each one happened while a
// store transaction was still open.
type spyCache struct {
	store       *memStore
	deleted     []string
	deletedInTx bool
}

func (c *spyCache) Get(_ context.Context, _ string) (string, error) {
	return "", redis.ErrKeyNotFound
}

func (c *spyCache) Set(_ context.Context, _ string, _ interface{}, _ time.Duration) error {
	return nil
}

func (c *spyCache) SetNX(_ context.Context, _ string, _ interface{}, _ time.Duration) (bool, error) {
	return true, nil
}

func (c *spyCache) Del(_ context.Context, key string) error {
	c.deleted = append(c.deleted, key)
	if c.store.inTx {
		c.deletedInTx = true
	}
	return nil
}

func (c *spyCache) Close() error { return nil }

type memUserRepo struct {
	mu     sync.Mutex
	seq    int32
	users  map[int32]*models.User
	emails map[string]int32
	grants map[int32][]models.AchievementGrant
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		users:  make(map[int32]*models.User),
		emails: make(map[string]int32),
		grants: make(map[int32][]models.AchievementGrant),
	}
}

func (r *memUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.emails[user.Email]; ok {
		return pkgerrors.ErrEmailExists
	}
	r.seq++
	user.ID = r.seq
	user.CreatedAt = time.Now().UTC()
	stored := *user
	r.users[user.ID] = &stored
	r.emails[user.Email] = user.ID
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id int32) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	id, ok := r.emails[email]
	r.mu.Unlock()
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	return r.GetByID(context.Background(), id)
}

func (r *memUserRepo) GetBalance(_ context.Context, userID int32) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return 0, pkgerrors.ErrUserNotFound
	}
	return u.Balance, nil
}

func (r *memUserRepo) AddCoins(_ context.Context, userID, amount int32) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return 0, pkgerrors.ErrUserNotFound
	}
	u.Balance += amount
	return u.Balance, nil
}

func (r *memUserRepo) SpendCoins(_ context.Context, userID, amount int32) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return 0, pkgerrors.ErrUserNotFound
	}
	if u.Balance < amount {
		return 0, pkgerrors.ErrInsufficientBalance
	}
	u.Balance -= amount
	return u.Balance, nil
}

func (r *memUserRepo) SpendCoinsClamped(_ context.Context, userID, amount int32) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return 0, pkgerrors.ErrUserNotFound
	}
	u.Balance -= amount
	if u.Balance < 0 {
		u.Balance = 0
	}
	return u.Balance, nil
}

func (r *memUserRepo) BumpCounter(_ context.Context, userID int32, kind models.StatKind, delta int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	switch kind {
	case models.StatTransfersSent:
		u.Stats.TransfersSent += delta
	case models.StatTransfersReceived:
		u.Stats.TransfersReceived += delta
	case models.StatGoalsCompleted:
		u.Stats.GoalsCompleted += delta
	case models.StatCoinsEarned:
		u.Stats.CoinsEarned += delta
	default:
		return fmt.Errorf("unsupported stat kind %q", kind)
	}
	return nil
}

func (r *memUserRepo) SetLoginStreak(_ context.Context, userID, days int32, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.Stats.LoginStreak = days
	u.Stats.LastStreakLogin = at
	return nil
}

func (r *memUserRepo) SetProfilePhoto(_ context.Context, userID int32, photoRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.PhotoRef = photoRef
	u.Stats.HasProfilePhoto = true
	return nil
}

func (r *memUserRepo) GrantAchievement(_ context.Context, userID, achievementID int32, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.grants[userID] {
		if g.AchievementID == achievementID {
			return false, nil
		}
	}
	r.grants[userID] = append(r.grants[userID], models.AchievementGrant{AchievementID: achievementID, GrantedAt: at})
	return true, nil
}

func (r *memUserRepo) ListGrants(_ context.Context, userID int32) ([]models.AchievementGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AchievementGrant, len(r.grants[userID]))
	copy(out, r.grants[userID])
	return out, nil
}

func (r *memUserRepo) SetApproval(_ context.Context, userID int32, status models.ApprovalStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.Approval = status
	return nil
}

func (r *memUserRepo) SetActive(_ context.Context, userID int32, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.Active = active
	return nil
}

func (r *memUserRepo) UpdateLastLogin(_ context.Context, userID int32, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.LastLogin = at
	return nil
}

type memTransactionRepo struct {
	mu  sync.Mutex
	seq int32
	txs map[int32]*models.Transaction
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{txs: make(map[int32]*models.Transaction)}
}

func (r *memTransactionRepo) Create(_ context.Context, tx *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	tx.ID = r.seq
	tx.CreatedAt = time.Now().UTC()
	stored := *tx
	r.txs[tx.ID] = &stored
	return nil
}

func (r *memTransactionRepo) GetByID(_ context.Context, id int32) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (r *memTransactionRepo) History(_ context.Context, userID int32, filter repo.TransactionFilter) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Transaction
	for _, tx := range r.txs {
		participant := tx.DestID == userID || (tx.SourceID != nil && *tx.SourceID == userID)
		if !participant {
			continue
		}
		if filter.Direction != "" && tx.Direction != filter.Direction {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memTransactionRepo) ListByStatus(_ context.Context, status models.Status) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Transaction
	for _, tx := range r.txs {
		if status == "" || tx.Status == status {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memTransactionRepo) MarkResolved(_ context.Context, id int32, to models.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return pkgerrors.ErrTransactionNotFound
	}
	if tx.Status != models.StatusPending {
		return pkgerrors.ErrAlreadyProcessed
	}
	tx.Status = to
	return nil
}

type memGoalRepo struct {
	mu          sync.Mutex
	seq         int32
	goals       map[int32]*models.Goal
	completions map[int32]map[int32]bool
}

func newMemGoalRepo() *memGoalRepo {
	return &memGoalRepo{
		goals:       make(map[int32]*models.Goal),
		completions: make(map[int32]map[int32]bool),
	}
}

func (r *memGoalRepo) Create(_ context.Context, goal *models.Goal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	goal.ID = r.seq
	goal.CreatedAt = time.Now().UTC()
	stored := *goal
	r.goals[goal.ID] = &stored
	return nil
}

func (r *memGoalRepo) Update(_ context.Context, goal *models.Goal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.goals[goal.ID]; !ok {
		return pkgerrors.ErrGoalNotFound
	}
	stored := *goal
	r.goals[goal.ID] = &stored
	return nil
}

func (r *memGoalRepo) Delete(_ context.Context, id int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.goals[id]; !ok {
		return pkgerrors.ErrGoalNotFound
	}
	delete(r.goals, id)
	return nil
}

func (r *memGoalRepo) GetByID(_ context.Context, id int32) (*models.Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.goals[id]
	if !ok {
		return nil, pkgerrors.ErrGoalNotFound
	}
	copied := *g
	return &copied, nil
}

func (r *memGoalRepo) ListActive(_ context.Context, now time.Time, category string) ([]models.Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Goal
	for _, g := range r.goals {
		if !g.AvailableAt(now) {
			continue
		}
		if category != "" && g.Category != category {
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memGoalRepo) ListAll(_ context.Context, category string) ([]models.Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Goal
	for _, g := range r.goals {
		if category != "" && g.Category != category {
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memGoalRepo) HasCompleted(_ context.Context, goalID, userID int32) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completions[goalID][userID], nil
}

func (r *memGoalRepo) CompletionCount(_ context.Context, goalID int32) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int32(len(r.completions[goalID])), nil
}

func (r *memGoalRepo) AddCompletion(_ context.Context, goalID, userID int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completions[goalID] == nil {
		r.completions[goalID] = make(map[int32]bool)
	}
	if r.completions[goalID][userID] {
		return pkgerrors.ErrAlreadyCompleted
	}
	r.completions[goalID][userID] = true
	return nil
}

func (r *memGoalRepo) ListCompletedBy(_ context.Context, userID int32) ([]models.Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Goal
	for goalID, users := range r.completions {
		if !users[userID] {
			continue
		}
		if g, ok := r.goals[goalID]; ok {
			copied := *g
			copied.Completed = true
			out = append(out, copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memGoalRequestRepo struct {
	mu   sync.Mutex
	seq  int32
	reqs map[int32]*models.GoalRequest
}

func newMemGoalRequestRepo() *memGoalRequestRepo {
	return &memGoalRequestRepo{reqs: make(map[int32]*models.GoalRequest)}
}

func (r *memGoalRequestRepo) Create(_ context.Context, req *models.GoalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	req.ID = r.seq
	req.CreatedAt = time.Now().UTC()
	stored := *req
	r.reqs[req.ID] = &stored
	return nil
}

func (r *memGoalRequestRepo) GetByID(_ context.Context, id int32) (*models.GoalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[id]
	if !ok {
		return nil, pkgerrors.ErrRequestNotFound
	}
	copied := *req
	return &copied, nil
}

func (r *memGoalRequestRepo) HasPending(_ context.Context, goalID, studentID int32) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.reqs {
		if req.StudentID == studentID && req.Status == models.StatusPending &&
			req.GoalID != nil && *req.GoalID == goalID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memGoalRequestRepo) ListByStatus(_ context.Context, status models.Status) ([]models.GoalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.GoalRequest
	for _, req := range r.reqs {
		if status == "" || req.Status == status {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memGoalRequestRepo) Resolve(_ context.Context, id int32, to models.Status, reviewerID int32, note string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[id]
	if !ok {
		return pkgerrors.ErrRequestNotFound
	}
	if req.Status != models.StatusPending {
		return pkgerrors.ErrAlreadyProcessed
	}
	req.Status = to
	req.ReviewerID = &reviewerID
	req.ReviewNote = note
	req.ReviewedAt = &at
	return nil
}

func (r *memGoalRequestRepo) DetachApproved(_ context.Context, goalID int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.reqs {
		if req.GoalID != nil && *req.GoalID == goalID && req.Status == models.StatusApproved {
			req.GoalID = nil
		}
	}
	return nil
}

type memAchievementRepo struct {
	mu      sync.Mutex
	catalog []models.Achievement
}

func newMemAchievementRepo() *memAchievementRepo {
	catalog := models.DefaultAchievements()
	for i := range catalog {
		catalog[i].ID = int32(i + 1)
	}
	return &memAchievementRepo{catalog: catalog}
}

func (r *memAchievementRepo) List(_ context.Context) ([]models.Achievement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Achievement, len(r.catalog))
	copy(out, r.catalog)
	return out, nil
}

func (r *memAchievementRepo) GetByID(_ context.Context, id int32) (*models.Achievement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.catalog {
		if a.ID == id {
			copied := a
			return &copied, nil
		}
	}
	return nil, pkgerrors.ErrAchievementNotFound
}

func (r *memAchievementRepo) Seed(_ context.Context, catalog []models.Achievement) error {
	return nil
}

// fixture bundles one fully wired in-memory backend.
type fixture struct {
	store *memStore
	repos repo.Repos
	users *memUserRepo
}

func newFixture() *fixture {
	repos := repo.Repos{
		Users:        newMemUserRepo(),
		Transactions: newMemTransactionRepo(),
		Goals:        newMemGoalRepo(),
		Requests:     newMemGoalRequestRepo(),
		Achievements: newMemAchievementRepo(),
	}
	return &fixture{
		store: &memStore{repos: repos},
		repos: repos,
		users: repos.Users.(*memUserRepo),
	}
}

func (f *fixture) addUser(role models.Role, balance int32) *models.User {
	user := &models.User{
		Name:         fmt.Sprintf("%s-%d", role, f.users.seq+1),
		Email:        fmt.Sprintf("user%d@campus.edu", f.users.seq+1),
		PasswordHash: "hash",
		Role:         role,
		Approval:     models.ApprovalApproved,
		Balance:      balance,
		Active:       true,
	}
	if err := f.users.Create(context.Background(), user); err != nil {
		panic(err)
	}
	return user
}

func (f *fixture) grantedRules(userID int32) map[models.RuleType]bool {
	grants, _ := f.users.ListGrants(context.Background(), userID)
	byID := make(map[int32]models.RuleType)
	catalog, _ := f.repos.Achievements.List(context.Background())
	for _, a := range catalog {
		byID[a.ID] = a.Rule
	}
	out := make(map[models.RuleType]bool, len(grants))
	for _, g := range grants {
		out[byID[g.AchievementID]] = true
	}
	return out
}
