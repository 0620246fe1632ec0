package service

import (
	"context"
	"testing"
	"time"

	"github.com/campuscoin/coin-service/internal/models"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAuthService(f *fixture) *AuthService {
	return NewAuthService(f.store, f.repos, NewAchievementEngine(nil), nil, nil, "secret")
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("student is active immediately", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)

		user, err := svc.Register(ctx, "Ana", "ana@campus.edu", "hunter22", models.RoleStudent)
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalApproved, user.Approval)
		assert.True(t, user.Active)
		assert.NotEqual(t, "hunter22", user.PasswordHash)
	})

	t.Run("instructor waits for admin approval", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)

		user, err := svc.Register(ctx, "Prof", "prof@campus.edu", "hunter22", models.RoleInstructor)
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalPending, user.Approval)
	})

	t.Run("duplicate email", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)

		_, err := svc.Register(ctx, "Ana", "ana@campus.edu", "hunter22", models.RoleStudent)
		require.NoError(t, err)
		_, err = svc.Register(ctx, "Ana Clone", "ana@campus.edu", "hunter22", models.RoleStudent)
		assert.ErrorIs(t, err, pkgerrors.ErrEmailExists)
	})

	t.Run("short password", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)
		_, err := svc.Register(ctx, "Ana", "ana@campus.edu", "abc", models.RoleStudent)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("admin cannot self-register", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)
		_, err := svc.Register(ctx, "Eve", "eve@campus.edu", "hunter22", models.RoleAdmin)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()

	register := func(t *testing.T, f *fixture, svc *AuthService, role models.Role) *models.User {
		t.Helper()
		user, err := svc.Register(ctx, "User", "user@campus.edu", "hunter22", role)
		require.NoError(t, err)
		return user
	}

	t.Run("success starts a streak of one", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)
		user := register(t, f, svc, models.RoleStudent)

		token, logged, err := svc.Login(ctx, "user@campus.edu", "hunter22")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.Equal(t, user.ID, logged.ID)

		after, _ := f.users.GetByID(ctx, user.ID)
		assert.Equal(t, int32(1), after.Stats.LoginStreak)
		assert.False(t, after.Stats.LastStreakLogin.IsZero())
		assert.False(t, after.LastLogin.IsZero())
	})

	t.Run("same-day relogin keeps the streak", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)
		user := register(t, f, svc, models.RoleStudent)

		_, _, err := svc.Login(ctx, "user@campus.edu", "hunter22")
		require.NoError(t, err)
		_, _, err = svc.Login(ctx, "user@campus.edu", "hunter22")
		require.NoError(t, err)

		after, _ := f.users.GetByID(ctx, user.ID)
		assert.Equal(t, int32(1), after.Stats.LoginStreak)
	})

	t.Run("next-day login extends the streak", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)
		user := register(t, f, svc, models.RoleStudent)

		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		require.NoError(t, f.users.SetLoginStreak(ctx, user.ID, 6, yesterday))

		_, _, err := svc.Login(ctx, "user@campus.edu", "hunter22")
		require.NoError(t, err)

		after, _ := f.users.GetByID(ctx, user.ID)
		assert.Equal(t, int32(7), after.Stats.LoginStreak)
		assert.True(t, f.grantedRules(user.ID)[models.RuleStreak7])
	})

	t.Run("missed day resets to one", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)
		user := register(t, f, svc, models.RoleStudent)

		threeDaysAgo := time.Now().UTC().AddDate(0, 0, -3)
		require.NoError(t, f.users.SetLoginStreak(ctx, user.ID, 12, threeDaysAgo))

		_, _, err := svc.Login(ctx, "user@campus.edu", "hunter22")
		require.NoError(t, err)

		after, _ := f.users.GetByID(ctx, user.ID)
		assert.Equal(t, int32(1), after.Stats.LoginStreak)
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)
		register(t, f, svc, models.RoleStudent)

		_, _, err := svc.Login(ctx, "user@campus.edu", "wrong")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)
		_, _, err := svc.Login(ctx, "ghost@campus.edu", "hunter22")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})

	t.Run("deactivated account", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)
		user := register(t, f, svc, models.RoleStudent)
		require.NoError(t, f.users.SetActive(ctx, user.ID, false))

		_, _, err := svc.Login(ctx, "user@campus.edu", "hunter22")
		assert.ErrorIs(t, err, pkgerrors.ErrAccountInactive)
	})

	t.Run("unapproved instructor", func(t *testing.T) {
		f := newFixture()
		svc := newAuthService(f)
		user := register(t, f, svc, models.RoleInstructor)

		_, _, err := svc.Login(ctx, "user@campus.edu", "hunter22")
		assert.ErrorIs(t, err, pkgerrors.ErrApprovalPending)

		require.NoError(t, f.users.SetApproval(ctx, user.ID, models.ApprovalRejected))
		_, _, err = svc.Login(ctx, "user@campus.edu", "hunter22")
		assert.ErrorIs(t, err, pkgerrors.ErrApprovalRejected)

		require.NoError(t, f.users.SetApproval(ctx, user.ID, models.ApprovalApproved))
		_, _, err = svc.Login(ctx, "user@campus.edu", "hunter22")
		assert.NoError(t, err)
	})
}

func TestAuthService_PasswordHashing(t *testing.T) {
	f := newFixture()
	svc := newAuthService(f)

	user, err := svc.Register(context.Background(), "Ana", "ana@campus.edu", "hunter22", models.RoleStudent)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("hunter22")))
}
