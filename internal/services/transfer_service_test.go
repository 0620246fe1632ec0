package service

import (
	"context"
	"testing"

	"github.com/campuscoin/coin-service/internal/models"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransferService(f *fixture) *TransferService {
	return NewTransferService(f.store, f.repos, NewAchievementEngine(nil), nil, nil)
}

func TestTransferService_InitiateTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid amount", func(t *testing.T) {
		f := newFixture()
		svc := newTransferService(f)
		_, err := svc.InitiateTransfer(ctx, 1, 2, 0, "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
		_, err = svc.InitiateTransfer(ctx, 1, 2, -5, "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})

	t.Run("self transfer", func(t *testing.T) {
		f := newFixture()
		svc := newTransferService(f)
		_, err := svc.InitiateTransfer(ctx, 7, 7, 10, "")
		assert.ErrorIs(t, err, pkgerrors.ErrSelfTransfer)
	})

	t.Run("insufficient student balance leaves wallets untouched", func(t *testing.T) {
		f := newFixture()
		svc := newTransferService(f)
		source := f.addUser(models.RoleStudent, 30)
		dest := f.addUser(models.RoleStudent, 0)

		_, err := svc.InitiateTransfer(ctx, source.ID, dest.ID, 50, "")
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientBalance)

		srcBalance, _ := f.users.GetBalance(ctx, source.ID)
		dstBalance, _ := f.users.GetBalance(ctx, dest.ID)
		assert.Equal(t, int32(30), srcBalance)
		assert.Equal(t, int32(0), dstBalance)
	})

	t.Run("student to student settles immediately", func(t *testing.T) {
		f := newFixture()
		svc := newTransferService(f)
		source := f.addUser(models.RoleStudent, 100)
		dest := f.addUser(models.RoleStudent, 10)

		tx, err := svc.InitiateTransfer(ctx, source.ID, dest.ID, 40, "thanks for the notes")
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, tx.Status)
		assert.NotEmpty(t, tx.Hash)

		srcBalance, _ := f.users.GetBalance(ctx, source.ID)
		dstBalance, _ := f.users.GetBalance(ctx, dest.ID)
		assert.Equal(t, int32(60), srcBalance)
		assert.Equal(t, int32(50), dstBalance)

		srcAfter, _ := f.users.GetByID(ctx, source.ID)
		dstAfter, _ := f.users.GetByID(ctx, dest.ID)
		assert.Equal(t, int32(1), srcAfter.Stats.TransfersSent)
		assert.Equal(t, int32(1), dstAfter.Stats.TransfersReceived)
		assert.Equal(t, int32(40), dstAfter.Stats.CoinsEarned)

		// The sender's first transfer unlocks its achievement in the same pass.
		assert.True(t, f.grantedRules(source.ID)[models.RuleFirstTransfer])
		assert.True(t, f.grantedRules(dest.ID)[models.RuleFirstReceived])
	})

	t.Run("instructor to student is created pending", func(t *testing.T) {
		f := newFixture()
		svc := newTransferService(f)
		source := f.addUser(models.RoleInstructor, 500)
		dest := f.addUser(models.RoleStudent, 0)

		tx, err := svc.InitiateTransfer(ctx, source.ID, dest.ID, 200, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, tx.Status)

		// Nothing moves until an admin approves.
		srcBalance, _ := f.users.GetBalance(ctx, source.ID)
		dstBalance, _ := f.users.GetBalance(ctx, dest.ID)
		assert.Equal(t, int32(500), srcBalance)
		assert.Equal(t, int32(0), dstBalance)

		srcAfter, _ := f.users.GetByID(ctx, source.ID)
		assert.Zero(t, srcAfter.Stats.TransfersSent)
	})

	t.Run("staff wallet clamps at zero instead of failing", func(t *testing.T) {
		f := newFixture()
		svc := newTransferService(f)
		source := f.addUser(models.RoleInstructor, 30)
		dest := f.addUser(models.RoleAdmin, 0)

		tx, err := svc.InitiateTransfer(ctx, source.ID, dest.ID, 100, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, tx.Status)

		srcBalance, _ := f.users.GetBalance(ctx, source.ID)
		dstBalance, _ := f.users.GetBalance(ctx, dest.ID)
		assert.Equal(t, int32(0), srcBalance)
		assert.Equal(t, int32(100), dstBalance)
	})
}

func TestTransferService_ResolvePending(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, *TransferService, *models.User, *models.User, *models.User, *models.Transaction) {
		f := newFixture()
		svc := newTransferService(f)
		source := f.addUser(models.RoleInstructor, 500)
		dest := f.addUser(models.RoleStudent, 0)
		admin := f.addUser(models.RoleAdmin, 0)
		tx, err := svc.InitiateTransfer(ctx, source.ID, dest.ID, 200, "")
		require.NoError(t, err)
		require.Equal(t, models.StatusPending, tx.Status)
		return f, svc, source, dest, admin, tx
	}

	t.Run("approve settles debit and credit together", func(t *testing.T) {
		f, svc, source, dest, admin, tx := setup(t)

		resolved, err := svc.ResolvePending(ctx, admin.ID, tx.ID, DecisionApprove)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, resolved.Status)

		srcBalance, _ := f.users.GetBalance(ctx, source.ID)
		dstBalance, _ := f.users.GetBalance(ctx, dest.ID)
		assert.Equal(t, int32(300), srcBalance)
		assert.Equal(t, int32(200), dstBalance)

		dstAfter, _ := f.users.GetByID(ctx, dest.ID)
		assert.Equal(t, int32(1), dstAfter.Stats.TransfersReceived)
		assert.Equal(t, int32(200), dstAfter.Stats.CoinsEarned)
	})

	t.Run("reject moves nothing", func(t *testing.T) {
		f, svc, source, dest, admin, tx := setup(t)

		resolved, err := svc.ResolvePending(ctx, admin.ID, tx.ID, DecisionReject)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, resolved.Status)

		srcBalance, _ := f.users.GetBalance(ctx, source.ID)
		dstBalance, _ := f.users.GetBalance(ctx, dest.ID)
		assert.Equal(t, int32(500), srcBalance)
		assert.Equal(t, int32(0), dstBalance)
	})

	t.Run("second resolution is rejected", func(t *testing.T) {
		f, svc, _, dest, admin, tx := setup(t)

		_, err := svc.ResolvePending(ctx, admin.ID, tx.ID, DecisionApprove)
		require.NoError(t, err)

		_, err = svc.ResolvePending(ctx, admin.ID, tx.ID, DecisionReject)
		assert.ErrorIs(t, err, pkgerrors.ErrAlreadyProcessed)

		// The first outcome stands.
		dstBalance, _ := f.users.GetBalance(ctx, dest.ID)
		assert.Equal(t, int32(200), dstBalance)
	})

	t.Run("unknown decision", func(t *testing.T) {
		_, svc, _, _, admin, tx := setup(t)
		_, err := svc.ResolvePending(ctx, admin.ID, tx.ID, Decision("maybe"))
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("instructor cannot resolve, even their own transfer", func(t *testing.T) {
		f, svc, source, dest, _, tx := setup(t)

		_, err := svc.ResolvePending(ctx, source.ID, tx.ID, DecisionApprove)
		assert.ErrorIs(t, err, pkgerrors.ErrForbidden)

		stored, _ := f.repos.Transactions.GetByID(ctx, tx.ID)
		assert.Equal(t, models.StatusPending, stored.Status)
		srcBalance, _ := f.users.GetBalance(ctx, source.ID)
		dstBalance, _ := f.users.GetBalance(ctx, dest.ID)
		assert.Equal(t, int32(500), srcBalance)
		assert.Equal(t, int32(0), dstBalance)
	})

	t.Run("student cannot resolve", func(t *testing.T) {
		_, svc, _, dest, _, tx := setup(t)

		_, err := svc.ResolvePending(ctx, dest.ID, tx.ID, DecisionReject)
		assert.ErrorIs(t, err, pkgerrors.ErrForbidden)
	})
}

func TestTransferService_IssueReward(t *testing.T) {
	ctx := context.Background()

	t.Run("students cannot mint", func(t *testing.T) {
		f := newFixture()
		svc := newTransferService(f)
		grantor := f.addUser(models.RoleStudent, 100)
		recipient := f.addUser(models.RoleStudent, 0)

		_, err := svc.IssueReward(ctx, grantor.ID, recipient.ID, 50, "")
		assert.ErrorIs(t, err, pkgerrors.ErrForbidden)
	})

	t.Run("minted coins never debit the grantor", func(t *testing.T) {
		f := newFixture()
		svc := newTransferService(f)
		grantor := f.addUser(models.RoleInstructor, 100)
		recipient := f.addUser(models.RoleStudent, 0)

		tx, err := svc.IssueReward(ctx, grantor.ID, recipient.ID, 250, "hackathon prize")
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, tx.Status)
		require.NotNil(t, tx.SourceID)
		assert.Equal(t, grantor.ID, *tx.SourceID)

		grantorBalance, _ := f.users.GetBalance(ctx, grantor.ID)
		recipientBalance, _ := f.users.GetBalance(ctx, recipient.ID)
		assert.Equal(t, int32(100), grantorBalance)
		assert.Equal(t, int32(250), recipientBalance)

		after, _ := f.users.GetByID(ctx, recipient.ID)
		assert.Equal(t, int32(250), after.Stats.CoinsEarned)
		assert.True(t, f.grantedRules(recipient.ID)[models.RuleCoins100])
	})
}

func TestTransferService_GetTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := newTransferService(f)
	source := f.addUser(models.RoleStudent, 100)
	dest := f.addUser(models.RoleStudent, 0)
	outsider := f.addUser(models.RoleStudent, 0)
	admin := f.addUser(models.RoleAdmin, 0)

	tx, err := svc.InitiateTransfer(ctx, source.ID, dest.ID, 10, "")
	require.NoError(t, err)

	_, err = svc.GetTransaction(ctx, tx.ID, source.ID, source.Role)
	assert.NoError(t, err)
	_, err = svc.GetTransaction(ctx, tx.ID, dest.ID, dest.Role)
	assert.NoError(t, err)
	_, err = svc.GetTransaction(ctx, tx.ID, admin.ID, admin.Role)
	assert.NoError(t, err)

	_, err = svc.GetTransaction(ctx, tx.ID, outsider.ID, outsider.Role)
	assert.ErrorIs(t, err, pkgerrors.ErrForbidden)
}
