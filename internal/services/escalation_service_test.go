package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circulation/internal/models"
	"circulation/internal/repositories"
)

func TestSendDueRemindersDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	// Due in two days: inside the reminder window.
	env.backdateLoan(t, loan.ID, 48*time.Hour, models.LoanStatusOngoing)

	require.NoError(t, env.escalation.SendDueReminders())
	require.NoError(t, env.escalation.SendDueReminders())

	assert.EqualValues(t, 1, env.countNotifications(t, models.NotificationKindDueReminder, loan.ID))
}

func TestSendDueRemindersSkipsDistantLoans(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)
	// Default loan period puts the due date outside the reminder window.

	require.NoError(t, env.escalation.SendDueReminders())
	assert.EqualValues(t, 0, env.countNotifications(t, models.NotificationKindDueReminder, loan.ID))
}

func TestSendOverdueWarningsFlagsLoans(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	env.backdateLoan(t, loan.ID, -2*time.Hour, models.LoanStatusOngoing)

	require.NoError(t, env.escalation.SendOverdueWarnings())

	assert.Equal(t, models.LoanStatusOverdue, env.getLoan(t, loan.ID).Status)
	assert.EqualValues(t, 1, env.countNotifications(t, models.NotificationKindOverdueWarning, loan.ID))

	// A second run finds no ONGOING candidates and sends nothing new.
	require.NoError(t, env.escalation.SendOverdueWarnings())
	assert.EqualValues(t, 1, env.countNotifications(t, models.NotificationKindOverdueWarning, loan.ID))

	var digests int64
	require.NoError(t, env.db.Model(&models.Notification{}).
		Where("kind = ?", models.NotificationKindStaffDigest).
		Count(&digests).Error)
	assert.EqualValues(t, 1, digests)
}

// The overdue flip only applies while the loan is still ONGOING: a loan
// returned between candidate listing and the update must not be rewritten.
func TestMarkOverdueSkipsReturnedLoan(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	env.backdateLoan(t, loan.ID, -2*time.Hour, models.LoanStatusOngoing)
	_, err := env.circulation.ReturnLoan(loan.ID, member.ID.String())
	require.NoError(t, err)

	loanRepo := repositories.NewLoanRepository(env.db)
	flipped, err := loanRepo.MarkOverdue(nil, loan.ID)
	require.NoError(t, err)
	assert.False(t, flipped)

	reloaded := env.getLoan(t, loan.ID)
	assert.Equal(t, models.LoanStatusReturned, reloaded.Status)
	assert.NotNil(t, reloaded.ReturnedAt)

	// The returned loan no longer consumes the member's borrowing cap.
	summary, err := env.members.GetMemberSummary(member.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, summary.OpenLoans)
}

func TestAutoPlaceOverdueHoldsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	// Overdue well past the grace period.
	env.backdateLoan(t, loan.ID, -10*24*time.Hour, models.LoanStatusOverdue)

	require.NoError(t, env.escalation.AutoPlaceOverdueHolds())
	require.NoError(t, env.escalation.AutoPlaceOverdueHolds())

	var holds []models.Hold
	require.NoError(t, env.db.Where("loan_id = ?", loan.ID).Find(&holds).Error)
	require.Len(t, holds, 1)
	assert.Equal(t, models.HoldStatusActive, holds[0].Status)
	assert.Equal(t, SchedulerActor, holds[0].PlacedBy)
}

func TestAutoPlaceOverdueHoldsRespectsGracePeriod(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	// Overdue for three days: inside the seven-day grace period.
	env.backdateLoan(t, loan.ID, -3*24*time.Hour, models.LoanStatusOverdue)

	require.NoError(t, env.escalation.AutoPlaceOverdueHolds())
	assert.EqualValues(t, 0, env.countActiveHolds(t, member.ID))
	assert.EqualValues(t, 0, env.countFinesForLoan(t, loan.ID))
}

func TestAutoChargeOverdueFinesIdempotent(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	// Due 68 hours ago rounds up to three days.
	env.backdateLoan(t, loan.ID, -68*time.Hour, models.LoanStatusOverdue)

	require.NoError(t, env.escalation.AutoChargeOverdueFines())
	require.NoError(t, env.escalation.AutoChargeOverdueFines())

	var fines []models.Fine
	require.NoError(t, env.db.Where("loan_id = ?", loan.ID).Find(&fines).Error)
	require.Len(t, fines, 1)
	assert.Equal(t, 3*env.cfg.FinePerDay, fines[0].Amount)
	assert.Equal(t, models.FineStatusUnpaid, fines[0].Status)
}

// Once a fine is settled the loan is again a candidate: only unresolved fines
// suppress the auto-charge.
func TestAutoChargeOverdueFinesAfterResolution(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	env.backdateLoan(t, loan.ID, -24*time.Hour, models.LoanStatusOverdue)

	require.NoError(t, env.escalation.AutoChargeOverdueFines())

	var fine models.Fine
	require.NoError(t, env.db.First(&fine, "loan_id = ?", loan.ID).Error)
	_, err := env.fines.PayFine(fine.ID, fine.Amount, member.ID.String())
	require.NoError(t, err)

	require.NoError(t, env.escalation.AutoChargeOverdueFines())
	assert.EqualValues(t, 2, env.countFinesForLoan(t, loan.ID))
}

// The full pipeline: warning flags the loan, then holds and fines accrue, and
// settling the fines lifts the holds again.
func TestEscalationPipeline(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 3)

	for i := 0; i < 3; i++ {
		loan := env.borrow(t, member.ID, book.ID)
		env.backdateLoan(t, loan.ID, -10*24*time.Hour, models.LoanStatusOngoing)
	}

	require.NoError(t, env.escalation.SendOverdueWarnings())
	require.NoError(t, env.escalation.AutoPlaceOverdueHolds())
	require.NoError(t, env.escalation.AutoChargeOverdueFines())

	assert.EqualValues(t, 3, env.countActiveHolds(t, member.ID))

	var fines []models.Fine
	require.NoError(t, env.db.Where("member_id = ?", member.ID).Find(&fines).Error)
	require.Len(t, fines, 3)

	for _, fine := range fines {
		_, err := env.fines.PayFine(fine.ID, fine.Amount, member.ID.String())
		require.NoError(t, err)
	}

	// Settling the last fine triggered the threshold-gated cleanup.
	assert.EqualValues(t, 0, env.countActiveHolds(t, member.ID))
}
