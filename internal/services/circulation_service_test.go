package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circulation/internal/models"
)

func TestCreateLoanAssignsAvailableCopy(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 2)

	loan := env.borrow(t, member.ID, book.ID)

	assert.Equal(t, models.LoanStatusOngoing, loan.Status)
	assert.Equal(t, member.ID, loan.MemberID)
	assert.WithinDuration(t,
		time.Now().UTC().AddDate(0, 0, env.cfg.LoanPeriodDays), loan.DueDate, time.Minute)

	copy := env.getCopy(t, loan.BookCopyID)
	assert.Equal(t, models.BookCopyStatusOnLoan, copy.Status)

	// Availability is recomputed inside the borrow transaction.
	assert.Equal(t, 1, env.getBook(t, book.ID).AvailableCopies)
}

func TestCreateLoanExplicitCopy(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)

	var copy models.BookCopy
	require.NoError(t, env.db.First(&copy, "book_id = ?", book.ID).Error)

	loan, err := env.circulation.CreateLoan(member.ID, nil, &copy.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, copy.ID, loan.BookCopyID)

	// The same copy cannot be lent twice.
	other := env.createMember(t, 5)
	_, err = env.circulation.CreateLoan(other.ID, nil, &copy.ID, nil)
	assert.ErrorIs(t, err, ErrNoAvailableUnit)
}

func TestCreateLoanCustomDuration(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)

	days := 3
	loan, err := env.circulation.CreateLoan(member.ID, &book.ID, nil, &days)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 3), loan.DueDate, time.Minute)
}

func TestCreateLoanBorrowingCap(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 6)

	for i := 0; i < 5; i++ {
		env.borrow(t, member.ID, book.ID)
	}

	_, err := env.circulation.CreateLoan(member.ID, &book.ID, nil, nil)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	// The failed attempt must not touch inventory.
	assert.Equal(t, 1, env.getBook(t, book.ID).AvailableCopies)
}

func TestCreateLoanBlockedByActiveHold(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)

	_, err := env.holds.PlaceHold(member.ID, "lost library card", "librarian", nil, "")
	require.NoError(t, err)

	_, err = env.circulation.CreateLoan(member.ID, &book.ID, nil, nil)
	assert.ErrorIs(t, err, ErrIneligibleMember)
}

func TestCreateLoanNoAvailableUnit(t *testing.T) {
	env := newTestEnv(t)
	first := env.createMember(t, 5)
	second := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)

	env.borrow(t, first.ID, book.ID)

	_, err := env.circulation.CreateLoan(second.ID, &book.ID, nil, nil)
	assert.ErrorIs(t, err, ErrNoAvailableUnit)
}

func TestCreateLoanUnknownMember(t *testing.T) {
	env := newTestEnv(t)
	book := env.createBookWithCopies(t, 1)

	_, err := env.circulation.CreateLoan(uuid.New(), &book.ID, nil, nil)
	assert.ErrorIs(t, err, ErrMemberNotFound)

	// A refused borrow leaves inventory untouched.
	assert.Equal(t, 1, env.getBook(t, book.ID).AvailableCopies)
}

func TestCreateLoanUnitUnspecified(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)

	_, err := env.circulation.CreateLoan(member.ID, nil, nil, nil)
	assert.ErrorIs(t, err, ErrUnitUnspecified)
}

func TestReturnLoanOnTime(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	returned, err := env.circulation.ReturnLoan(loan.ID, member.ID.String())
	require.NoError(t, err)

	assert.Equal(t, models.LoanStatusReturned, returned.Status)
	require.NotNil(t, returned.ReturnedAt)
	assert.Equal(t, models.BookCopyStatusAvailable, env.getCopy(t, loan.BookCopyID).Status)
	assert.Equal(t, 1, env.getBook(t, book.ID).AvailableCopies)

	// On-time returns never create a fine.
	assert.EqualValues(t, 0, env.countFinesForLoan(t, loan.ID))
}

func TestReturnLoanOverdueChargesFine(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	// Due 20 hours ago: less than a full day late still counts as one day.
	env.backdateLoan(t, loan.ID, -20*time.Hour, models.LoanStatusOngoing)

	returned, err := env.circulation.ReturnLoan(loan.ID, member.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusReturned, returned.Status)

	var fine models.Fine
	require.NoError(t, env.db.First(&fine, "loan_id = ?", loan.ID).Error)
	assert.Equal(t, 1*env.cfg.FinePerDay, fine.Amount)
	assert.Equal(t, models.FineStatusUnpaid, fine.Status)
	assert.Equal(t, member.ID, fine.MemberID)
}

func TestReturnLoanOverdueMultipleDays(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	// 25 hours late rounds up to two days.
	env.backdateLoan(t, loan.ID, -25*time.Hour, models.LoanStatusOverdue)

	_, err := env.circulation.ReturnLoan(loan.ID, member.ID.String())
	require.NoError(t, err)

	var fine models.Fine
	require.NoError(t, env.db.First(&fine, "loan_id = ?", loan.ID).Error)
	assert.Equal(t, 2*env.cfg.FinePerDay, fine.Amount)
}

func TestReturnLoanTwice(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	env.backdateLoan(t, loan.ID, -48*time.Hour, models.LoanStatusOverdue)

	_, err := env.circulation.ReturnLoan(loan.ID, member.ID.String())
	require.NoError(t, err)

	_, err = env.circulation.ReturnLoan(loan.ID, member.ID.String())
	assert.ErrorIs(t, err, ErrAlreadyReturned)

	// The retry must not double-charge or disturb the copy.
	assert.EqualValues(t, 1, env.countFinesForLoan(t, loan.ID))
	assert.Equal(t, models.BookCopyStatusAvailable, env.getCopy(t, loan.BookCopyID).Status)
}

func TestRenewLoanExtendsDueDate(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	renewed, err := env.circulation.RenewLoan(loan.ID, member.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, renewed.RenewalCount)
	assert.WithinDuration(t,
		loan.DueDate.AddDate(0, 0, env.cfg.LoanPeriodDays), renewed.DueDate, time.Second)

	// No cap on renewals.
	again, err := env.circulation.RenewLoan(loan.ID, member.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, again.RenewalCount)
}

func TestRenewLoanRefusedWhenOverdue(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	env.backdateLoan(t, loan.ID, -time.Hour, models.LoanStatusOverdue)

	_, err := env.circulation.RenewLoan(loan.ID, member.ID.String())
	assert.ErrorIs(t, err, ErrLoanNotOngoing)
}

func TestRenewLoanRefusedWhenTitleReserved(t *testing.T) {
	env := newTestEnv(t)
	member := env.createMember(t, 5)
	other := env.createMember(t, 5)
	book := env.createBookWithCopies(t, 1)
	loan := env.borrow(t, member.ID, book.ID)

	_, err := env.catalog.ReserveBook(book.ID, other.ID)
	require.NoError(t, err)

	_, err = env.circulation.RenewLoan(loan.ID, member.ID.String())
	assert.ErrorIs(t, err, ErrTitleReserved)
}

func TestUnitExclusivity(t *testing.T) {
	env := newTestEnv(t)
	book := env.createBookWithCopies(t, 3)

	for i := 0; i < 3; i++ {
		m := env.createMember(t, 5)
		env.borrow(t, m.ID, book.ID)
	}

	// Every copy carries at most one open loan.
	var rows []struct {
		BookCopyID string
		N          int64
	}
	require.NoError(t, env.db.Model(&models.Loan{}).
		Select("book_copy_id, COUNT(*) as n").
		Where("status IN ?", []models.LoanStatus{models.LoanStatusOngoing, models.LoanStatusOverdue}).
		Group("book_copy_id").
		Scan(&rows).Error)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.EqualValues(t, 1, row.N)
	}
	assert.Equal(t, 0, env.getBook(t, book.ID).AvailableCopies)
}

func TestDaysOverdue(t *testing.T) {
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		returned time.Time
		want     int
	}{
		{"on time", due.Add(-time.Hour), 0},
		{"exactly due", due, 0},
		{"hours late", due.Add(5 * time.Hour), 1},
		{"one day late", due.Add(24 * time.Hour), 1},
		{"just over a day", due.Add(25 * time.Hour), 2},
		{"a week late", due.Add(7 * 24 * time.Hour), 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, daysOverdue(due, tt.returned))
		})
	}
}
