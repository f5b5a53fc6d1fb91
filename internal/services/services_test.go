package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"circulation/internal/config"
	"circulation/internal/dispatch"
	"circulation/internal/models"
	"circulation/internal/repositories"
)

// testEnv wires the full engine stack onto an in-memory sqlite database, the
// same way cmd/main.go wires it onto Postgres.
type testEnv struct {
	db          *gorm.DB
	cfg         config.Config
	circulation CirculationService
	fines       FineService
	holds       HoldService
	catalog     CatalogService
	members     MemberService
	escalation  EscalationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	cfg := config.Default()

	memberRepo := repositories.NewMemberRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	bookCopyRepo := repositories.NewBookCopyRepository(db)
	loanRepo := repositories.NewLoanRepository(db)
	fineRepo := repositories.NewFineRepository(db)
	holdRepo := repositories.NewHoldRepository(db)
	reservationRepo := repositories.NewReservationRepository(db)
	notificationRepo := repositories.NewNotificationRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	dispatcher := dispatch.NewDispatcher(notificationRepo, auditRepo)

	holds := NewHoldService(db, cfg, memberRepo, holdRepo, fineRepo, dispatcher)
	fines := NewFineService(db, cfg, memberRepo, fineRepo, holds, dispatcher)
	circulation := NewCirculationService(db, cfg, memberRepo, bookRepo, bookCopyRepo,
		loanRepo, fineRepo, holdRepo, reservationRepo, dispatcher)
	catalog := NewCatalogService(db, memberRepo, bookRepo, bookCopyRepo, reservationRepo, dispatcher)
	members := NewMemberService(cfg, memberRepo, loanRepo, holdRepo, fineRepo, notificationRepo, dispatcher)
	escalation := NewEscalationService(db, cfg, loanRepo, fineRepo, holdRepo, notificationRepo, dispatcher)

	return &testEnv{
		db:          db,
		cfg:         cfg,
		circulation: circulation,
		fines:       fines,
		holds:       holds,
		catalog:     catalog,
		members:     members,
		escalation:  escalation,
	}
}

func (e *testEnv) createMember(t *testing.T, limit int) *models.Member {
	t.Helper()
	member := &models.Member{
		Name:             "Test Member",
		Role:             models.MemberRoleMember,
		MaxBorrowedBooks: limit,
	}
	require.NoError(t, e.db.Create(member).Error)
	return member
}

func (e *testEnv) createBookWithCopies(t *testing.T, copies int) *models.Book {
	t.Helper()
	book, err := e.catalog.CreateBook("Test Title", "Test Author", copies, "librarian")
	require.NoError(t, err)
	return book
}

func (e *testEnv) borrow(t *testing.T, memberID, bookID uuid.UUID) *models.Loan {
	t.Helper()
	loan, err := e.circulation.CreateLoan(memberID, &bookID, nil, nil)
	require.NoError(t, err)
	return loan
}

// backdateLoan rewrites a loan's due date relative to now and optionally its
// status, simulating the passage of time.
func (e *testEnv) backdateLoan(t *testing.T, loanID uuid.UUID, dueOffset time.Duration, status models.LoanStatus) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.Loan{}).
		Where("id = ?", loanID).
		Updates(map[string]interface{}{
			"due_date": time.Now().UTC().Add(dueOffset),
			"status":   status,
		}).Error)
}

func (e *testEnv) getLoan(t *testing.T, loanID uuid.UUID) *models.Loan {
	t.Helper()
	var loan models.Loan
	require.NoError(t, e.db.First(&loan, "id = ?", loanID).Error)
	return &loan
}

func (e *testEnv) getBook(t *testing.T, bookID uuid.UUID) *models.Book {
	t.Helper()
	var book models.Book
	require.NoError(t, e.db.First(&book, "id = ?", bookID).Error)
	return &book
}

func (e *testEnv) getCopy(t *testing.T, copyID uuid.UUID) *models.BookCopy {
	t.Helper()
	var copy models.BookCopy
	require.NoError(t, e.db.First(&copy, "id = ?", copyID).Error)
	return &copy
}

func (e *testEnv) countFinesForLoan(t *testing.T, loanID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Fine{}).Where("loan_id = ?", loanID).Count(&n).Error)
	return n
}

func (e *testEnv) countActiveHolds(t *testing.T, memberID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Hold{}).
		Where("member_id = ? AND status = ?", memberID, models.HoldStatusActive).
		Count(&n).Error)
	return n
}

func (e *testEnv) countNotifications(t *testing.T, kind models.NotificationKind, loanID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Notification{}).
		Where("kind = ? AND loan_id = ?", kind, loanID).
		Count(&n).Error)
	return n
}
