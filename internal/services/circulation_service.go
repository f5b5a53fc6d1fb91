package services

import (
	"errors"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"circulation/internal/config"
	"circulation/internal/dispatch"
	"circulation/internal/models"
	"circulation/internal/repositories"
)

// CirculationService is the loan state machine: borrow, return, renew.
type CirculationService interface {
	// CreateLoan borrows a copy for the member. Exactly one of bookID and
	// copyID must be set: with a bookID the first available copy is
	// selected, with a copyID that specific copy is required. durationDays
	// overrides the configured loan period when non-nil.
	CreateLoan(memberID uuid.UUID, bookID, copyID *uuid.UUID, durationDays *int) (*models.Loan, error)

	ReturnLoan(loanID uuid.UUID, actor string) (*models.Loan, error)
	RenewLoan(loanID uuid.UUID, actor string) (*models.Loan, error)

	ListMemberLoans(memberID uuid.UUID) ([]models.Loan, error)
}

type circulationService struct {
	db              *gorm.DB
	cfg             config.Config
	memberRepo      repositories.MemberRepository
	bookRepo        repositories.BookRepository
	bookCopyRepo    repositories.BookCopyRepository
	loanRepo        repositories.LoanRepository
	fineRepo        repositories.FineRepository
	holdRepo        repositories.HoldRepository
	reservationRepo repositories.ReservationRepository
	dispatcher      dispatch.Dispatcher
}

func NewCirculationService(
	db *gorm.DB,
	cfg config.Config,
	memberRepo repositories.MemberRepository,
	bookRepo repositories.BookRepository,
	bookCopyRepo repositories.BookCopyRepository,
	loanRepo repositories.LoanRepository,
	fineRepo repositories.FineRepository,
	holdRepo repositories.HoldRepository,
	reservationRepo repositories.ReservationRepository,
	dispatcher dispatch.Dispatcher,
) CirculationService {
	return &circulationService{
		db:              db,
		cfg:             cfg,
		memberRepo:      memberRepo,
		bookRepo:        bookRepo,
		bookCopyRepo:    bookCopyRepo,
		loanRepo:        loanRepo,
		fineRepo:        fineRepo,
		holdRepo:        holdRepo,
		reservationRepo: reservationRepo,
		dispatcher:      dispatcher,
	}
}

// CreateLoan runs eligibility checks, unit selection and the loan insert in
// one transaction so two concurrent borrow attempts cannot double-assign the
// same copy or push a member over their cap.
func (s *circulationService) CreateLoan(memberID uuid.UUID, bookID, copyID *uuid.UUID, durationDays *int) (*models.Loan, error) {
	if bookID == nil && copyID == nil {
		return nil, ErrUnitUnspecified
	}

	var created *models.Loan

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// The member row is locked so the hold and cap counts below cannot
		// be raced by a concurrent borrow for the same member.
		member, err := s.memberRepo.GetByIDForUpdate(tx, memberID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}

		activeHolds, err := s.holdRepo.CountActiveByMember(tx, memberID)
		if err != nil {
			return err
		}
		if activeHolds > 0 {
			log.Printf("[WARN] CreateLoan: member %s blocked by %d active hold(s)", memberID, activeHolds)
			return ErrIneligibleMember
		}

		openLoans, err := s.loanRepo.CountOpenByMember(tx, memberID)
		if err != nil {
			return err
		}
		if openLoans >= int64(member.MaxBorrowedBooks) {
			log.Printf("[WARN] CreateLoan: member %s at borrowing cap (%d/%d)", memberID, openLoans, member.MaxBorrowedBooks)
			return ErrLimitExceeded
		}

		copy, err := s.selectCopy(tx, bookID, copyID)
		if err != nil {
			return err
		}

		if err := s.bookCopyRepo.UpdateStatus(tx, copy.ID, models.BookCopyStatusOnLoan); err != nil {
			log.Printf("[ERROR] CreateLoan: failed to mark copy %s ON_LOAN: %v", copy.ID, err)
			return err
		}
		if err := s.bookRepo.RecountAvailability(tx, copy.BookID); err != nil {
			return err
		}

		days := s.cfg.LoanPeriodDays
		if durationDays != nil && *durationDays > 0 {
			days = *durationDays
		}
		now := time.Now().UTC()

		loan := &models.Loan{
			MemberID:   memberID,
			BookCopyID: copy.ID,
			BorrowedAt: now,
			DueDate:    now.AddDate(0, 0, days),
			Status:     models.LoanStatusOngoing,
		}
		if err := s.loanRepo.Create(tx, loan); err != nil {
			log.Printf("[ERROR] CreateLoan: failed to create loan record: %v", err)
			return err
		}
		created = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] CreateLoan: loan %s created for member %s (copy=%s, due=%s)",
		created.ID, memberID, created.BookCopyID, created.DueDate.Format("2006-01-02"))

	loanID := created.ID
	s.dispatcher.Notify(memberID, &loanID, models.NotificationKindLoanCreated,
		"Loan confirmed",
		"Your loan is confirmed and due on "+created.DueDate.Format("2006-01-02")+".",
		models.NotificationPriorityNormal,
		map[string]interface{}{"loan_id": loanID.String()})
	s.dispatcher.NotifyStaff(models.NotificationKindLoanCreated,
		"New loan",
		"A new loan was created.",
		models.NotificationPriorityLow,
		map[string]interface{}{"loan_id": loanID.String(), "member_id": memberID.String()})
	s.dispatcher.Audit(memberID.String(), "loan_created", map[string]interface{}{
		"loan_id": loanID.String(),
		"copy_id": created.BookCopyID.String(),
		"due":     created.DueDate.Format(time.RFC3339),
	})

	return created, nil
}

// selectCopy locks and returns the copy to lend: the explicitly requested one
// if copyID is set, otherwise the first available copy of the book.
func (s *circulationService) selectCopy(tx *gorm.DB, bookID, copyID *uuid.UUID) (*models.BookCopy, error) {
	if copyID != nil {
		copy, err := s.bookCopyRepo.GetByIDForUpdate(tx, *copyID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrCopyNotFound
			}
			return nil, err
		}
		if copy.Status != models.BookCopyStatusAvailable {
			return nil, ErrNoAvailableUnit
		}
		return copy, nil
	}

	if _, err := s.bookRepo.GetByID(tx, *bookID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	copy, err := s.bookCopyRepo.FindAvailableForUpdate(tx, *bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoAvailableUnit
		}
		return nil, err
	}
	return copy, nil
}

// ReturnLoan closes a loan. The final persisted status is always RETURNED;
// the overdue fact is captured by the fine charged here, not by the loan row.
func (s *circulationService) ReturnLoan(loanID uuid.UUID, actor string) (*models.Loan, error) {
	var (
		updated    *models.Loan
		fineAmount int
		fineDays   int
		memberID   uuid.UUID
		nextRes    *models.Reservation
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		loan, err := s.loanRepo.GetByIDForUpdate(tx, loanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoanNotFound
			}
			return err
		}

		if loan.Status == models.LoanStatusReturned || loan.ReturnedAt != nil {
			log.Printf("[WARN] ReturnLoan: loan %s already returned", loanID)
			return ErrAlreadyReturned
		}
		memberID = loan.MemberID

		now := time.Now().UTC()
		if err := s.loanRepo.MarkReturned(tx, loan.ID, now); err != nil {
			log.Printf("[ERROR] ReturnLoan: failed to mark loan %s returned: %v", loanID, err)
			return err
		}

		if err := s.bookCopyRepo.UpdateStatus(tx, loan.BookCopyID, models.BookCopyStatusAvailable); err != nil {
			log.Printf("[ERROR] ReturnLoan: failed to mark copy %s AVAILABLE: %v", loan.BookCopyID, err)
			return err
		}
		bookID := loan.BookCopy.BookID
		if err := s.bookRepo.RecountAvailability(tx, bookID); err != nil {
			return err
		}

		if days := daysOverdue(loan.DueDate, now); days > 0 {
			// Guard against double-charging on retried calls: only one
			// fine may ever reference a loan from the return path.
			exists, err := s.fineRepo.ExistsForLoan(tx, loan.ID)
			if err != nil {
				return err
			}
			if !exists {
				fineDays = days
				fineAmount = days * s.cfg.FinePerDay
				fineLoanID := loan.ID
				fine := &models.Fine{
					MemberID:  loan.MemberID,
					LoanID:    &fineLoanID,
					Amount:    fineAmount,
					Status:    models.FineStatusUnpaid,
					Reason:    "overdue return",
					ChargedAt: now,
				}
				if err := s.fineRepo.Create(tx, fine); err != nil {
					log.Printf("[ERROR] ReturnLoan: failed to create overdue fine for loan %s: %v", loanID, err)
					return err
				}
			}
		}

		// A freed copy may satisfy the head of the reservation queue; the
		// notification goes out after commit.
		res, err := s.reservationRepo.GetNextForBook(tx, bookID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		nextRes = res

		reloaded, err := s.loanRepo.GetByIDForUpdate(tx, loanID)
		if err != nil {
			return err
		}
		updated = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] ReturnLoan: loan %s returned (overdue days=%d, fine=%d)", loanID, fineDays, fineAmount)

	if fineAmount > 0 {
		s.dispatcher.Notify(memberID, &loanID, models.NotificationKindLoanReturned,
			"Book returned late",
			"Your book was returned late. An overdue fine has been charged to your account.",
			models.NotificationPriorityHigh,
			map[string]interface{}{"loan_id": loanID.String(), "days_overdue": fineDays, "fine_amount": fineAmount})
	} else {
		s.dispatcher.Notify(memberID, &loanID, models.NotificationKindLoanReturned,
			"Book returned",
			"Thanks, your book was returned on time.",
			models.NotificationPriorityNormal,
			map[string]interface{}{"loan_id": loanID.String()})
	}
	s.dispatcher.Audit(actor, "loan_returned", map[string]interface{}{
		"loan_id":      loanID.String(),
		"days_overdue": fineDays,
		"fine_amount":  fineAmount,
	})
	if nextRes != nil {
		s.dispatcher.Notify(nextRes.MemberID, nil, models.NotificationKindReservation,
			"Reserved book available",
			"A copy of a book you reserved is now available.",
			models.NotificationPriorityHigh,
			map[string]interface{}{"reservation_id": nextRes.ID.String(), "book_id": nextRes.BookID.String()})
	}

	return updated, nil
}

// RenewLoan extends an ongoing loan by the standard period. Renewals are
// refused while anyone holds a reservation on the title; there is no cap on
// the renewal count.
func (s *circulationService) RenewLoan(loanID uuid.UUID, actor string) (*models.Loan, error) {
	var updated *models.Loan
	var memberID uuid.UUID

	err := s.db.Transaction(func(tx *gorm.DB) error {
		loan, err := s.loanRepo.GetByIDForUpdate(tx, loanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoanNotFound
			}
			return err
		}
		if loan.Status != models.LoanStatusOngoing {
			log.Printf("[WARN] RenewLoan: loan %s is %s, renewal refused", loanID, loan.Status)
			return ErrLoanNotOngoing
		}
		memberID = loan.MemberID

		reserved, err := s.reservationRepo.CountForBook(tx, loan.BookCopy.BookID)
		if err != nil {
			return err
		}
		if reserved > 0 {
			log.Printf("[WARN] RenewLoan: title %s has %d reservation(s), renewal refused", loan.BookCopy.BookID, reserved)
			return ErrTitleReserved
		}

		newDue := loan.DueDate.AddDate(0, 0, s.cfg.LoanPeriodDays)
		if err := s.loanRepo.Renew(tx, loan.ID, newDue); err != nil {
			log.Printf("[ERROR] RenewLoan: failed to renew loan %s: %v", loanID, err)
			return err
		}

		reloaded, err := s.loanRepo.GetByIDForUpdate(tx, loanID)
		if err != nil {
			return err
		}
		updated = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] RenewLoan: loan %s renewed (count=%d, due=%s)",
		loanID, updated.RenewalCount, updated.DueDate.Format("2006-01-02"))

	s.dispatcher.Notify(memberID, &loanID, models.NotificationKindLoanRenewed,
		"Loan renewed",
		"Your loan was renewed and is now due on "+updated.DueDate.Format("2006-01-02")+".",
		models.NotificationPriorityNormal,
		map[string]interface{}{"loan_id": loanID.String(), "renewal_count": updated.RenewalCount})
	s.dispatcher.Audit(actor, "loan_renewed", map[string]interface{}{
		"loan_id": loanID.String(),
		"due":     updated.DueDate.Format(time.RFC3339),
	})

	return updated, nil
}

func (s *circulationService) ListMemberLoans(memberID uuid.UUID) ([]models.Loan, error) {
	return s.loanRepo.ListByMember(nil, memberID)
}

// daysOverdue counts whole-or-partial days between the due date and the
// return instant, rounding up. Returning 25 hours late costs two days.
func daysOverdue(dueDate, returnedAt time.Time) int {
	if !returnedAt.After(dueDate) {
		return 0
	}
	return int(math.Ceil(returnedAt.Sub(dueDate).Hours() / 24))
}
