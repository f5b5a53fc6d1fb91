package services

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"circulation/internal/config"
	"circulation/internal/dispatch"
	"circulation/internal/models"
	"circulation/internal/repositories"
)

// FineService maintains monetary penalties and their payment arithmetic.
type FineService interface {
	ChargeFine(memberID uuid.UUID, amount int, reason string, loanID *uuid.UUID, actor string) (*models.Fine, error)
	PayFine(fineID uuid.UUID, amount int, actor string) (*models.Fine, error)
	WaiveFine(fineID uuid.UUID, actor, notes string) (*models.Fine, error)

	// CalculateOverdueFine is the pure daily-rate calculation, exposed so
	// callers can price an overdue fine without charging it.
	CalculateOverdueFine(daysOverdue int) int

	ListMemberFines(memberID uuid.UUID) ([]models.Fine, error)
}

// holdCleaner is the narrow slice of the hold engine the fine engine needs:
// once a member's last debt is resolved, their financially-caused holds may
// be lifted. Injected as an interface so the two engines stay decoupled.
type holdCleaner interface {
	AutoCleanupIfResolved(memberID uuid.UUID, actor string) (int, error)
}

type fineService struct {
	db         *gorm.DB
	cfg        config.Config
	memberRepo repositories.MemberRepository
	fineRepo   repositories.FineRepository
	holds      holdCleaner
	dispatcher dispatch.Dispatcher
}

func NewFineService(
	db *gorm.DB,
	cfg config.Config,
	memberRepo repositories.MemberRepository,
	fineRepo repositories.FineRepository,
	holds holdCleaner,
	dispatcher dispatch.Dispatcher,
) FineService {
	return &fineService{
		db:         db,
		cfg:        cfg,
		memberRepo: memberRepo,
		fineRepo:   fineRepo,
		holds:      holds,
		dispatcher: dispatcher,
	}
}

func (s *fineService) ChargeFine(memberID uuid.UUID, amount int, reason string, loanID *uuid.UUID, actor string) (*models.Fine, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var created *models.Fine
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.memberRepo.GetByID(tx, memberID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}
		fine := &models.Fine{
			MemberID:  memberID,
			LoanID:    loanID,
			Amount:    amount,
			Status:    models.FineStatusUnpaid,
			Reason:    reason,
			ChargedAt: time.Now().UTC(),
		}
		if err := s.fineRepo.Create(tx, fine); err != nil {
			log.Printf("[ERROR] ChargeFine: failed to create fine for member %s: %v", memberID, err)
			return err
		}
		created = fine
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] ChargeFine: fine %s charged to member %s (amount=%d, reason=%q)", created.ID, memberID, amount, reason)

	s.dispatcher.Notify(memberID, loanID, models.NotificationKindFineCharged,
		"Fine charged",
		"A fine has been charged to your account: "+reason+".",
		models.NotificationPriorityHigh,
		map[string]interface{}{"fine_id": created.ID.String(), "amount": amount})
	s.dispatcher.NotifyStaff(models.NotificationKindFineCharged,
		"Fine charged",
		"A fine was charged.",
		models.NotificationPriorityLow,
		map[string]interface{}{"fine_id": created.ID.String(), "member_id": memberID.String(), "amount": amount})
	s.dispatcher.Audit(actor, "fine_charged", map[string]interface{}{
		"fine_id": created.ID.String(),
		"amount":  amount,
		"reason":  reason,
	})

	return created, nil
}

// PayFine adds a partial or full payment. Accumulated payments never
// decrease; the fine flips to PAID exactly when paid_amount >= amount.
func (s *fineService) PayFine(fineID uuid.UUID, amount int, actor string) (*models.Fine, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var updated *models.Fine
	reachedPaid := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		fine, err := s.fineRepo.GetByIDForUpdate(tx, fineID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFineNotFound
			}
			return err
		}
		switch fine.Status {
		case models.FineStatusPaid:
			log.Printf("[WARN] PayFine: fine %s already paid", fineID)
			return ErrAlreadyPaid
		case models.FineStatusWaived:
			log.Printf("[WARN] PayFine: fine %s already waived", fineID)
			return ErrAlreadyWaived
		}

		prior := 0
		if fine.PaidAmount != nil {
			prior = *fine.PaidAmount
		}
		newPaid := prior + amount

		status := models.FineStatusPartiallyPaid
		var paidAt *time.Time
		if newPaid >= fine.Amount {
			status = models.FineStatusPaid
			now := time.Now().UTC()
			paidAt = &now
			reachedPaid = true
		}

		if err := s.fineRepo.RecordPayment(tx, fine.ID, newPaid, status, paidAt); err != nil {
			log.Printf("[ERROR] PayFine: failed to record payment on fine %s: %v", fineID, err)
			return err
		}

		reloaded, err := s.fineRepo.GetByIDForUpdate(tx, fineID)
		if err != nil {
			return err
		}
		updated = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] PayFine: fine %s payment of %d recorded (status=%s)", fineID, amount, updated.Status)

	if reachedPaid {
		s.cleanupAfterResolution(updated.MemberID, actor)
	}

	s.dispatcher.Notify(updated.MemberID, updated.LoanID, models.NotificationKindFinePaid,
		"Payment received",
		"Your fine payment was received.",
		models.NotificationPriorityNormal,
		map[string]interface{}{"fine_id": fineID.String(), "amount": amount, "status": string(updated.Status)})
	s.dispatcher.Audit(actor, "fine_paid", map[string]interface{}{
		"fine_id": fineID.String(),
		"amount":  amount,
		"status":  string(updated.Status),
	})

	return updated, nil
}

// WaiveFine forgives a fine without touching its amounts, then runs the same
// hold-cleanup check as a full payment.
func (s *fineService) WaiveFine(fineID uuid.UUID, actor, notes string) (*models.Fine, error) {
	var updated *models.Fine

	err := s.db.Transaction(func(tx *gorm.DB) error {
		fine, err := s.fineRepo.GetByIDForUpdate(tx, fineID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFineNotFound
			}
			return err
		}
		if fine.Status == models.FineStatusWaived {
			log.Printf("[WARN] WaiveFine: fine %s already waived", fineID)
			return ErrAlreadyWaived
		}

		if err := s.fineRepo.Waive(tx, fine.ID, notes); err != nil {
			log.Printf("[ERROR] WaiveFine: failed to waive fine %s: %v", fineID, err)
			return err
		}

		reloaded, err := s.fineRepo.GetByIDForUpdate(tx, fineID)
		if err != nil {
			return err
		}
		updated = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] WaiveFine: fine %s waived by %s", fineID, actor)

	s.cleanupAfterResolution(updated.MemberID, actor)

	s.dispatcher.Notify(updated.MemberID, updated.LoanID, models.NotificationKindFineWaived,
		"Fine waived",
		"A fine on your account has been waived.",
		models.NotificationPriorityNormal,
		map[string]interface{}{"fine_id": fineID.String()})
	s.dispatcher.Audit(actor, "fine_waived", map[string]interface{}{
		"fine_id": fineID.String(),
		"notes":   notes,
	})

	return updated, nil
}

// cleanupAfterResolution asks the hold engine whether the member's holds can
// now be lifted. The fine transition has already committed, so a cleanup
// failure is logged and left for the next resolution to retry.
func (s *fineService) cleanupAfterResolution(memberID uuid.UUID, actor string) {
	removed, err := s.holds.AutoCleanupIfResolved(memberID, actor)
	if err != nil {
		log.Printf("[ERROR] cleanupAfterResolution: hold auto-cleanup failed for member %s: %v", memberID, err)
		return
	}
	if removed > 0 {
		log.Printf("[INFO] cleanupAfterResolution: removed %d hold(s) for member %s", removed, memberID)
	}
}

func (s *fineService) CalculateOverdueFine(daysOverdue int) int {
	if daysOverdue <= 0 {
		return 0
	}
	return daysOverdue * s.cfg.FinePerDay
}

func (s *fineService) ListMemberFines(memberID uuid.UUID) ([]models.Fine, error) {
	return s.fineRepo.ListByMember(nil, memberID)
}
