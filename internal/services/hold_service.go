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

// AllFinesResolvedReason is recorded on holds removed by the automatic
// cleanup that fires when a member settles their last outstanding fine.
const AllFinesResolvedReason = "all fines resolved"

// HoldService manages account holds, the restriction that blocks a member
// from new borrowing until lifted.
type HoldService interface {
	PlaceHold(memberID uuid.UUID, reason, actor string, loanID *uuid.UUID, notes string) (*models.Hold, error)
	RemoveHold(holdID uuid.UUID, actor, notes string) (*models.Hold, error)

	// AutoCleanupIfResolved removes every active hold of the member, but
	// only when the member has at least the configured threshold of active
	// holds and no unresolved fines. Returns the number removed.
	AutoCleanupIfResolved(memberID uuid.UUID, actor string) (int, error)

	ListMemberHolds(memberID uuid.UUID) ([]models.Hold, error)
}

type holdService struct {
	db         *gorm.DB
	cfg        config.Config
	memberRepo repositories.MemberRepository
	holdRepo   repositories.HoldRepository
	fineRepo   repositories.FineRepository
	dispatcher dispatch.Dispatcher
}

func NewHoldService(
	db *gorm.DB,
	cfg config.Config,
	memberRepo repositories.MemberRepository,
	holdRepo repositories.HoldRepository,
	fineRepo repositories.FineRepository,
	dispatcher dispatch.Dispatcher,
) HoldService {
	return &holdService{
		db:         db,
		cfg:        cfg,
		memberRepo: memberRepo,
		holdRepo:   holdRepo,
		fineRepo:   fineRepo,
		dispatcher: dispatcher,
	}
}

func (s *holdService) PlaceHold(memberID uuid.UUID, reason, actor string, loanID *uuid.UUID, notes string) (*models.Hold, error) {
	var created *models.Hold

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.memberRepo.GetByID(tx, memberID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}
		hold := &models.Hold{
			MemberID: memberID,
			LoanID:   loanID,
			Reason:   reason,
			Notes:    notes,
			Status:   models.HoldStatusActive,
			PlacedBy: actor,
			PlacedAt: time.Now().UTC(),
		}
		if err := s.holdRepo.Create(tx, hold); err != nil {
			log.Printf("[ERROR] PlaceHold: failed to create hold for member %s: %v", memberID, err)
			return err
		}
		created = hold
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] PlaceHold: hold %s placed on member %s (reason=%q)", created.ID, memberID, reason)

	s.dispatcher.Notify(memberID, loanID, models.NotificationKindHoldPlaced,
		"Account hold placed",
		"A hold has been placed on your account: "+reason+". Borrowing is blocked until it is resolved.",
		models.NotificationPriorityHigh,
		map[string]interface{}{"hold_id": created.ID.String(), "reason": reason})
	s.dispatcher.NotifyStaff(models.NotificationKindHoldPlaced,
		"Hold placed",
		"An account hold was placed.",
		models.NotificationPriorityLow,
		map[string]interface{}{"hold_id": created.ID.String(), "member_id": memberID.String()})
	s.dispatcher.Audit(actor, "hold_placed", map[string]interface{}{
		"hold_id": created.ID.String(),
		"reason":  reason,
	})

	return created, nil
}

func (s *holdService) RemoveHold(holdID uuid.UUID, actor, notes string) (*models.Hold, error) {
	var updated *models.Hold

	err := s.db.Transaction(func(tx *gorm.DB) error {
		hold, err := s.holdRepo.GetByIDForUpdate(tx, holdID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrHoldNotFound
			}
			return err
		}
		if hold.Status != models.HoldStatusActive {
			log.Printf("[WARN] RemoveHold: hold %s is %s, not active", holdID, hold.Status)
			return ErrHoldNotActive
		}

		if err := s.holdRepo.MarkRemoved(tx, hold.ID, actor, notes, time.Now().UTC()); err != nil {
			log.Printf("[ERROR] RemoveHold: failed to remove hold %s: %v", holdID, err)
			return err
		}

		reloaded, err := s.holdRepo.GetByIDForUpdate(tx, holdID)
		if err != nil {
			return err
		}
		updated = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] RemoveHold: hold %s removed by %s", holdID, actor)

	s.dispatcher.Notify(updated.MemberID, updated.LoanID, models.NotificationKindHoldRemoved,
		"Account hold removed",
		"A hold on your account has been removed.",
		models.NotificationPriorityNormal,
		map[string]interface{}{"hold_id": holdID.String()})
	s.dispatcher.Audit(actor, "hold_removed", map[string]interface{}{
		"hold_id": holdID.String(),
		"notes":   notes,
	})

	return updated, nil
}

// AutoCleanupIfResolved is all-or-nothing and threshold-gated: a member with
// fewer than the threshold of active holds is never auto-cleared, so isolated
// manually placed holds survive even once every fine is settled.
func (s *holdService) AutoCleanupIfResolved(memberID uuid.UUID, actor string) (int, error) {
	var removed []models.Hold

	err := s.db.Transaction(func(tx *gorm.DB) error {
		holds, err := s.holdRepo.ListActiveByMember(tx, memberID)
		if err != nil {
			return err
		}
		if len(holds) < s.cfg.HoldCleanupThreshold {
			return nil
		}

		unresolved, err := s.fineRepo.CountUnresolvedByMember(tx, memberID)
		if err != nil {
			return err
		}
		if unresolved > 0 {
			return nil
		}

		now := time.Now().UTC()
		for _, hold := range holds {
			if err := s.holdRepo.MarkRemoved(tx, hold.ID, actor, AllFinesResolvedReason, now); err != nil {
				log.Printf("[ERROR] AutoCleanupIfResolved: failed to remove hold %s: %v", hold.ID, err)
				return err
			}
		}
		removed = holds
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(removed) == 0 {
		return 0, nil
	}

	log.Printf("[INFO] AutoCleanupIfResolved: removed %d hold(s) for member %s", len(removed), memberID)

	s.dispatcher.Notify(memberID, nil, models.NotificationKindHoldRemoved,
		"Account holds cleared",
		"All fines on your account are resolved and your account holds have been lifted.",
		models.NotificationPriorityNormal,
		map[string]interface{}{"removed": len(removed)})
	s.dispatcher.Audit(actor, "holds_auto_cleared", map[string]interface{}{
		"member_id": memberID.String(),
		"removed":   len(removed),
		"reason":    AllFinesResolvedReason,
	})

	return len(removed), nil
}

func (s *holdService) ListMemberHolds(memberID uuid.UUID) ([]models.Hold, error) {
	return s.holdRepo.ListByMember(nil, memberID)
}
