package services

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"circulation/internal/config"
	"circulation/internal/dispatch"
	"circulation/internal/models"
	"circulation/internal/repositories"
)

// SchedulerActor is the actor recorded on audit entries written by the
// time-triggered escalation jobs.
const SchedulerActor = "scheduler"

// reminderDedupWindow is how long a reminder or warning for a loan suppresses
// another one of the same kind.
const reminderDedupWindow = 24 * time.Hour

// EscalationService holds the four time-triggered procedures that walk the
// loan, fine and hold state machines forward without user action. Each is
// idempotent: it checks for an existing unresolved record before creating a
// new one, so re-running on any cadence produces no duplicates. A failure on
// one candidate never aborts the rest of the run.
type EscalationService interface {
	SendDueReminders() error
	SendOverdueWarnings() error
	AutoPlaceOverdueHolds() error
	AutoChargeOverdueFines() error
}

type escalationService struct {
	db               *gorm.DB
	cfg              config.Config
	loanRepo         repositories.LoanRepository
	fineRepo         repositories.FineRepository
	holdRepo         repositories.HoldRepository
	notificationRepo repositories.NotificationRepository
	dispatcher       dispatch.Dispatcher
}

func NewEscalationService(
	db *gorm.DB,
	cfg config.Config,
	loanRepo repositories.LoanRepository,
	fineRepo repositories.FineRepository,
	holdRepo repositories.HoldRepository,
	notificationRepo repositories.NotificationRepository,
	dispatcher dispatch.Dispatcher,
) EscalationService {
	return &escalationService{
		db:               db,
		cfg:              cfg,
		loanRepo:         loanRepo,
		fineRepo:         fineRepo,
		holdRepo:         holdRepo,
		notificationRepo: notificationRepo,
		dispatcher:       dispatcher,
	}
}

// SendDueReminders notifies members whose ongoing loans fall due within the
// configured window, at most once per loan per dedup window.
func (s *escalationService) SendDueReminders() error {
	now := time.Now().UTC()
	window := time.Duration(s.cfg.ReminderWindowDays) * 24 * time.Hour

	loans, err := s.loanRepo.ListDueSoon(nil, now, window)
	if err != nil {
		return fmt.Errorf("SendDueReminders: listing candidates: %w", err)
	}

	sent := 0
	for _, loan := range loans {
		recent, err := s.notificationRepo.ExistsRecentForLoan(nil, loan.ID, models.NotificationKindDueReminder, now.Add(-reminderDedupWindow))
		if err != nil {
			log.Printf("[ERROR] SendDueReminders: dedup check failed for loan %s: %v", loan.ID, err)
			continue
		}
		if recent {
			continue
		}

		loanID := loan.ID
		s.dispatcher.Notify(loan.MemberID, &loanID, models.NotificationKindDueReminder,
			"Book due soon",
			"A book you borrowed is due on "+loan.DueDate.Format("2006-01-02")+". Please return or renew it.",
			models.NotificationPriorityNormal,
			map[string]interface{}{"loan_id": loanID.String(), "due": loan.DueDate.Format(time.RFC3339)})
		sent++
	}

	log.Printf("[INFO] SendDueReminders: %d candidate(s), %d reminder(s) sent", len(loans), sent)
	return nil
}

// SendOverdueWarnings flips ongoing loans past their due date to OVERDUE and
// warns the member, then sends staff one digest for the run.
func (s *escalationService) SendOverdueWarnings() error {
	now := time.Now().UTC()

	loans, err := s.loanRepo.ListPastDueOngoing(nil, now)
	if err != nil {
		return fmt.Errorf("SendOverdueWarnings: listing candidates: %w", err)
	}

	flipped := 0
	warned := 0
	for _, loan := range loans {
		var flaggedNow bool
		err := s.db.Transaction(func(tx *gorm.DB) error {
			ok, err := s.loanRepo.MarkOverdue(tx, loan.ID)
			if err != nil {
				return err
			}
			flaggedNow = ok
			return nil
		})
		if err != nil {
			log.Printf("[ERROR] SendOverdueWarnings: failed to flag loan %s overdue: %v", loan.ID, err)
			continue
		}
		if !flaggedNow {
			// Returned or already flagged since the candidate list was taken.
			continue
		}
		flipped++

		recent, err := s.notificationRepo.ExistsRecentForLoan(nil, loan.ID, models.NotificationKindOverdueWarning, now.Add(-reminderDedupWindow))
		if err != nil {
			log.Printf("[ERROR] SendOverdueWarnings: dedup check failed for loan %s: %v", loan.ID, err)
			continue
		}
		if recent {
			continue
		}

		loanID := loan.ID
		s.dispatcher.Notify(loan.MemberID, &loanID, models.NotificationKindOverdueWarning,
			"Book overdue",
			"A book you borrowed was due on "+loan.DueDate.Format("2006-01-02")+" and is now overdue. Please return it as soon as possible.",
			models.NotificationPriorityHigh,
			map[string]interface{}{"loan_id": loanID.String(), "due": loan.DueDate.Format(time.RFC3339)})
		warned++
	}

	if flipped > 0 {
		s.dispatcher.NotifyStaff(models.NotificationKindStaffDigest,
			"Overdue loans digest",
			fmt.Sprintf("%d loan(s) became overdue in this run.", flipped),
			models.NotificationPriorityNormal,
			map[string]interface{}{"flipped": flipped, "warned": warned})
	}

	log.Printf("[INFO] SendOverdueWarnings: %d candidate(s), %d flagged overdue, %d warning(s) sent", len(loans), flipped, warned)
	return nil
}

// AutoPlaceOverdueHolds places one account hold per loan that has stayed
// overdue beyond the grace period. The existence check and the insert share
// one transaction per candidate, so repeated runs never stack holds.
func (s *escalationService) AutoPlaceOverdueHolds() error {
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -s.cfg.HoldGraceDays)

	loans, err := s.loanRepo.ListOverdueDueBefore(nil, cutoff)
	if err != nil {
		return fmt.Errorf("AutoPlaceOverdueHolds: listing candidates: %w", err)
	}

	placed := 0
	for _, loan := range loans {
		var hold *models.Hold
		err := s.db.Transaction(func(tx *gorm.DB) error {
			exists, err := s.holdRepo.ExistsActiveForLoan(tx, loan.ID)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			loanID := loan.ID
			hold = &models.Hold{
				MemberID: loan.MemberID,
				LoanID:   &loanID,
				Reason:   "loan overdue beyond grace period",
				Status:   models.HoldStatusActive,
				PlacedBy: SchedulerActor,
				PlacedAt: now,
			}
			return s.holdRepo.Create(tx, hold)
		})
		if err != nil {
			log.Printf("[ERROR] AutoPlaceOverdueHolds: failed for loan %s: %v", loan.ID, err)
			continue
		}
		if hold == nil {
			continue
		}
		placed++

		loanID := loan.ID
		s.dispatcher.Notify(loan.MemberID, &loanID, models.NotificationKindHoldPlaced,
			"Account hold placed",
			"A hold was placed on your account because a borrowed book is long overdue. Borrowing is blocked until it is resolved.",
			models.NotificationPriorityHigh,
			map[string]interface{}{"hold_id": hold.ID.String(), "loan_id": loanID.String()})
		s.dispatcher.Audit(SchedulerActor, "hold_placed", map[string]interface{}{
			"hold_id": hold.ID.String(),
			"loan_id": loanID.String(),
			"reason":  hold.Reason,
		})
	}

	log.Printf("[INFO] AutoPlaceOverdueHolds: %d candidate(s), %d hold(s) placed", len(loans), placed)
	return nil
}

// AutoChargeOverdueFines charges the standard overdue fine once per overdue
// loan that has no unresolved fine yet.
func (s *escalationService) AutoChargeOverdueFines() error {
	now := time.Now().UTC()

	loans, err := s.loanRepo.ListOverdue(nil)
	if err != nil {
		return fmt.Errorf("AutoChargeOverdueFines: listing candidates: %w", err)
	}

	charged := 0
	for _, loan := range loans {
		days := daysOverdue(loan.DueDate, now)
		if days <= 0 {
			continue
		}

		var fine *models.Fine
		err := s.db.Transaction(func(tx *gorm.DB) error {
			exists, err := s.fineRepo.ExistsUnresolvedForLoan(tx, loan.ID)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			loanID := loan.ID
			fine = &models.Fine{
				MemberID:  loan.MemberID,
				LoanID:    &loanID,
				Amount:    days * s.cfg.FinePerDay,
				Status:    models.FineStatusUnpaid,
				Reason:    "overdue loan",
				ChargedAt: now,
			}
			return s.fineRepo.Create(tx, fine)
		})
		if err != nil {
			log.Printf("[ERROR] AutoChargeOverdueFines: failed for loan %s: %v", loan.ID, err)
			continue
		}
		if fine == nil {
			continue
		}
		charged++

		loanID := loan.ID
		s.dispatcher.Notify(loan.MemberID, &loanID, models.NotificationKindFineCharged,
			"Overdue fine charged",
			"A fine has been charged for an overdue book on your account.",
			models.NotificationPriorityHigh,
			map[string]interface{}{"fine_id": fine.ID.String(), "loan_id": loanID.String(), "amount": fine.Amount})
		s.dispatcher.Audit(SchedulerActor, "fine_charged", map[string]interface{}{
			"fine_id": fine.ID.String(),
			"loan_id": loanID.String(),
			"amount":  fine.Amount,
		})
	}

	log.Printf("[INFO] AutoChargeOverdueFines: %d candidate(s), %d fine(s) charged", len(loans), charged)
	return nil
}
