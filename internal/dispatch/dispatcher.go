// Package dispatch delivers the notifications and audit entries that follow a
// committed circulation state change. Delivery is best effort: every failure
// is caught and logged here, never surfaced to the engine that triggered it.
package dispatch

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"circulation/internal/models"
	"circulation/internal/repositories"
)

// Dispatcher is injected into the engines so that none of them depend on the
// notification machinery directly.
type Dispatcher interface {
	// Notify records a member-facing notification. loanID may be nil; when
	// set it allows the escalation jobs to dedup by loan.
	Notify(memberID uuid.UUID, loanID *uuid.UUID, kind models.NotificationKind, title, message string, priority models.NotificationPriority, payload map[string]interface{})

	// NotifyStaff records a staff-facing notification (no member).
	NotifyStaff(kind models.NotificationKind, title, message string, priority models.NotificationPriority, payload map[string]interface{})

	// Audit appends an immutable audit record for the given action.
	Audit(actor, action string, details map[string]interface{})
}

type dispatcher struct {
	notificationRepo repositories.NotificationRepository
	auditRepo        repositories.AuditRepository
}

func NewDispatcher(notificationRepo repositories.NotificationRepository, auditRepo repositories.AuditRepository) Dispatcher {
	return &dispatcher{
		notificationRepo: notificationRepo,
		auditRepo:        auditRepo,
	}
}

func (d *dispatcher) Notify(memberID uuid.UUID, loanID *uuid.UUID, kind models.NotificationKind, title, message string, priority models.NotificationPriority, payload map[string]interface{}) {
	d.write(&memberID, loanID, kind, title, message, priority, payload)
}

func (d *dispatcher) NotifyStaff(kind models.NotificationKind, title, message string, priority models.NotificationPriority, payload map[string]interface{}) {
	d.write(nil, nil, kind, title, message, priority, payload)
}

func (d *dispatcher) write(memberID, loanID *uuid.UUID, kind models.NotificationKind, title, message string, priority models.NotificationPriority, payload map[string]interface{}) {
	n := &models.Notification{
		MemberID:  memberID,
		LoanID:    loanID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		Priority:  priority,
		Payload:   encode(payload),
		CreatedAt: time.Now().UTC(),
	}
	if err := d.notificationRepo.Create(nil, n); err != nil {
		log.Printf("[ERROR] dispatch: failed to record %s notification: %v", kind, err)
		// Best effort: leave a trace in the audit log so the miss is visible.
		d.Audit("system", "notification_failed", map[string]interface{}{
			"kind":  string(kind),
			"title": title,
			"error": err.Error(),
		})
		return
	}
	log.Printf("[INFO] dispatch: %s notification recorded (id=%s)", kind, n.ID)
}

func (d *dispatcher) Audit(actor, action string, details map[string]interface{}) {
	record := &models.AuditRecord{
		Actor:     actor,
		Action:    action,
		Details:   encode(details),
		CreatedAt: time.Now().UTC(),
	}
	if err := d.auditRepo.Create(nil, record); err != nil {
		log.Printf("[ERROR] dispatch: failed to append audit record for %s: %v", action, err)
	}
}

func encode(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return ""
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[WARN] dispatch: failed to encode payload: %v", err)
		return ""
	}
	return string(raw)
}
