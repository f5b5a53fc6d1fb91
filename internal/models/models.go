package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MemberRole string

const (
	MemberRoleMember    MemberRole = "MEMBER"
	MemberRoleLibrarian MemberRole = "LIBRARIAN"
)

type BookCopyStatus string

const (
	BookCopyStatusAvailable   BookCopyStatus = "AVAILABLE"
	BookCopyStatusOnLoan      BookCopyStatus = "ON_LOAN"
	BookCopyStatusUnavailable BookCopyStatus = "UNAVAILABLE"
)

type LoanStatus string

const (
	LoanStatusOngoing  LoanStatus = "ONGOING"
	LoanStatusOverdue  LoanStatus = "OVERDUE"
	LoanStatusReturned LoanStatus = "RETURNED"
)

type FineStatus string

const (
	FineStatusUnpaid        FineStatus = "UNPAID"
	FineStatusPartiallyPaid FineStatus = "PARTIALLY_PAID"
	FineStatusPaid          FineStatus = "PAID"
	FineStatusWaived        FineStatus = "WAIVED"
)

type HoldStatus string

const (
	HoldStatusActive  HoldStatus = "ACTIVE"
	HoldStatusRemoved HoldStatus = "REMOVED"
)

type NotificationKind string

const (
	NotificationKindLoanCreated    NotificationKind = "LOAN_CREATED"
	NotificationKindLoanReturned   NotificationKind = "LOAN_RETURNED"
	NotificationKindLoanRenewed    NotificationKind = "LOAN_RENEWED"
	NotificationKindDueReminder    NotificationKind = "DUE_REMINDER"
	NotificationKindOverdueWarning NotificationKind = "OVERDUE_WARNING"
	NotificationKindFineCharged    NotificationKind = "FINE_CHARGED"
	NotificationKindFinePaid       NotificationKind = "FINE_PAID"
	NotificationKindFineWaived     NotificationKind = "FINE_WAIVED"
	NotificationKindHoldPlaced     NotificationKind = "HOLD_PLACED"
	NotificationKindHoldRemoved    NotificationKind = "HOLD_REMOVED"
	NotificationKindReservation    NotificationKind = "RESERVATION_READY"
	NotificationKindStaffDigest    NotificationKind = "STAFF_DIGEST"
)

type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "LOW"
	NotificationPriorityNormal NotificationPriority = "NORMAL"
	NotificationPriorityHigh   NotificationPriority = "HIGH"
)

type Member struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string     `gorm:"size:255;not null" json:"name"`
	Role             MemberRole `gorm:"size:32;not null" json:"role"`
	MaxBorrowedBooks int        `gorm:"not null" json:"max_borrowed_books"`
}

type Book struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title           string    `gorm:"size:255;not null" json:"title"`
	Author          string    `gorm:"size:255;not null" json:"author"`
	TotalCopies     int       `gorm:"not null" json:"total_copies"`
	AvailableCopies int       `gorm:"not null" json:"available_copies"`
}

type BookCopy struct {
	ID     uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BookID uuid.UUID      `gorm:"type:uuid;not null;index" json:"book_id"`
	Book   Book           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Status BookCopyStatus `gorm:"size:32;not null;index" json:"status"`
}

type Loan struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MemberID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"member_id"`
	Member       Member     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	BookCopyID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"book_copy_id"`
	BookCopy     BookCopy   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	BorrowedAt   time.Time  `gorm:"not null" json:"borrowed_at"`
	DueDate      time.Time  `gorm:"not null;index" json:"due_date"`
	ReturnedAt   *time.Time `json:"returned_at"`
	Status       LoanStatus `gorm:"size:32;not null;index" json:"status"`
	RenewalCount int        `gorm:"not null;default:0" json:"renewal_count"`
}

type Fine struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MemberID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"member_id"`
	LoanID     *uuid.UUID `gorm:"type:uuid;index" json:"loan_id"`
	Amount     int        `gorm:"not null" json:"amount"`
	PaidAmount *int       `json:"paid_amount"`
	Status     FineStatus `gorm:"size:32;not null;index" json:"status"`
	Reason     string     `gorm:"size:255;not null" json:"reason"`
	Notes      string     `gorm:"size:1024" json:"notes"`
	ChargedAt  time.Time  `gorm:"not null" json:"charged_at"`
	PaidAt     *time.Time `json:"paid_at"`
}

type Hold struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MemberID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"member_id"`
	LoanID    *uuid.UUID `gorm:"type:uuid;index" json:"loan_id"`
	Reason    string     `gorm:"size:255;not null" json:"reason"`
	Notes     string     `gorm:"size:1024" json:"notes"`
	Status    HoldStatus `gorm:"size:32;not null;index" json:"status"`
	PlacedBy  string     `gorm:"size:255;not null" json:"placed_by"`
	PlacedAt  time.Time  `gorm:"not null" json:"placed_at"`
	RemovedBy string     `gorm:"size:255" json:"removed_by"`
	RemovedAt *time.Time `json:"removed_at"`
}

type Reservation struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BookID        uuid.UUID `gorm:"type:uuid;not null;index" json:"book_id"`
	Book          Book      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	MemberID      uuid.UUID `gorm:"type:uuid;not null;index" json:"member_id"`
	Member        Member    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	QueuePosition int       `gorm:"not null;index" json:"queue_position"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

// Notification rows double as the delivery dedup ledger: the escalation jobs
// query recent rows by loan and kind before sending another reminder.
type Notification struct {
	ID        uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	MemberID  *uuid.UUID           `gorm:"type:uuid;index" json:"member_id"`
	LoanID    *uuid.UUID           `gorm:"type:uuid;index" json:"loan_id"`
	Kind      NotificationKind     `gorm:"size:64;not null;index" json:"kind"`
	Title     string               `gorm:"size:255;not null" json:"title"`
	Message   string               `gorm:"size:2048;not null" json:"message"`
	Priority  NotificationPriority `gorm:"size:16;not null" json:"priority"`
	Payload   string               `gorm:"size:4096" json:"payload"`
	CreatedAt time.Time            `gorm:"not null;index" json:"created_at"`
}

// AuditRecord is append-only; nothing in the codebase updates or deletes one.
type AuditRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Actor     string    `gorm:"size:255;not null" json:"actor"`
	Action    string    `gorm:"size:128;not null;index" json:"action"`
	Details   string    `gorm:"size:4096" json:"details"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// IDs are assigned client-side so the same models work against Postgres in
// production and sqlite in tests.

func (m *Member) BeforeCreate(_ *gorm.DB) error       { ensureID(&m.ID); return nil }
func (b *Book) BeforeCreate(_ *gorm.DB) error         { ensureID(&b.ID); return nil }
func (c *BookCopy) BeforeCreate(_ *gorm.DB) error     { ensureID(&c.ID); return nil }
func (l *Loan) BeforeCreate(_ *gorm.DB) error         { ensureID(&l.ID); return nil }
func (f *Fine) BeforeCreate(_ *gorm.DB) error         { ensureID(&f.ID); return nil }
func (h *Hold) BeforeCreate(_ *gorm.DB) error         { ensureID(&h.ID); return nil }
func (r *Reservation) BeforeCreate(_ *gorm.DB) error  { ensureID(&r.ID); return nil }
func (n *Notification) BeforeCreate(_ *gorm.DB) error { ensureID(&n.ID); return nil }
func (a *AuditRecord) BeforeCreate(_ *gorm.DB) error  { ensureID(&a.ID); return nil }

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All returns every model for migration, leaves first.
func All() []interface{} {
	return []interface{}{
		&Member{}, &Book{}, &BookCopy{}, &Loan{}, &Fine{}, &Hold{},
		&Reservation{}, &Notification{}, &AuditRecord{},
	}
}
