package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"circulation/internal/models"
)

type FineRepository interface {
	Create(db *gorm.DB, fine *models.Fine) error
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Fine, error)
	// ExistsForLoan reports whether any fine, regardless of status,
	// references the loan. Used by the return flow's double-charge guard.
	ExistsForLoan(db *gorm.DB, loanID uuid.UUID) (bool, error)
	// ExistsUnresolvedForLoan reports whether an UNPAID or PARTIALLY_PAID
	// fine references the loan. Used by the auto-fine escalation job.
	ExistsUnresolvedForLoan(db *gorm.DB, loanID uuid.UUID) (bool, error)
	CountUnresolvedByMember(db *gorm.DB, memberID uuid.UUID) (int64, error)
	ListByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Fine, error)
	RecordPayment(db *gorm.DB, fineID uuid.UUID, paidAmount int, status models.FineStatus, paidAt *time.Time) error
	Waive(db *gorm.DB, fineID uuid.UUID, notes string) error
}

type HoldRepository interface {
	Create(db *gorm.DB, hold *models.Hold) error
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Hold, error)
	CountActiveByMember(db *gorm.DB, memberID uuid.UUID) (int64, error)
	ListActiveByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Hold, error)
	ListByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Hold, error)
	ExistsActiveForLoan(db *gorm.DB, loanID uuid.UUID) (bool, error)
	MarkRemoved(db *gorm.DB, holdID uuid.UUID, removedBy, notes string, removedAt time.Time) error
}

type ReservationRepository interface {
	Create(db *gorm.DB, reservation *models.Reservation) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Reservation, error)
	GetNextForBook(db *gorm.DB, bookID uuid.UUID) (*models.Reservation, error)
	GetByBookAndMember(db *gorm.DB, bookID, memberID uuid.UUID) (*models.Reservation, error)
	Delete(db *gorm.DB, id uuid.UUID) error
	GetNextQueuePosition(db *gorm.DB, bookID uuid.UUID) (int, error)
	CountForBook(db *gorm.DB, bookID uuid.UUID) (int64, error)
	ListByBook(db *gorm.DB, bookID uuid.UUID) ([]models.Reservation, error)
}

type NotificationRepository interface {
	Create(db *gorm.DB, notification *models.Notification) error
	// ExistsRecentForLoan reports whether a notification of the given kind
	// referencing the loan was created after the given instant. This is
	// the dedup check the reminder and warning jobs rely on.
	ExistsRecentForLoan(db *gorm.DB, loanID uuid.UUID, kind models.NotificationKind, since time.Time) (bool, error)
	ListByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Notification, error)
}

type AuditRepository interface {
	Create(db *gorm.DB, record *models.AuditRecord) error
}

type fineRepository struct {
	db *gorm.DB
}

func NewFineRepository(db *gorm.DB) FineRepository {
	return &fineRepository{db: db}
}

func (r *fineRepository) Create(db *gorm.DB, fine *models.Fine) error {
	if db == nil {
		db = r.db
	}
	return db.Create(fine).Error
}

func (r *fineRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fine models.Fine
	if err := lockForUpdate(db).First(&fine, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &fine, nil
}

func (r *fineRepository) ExistsForLoan(db *gorm.DB, loanID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.Fine{}).
		Where("loan_id = ?", loanID).
		Count(&n).Error
	return n > 0, err
}

func (r *fineRepository) ExistsUnresolvedForLoan(db *gorm.DB, loanID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.Fine{}).
		Where("loan_id = ? AND status IN ?", loanID,
			[]models.FineStatus{models.FineStatusUnpaid, models.FineStatusPartiallyPaid}).
		Count(&n).Error
	return n > 0, err
}

func (r *fineRepository) CountUnresolvedByMember(db *gorm.DB, memberID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.Fine{}).
		Where("member_id = ? AND status IN ?", memberID,
			[]models.FineStatus{models.FineStatusUnpaid, models.FineStatusPartiallyPaid}).
		Count(&n).Error
	return n, err
}

func (r *fineRepository) ListByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fines []models.Fine
	if err := db.Where("member_id = ?", memberID).Order("charged_at DESC").Find(&fines).Error; err != nil {
		return nil, err
	}
	return fines, nil
}

func (r *fineRepository) RecordPayment(db *gorm.DB, fineID uuid.UUID, paidAmount int, status models.FineStatus, paidAt *time.Time) error {
	if db == nil {
		db = r.db
	}
	updates := map[string]interface{}{
		"paid_amount": paidAmount,
		"status":      status,
	}
	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}
	return db.Model(&models.Fine{}).
		Where("id = ?", fineID).
		Updates(updates).Error
}

func (r *fineRepository) Waive(db *gorm.DB, fineID uuid.UUID, notes string) error {
	if db == nil {
		db = r.db
	}
	updates := map[string]interface{}{
		"status": models.FineStatusWaived,
	}
	if notes != "" {
		updates["notes"] = notes
	}
	return db.Model(&models.Fine{}).
		Where("id = ?", fineID).
		Updates(updates).Error
}

type holdRepository struct {
	db *gorm.DB
}

func NewHoldRepository(db *gorm.DB) HoldRepository {
	return &holdRepository{db: db}
}

func (r *holdRepository) Create(db *gorm.DB, hold *models.Hold) error {
	if db == nil {
		db = r.db
	}
	return db.Create(hold).Error
}

func (r *holdRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Hold, error) {
	if db == nil {
		db = r.db
	}
	var hold models.Hold
	if err := lockForUpdate(db).First(&hold, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &hold, nil
}

func (r *holdRepository) CountActiveByMember(db *gorm.DB, memberID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.Hold{}).
		Where("member_id = ? AND status = ?", memberID, models.HoldStatusActive).
		Count(&n).Error
	return n, err
}

func (r *holdRepository) ListActiveByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Hold, error) {
	if db == nil {
		db = r.db
	}
	var holds []models.Hold
	err := db.
		Where("member_id = ? AND status = ?", memberID, models.HoldStatusActive).
		Find(&holds).Error
	if err != nil {
		return nil, err
	}
	return holds, nil
}

func (r *holdRepository) ListByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Hold, error) {
	if db == nil {
		db = r.db
	}
	var holds []models.Hold
	if err := db.Where("member_id = ?", memberID).Order("placed_at DESC").Find(&holds).Error; err != nil {
		return nil, err
	}
	return holds, nil
}

func (r *holdRepository) ExistsActiveForLoan(db *gorm.DB, loanID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.Hold{}).
		Where("loan_id = ? AND status = ?", loanID, models.HoldStatusActive).
		Count(&n).Error
	return n > 0, err
}

func (r *holdRepository) MarkRemoved(db *gorm.DB, holdID uuid.UUID, removedBy, notes string, removedAt time.Time) error {
	if db == nil {
		db = r.db
	}
	updates := map[string]interface{}{
		"status":     models.HoldStatusRemoved,
		"removed_by": removedBy,
		"removed_at": removedAt,
	}
	if notes != "" {
		updates["notes"] = notes
	}
	return db.Model(&models.Hold{}).
		Where("id = ?", holdID).
		Updates(updates).Error
}

type reservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) Create(db *gorm.DB, reservation *models.Reservation) error {
	if db == nil {
		db = r.db
	}
	return db.Create(reservation).Error
}

func (r *reservationRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	if err := db.First(&res, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) GetNextForBook(db *gorm.DB, bookID uuid.UUID) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	err := db.Where("book_id = ?", bookID).
		Order("queue_position ASC, created_at ASC").
		First(&res).Error
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) GetByBookAndMember(db *gorm.DB, bookID, memberID uuid.UUID) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	err := db.Where("book_id = ? AND member_id = ?", bookID, memberID).First(&res).Error
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) Delete(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Reservation{}, "id = ?", id).Error
}

func (r *reservationRepository) GetNextQueuePosition(db *gorm.DB, bookID uuid.UUID) (int, error) {
	if db == nil {
		db = r.db
	}
	// Lock reservation rows for this book so MAX(queue_position) is stable
	// under concurrency.
	var ids []uuid.UUID
	if err := lockForUpdate(db.Model(&models.Reservation{})).
		Where("book_id = ?", bookID).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	var maxPos int
	if err := db.Model(&models.Reservation{}).
		Where("book_id = ?", bookID).
		Select("COALESCE(MAX(queue_position), 0)").
		Scan(&maxPos).Error; err != nil {
		return 0, err
	}
	return maxPos + 1, nil
}

func (r *reservationRepository) CountForBook(db *gorm.DB, bookID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.Reservation{}).
		Where("book_id = ?", bookID).
		Count(&n).Error
	return n, err
}

func (r *reservationRepository) ListByBook(db *gorm.DB, bookID uuid.UUID) ([]models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res []models.Reservation
	if err := db.Where("book_id = ?", bookID).
		Order("queue_position ASC").
		Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(db *gorm.DB, notification *models.Notification) error {
	if db == nil {
		db = r.db
	}
	return db.Create(notification).Error
}

func (r *notificationRepository) ExistsRecentForLoan(db *gorm.DB, loanID uuid.UUID, kind models.NotificationKind, since time.Time) (bool, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.Notification{}).
		Where("loan_id = ? AND kind = ? AND created_at > ?", loanID, kind, since).
		Count(&n).Error
	return n > 0, err
}

func (r *notificationRepository) ListByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Notification, error) {
	if db == nil {
		db = r.db
	}
	var ns []models.Notification
	if err := db.Where("member_id = ?", memberID).Order("created_at DESC").Find(&ns).Error; err != nil {
		return nil, err
	}
	return ns, nil
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(db *gorm.DB, record *models.AuditRecord) error {
	if db == nil {
		db = r.db
	}
	return db.Create(record).Error
}
