package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"circulation/internal/models"
)

// Every repository method takes the transaction handle as its first argument;
// passing nil falls back to the handle the repository was constructed with.

type MemberRepository interface {
	Create(db *gorm.DB, member *models.Member) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Member, error)
	// GetByIDForUpdate locks the member row so per-member eligibility
	// checks serialize across concurrent borrow attempts.
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Member, error)
}

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	List(db *gorm.DB) ([]models.Book, error)
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	IncrementTotalCopies(db *gorm.DB, bookID uuid.UUID, delta int) error
	// RecountAvailability rewrites available_copies from a scan of the
	// book's copies. Must run in the same transaction as any copy-status
	// flip it follows.
	RecountAvailability(db *gorm.DB, bookID uuid.UUID) error
}

type BookCopyRepository interface {
	Create(db *gorm.DB, copy *models.BookCopy) error
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.BookCopy, error)
	FindAvailableForUpdate(db *gorm.DB, bookID uuid.UUID) (*models.BookCopy, error)
	UpdateStatus(db *gorm.DB, id uuid.UUID, status models.BookCopyStatus) error
}

type LoanRepository interface {
	Create(db *gorm.DB, loan *models.Loan) error
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Loan, error)
	CountOpenByMember(db *gorm.DB, memberID uuid.UUID) (int64, error)
	ListByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Loan, error)
	MarkReturned(db *gorm.DB, loanID uuid.UUID, returnedAt time.Time) error
	Renew(db *gorm.DB, loanID uuid.UUID, newDue time.Time) error
	// MarkOverdue flips an ONGOING loan to OVERDUE. The status predicate
	// keeps the flip from touching a loan that was returned between
	// candidate listing and the update; reports whether a row changed.
	MarkOverdue(db *gorm.DB, loanID uuid.UUID) (bool, error)
	ListDueSoon(db *gorm.DB, now time.Time, within time.Duration) ([]models.Loan, error)
	ListPastDueOngoing(db *gorm.DB, now time.Time) ([]models.Loan, error)
	ListOverdue(db *gorm.DB) ([]models.Loan, error)
	ListOverdueDueBefore(db *gorm.DB, cutoff time.Time) ([]models.Loan, error)
}

// lockForUpdate applies a row lock on engines that support it. The sqlite
// database used in tests has no FOR UPDATE clause; writes there are
// serialized by the engine itself.
func lockForUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// concrete implementations

type memberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) Create(db *gorm.DB, member *models.Member) error {
	if db == nil {
		db = r.db
	}
	return db.Create(member).Error
}

func (r *memberRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Member, error) {
	if db == nil {
		db = r.db
	}
	var member models.Member
	if err := db.First(&member, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *memberRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Member, error) {
	if db == nil {
		db = r.db
	}
	var member models.Member
	if err := lockForUpdate(db).First(&member, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Create(book).Error
}

func (r *bookRepository) List(db *gorm.DB) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	var books []models.Book
	if err := db.Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) IncrementTotalCopies(db *gorm.DB, bookID uuid.UUID, delta int) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Book{}).
		Where("id = ?", bookID).
		UpdateColumn("total_copies", gorm.Expr("total_copies + ?", delta)).
		Error
}

func (r *bookRepository) RecountAvailability(db *gorm.DB, bookID uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Book{}).
		Where("id = ?", bookID).
		UpdateColumn("available_copies", gorm.Expr(
			"(SELECT COUNT(*) FROM book_copies WHERE book_copies.book_id = ? AND book_copies.status = ?)",
			bookID, models.BookCopyStatusAvailable,
		)).
		Error
}

type bookCopyRepository struct {
	db *gorm.DB
}

func NewBookCopyRepository(db *gorm.DB) BookCopyRepository {
	return &bookCopyRepository{db: db}
}

func (r *bookCopyRepository) Create(db *gorm.DB, copy *models.BookCopy) error {
	if db == nil {
		db = r.db
	}
	return db.Create(copy).Error
}

func (r *bookCopyRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.BookCopy, error) {
	if db == nil {
		db = r.db
	}
	var copy models.BookCopy
	if err := lockForUpdate(db).First(&copy, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &copy, nil
}

func (r *bookCopyRepository) FindAvailableForUpdate(db *gorm.DB, bookID uuid.UUID) (*models.BookCopy, error) {
	if db == nil {
		db = r.db
	}
	var copy models.BookCopy
	err := lockForUpdate(db).
		Where("book_id = ? AND status = ?", bookID, models.BookCopyStatusAvailable).
		Order("id").
		First(&copy).Error
	if err != nil {
		return nil, err
	}
	return &copy, nil
}

func (r *bookCopyRepository) UpdateStatus(db *gorm.DB, id uuid.UUID, status models.BookCopyStatus) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.BookCopy{}).
		Where("id = ?", id).
		Update("status", status).
		Error
}

type loanRepository struct {
	db *gorm.DB
}

func NewLoanRepository(db *gorm.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Create(db *gorm.DB, loan *models.Loan) error {
	if db == nil {
		db = r.db
	}
	return db.Create(loan).Error
}

func (r *loanRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := lockForUpdate(db).
		Preload("BookCopy").
		First(&loan, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) CountOpenByMember(db *gorm.DB, memberID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.Loan{}).
		Where("member_id = ? AND status IN ?", memberID,
			[]models.LoanStatus{models.LoanStatusOngoing, models.LoanStatusOverdue}).
		Count(&n).Error
	return n, err
}

func (r *loanRepository) ListByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loans []models.Loan
	if err := db.Where("member_id = ?", memberID).Order("borrowed_at DESC").Find(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *loanRepository) MarkReturned(db *gorm.DB, loanID uuid.UUID, returnedAt time.Time) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Loan{}).
		Where("id = ? AND returned_at IS NULL", loanID).
		Updates(map[string]interface{}{
			"returned_at": returnedAt,
			"status":      models.LoanStatusReturned,
		}).Error
}

func (r *loanRepository) Renew(db *gorm.DB, loanID uuid.UUID, newDue time.Time) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Loan{}).
		Where("id = ?", loanID).
		Updates(map[string]interface{}{
			"due_date":      newDue,
			"renewal_count": gorm.Expr("renewal_count + 1"),
		}).Error
}

func (r *loanRepository) MarkOverdue(db *gorm.DB, loanID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Loan{}).
		Where("id = ? AND status = ?", loanID, models.LoanStatusOngoing).
		Update("status", models.LoanStatusOverdue)
	return res.RowsAffected > 0, res.Error
}

func (r *loanRepository) ListDueSoon(db *gorm.DB, now time.Time, within time.Duration) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loans []models.Loan
	err := db.
		Where("status = ? AND due_date > ? AND due_date <= ?",
			models.LoanStatusOngoing, now, now.Add(within)).
		Find(&loans).Error
	if err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *loanRepository) ListPastDueOngoing(db *gorm.DB, now time.Time) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loans []models.Loan
	err := db.
		Where("status = ? AND due_date < ?", models.LoanStatusOngoing, now).
		Find(&loans).Error
	if err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *loanRepository) ListOverdue(db *gorm.DB) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loans []models.Loan
	if err := db.Where("status = ?", models.LoanStatusOverdue).Find(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *loanRepository) ListOverdueDueBefore(db *gorm.DB, cutoff time.Time) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loans []models.Loan
	err := db.
		Where("status = ? AND due_date < ?", models.LoanStatusOverdue, cutoff).
		Find(&loans).Error
	if err != nil {
		return nil, err
	}
	return loans, nil
}
