package services

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"circulation/internal/dispatch"
	"circulation/internal/models"
	"circulation/internal/repositories"
)

// CatalogService covers the librarian-facing catalog operations: titles,
// copies and the reservation queue.
type CatalogService interface {
	CreateBook(title, author string, totalCopies int, actor string) (*models.Book, error)
	AddBookCopy(bookID uuid.UUID, actor string) (*models.BookCopy, error)

	// SetCopyStatus moves a copy between AVAILABLE and UNAVAILABLE (repair,
	// loss). ON_LOAN is owned by the circulation engine and refused here.
	SetCopyStatus(copyID uuid.UUID, status models.BookCopyStatus, actor string) (*models.BookCopy, error)

	ListBooks() ([]models.Book, error)

	ReserveBook(bookID, memberID uuid.UUID) (*models.Reservation, error)
	CancelReservation(id uuid.UUID) error
	ListBookReservations(bookID uuid.UUID) ([]models.Reservation, error)
}

type catalogService struct {
	db              *gorm.DB
	memberRepo      repositories.MemberRepository
	bookRepo        repositories.BookRepository
	bookCopyRepo    repositories.BookCopyRepository
	reservationRepo repositories.ReservationRepository
	dispatcher      dispatch.Dispatcher
}

func NewCatalogService(
	db *gorm.DB,
	memberRepo repositories.MemberRepository,
	bookRepo repositories.BookRepository,
	bookCopyRepo repositories.BookCopyRepository,
	reservationRepo repositories.ReservationRepository,
	dispatcher dispatch.Dispatcher,
) CatalogService {
	return &catalogService{
		db:              db,
		memberRepo:      memberRepo,
		bookRepo:        bookRepo,
		bookCopyRepo:    bookCopyRepo,
		reservationRepo: reservationRepo,
		dispatcher:      dispatcher,
	}
}

// CreateBook creates a title together with the requested number of copies,
// all within a single transaction.
func (s *catalogService) CreateBook(title, author string, totalCopies int, actor string) (*models.Book, error) {
	book := &models.Book{
		Title:  title,
		Author: author,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.bookRepo.Create(tx, book); err != nil {
			log.Printf("[ERROR] CreateBook: failed to create book record: %v", err)
			return err
		}
		for i := 0; i < totalCopies; i++ {
			copy := &models.BookCopy{
				BookID: book.ID,
				Status: models.BookCopyStatusAvailable,
			}
			if err := s.bookCopyRepo.Create(tx, copy); err != nil {
				log.Printf("[ERROR] CreateBook: failed to create book copy %d: %v", i+1, err)
				return err
			}
		}
		if err := s.bookRepo.IncrementTotalCopies(tx, book.ID, totalCopies); err != nil {
			log.Printf("[ERROR] CreateBook: failed to increment total_copies: %v", err)
			return err
		}
		return s.bookRepo.RecountAvailability(tx, book.ID)
	})
	if err != nil {
		return nil, err
	}
	book.TotalCopies = totalCopies
	book.AvailableCopies = totalCopies

	log.Printf("[INFO] CreateBook: created book %q (id=%s) with %d copies", book.Title, book.ID, totalCopies)
	s.dispatcher.Audit(actor, "book_created", map[string]interface{}{
		"book_id": book.ID.String(),
		"title":   title,
		"copies":  totalCopies,
	})
	return book, nil
}

// AddBookCopy adds a single copy to an existing title, keeping total and
// available counts in step atomically.
func (s *catalogService) AddBookCopy(bookID uuid.UUID, actor string) (*models.BookCopy, error) {
	if _, err := s.bookRepo.GetByID(nil, bookID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}

	copy := &models.BookCopy{
		BookID: bookID,
		Status: models.BookCopyStatusAvailable,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.bookCopyRepo.Create(tx, copy); err != nil {
			log.Printf("[ERROR] AddBookCopy: failed to create copy for book %s: %v", bookID, err)
			return err
		}
		if err := s.bookRepo.IncrementTotalCopies(tx, bookID, 1); err != nil {
			log.Printf("[ERROR] AddBookCopy: failed to increment total_copies for book %s: %v", bookID, err)
			return err
		}
		return s.bookRepo.RecountAvailability(tx, bookID)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] AddBookCopy: added copy %s for book %s", copy.ID, bookID)
	s.dispatcher.Audit(actor, "copy_added", map[string]interface{}{
		"book_id": bookID.String(),
		"copy_id": copy.ID.String(),
	})
	return copy, nil
}

func (s *catalogService) SetCopyStatus(copyID uuid.UUID, status models.BookCopyStatus, actor string) (*models.BookCopy, error) {
	if status != models.BookCopyStatusAvailable && status != models.BookCopyStatusUnavailable {
		return nil, ErrCopyNotAvailableChange
	}

	var updated *models.BookCopy
	err := s.db.Transaction(func(tx *gorm.DB) error {
		copy, err := s.bookCopyRepo.GetByIDForUpdate(tx, copyID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCopyNotFound
			}
			return err
		}
		if copy.Status == models.BookCopyStatusOnLoan {
			log.Printf("[WARN] SetCopyStatus: copy %s is on loan, refusing status change", copyID)
			return ErrCopyNotAvailableChange
		}

		if err := s.bookCopyRepo.UpdateStatus(tx, copy.ID, status); err != nil {
			return err
		}
		if err := s.bookRepo.RecountAvailability(tx, copy.BookID); err != nil {
			return err
		}
		copy.Status = status
		updated = copy
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] SetCopyStatus: copy %s set to %s by %s", copyID, status, actor)
	s.dispatcher.Audit(actor, "copy_status_changed", map[string]interface{}{
		"copy_id": copyID.String(),
		"status":  string(status),
	})
	return updated, nil
}

func (s *catalogService) ListBooks() ([]models.Book, error) {
	return s.bookRepo.List(nil)
}

// ReserveBook queues the member for the next free copy of the title.
func (s *catalogService) ReserveBook(bookID, memberID uuid.UUID) (*models.Reservation, error) {
	var created *models.Reservation

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.memberRepo.GetByID(tx, memberID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}
		if _, err := s.bookRepo.GetByID(tx, bookID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		existing, err := s.reservationRepo.GetByBookAndMember(tx, bookID, memberID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil {
			log.Printf("[WARN] ReserveBook: member %s already has reservation %s for book %s", memberID, existing.ID, bookID)
			return ErrDuplicateReservation
		}

		res, err := s.createReservationWithRetry(tx, bookID, memberID)
		if err != nil {
			log.Printf("[ERROR] ReserveBook: failed to create reservation for member %s / book %s: %v", memberID, bookID, err)
			return err
		}
		created = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] ReserveBook: reservation %s created for member %s / book %s at position %d",
		created.ID, memberID, bookID, created.QueuePosition)
	s.dispatcher.Audit(memberID.String(), "book_reserved", map[string]interface{}{
		"reservation_id": created.ID.String(),
		"book_id":        bookID.String(),
		"position":       created.QueuePosition,
	})
	return created, nil
}

func (s *catalogService) CancelReservation(id uuid.UUID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.reservationRepo.GetByID(tx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return err
		}
		return s.reservationRepo.Delete(tx, id)
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] CancelReservation: reservation %s cancelled", id)
	return nil
}

func (s *catalogService) ListBookReservations(bookID uuid.UUID) ([]models.Reservation, error) {
	return s.reservationRepo.ListByBook(nil, bookID)
}

// createReservationWithRetry inserts a reservation into the queue for the
// given book/member. If a unique-constraint violation occurs on
// (book_id, queue_position) under concurrent load, the queue position is
// recalculated and the insert retried once.
func (s *catalogService) createReservationWithRetry(tx *gorm.DB, bookID, memberID uuid.UUID) (*models.Reservation, error) {
	nextPos, err := s.reservationRepo.GetNextQueuePosition(tx, bookID)
	if err != nil {
		return nil, err
	}

	res := &models.Reservation{
		BookID:        bookID,
		MemberID:      memberID,
		QueuePosition: nextPos,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.reservationRepo.Create(tx, res); err != nil {
		if !isUniqueViolation(err) {
			return nil, err
		}
		log.Printf("[WARN] createReservationWithRetry: queue_position collision at pos %d for book %s, retrying", nextPos, bookID)
		nextPos, err = s.reservationRepo.GetNextQueuePosition(tx, bookID)
		if err != nil {
			return nil, err
		}
		res = &models.Reservation{
			BookID:        bookID,
			MemberID:      memberID,
			QueuePosition: nextPos,
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.reservationRepo.Create(tx, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// isUniqueViolation checks whether a PostgreSQL unique-constraint error
// occurred. PostgreSQL error code 23505 = unique_violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
