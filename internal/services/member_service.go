package services

import (
	"errors"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"circulation/internal/config"
	"circulation/internal/dispatch"
	"circulation/internal/models"
	"circulation/internal/repositories"
)

// MemberSummary is the member-directory view the circulation engine's callers
// consume: the member plus their current circulation counters.
type MemberSummary struct {
	models.Member
	OpenLoans       int64 `json:"open_loans"`
	ActiveHolds     int64 `json:"active_holds"`
	UnresolvedFines int64 `json:"unresolved_fines"`
}

type MemberService interface {
	CreateMember(name string, role models.MemberRole, maxBorrowedBooks int, actor string) (*models.Member, error)
	GetMemberSummary(memberID uuid.UUID) (*MemberSummary, error)
	ListMemberNotifications(memberID uuid.UUID) ([]models.Notification, error)
}

type memberService struct {
	cfg              config.Config
	memberRepo       repositories.MemberRepository
	loanRepo         repositories.LoanRepository
	holdRepo         repositories.HoldRepository
	fineRepo         repositories.FineRepository
	notificationRepo repositories.NotificationRepository
	dispatcher       dispatch.Dispatcher
}

func NewMemberService(
	cfg config.Config,
	memberRepo repositories.MemberRepository,
	loanRepo repositories.LoanRepository,
	holdRepo repositories.HoldRepository,
	fineRepo repositories.FineRepository,
	notificationRepo repositories.NotificationRepository,
	dispatcher dispatch.Dispatcher,
) MemberService {
	return &memberService{
		cfg:              cfg,
		memberRepo:       memberRepo,
		loanRepo:         loanRepo,
		holdRepo:         holdRepo,
		fineRepo:         fineRepo,
		notificationRepo: notificationRepo,
		dispatcher:       dispatcher,
	}
}

func (s *memberService) CreateMember(name string, role models.MemberRole, maxBorrowedBooks int, actor string) (*models.Member, error) {
	if maxBorrowedBooks <= 0 {
		maxBorrowedBooks = s.cfg.MaxBorrowedBooks
	}
	member := &models.Member{
		Name:             name,
		Role:             role,
		MaxBorrowedBooks: maxBorrowedBooks,
	}
	if err := s.memberRepo.Create(nil, member); err != nil {
		log.Printf("[ERROR] CreateMember: failed to create member: %v", err)
		return nil, err
	}
	log.Printf("[INFO] CreateMember: member %s created (limit=%d)", member.ID, maxBorrowedBooks)
	s.dispatcher.Audit(actor, "member_created", map[string]interface{}{
		"member_id": member.ID.String(),
		"limit":     maxBorrowedBooks,
	})
	return member, nil
}

func (s *memberService) GetMemberSummary(memberID uuid.UUID) (*MemberSummary, error) {
	member, err := s.memberRepo.GetByID(nil, memberID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	openLoans, err := s.loanRepo.CountOpenByMember(nil, memberID)
	if err != nil {
		return nil, err
	}
	activeHolds, err := s.holdRepo.CountActiveByMember(nil, memberID)
	if err != nil {
		return nil, err
	}
	unresolved, err := s.fineRepo.CountUnresolvedByMember(nil, memberID)
	if err != nil {
		return nil, err
	}
	return &MemberSummary{
		Member:          *member,
		OpenLoans:       openLoans,
		ActiveHolds:     activeHolds,
		UnresolvedFines: unresolved,
	}, nil
}

// ListMemberNotifications returns the member's notifications, newest first.
func (s *memberService) ListMemberNotifications(memberID uuid.UUID) ([]models.Notification, error) {
	if _, err := s.memberRepo.GetByID(nil, memberID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return s.notificationRepo.ListByMember(nil, memberID)
}
