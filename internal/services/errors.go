package services

import "errors"

// Eligibility failures: surfaced to the caller, never retried automatically.
var (
	// ErrIneligibleMember is returned when the member has an active account
	// hold and may not borrow.
	ErrIneligibleMember = errors.New("member has an active hold and cannot borrow")

	// ErrLimitExceeded is returned when the member is already at their
	// borrowing cap.
	ErrLimitExceeded = errors.New("member has reached the borrowing limit")

	// ErrNoAvailableUnit is returned when no copy of the requested title is
	// available, or an explicitly requested copy is not available.
	ErrNoAvailableUnit = errors.New("no available copy for this title")
)

// State-conflict failures: idempotency guards, safe to ignore on a retried
// duplicate request.
var (
	ErrAlreadyReturned        = errors.New("loan already returned")
	ErrAlreadyPaid            = errors.New("fine already paid")
	ErrAlreadyWaived          = errors.New("fine already waived")
	ErrHoldNotActive          = errors.New("hold is not active")
	ErrLoanNotOngoing         = errors.New("loan is not ongoing")
	ErrTitleReserved          = errors.New("title has active reservations, renewal refused")
	ErrDuplicateReservation   = errors.New("member already has an active reservation for this title")
	ErrCopyNotAvailableChange = errors.New("copy is on loan, status cannot be changed")
)

// Input failures.
var (
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrUnitUnspecified = errors.New("either a book id or a copy id must be given")
)

// Not-found failures.
var (
	ErrMemberNotFound      = errors.New("member not found")
	ErrBookNotFound        = errors.New("book not found")
	ErrCopyNotFound        = errors.New("book copy not found")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrFineNotFound        = errors.New("fine not found")
	ErrHoldNotFound        = errors.New("hold not found")
	ErrReservationNotFound = errors.New("reservation not found")
)
