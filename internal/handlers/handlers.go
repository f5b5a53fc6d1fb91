package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"circulation/internal/models"
	"circulation/internal/scheduler"
	"circulation/internal/services"
)

type CirculationHandler struct {
	circulation services.CirculationService
	fines       services.FineService
	holds       services.HoldService
	catalog     services.CatalogService
	members     services.MemberService
	sched       *scheduler.Scheduler
}

func RegisterRoutes(
	r *gin.Engine,
	circulation services.CirculationService,
	fines services.FineService,
	holds services.HoldService,
	catalog services.CatalogService,
	members services.MemberService,
	sched *scheduler.Scheduler,
) {
	h := &CirculationHandler{
		circulation: circulation,
		fines:       fines,
		holds:       holds,
		catalog:     catalog,
		members:     members,
		sched:       sched,
	}

	// Catalog (librarian)
	r.POST("/books", h.createBook)
	r.POST("/books/:id/copies", h.addBookCopy)
	r.PATCH("/copies/:id/status", h.setCopyStatus)
	r.GET("/books", h.listBooks)
	r.POST("/books/:id/reserve", h.reserveBook)
	r.DELETE("/reservations/:id", h.cancelReservation)
	r.GET("/books/:id/reservations", h.listBookReservations)

	// Circulation
	r.POST("/loans", h.createLoan)
	r.POST("/loans/:id/return", h.returnLoan)
	r.POST("/loans/:id/renew", h.renewLoan)
	r.GET("/members/:id/loans", h.listMemberLoans)

	// Fines
	r.POST("/fines", h.chargeFine)
	r.POST("/fines/:id/pay", h.payFine)
	r.POST("/fines/:id/waive", h.waiveFine)
	r.GET("/members/:id/fines", h.listMemberFines)

	// Holds
	r.POST("/holds", h.placeHold)
	r.POST("/holds/:id/remove", h.removeHold)
	r.GET("/members/:id/holds", h.listMemberHolds)

	// Member directory
	r.POST("/members", h.createMember)
	r.GET("/members/:id", h.getMember)
	r.GET("/members/:id/notifications", h.listMemberNotifications)

	// Escalation triggers
	r.POST("/escalations/run", h.runAllEscalations)
	r.POST("/escalations/:job/run", h.runEscalation)
}

// writeError maps the service error taxonomy onto HTTP status codes:
// eligibility failures are 422, state conflicts 409, not-found 404.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrIneligibleMember),
		errors.Is(err, services.ErrLimitExceeded),
		errors.Is(err, services.ErrNoAvailableUnit):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrAlreadyReturned),
		errors.Is(err, services.ErrAlreadyPaid),
		errors.Is(err, services.ErrAlreadyWaived),
		errors.Is(err, services.ErrHoldNotActive),
		errors.Is(err, services.ErrLoanNotOngoing),
		errors.Is(err, services.ErrTitleReserved),
		errors.Is(err, services.ErrDuplicateReservation),
		errors.Is(err, services.ErrCopyNotAvailableChange):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrMemberNotFound),
		errors.Is(err, services.ErrBookNotFound),
		errors.Is(err, services.ErrCopyNotFound),
		errors.Is(err, services.ErrLoanNotFound),
		errors.Is(err, services.ErrFineNotFound),
		errors.Is(err, services.ErrHoldNotFound),
		errors.Is(err, services.ErrReservationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrUnitUnspecified):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

// actor returns the acting identity for audit purposes. Authentication is an
// external collaborator; callers pass their identity in a header.
func actor(c *gin.Context) string {
	if a := c.GetHeader("X-Actor"); a != "" {
		return a
	}
	return "anonymous"
}

// ── Catalog ──

type createBookRequest struct {
	Title       string `json:"title" binding:"required"`
	Author      string `json:"author" binding:"required"`
	TotalCopies int    `json:"total_copies" binding:"min=0"`
}

func (h *CirculationHandler) createBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	book, err := h.catalog.CreateBook(req.Title, req.Author, req.TotalCopies, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *CirculationHandler) addBookCopy(c *gin.Context) {
	bookID, ok := pathID(c)
	if !ok {
		return
	}
	copy, err := h.catalog.AddBookCopy(bookID, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, copy)
}

type setCopyStatusRequest struct {
	Status models.BookCopyStatus `json:"status" binding:"required"`
}

func (h *CirculationHandler) setCopyStatus(c *gin.Context) {
	copyID, ok := pathID(c)
	if !ok {
		return
	}
	var req setCopyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	copy, err := h.catalog.SetCopyStatus(copyID, req.Status, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, copy)
}

func (h *CirculationHandler) listBooks(c *gin.Context) {
	books, err := h.catalog.ListBooks()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

type reserveBookRequest struct {
	MemberID string `json:"member_id" binding:"required,uuid"`
}

func (h *CirculationHandler) reserveBook(c *gin.Context) {
	bookID, ok := pathID(c)
	if !ok {
		return
	}
	var req reserveBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	memberID, _ := uuid.Parse(req.MemberID)
	res, err := h.catalog.ReserveBook(bookID, memberID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *CirculationHandler) cancelReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.catalog.CancelReservation(id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CirculationHandler) listBookReservations(c *gin.Context) {
	bookID, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.catalog.ListBookReservations(bookID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ── Circulation ──

type createLoanRequest struct {
	MemberID     string `json:"member_id" binding:"required,uuid"`
	BookID       string `json:"book_id" binding:"omitempty,uuid"`
	CopyID       string `json:"copy_id" binding:"omitempty,uuid"`
	DurationDays *int   `json:"duration_days" binding:"omitempty,min=1"`
}

func (h *CirculationHandler) createLoan(c *gin.Context) {
	var req createLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	memberID, _ := uuid.Parse(req.MemberID)

	var bookID, copyID *uuid.UUID
	if req.BookID != "" {
		id, _ := uuid.Parse(req.BookID)
		bookID = &id
	}
	if req.CopyID != "" {
		id, _ := uuid.Parse(req.CopyID)
		copyID = &id
	}

	loan, err := h.circulation.CreateLoan(memberID, bookID, copyID, req.DurationDays)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, loan)
}

func (h *CirculationHandler) returnLoan(c *gin.Context) {
	loanID, ok := pathID(c)
	if !ok {
		return
	}
	loan, err := h.circulation.ReturnLoan(loanID, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

func (h *CirculationHandler) renewLoan(c *gin.Context) {
	loanID, ok := pathID(c)
	if !ok {
		return
	}
	loan, err := h.circulation.RenewLoan(loanID, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

func (h *CirculationHandler) listMemberLoans(c *gin.Context) {
	memberID, ok := pathID(c)
	if !ok {
		return
	}
	loans, err := h.circulation.ListMemberLoans(memberID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

// ── Fines ──

type chargeFineRequest struct {
	MemberID string `json:"member_id" binding:"required,uuid"`
	Amount   int    `json:"amount" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
	LoanID   string `json:"loan_id" binding:"omitempty,uuid"`
}

func (h *CirculationHandler) chargeFine(c *gin.Context) {
	var req chargeFineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	memberID, _ := uuid.Parse(req.MemberID)
	var loanID *uuid.UUID
	if req.LoanID != "" {
		id, _ := uuid.Parse(req.LoanID)
		loanID = &id
	}
	fine, err := h.fines.ChargeFine(memberID, req.Amount, req.Reason, loanID, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fine)
}

type payFineRequest struct {
	Amount int `json:"amount" binding:"required"`
}

func (h *CirculationHandler) payFine(c *gin.Context) {
	fineID, ok := pathID(c)
	if !ok {
		return
	}
	var req payFineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fine, err := h.fines.PayFine(fineID, req.Amount, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fine)
}

type waiveFineRequest struct {
	Notes string `json:"notes"`
}

func (h *CirculationHandler) waiveFine(c *gin.Context) {
	fineID, ok := pathID(c)
	if !ok {
		return
	}
	var req waiveFineRequest
	_ = c.ShouldBindJSON(&req) // body is optional
	fine, err := h.fines.WaiveFine(fineID, actor(c), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fine)
}

func (h *CirculationHandler) listMemberFines(c *gin.Context) {
	memberID, ok := pathID(c)
	if !ok {
		return
	}
	fines, err := h.fines.ListMemberFines(memberID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fines)
}

// ── Holds ──

type placeHoldRequest struct {
	MemberID string `json:"member_id" binding:"required,uuid"`
	Reason   string `json:"reason" binding:"required"`
	LoanID   string `json:"loan_id" binding:"omitempty,uuid"`
	Notes    string `json:"notes"`
}

func (h *CirculationHandler) placeHold(c *gin.Context) {
	var req placeHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	memberID, _ := uuid.Parse(req.MemberID)
	var loanID *uuid.UUID
	if req.LoanID != "" {
		id, _ := uuid.Parse(req.LoanID)
		loanID = &id
	}
	hold, err := h.holds.PlaceHold(memberID, req.Reason, actor(c), loanID, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hold)
}

type removeHoldRequest struct {
	Notes string `json:"notes"`
}

func (h *CirculationHandler) removeHold(c *gin.Context) {
	holdID, ok := pathID(c)
	if !ok {
		return
	}
	var req removeHoldRequest
	_ = c.ShouldBindJSON(&req) // body is optional
	hold, err := h.holds.RemoveHold(holdID, actor(c), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hold)
}

func (h *CirculationHandler) listMemberHolds(c *gin.Context) {
	memberID, ok := pathID(c)
	if !ok {
		return
	}
	holds, err := h.holds.ListMemberHolds(memberID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, holds)
}

// ── Member directory ──

type createMemberRequest struct {
	Name             string            `json:"name" binding:"required"`
	Role             models.MemberRole `json:"role" binding:"required,oneof=MEMBER LIBRARIAN"`
	MaxBorrowedBooks int               `json:"max_borrowed_books" binding:"min=0"`
}

func (h *CirculationHandler) createMember(c *gin.Context) {
	var req createMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	member, err := h.members.CreateMember(req.Name, req.Role, req.MaxBorrowedBooks, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *CirculationHandler) getMember(c *gin.Context) {
	memberID, ok := pathID(c)
	if !ok {
		return
	}
	summary, err := h.members.GetMemberSummary(memberID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *CirculationHandler) listMemberNotifications(c *gin.Context) {
	memberID, ok := pathID(c)
	if !ok {
		return
	}
	notifications, err := h.members.ListMemberNotifications(memberID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, notifications)
}

// ── Escalations ──

func (h *CirculationHandler) runAllEscalations(c *gin.Context) {
	h.sched.RunAll()
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (h *CirculationHandler) runEscalation(c *gin.Context) {
	job := c.Param("job")
	if !h.sched.Run(job) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "job": job})
}
