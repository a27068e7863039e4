package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/peervest/lending-engine/internal/domain"
	"github.com/peervest/lending-engine/internal/service"
	"github.com/peervest/lending-engine/pkg/response"
)

type LoanHandler struct {
	loans       *service.LoanService
	funding     *service.FundingService
	repayment   *service.RepaymentService
	projections *service.ProjectionService
	validator   *validator.Validate
}

func NewLoanHandler(
	loans *service.LoanService,
	funding *service.FundingService,
	repayment *service.RepaymentService,
	projections *service.ProjectionService,
) *LoanHandler {
	return &LoanHandler{
		loans:       loans,
		funding:     funding,
		repayment:   repayment,
		projections: projections,
		validator:   validator.New(),
	}
}

func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return
	}

	loan, err := h.loans.Create(r.Context(), req.BorrowerID, req.Amount.Minor(), req.InterestRate, req.TermDays)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.Created(w, loan)
}

func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	detail, err := h.projections.LoanDetail(r.Context(), loanID)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.Success(w, detail)
}

func (h *LoanHandler) StatusHistory(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	events, err := h.projections.StatusHistory(r.Context(), loanID)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.Success(w, events)
}

func (h *LoanHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	var req domain.ContributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return
	}

	loan, err := h.funding.Contribute(r.Context(), loanID, req.LenderID, req.Amount.Minor())
	if err != nil {
		response.DomainError(w, err)
		return
	}

	h.projections.InvalidateLoan(r.Context(), loanID)
	response.Success(w, loan)
}

func (h *LoanHandler) Repay(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	var req domain.RepayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return
	}

	loan, err := h.repayment.Repay(r.Context(), loanID, req.Amount.Minor())
	if err != nil {
		response.DomainError(w, err)
		return
	}

	h.projections.InvalidateLoan(r.Context(), loanID)
	response.Success(w, loan)
}

func (h *LoanHandler) Approve(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	loan, err := h.loans.Approve(r.Context(), loanID)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	h.projections.InvalidateLoan(r.Context(), loanID)
	response.Success(w, loan)
}

func (h *LoanHandler) Reject(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	loan, err := h.loans.Reject(r.Context(), loanID)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	h.projections.InvalidateLoan(r.Context(), loanID)
	response.Success(w, loan)
}
