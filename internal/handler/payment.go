package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/peervest/lending-engine/internal/domain"
	"github.com/peervest/lending-engine/internal/service"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
	"github.com/peervest/lending-engine/pkg/response"
)

type PaymentHandler struct {
	reconciliation *service.ReconciliationService
	projections    *service.ProjectionService
	validator      *validator.Validate
}

func NewPaymentHandler(reconciliation *service.ReconciliationService, projections *service.ProjectionService) *PaymentHandler {
	return &PaymentHandler{
		reconciliation: reconciliation,
		projections:    projections,
		validator:      validator.New(),
	}
}

func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return
	}

	intent, err := h.reconciliation.CreateIntent(r.Context(), &req)
	if errors.Is(err, pkgerrors.ErrDuplicateReference) {
		response.Conflict(w, "Intent already exists", err)
		return
	}
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.Created(w, intent)
}

// Webhook is the at-least-once confirmation callback from the payment
// processor. It always answers 200 for handled intents, including
// duplicates, so the processor stops retrying.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req domain.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid webhook payload", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return
	}

	intent, err := h.reconciliation.Confirm(r.Context(), req.IntentID, req.Outcome, req.Amount.Minor(), req.Currency)
	if intent != nil {
		h.projections.InvalidateLoan(r.Context(), intent.LoanID)
	}
	if errors.Is(err, pkgerrors.ErrIntentNotFound) {
		response.NotFound(w, "Unknown payment intent", err)
		return
	}
	if err != nil {
		// The intent is marked failed; the processor should not retry.
		response.Success(w, map[string]string{"status": "failed", "detail": err.Error()})
		return
	}

	response.Success(w, map[string]string{"status": "processed"})
}
