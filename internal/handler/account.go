package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/peervest/lending-engine/internal/domain"
	"github.com/peervest/lending-engine/internal/service"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
	"github.com/peervest/lending-engine/pkg/money"
	"github.com/peervest/lending-engine/pkg/response"
)

type AccountHandler struct {
	ledger    *service.LedgerService
	validator *validator.Validate
}

func NewAccountHandler(ledger *service.LedgerService) *AccountHandler {
	return &AccountHandler{
		ledger:    ledger,
		validator: validator.New(),
	}
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return
	}

	account, err := h.ledger.CreateAccount(r.Context(), req.OwnerID, req.Role)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.Created(w, account)
}

func (h *AccountHandler) FundWallet(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(w, r, "accountId")
	if !ok {
		return
	}

	req, ok := h.walletRequest(w, r)
	if !ok {
		return
	}

	tx, err := h.ledger.FundWallet(r.Context(), accountID, req.Amount.Minor(), req.ExternalReference)
	if errors.Is(err, pkgerrors.ErrDuplicateReference) {
		// Safe retry: the original transaction already applied.
		response.Success(w, map[string]string{"status": "already_applied"})
		return
	}
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.Created(w, tx)
}

func (h *AccountHandler) WithdrawWallet(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(w, r, "accountId")
	if !ok {
		return
	}

	req, ok := h.walletRequest(w, r)
	if !ok {
		return
	}

	tx, err := h.ledger.WithdrawWallet(r.Context(), accountID, req.Amount.Minor(), req.ExternalReference)
	if errors.Is(err, pkgerrors.ErrDuplicateReference) {
		response.Success(w, map[string]string{"status": "already_applied"})
		return
	}
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.Created(w, tx)
}

func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(w, r, "accountId")
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(r.Context(), accountID)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.Success(w, domain.BalanceResponse{
		AccountID: accountID,
		Balance:   money.FromMinor(balance),
	})
}

func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(w, r, "accountId")
	if !ok {
		return
	}

	history, err := h.ledger.History(r.Context(), accountID)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.Success(w, domain.HistoryResponse{
		AccountID:    accountID,
		Transactions: history,
	})
}

func (h *AccountHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(w, r, "accountId")
	if !ok {
		return
	}

	if err := h.ledger.DeactivateAccount(r.Context(), accountID); err != nil {
		response.DomainError(w, err)
		return
	}

	response.Success(w, map[string]string{"status": "deactivated"})
}

func (h *AccountHandler) walletRequest(w http.ResponseWriter, r *http.Request) (*domain.WalletMutationRequest, bool) {
	var req domain.WalletMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return nil, false
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return nil, false
	}
	return &req, true
}

// pathUUID extracts and parses a UUID path variable, writing the error
// response itself when the value is malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(w, "Invalid "+name, err)
		return uuid.Nil, false
	}
	return id, true
}
