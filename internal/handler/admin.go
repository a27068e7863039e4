package handler

import (
	"net/http"
	"time"

	"github.com/peervest/lending-engine/internal/service"
	"github.com/peervest/lending-engine/pkg/response"
)

type AdminHandler struct {
	sweeper     *service.SweeperService
	projections *service.ProjectionService
	ledger      *service.LedgerService
}

func NewAdminHandler(sweeper *service.SweeperService, projections *service.ProjectionService, ledger *service.LedgerService) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, projections: projections, ledger: ledger}
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.projections.SystemStats(r.Context())
	if err != nil {
		response.InternalServerError(w, "Failed to aggregate stats", err)
		return
	}

	response.Success(w, stats)
}

// VerifyBalance recomputes an account balance from its transaction log
// and reports whether it matches the stored value.
func (h *AdminHandler) VerifyBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(w, r, "accountId")
	if !ok {
		return
	}

	stored, derived, err := h.ledger.VerifyBalance(r.Context(), accountID)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"account_id": accountID,
		"stored":     stored,
		"derived":    derived,
		"consistent": stored == derived,
	})
}

// Sweep triggers the overdue/default sweep on demand, outside the
// scheduler's cadence.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.Sweep(r.Context(), time.Now().UTC())
	if err != nil {
		response.InternalServerError(w, "Sweep failed", err)
		return
	}

	response.Success(w, result)
}
