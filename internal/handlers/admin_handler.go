package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/models"
	"github.com/yieldledger/backend/internal/services"
)

// AdminHandler exposes the approval and administration operations. Routes are mounted
// behind the admin gate; the services re-check the policy themselves.
type AdminHandler struct {
	approvals   *services.ApprovalService
	contributor *services.ContributorService
	investments *services.InvestmentAdminService
	accounts    *services.AccountService
	sync        *services.StatusSync
	validator   *services.ValidationHelper
	log         logrus.FieldLogger
}

func NewAdminHandler(
	approvals *services.ApprovalService,
	contributor *services.ContributorService,
	investments *services.InvestmentAdminService,
	accounts *services.AccountService,
	sync *services.StatusSync,
	log logrus.FieldLogger,
) *AdminHandler {
	return &AdminHandler{
		approvals:   approvals,
		contributor: contributor,
		investments: investments,
		accounts:    accounts,
		sync:        sync,
		validator:   services.NewValidationHelper(),
		log:         log,
	}
}

// resolveHandler adapts an approve/reject operation taking the record id from the path.
func resolveHandler[T any](log logrus.FieldLogger, op func(r *http.Request, actor models.Principal, id string) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		record, err := op(r, p, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, log, r, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

func (h *AdminHandler) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	resolveHandler(h.log, func(r *http.Request, actor models.Principal, id string) (*models.DepositProof, error) {
		return h.approvals.ApproveDeposit(r.Context(), actor, id)
	})(w, r)
}

func (h *AdminHandler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	resolveHandler(h.log, func(r *http.Request, actor models.Principal, id string) (*models.DepositProof, error) {
		return h.approvals.RejectDeposit(r.Context(), actor, id)
	})(w, r)
}

func (h *AdminHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	resolveHandler(h.log, func(r *http.Request, actor models.Principal, id string) (*models.WithdrawalRequest, error) {
		return h.approvals.ApproveWithdrawal(r.Context(), actor, id)
	})(w, r)
}

func (h *AdminHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	resolveHandler(h.log, func(r *http.Request, actor models.Principal, id string) (*models.WithdrawalRequest, error) {
		return h.approvals.RejectWithdrawal(r.Context(), actor, id)
	})(w, r)
}

func (h *AdminHandler) ApproveContributor(w http.ResponseWriter, r *http.Request) {
	resolveHandler(h.log, func(r *http.Request, actor models.Principal, id string) (*models.ContributorApplication, error) {
		return h.contributor.Approve(r.Context(), actor, id)
	})(w, r)
}

func (h *AdminHandler) RejectContributor(w http.ResponseWriter, r *http.Request) {
	resolveHandler(h.log, func(r *http.Request, actor models.Principal, id string) (*models.ContributorApplication, error) {
		return h.contributor.Reject(r.Context(), actor, id)
	})(w, r)
}

func (h *AdminHandler) SetInvestmentStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req services.InvestmentStatusRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	inv, err := h.investments.SetStatus(r.Context(), p, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *AdminHandler) UpdateInvestmentPricing(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req services.PricingUpdate
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	inv, err := h.investments.UpdatePricing(r.Context(), p, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *AdminHandler) DeleteInvestment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.investments.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) SetUserDisabled(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req struct {
		Disabled *bool `json:"disabled" validate:"required"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	user, err := h.accounts.SetDisabled(r.Context(), p, chi.URLParam(r, "id"), *req.Disabled)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SyncUser recomputes the user's active-investment flag on demand.
func (h *AdminHandler) SyncUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(w, r); !ok {
		return
	}

	userID := chi.URLParam(r, "id")
	active, err := h.sync.Sync(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "hasActiveInvestment": active})
}
