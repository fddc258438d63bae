package handlers

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/notify"
	"github.com/yieldledger/backend/internal/services"
)

type FundingHandler struct {
	funding     *services.FundingService
	purchases   *services.PurchaseService
	contributor *services.ContributorService
	validator   *services.ValidationHelper
	log         logrus.FieldLogger
}

func NewFundingHandler(funding *services.FundingService, purchases *services.PurchaseService, contributor *services.ContributorService, log logrus.FieldLogger) *FundingHandler {
	return &FundingHandler{
		funding:     funding,
		purchases:   purchases,
		contributor: contributor,
		validator:   services.NewValidationHelper(),
		log:         log,
	}
}

// writeCreated answers 201 for a committed record. A strict-mode notification failure
// still carries the record, so the caller learns both.
func (h *FundingHandler) writeCreated(w http.ResponseWriter, r *http.Request, record any, err error) {
	if err != nil && errors.Is(err, notify.ErrNotificationFailed) {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  err.Error(),
			"record": record,
		})
		return
	}
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *FundingHandler) SubmitDeposit(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req services.DepositRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	deposit, err := h.funding.SubmitDeposit(r.Context(), p, req.Amount, req.Proof)
	h.writeCreated(w, r, deposit, err)
}

func (h *FundingHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	deposits, err := h.funding.ListDeposits(r.Context(), p)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": deposits})
}

func (h *FundingHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req services.WithdrawalRequestBody
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	withdrawal, err := h.funding.RequestWithdrawal(r.Context(), p, req.Amount, req.Destination)
	h.writeCreated(w, r, withdrawal, err)
}

func (h *FundingHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	withdrawals, err := h.funding.ListWithdrawals(r.Context(), p)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": withdrawals})
}

func (h *FundingHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req services.PurchaseRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	inv, err := h.purchases.Purchase(r.Context(), p, req.PackageID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *FundingHandler) ContributorEligibility(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	elig, err := h.contributor.CheckEligibility(r.Context(), p.UserID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, elig)
}

// ApplyContributor checks referral eligibility before the deposit is taken.
func (h *FundingHandler) ApplyContributor(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req services.ContributorApplyRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	elig, err := h.contributor.CheckEligibility(r.Context(), p.UserID)
	if err == nil {
		err = elig.Err()
	}
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}

	app, err := h.contributor.Apply(r.Context(), p, req.TierID)
	h.writeCreated(w, r, app, err)
}
