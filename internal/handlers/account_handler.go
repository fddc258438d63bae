package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/catalog"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/services"
)

type AccountHandler struct {
	accounts  *services.AccountService
	ledger    *ledger.Ledger
	validator *services.ValidationHelper
	log       logrus.FieldLogger
}

func NewAccountHandler(accounts *services.AccountService, l *ledger.Ledger, log logrus.FieldLogger) *AccountHandler {
	return &AccountHandler{
		accounts:  accounts,
		ledger:    l,
		validator: services.NewValidationHelper(),
		log:       log,
	}
}

// Create opens the caller's account with a zero balance.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req services.CreateAccountRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	view, err := h.accounts.CreateAccount(r.Context(), p, req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	view, err := h.accounts.GetAccount(r.Context(), p.UserID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	rec, err := h.ledger.GetBalance(r.Context(), p.UserID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CatalogHandler serves the read-only package and tier listings.
type CatalogHandler struct {
	catalog *catalog.Catalog
}

func NewCatalogHandler(cat *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: cat}
}

func (h *CatalogHandler) Packages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": h.catalog.Packages()})
}

func (h *CatalogHandler) Tiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"contributorTiers": h.catalog.Tiers(),
		"commissionTiers":  h.catalog.CommissionTiers(),
	})
}
