package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/ledger"
	mW "github.com/yieldledger/backend/internal/middleware"
	"github.com/yieldledger/backend/internal/models"
	"github.com/yieldledger/backend/internal/notify"
	"github.com/yieldledger/backend/internal/services"
)

const maxBodyBytes = 1_048_576

// decodeJSON reads exactly one JSON object into dst and validates it. It writes the
// error response itself and reports whether the handler may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := v.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// principal returns the authenticated caller, answering 401 when there is none.
func principal(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := mW.PrincipalFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
	}
	return p, ok
}

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, services.ErrFutureRunDate):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnauthorized), errors.Is(err, ledger.ErrAccountDisabled):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidStateTransition), errors.Is(err, ledger.ErrAlreadyExists),
		errors.Is(err, services.ErrAccrualInProgress):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrNotEligible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, notify.ErrNotificationFailed):
		return http.StatusBadGateway
	case errors.Is(err, ledger.ErrTransientConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log logrus.FieldLogger, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.WithFields(logrus.Fields{"path": r.URL.Path, "method": r.Method, "error": err}).Error("[API] request failed")
		message = "Internal server error"
	} else {
		log.WithFields(logrus.Fields{"path": r.URL.Path, "status": status, "error": err}).Debug("[API] request refused")
	}
	services.SendErrorResponse(w, message, status, nil)
}
