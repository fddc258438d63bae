package handlers

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/services"
)

// CronHandler is invoked by the external scheduler. Routes sit behind the cron key check.
type CronHandler struct {
	accrual  *services.AccrualEngine
	maturity *services.MaturitySweep
	now      func() time.Time
	log      logrus.FieldLogger
}

func NewCronHandler(accrual *services.AccrualEngine, maturity *services.MaturitySweep, log logrus.FieldLogger) *CronHandler {
	return &CronHandler{
		accrual:  accrual,
		maturity: maturity,
		now:      time.Now,
		log:      log,
	}
}

// DailyAccrual runs the accrual cycle for today, or for the date given in ?date=YYYY-MM-DD.
func (h *CronHandler) DailyAccrual(w http.ResponseWriter, r *http.Request) {
	runDate := h.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := h.accrual.ParseRunDate(raw)
		if err != nil {
			services.SendErrorResponse(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		runDate = parsed
	}

	summary, err := h.accrual.Run(r.Context(), runDate)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *CronHandler) Maturity(w http.ResponseWriter, r *http.Request) {
	summary, err := h.maturity.Run(r.Context(), h.now().UTC())
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
