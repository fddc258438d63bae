package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
)

type MaturitySummary struct {
	Completed int `json:"completed"`
	Failures  int `json:"failures"`
}

// MaturitySweep completes active investments that have run their full duration.
type MaturitySweep struct {
	ledger *ledger.Ledger
	log    logrus.FieldLogger
}

func NewMaturitySweep(l *ledger.Ledger, log logrus.FieldLogger) *MaturitySweep {
	return &MaturitySweep{ledger: l, log: log}
}

// Run completes each matured investment in its own unit of work so one failure does not
// hold back the rest.
func (s *MaturitySweep) Run(ctx context.Context, now time.Time) (*MaturitySummary, error) {
	var matured []*models.Investment
	err := s.ledger.Run(ctx, "maturity_scan", func(tx ledger.Tx) error {
		var err error
		matured, err = tx.ListMaturedInvestments(ctx, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	summary := &MaturitySummary{}
	for _, candidate := range matured {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		completed := false
		err := s.ledger.Run(ctx, "maturity_complete", func(tx ledger.Tx) error {
			completed = false
			inv, err := tx.LockInvestment(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if inv.Status != models.InvestmentActive || inv.MaturesAt().After(now) {
				return nil
			}
			inv.Status = models.InvestmentCompleted
			inv.UpdatedAt = now.UTC()
			if err := tx.UpdateInvestment(ctx, inv); err != nil {
				return err
			}
			if _, err := syncActiveFlag(ctx, tx, inv.UserID); err != nil {
				return err
			}
			completed = true
			return nil
		})
		if err != nil {
			summary.Failures++
			s.log.WithFields(logrus.Fields{"investment_id": candidate.ID, "error": err}).Error("[Maturity] completion failed")
			continue
		}
		if completed {
			summary.Completed++
		}
	}

	s.log.WithFields(logrus.Fields{"completed": summary.Completed, "failures": summary.Failures}).Info("[Maturity] sweep complete")
	return summary, nil
}
