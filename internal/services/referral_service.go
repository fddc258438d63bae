package services

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/audit"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
	"github.com/yieldledger/backend/internal/notify"
)

// ReferralService credits the investor's referrer a one-time share of an investment.
// It does not deduplicate: callers invoke it once per qualifying investment.
type ReferralService struct {
	ledger *ledger.Ledger
	rate   decimal.Decimal
	alerts *adminAlerts
	audit  *audit.Logger
	log    logrus.FieldLogger
}

// NewReferralService builds the service. Commission notifications are always best-effort.
func NewReferralService(l *ledger.Ledger, rate decimal.Decimal, notifier notify.Notifier, auditLog *audit.Logger, log logrus.FieldLogger) *ReferralService {
	return &ReferralService{
		ledger: l,
		rate:   rate,
		alerts: newAdminAlerts(notifier, false, log),
		audit:  auditLog,
		log:    log,
	}
}

// Award returns the commission credited, zero when the investor has no referrer.
func (s *ReferralService) Award(ctx context.Context, investorID, investmentID string, amount decimal.Decimal) (decimal.Decimal, error) {
	commission := decimal.Zero
	referrerID := ""

	err := s.ledger.Run(ctx, "referral_award", func(tx ledger.Tx) error {
		commission = decimal.Zero
		investor, err := tx.GetUser(ctx, investorID)
		if err != nil {
			return err
		}
		referrerID = investor.ReferrerID
		if referrerID == "" {
			return nil
		}

		c := amount.Mul(s.rate).Round(2)
		if !c.IsPositive() {
			return nil
		}

		if _, err := ledger.ApplyDelta(ctx, tx, referrerID, ledger.Delta{
			Amount:          c,
			CreateIfMissing: true,
			Kind:            models.EntryCommission,
			Reference:       investmentID,
		}); err != nil {
			return err
		}
		commission = c
		return nil
	})
	if err != nil {
		s.audit.LogError("REFERRAL_COMMISSION", investmentID, investorID, err)
		return decimal.Zero, err
	}

	if commission.IsPositive() {
		s.audit.LogMovement("REFERRAL_COMMISSION", investmentID, referrerID, investorID, commission)
		s.log.WithFields(logrus.Fields{
			"investor_id":   investorID,
			"referrer_id":   referrerID,
			"investment_id": investmentID,
			"commission":    commission.String(),
		}).Info("[Referral] commission credited")

		_ = s.alerts.send(ctx, notify.Notification{
			Kind:      notify.KindReferralCommission,
			UserID:    referrerID,
			Reference: investmentID,
			Amount:    commission,
		})
	}
	return commission, nil
}
