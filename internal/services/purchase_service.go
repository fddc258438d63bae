package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/audit"
	"github.com/yieldledger/backend/internal/catalog"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
)

type PurchaseRequest struct {
	PackageID string `json:"packageId" validate:"required,max=64"`
}

type PurchaseService struct {
	ledger    *ledger.Ledger
	catalog   catalog.Reader
	referrals *ReferralService
	audit     *audit.Logger
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewPurchaseService(l *ledger.Ledger, cat catalog.Reader, referrals *ReferralService, auditLog *audit.Logger, log logrus.FieldLogger) *PurchaseService {
	return &PurchaseService{
		ledger:    l,
		catalog:   cat,
		referrals: referrals,
		audit:     auditLog,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Purchase debits the package price and opens an active investment in one unit of work,
// refreshing the buyer's active flag alongside. The referral commission is awarded once
// after commit; its failure does not undo the purchase.
func (s *PurchaseService) Purchase(ctx context.Context, actor models.Principal, packageID string) (*models.Investment, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}

	pkg, err := s.catalog.Package(packageID)
	if err != nil {
		return nil, err
	}

	inv := &models.Investment{
		ID:           uuid.NewString(),
		UserID:       actor.UserID,
		PackageID:    pkg.ID,
		PackageName:  pkg.Name,
		Price:        pkg.Price,
		DailyReturn:  pkg.DailyReturn,
		DurationDays: pkg.DurationDays,
		TotalReturn:  pkg.TotalReturn(),
		Status:       models.InvestmentActive,
	}

	err = s.ledger.Run(ctx, "purchase", func(tx ledger.Tx) error {
		if _, err := activeUser(ctx, tx, actor.UserID); err != nil {
			return err
		}

		if _, err := ledger.ApplyDelta(ctx, tx, actor.UserID, ledger.Delta{
			Amount:    pkg.Price.Neg(),
			Kind:      models.EntryPurchase,
			Reference: inv.ID,
		}); err != nil {
			return err
		}

		now := s.now()
		inv.StartedAt = now
		inv.UpdatedAt = now
		if err := tx.InsertInvestment(ctx, inv); err != nil {
			return err
		}

		_, err := syncActiveFlag(ctx, tx, actor.UserID)
		return err
	})
	if err != nil {
		s.audit.LogError("PURCHASE", inv.ID, actor.UserID, err)
		return nil, err
	}

	s.audit.LogMovement("PURCHASE", inv.ID, actor.UserID, actor.UserID, pkg.Price.Neg())
	s.log.WithFields(logrus.Fields{
		"user_id":       actor.UserID,
		"investment_id": inv.ID,
		"package_id":    pkg.ID,
		"price":         pkg.Price.String(),
	}).Info("[Purchase] investment opened")

	if s.referrals != nil {
		if _, err := s.referrals.Award(ctx, actor.UserID, inv.ID, inv.Price); err != nil {
			s.log.WithFields(logrus.Fields{
				"user_id":       actor.UserID,
				"investment_id": inv.ID,
				"error":         err,
			}).Error("[Purchase] referral commission failed")
		}
	}

	return inv, nil
}
