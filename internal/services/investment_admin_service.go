package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/audit"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
)

type InvestmentStatusRequest struct {
	Status models.InvestmentStatus `json:"status" validate:"required,oneof=active completed"`
}

type PricingUpdate struct {
	Price        decimal.Decimal `json:"price"`
	DailyReturn  decimal.Decimal `json:"dailyReturn"`
	DurationDays int             `json:"durationDays" validate:"required,gt=0"`
}

// InvestmentAdminService edits investments on behalf of administrators. Every edit
// refreshes the owner's active flag in the same unit of work.
type InvestmentAdminService struct {
	ledger *ledger.Ledger
	policy AuthorizationPolicy
	audit  *audit.Logger
	log    logrus.FieldLogger
}

func NewInvestmentAdminService(l *ledger.Ledger, policy AuthorizationPolicy, auditLog *audit.Logger, log logrus.FieldLogger) *InvestmentAdminService {
	return &InvestmentAdminService{ledger: l, policy: policy, audit: auditLog, log: log}
}

func (s *InvestmentAdminService) SetStatus(ctx context.Context, actor models.Principal, investmentID string, status models.InvestmentStatus) (*models.Investment, error) {
	if err := requireAdmin(s.policy, actor); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown investment status %q", ledger.ErrInvalidStateTransition, status)
	}

	var inv *models.Investment
	var from models.InvestmentStatus
	err := s.ledger.Run(ctx, "investment_status", func(tx ledger.Tx) error {
		var err error
		if inv, err = tx.LockInvestment(ctx, investmentID); err != nil {
			return err
		}
		from = inv.Status
		inv.Status = status
		inv.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateInvestment(ctx, inv); err != nil {
			return err
		}
		_, err = syncActiveFlag(ctx, tx, inv.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogTransition("INVESTMENT", inv.ID, inv.UserID, actor.UserID, string(from), string(status))
	return inv, nil
}

// UpdatePricing rewrites price, daily return and duration. Total return is recomputed.
func (s *InvestmentAdminService) UpdatePricing(ctx context.Context, actor models.Principal, investmentID string, upd PricingUpdate) (*models.Investment, error) {
	if err := requireAdmin(s.policy, actor); err != nil {
		return nil, err
	}
	if !ledger.ValidAmount(upd.Price) || !ledger.ValidAmount(upd.DailyReturn) || upd.DurationDays <= 0 {
		return nil, fmt.Errorf("%w: price and daily return must be positive whole cents, duration positive", ledger.ErrInvalidAmount)
	}

	var inv *models.Investment
	err := s.ledger.Run(ctx, "investment_pricing", func(tx ledger.Tx) error {
		var err error
		if inv, err = tx.LockInvestment(ctx, investmentID); err != nil {
			return err
		}
		inv.Price = upd.Price
		inv.DailyReturn = upd.DailyReturn
		inv.DurationDays = upd.DurationDays
		inv.TotalReturn = upd.DailyReturn.Mul(decimal.NewFromInt(int64(upd.DurationDays)))
		inv.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateInvestment(ctx, inv); err != nil {
			return err
		}
		_, err = syncActiveFlag(ctx, tx, inv.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"investment_id": inv.ID,
		"admin_id":      actor.UserID,
		"price":         inv.Price.String(),
		"daily_return":  inv.DailyReturn.String(),
	}).Info("[Investments] pricing updated")
	return inv, nil
}

func (s *InvestmentAdminService) Delete(ctx context.Context, actor models.Principal, investmentID string) error {
	if err := requireAdmin(s.policy, actor); err != nil {
		return err
	}

	var owner string
	err := s.ledger.Run(ctx, "investment_delete", func(tx ledger.Tx) error {
		inv, err := tx.LockInvestment(ctx, investmentID)
		if err != nil {
			return err
		}
		owner = inv.UserID
		if err := tx.DeleteInvestment(ctx, investmentID); err != nil {
			return err
		}
		_, err = syncActiveFlag(ctx, tx, owner)
		return err
	})
	if err != nil {
		return err
	}

	s.audit.LogTransition("INVESTMENT", investmentID, owner, actor.UserID, "present", "deleted")
	return nil
}
