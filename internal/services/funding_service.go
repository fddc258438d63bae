package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/audit"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
	"github.com/yieldledger/backend/internal/notify"
)

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Proof  string          `json:"proof" validate:"required,max=256"`
}

type WithdrawalRequestBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination json.RawMessage `json:"destination" validate:"required"`
}

// FundingService creates deposit proofs and withdrawal requests for review.
type FundingService struct {
	ledger    *ledger.Ledger
	alerts    *adminAlerts
	holdFunds bool
	audit     *audit.Logger
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewFundingService builds the service. With holdFunds set, withdrawals are debited at
// request time and refunded on rejection.
func NewFundingService(l *ledger.Ledger, notifier notify.Notifier, strictNotify, holdFunds bool, auditLog *audit.Logger, log logrus.FieldLogger) *FundingService {
	return &FundingService{
		ledger:    l,
		alerts:    newAdminAlerts(notifier, strictNotify, log),
		holdFunds: holdFunds,
		audit:     auditLog,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitDeposit records a pending deposit proof. The balance is untouched until approval.
// In strict notification mode the committed proof is returned together with the
// notification error.
func (s *FundingService) SubmitDeposit(ctx context.Context, actor models.Principal, amount decimal.Decimal, proof string) (*models.DepositProof, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	if !ledger.ValidAmount(amount) {
		return nil, fmt.Errorf("%w: deposit must be positive whole cents, got %s", ledger.ErrInvalidAmount, amount.String())
	}
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return nil, fmt.Errorf("%w: proof is required", ledger.ErrInvalidAmount)
	}

	d := &models.DepositProof{
		ID:          uuid.NewString(),
		UserID:      actor.UserID,
		Amount:      amount,
		Proof:       proof,
		SubmittedAt: s.now(),
		Status:      models.StatusPending,
	}

	err := s.ledger.Run(ctx, "submit_deposit", func(tx ledger.Tx) error {
		if _, err := activeUser(ctx, tx, actor.UserID); err != nil {
			return err
		}
		return tx.InsertDeposit(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": actor.UserID, "deposit_id": d.ID, "amount": amount.String()}).Info("[Funding] deposit proof submitted")

	return d, s.alerts.send(ctx, notify.Notification{
		Kind:      notify.KindDepositSubmitted,
		UserID:    actor.UserID,
		Reference: d.ID,
		Amount:    amount,
	})
}

// RequestWithdrawal records a pending withdrawal after checking, inside the unit of work,
// that the balance covers it.
func (s *FundingService) RequestWithdrawal(ctx context.Context, actor models.Principal, amount decimal.Decimal, destination json.RawMessage) (*models.WithdrawalRequest, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	if !ledger.ValidAmount(amount) {
		return nil, fmt.Errorf("%w: withdrawal must be positive whole cents, got %s", ledger.ErrInvalidAmount, amount.String())
	}
	if len(destination) == 0 {
		destination = json.RawMessage(`{}`)
	}

	w := &models.WithdrawalRequest{
		ID:          uuid.NewString(),
		UserID:      actor.UserID,
		Amount:      amount,
		Destination: destination,
		RequestedAt: s.now(),
		Status:      models.StatusPending,
		FundsHeld:   s.holdFunds,
	}

	err := s.ledger.Run(ctx, "request_withdrawal", func(tx ledger.Tx) error {
		if _, err := activeUser(ctx, tx, actor.UserID); err != nil {
			return err
		}

		if s.holdFunds {
			if _, err := ledger.ApplyDelta(ctx, tx, actor.UserID, ledger.Delta{
				Amount:    amount.Neg(),
				Kind:      models.EntryWithdrawalHold,
				Reference: w.ID,
			}); err != nil {
				return err
			}
		} else {
			rec, err := tx.LockBalance(ctx, actor.UserID)
			if err != nil {
				return err
			}
			if rec.Available.LessThan(amount) {
				return fmt.Errorf("%w: available %s, requested %s", ledger.ErrInsufficientFunds, rec.Available.String(), amount.String())
			}
		}

		return tx.InsertWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	if s.holdFunds {
		s.audit.LogMovement("WITHDRAWAL_HOLD", w.ID, actor.UserID, actor.UserID, amount.Neg())
	}
	s.log.WithFields(logrus.Fields{
		"user_id":       actor.UserID,
		"withdrawal_id": w.ID,
		"amount":        amount.String(),
		"funds_held":    w.FundsHeld,
	}).Info("[Funding] withdrawal requested")

	return w, s.alerts.send(ctx, notify.Notification{
		Kind:      notify.KindWithdrawalRequested,
		UserID:    actor.UserID,
		Reference: w.ID,
		Amount:    amount,
	})
}

func (s *FundingService) ListDeposits(ctx context.Context, actor models.Principal) ([]*models.DepositProof, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	var out []*models.DepositProof
	err := s.ledger.Run(ctx, "list_deposits", func(tx ledger.Tx) error {
		var err error
		out, err = tx.ListDeposits(ctx, actor.UserID)
		return err
	})
	return out, err
}

func (s *FundingService) ListWithdrawals(ctx context.Context, actor models.Principal) ([]*models.WithdrawalRequest, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	var out []*models.WithdrawalRequest
	err := s.ledger.Run(ctx, "list_withdrawals", func(tx ledger.Tx) error {
		var err error
		out, err = tx.ListWithdrawals(ctx, actor.UserID)
		return err
	})
	return out, err
}
