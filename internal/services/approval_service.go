package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/audit"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
)

// ApprovalService resolves pending deposit proofs and withdrawal requests. Each status
// change commits together with its balance change, and only pending records move.
type ApprovalService struct {
	ledger *ledger.Ledger
	policy AuthorizationPolicy
	audit  *audit.Logger
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewApprovalService(l *ledger.Ledger, policy AuthorizationPolicy, auditLog *audit.Logger, log logrus.FieldLogger) *ApprovalService {
	return &ApprovalService{
		ledger: l,
		policy: policy,
		audit:  auditLog,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func ensurePending(kind, id string, status models.RequestStatus) error {
	if status != models.StatusPending {
		return fmt.Errorf("%w: %s %s is already %s", ledger.ErrInvalidStateTransition, kind, id, status)
	}
	return nil
}

// ApproveDeposit credits the amount and adds it to the recharge total.
func (s *ApprovalService) ApproveDeposit(ctx context.Context, actor models.Principal, depositID string) (*models.DepositProof, error) {
	if err := requireAdmin(s.policy, actor); err != nil {
		return nil, err
	}

	var d *models.DepositProof
	err := s.ledger.Run(ctx, "approve_deposit", func(tx ledger.Tx) error {
		var err error
		if d, err = tx.LockDeposit(ctx, depositID); err != nil {
			return err
		}
		if err := ensurePending("deposit", depositID, d.Status); err != nil {
			return err
		}

		if _, err := ledger.ApplyDelta(ctx, tx, d.UserID, ledger.Delta{
			Amount:        d.Amount,
			RechargeTotal: d.Amount,
			Kind:          models.EntryDeposit,
			Reference:     d.ID,
		}); err != nil {
			return err
		}

		s.resolve(&d.Status, &d.ResolvedBy, &d.ResolvedAt, models.StatusApproved, actor)
		return tx.UpdateDepositStatus(ctx, d)
	})
	if err != nil {
		s.audit.LogError("DEPOSIT_APPROVAL", depositID, actor.UserID, err)
		return nil, err
	}

	s.audit.LogMovement("DEPOSIT", d.ID, d.UserID, actor.UserID, d.Amount)
	s.audit.LogTransition("DEPOSIT", d.ID, d.UserID, actor.UserID, string(models.StatusPending), string(d.Status))
	s.log.WithFields(logrus.Fields{"deposit_id": d.ID, "user_id": d.UserID, "amount": d.Amount.String()}).Info("[Approval] deposit approved")
	return d, nil
}

// RejectDeposit closes the proof without touching the balance.
func (s *ApprovalService) RejectDeposit(ctx context.Context, actor models.Principal, depositID string) (*models.DepositProof, error) {
	if err := requireAdmin(s.policy, actor); err != nil {
		return nil, err
	}

	var d *models.DepositProof
	err := s.ledger.Run(ctx, "reject_deposit", func(tx ledger.Tx) error {
		var err error
		if d, err = tx.LockDeposit(ctx, depositID); err != nil {
			return err
		}
		if err := ensurePending("deposit", depositID, d.Status); err != nil {
			return err
		}
		s.resolve(&d.Status, &d.ResolvedBy, &d.ResolvedAt, models.StatusRejected, actor)
		return tx.UpdateDepositStatus(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogTransition("DEPOSIT", d.ID, d.UserID, actor.UserID, string(models.StatusPending), string(d.Status))
	s.log.WithFields(logrus.Fields{"deposit_id": d.ID, "user_id": d.UserID}).Info("[Approval] deposit rejected")
	return d, nil
}

// ApproveWithdrawal re-checks funds at approval time. On insufficient funds nothing is
// written and the request stays pending. Held withdrawals were debited at request time,
// so only the withdrawal total moves.
func (s *ApprovalService) ApproveWithdrawal(ctx context.Context, actor models.Principal, withdrawalID string) (*models.WithdrawalRequest, error) {
	if err := requireAdmin(s.policy, actor); err != nil {
		return nil, err
	}

	var w *models.WithdrawalRequest
	err := s.ledger.Run(ctx, "approve_withdrawal", func(tx ledger.Tx) error {
		var err error
		if w, err = tx.LockWithdrawal(ctx, withdrawalID); err != nil {
			return err
		}
		if err := ensurePending("withdrawal", withdrawalID, w.Status); err != nil {
			return err
		}

		delta := ledger.Delta{WithdrawalTotal: w.Amount, Reference: w.ID}
		if !w.FundsHeld {
			delta.Amount = w.Amount.Neg()
			delta.Kind = models.EntryWithdrawal
		}
		if _, err := ledger.ApplyDelta(ctx, tx, w.UserID, delta); err != nil {
			return err
		}

		s.resolve(&w.Status, &w.ResolvedBy, &w.ResolvedAt, models.StatusApproved, actor)
		return tx.UpdateWithdrawalStatus(ctx, w)
	})
	if err != nil {
		s.audit.LogError("WITHDRAWAL_APPROVAL", withdrawalID, actor.UserID, err)
		return nil, err
	}

	if !w.FundsHeld {
		s.audit.LogMovement("WITHDRAWAL", w.ID, w.UserID, actor.UserID, w.Amount.Neg())
	}
	s.audit.LogTransition("WITHDRAWAL", w.ID, w.UserID, actor.UserID, string(models.StatusPending), string(w.Status))
	s.log.WithFields(logrus.Fields{"withdrawal_id": w.ID, "user_id": w.UserID, "amount": w.Amount.String()}).Info("[Approval] withdrawal approved")
	return w, nil
}

// RejectWithdrawal closes the request. Held funds are returned to the balance.
func (s *ApprovalService) RejectWithdrawal(ctx context.Context, actor models.Principal, withdrawalID string) (*models.WithdrawalRequest, error) {
	if err := requireAdmin(s.policy, actor); err != nil {
		return nil, err
	}

	var w *models.WithdrawalRequest
	err := s.ledger.Run(ctx, "reject_withdrawal", func(tx ledger.Tx) error {
		var err error
		if w, err = tx.LockWithdrawal(ctx, withdrawalID); err != nil {
			return err
		}
		if err := ensurePending("withdrawal", withdrawalID, w.Status); err != nil {
			return err
		}

		if w.FundsHeld {
			if _, err := ledger.ApplyDelta(ctx, tx, w.UserID, ledger.Delta{
				Amount:          w.Amount,
				CreateIfMissing: true,
				Kind:            models.EntryWithdrawalRelease,
				Reference:       w.ID,
			}); err != nil {
				return err
			}
		}

		s.resolve(&w.Status, &w.ResolvedBy, &w.ResolvedAt, models.StatusRejected, actor)
		return tx.UpdateWithdrawalStatus(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	if w.FundsHeld {
		s.audit.LogMovement("WITHDRAWAL_RELEASE", w.ID, w.UserID, actor.UserID, w.Amount)
	}
	s.audit.LogTransition("WITHDRAWAL", w.ID, w.UserID, actor.UserID, string(models.StatusPending), string(w.Status))
	s.log.WithFields(logrus.Fields{"withdrawal_id": w.ID, "user_id": w.UserID}).Info("[Approval] withdrawal rejected")
	return w, nil
}

func (s *ApprovalService) resolve(status *models.RequestStatus, by *string, at **time.Time, to models.RequestStatus, actor models.Principal) {
	now := s.now()
	*status = to
	*by = actor.UserID
	*at = &now
}
