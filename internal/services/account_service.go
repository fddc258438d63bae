package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/audit"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
)

type CreateAccountRequest struct {
	DisplayName string `json:"displayName" validate:"required,max=100"`
	ReferrerID  string `json:"referrerId,omitempty" validate:"omitempty,max=128"`
}

// AccountView is a user with their balance.
type AccountView struct {
	User    *models.UserAccount   `json:"user"`
	Balance *models.BalanceRecord `json:"balance"`
}

type AccountService struct {
	ledger *ledger.Ledger
	policy AuthorizationPolicy
	audit  *audit.Logger
	log    logrus.FieldLogger
}

func NewAccountService(l *ledger.Ledger, policy AuthorizationPolicy, auditLog *audit.Logger, log logrus.FieldLogger) *AccountService {
	return &AccountService{ledger: l, policy: policy, audit: auditLog, log: log}
}

// CreateAccount registers the principal and opens a zero balance in the same unit of work.
// The referrer, if any, must already exist and is fixed from here on.
func (s *AccountService) CreateAccount(ctx context.Context, actor models.Principal, req CreateAccountRequest) (*AccountView, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	referrerID := strings.TrimSpace(req.ReferrerID)
	if referrerID == actor.UserID {
		return nil, fmt.Errorf("%w: an account cannot refer itself", ledger.ErrNotEligible)
	}

	var view AccountView
	err := s.ledger.Run(ctx, "create_account", func(tx ledger.Tx) error {
		if _, err := tx.GetUser(ctx, actor.UserID); err == nil {
			return fmt.Errorf("account %s: %w", actor.UserID, ledger.ErrAlreadyExists)
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		if referrerID != "" {
			if _, err := tx.GetUser(ctx, referrerID); err != nil {
				return fmt.Errorf("referrer: %w", err)
			}
		}

		now := time.Now().UTC()
		user := &models.UserAccount{
			ID:          actor.UserID,
			DisplayName: strings.TrimSpace(req.DisplayName),
			Email:       actor.Email,
			ReferrerID:  referrerID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertUser(ctx, user); err != nil {
			return err
		}

		rec, err := ledger.ApplyDelta(ctx, tx, user.ID, ledger.Delta{
			CreateIfMissing: true,
			Kind:            models.EntryAccountOpened,
			Reference:       user.ID,
		})
		if err != nil {
			return err
		}

		view = AccountView{User: user, Balance: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": actor.UserID, "referrer_id": referrerID}).Info("[Account] account created")
	return &view, nil
}

func (s *AccountService) GetAccount(ctx context.Context, userID string) (*AccountView, error) {
	var view AccountView
	err := s.ledger.Run(ctx, "get_account", func(tx ledger.Tx) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		rec, err := tx.LockBalance(ctx, userID)
		if err != nil {
			return err
		}
		view = AccountView{User: user, Balance: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// SetDisabled toggles the account's disabled flag. Admin only.
func (s *AccountService) SetDisabled(ctx context.Context, actor models.Principal, userID string, disabled bool) (*models.UserAccount, error) {
	if err := requireAdmin(s.policy, actor); err != nil {
		return nil, err
	}

	var user *models.UserAccount
	err := s.ledger.Run(ctx, "set_disabled", func(tx ledger.Tx) error {
		if err := tx.SetUserDisabled(ctx, userID, disabled); err != nil {
			return err
		}
		var err error
		user, err = tx.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	from, to := "enabled", "disabled"
	if !disabled {
		from, to = to, from
	}
	s.audit.LogTransition("ACCOUNT", userID, userID, actor.UserID, from, to)
	return user, nil
}

// activeUser loads userID and refuses disabled accounts.
func activeUser(ctx context.Context, tx ledger.Tx, userID string) (*models.UserAccount, error) {
	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountDisabled, userID)
	}
	return user, nil
}
