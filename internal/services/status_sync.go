package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/ledger"
)

// StatusSync keeps UserAccount.HasActiveInvestment equal to "owns at least one active
// investment".
type StatusSync struct {
	ledger *ledger.Ledger
	log    logrus.FieldLogger
}

func NewStatusSync(l *ledger.Ledger, log logrus.FieldLogger) *StatusSync {
	return &StatusSync{ledger: l, log: log}
}

// Sync recomputes the flag in its own unit of work and returns the resulting value.
func (s *StatusSync) Sync(ctx context.Context, userID string) (bool, error) {
	var active bool
	err := s.ledger.Run(ctx, "status_sync", func(tx ledger.Tx) error {
		var err error
		active, err = s.SyncTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return false, err
	}
	return active, nil
}

// SyncTx recomputes the flag inside an existing unit of work.
func (s *StatusSync) SyncTx(ctx context.Context, tx ledger.Tx, userID string) (bool, error) {
	return syncActiveFlag(ctx, tx, userID)
}

func syncActiveFlag(ctx context.Context, tx ledger.Tx, userID string) (bool, error) {
	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}

	n, err := tx.CountActiveInvestments(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("count active investments: %w", err)
	}

	active := n > 0
	if user.HasActiveInvestment != active {
		if err := tx.SetHasActiveInvestment(ctx, userID, active); err != nil {
			return false, err
		}
	}
	return active, nil
}
