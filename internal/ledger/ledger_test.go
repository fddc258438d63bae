package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yieldledger/backend/internal/database"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
)

func newLedger(t *testing.T, attempts int) (*ledger.Ledger, *database.MemoryStore) {
	t.Helper()
	log, _ := test.NewNullLogger()
	store := database.NewMemoryStore()
	return ledger.New(store, attempts, 0, log), store
}

func seed(t *testing.T, store *database.MemoryStore, userID string, available int64) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx ledger.Tx) error {
		if err := tx.InsertUser(context.Background(), &models.UserAccount{ID: userID}); err != nil {
			return err
		}
		rec := models.NewBalanceRecord(userID)
		rec.Available = decimal.NewFromInt(available)
		return tx.InsertBalance(context.Background(), rec)
	})
	require.NoError(t, err)
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"10", true},
		{"10.5", true},
		{"0.01", true},
		{"10.500", true},
		{"0.004", false},
		{"10.125", false},
		{"0", false},
		{"-1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ledger.ValidAmount(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestApplyDelta(t *testing.T) {
	ctx := context.Background()

	t.Run("credit updates totals and journal", func(t *testing.T) {
		l, store := newLedger(t, 3)
		seed(t, store, "u1", 100)

		rec, err := l.ApplyDelta(ctx, "u1", ledger.Delta{
			Amount:        decimal.NewFromInt(50),
			RechargeTotal: decimal.NewFromInt(50),
			Kind:          models.EntryDeposit,
			Reference:     "dep-1",
		})

		require.NoError(t, err)
		assert.True(t, rec.Available.Equal(decimal.NewFromInt(150)))
		assert.True(t, rec.RechargeTotal.Equal(decimal.NewFromInt(50)))

		entries := store.Entries("u1")
		require.Len(t, entries, 1)
		assert.Equal(t, models.EntryDeposit, entries[0].Kind)
		assert.True(t, entries[0].Balance.Equal(decimal.NewFromInt(150)))
		assert.Equal(t, "dep-1", entries[0].Reference)
	})

	t.Run("debit to exactly zero is allowed", func(t *testing.T) {
		l, store := newLedger(t, 3)
		seed(t, store, "u1", 100)

		rec, err := l.ApplyDelta(ctx, "u1", ledger.Delta{Amount: decimal.NewFromInt(-100)})

		require.NoError(t, err)
		assert.True(t, rec.Available.IsZero())
	})

	t.Run("overdraw is refused and nothing is written", func(t *testing.T) {
		l, store := newLedger(t, 3)
		seed(t, store, "u1", 100)

		_, err := l.ApplyDelta(ctx, "u1", ledger.Delta{Amount: decimal.RequireFromString("-100.01"), Kind: models.EntryPurchase})

		assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))
		assert.True(t, store.Balance("u1").Available.Equal(decimal.NewFromInt(100)))
		assert.Empty(t, store.Entries("u1"))
	})

	t.Run("missing record", func(t *testing.T) {
		l, store := newLedger(t, 3)

		_, err := l.ApplyDelta(ctx, "ghost", ledger.Delta{Amount: decimal.NewFromInt(5)})
		assert.True(t, errors.Is(err, ledger.ErrNotFound))

		rec, err := l.ApplyDelta(ctx, "ghost", ledger.Delta{Amount: decimal.NewFromInt(5), CreateIfMissing: true})
		require.NoError(t, err)
		assert.True(t, rec.Available.Equal(decimal.NewFromInt(5)))
		assert.NotNil(t, store.Balance("ghost"))
	})

	t.Run("earnings overwrite and reset", func(t *testing.T) {
		l, store := newLedger(t, 3)
		seed(t, store, "u1", 0)

		_, err := l.ApplyDelta(ctx, "u1", ledger.Delta{Amount: decimal.NewFromInt(30), Earnings: &ledger.Earnings{RunKey: "2026-01-01"}})
		require.NoError(t, err)
		_, err = l.ApplyDelta(ctx, "u1", ledger.Delta{Amount: decimal.NewFromInt(20), Earnings: &ledger.Earnings{RunKey: "2026-01-02"}})
		require.NoError(t, err)

		rec := store.Balance("u1")
		assert.True(t, rec.TodaysEarnings.Equal(decimal.NewFromInt(20)))
		assert.Equal(t, "2026-01-02", rec.EarningsRun)

		_, err = l.ApplyDelta(ctx, "u1", ledger.Delta{ResetEarnings: "2026-01-03"})
		require.NoError(t, err)
		rec = store.Balance("u1")
		assert.True(t, rec.TodaysEarnings.IsZero())
		assert.True(t, rec.Available.Equal(decimal.NewFromInt(50)))
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("retries conflicts", func(t *testing.T) {
		l, store := newLedger(t, 3)
		seed(t, store, "u1", 0)
		store.InjectConflicts(2)
		calls := 0

		err := l.Run(ctx, "credit", func(tx ledger.Tx) error {
			calls++
			_, err := ledger.ApplyDelta(ctx, tx, "u1", ledger.Delta{Amount: decimal.NewFromInt(10)})
			return err
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, store.Balance("u1").Available.Equal(decimal.NewFromInt(10)))
	})

	t.Run("exhaustion surfaces a transient conflict", func(t *testing.T) {
		l, store := newLedger(t, 3)
		seed(t, store, "u1", 0)
		store.InjectConflicts(3)

		err := l.Run(ctx, "credit", func(tx ledger.Tx) error {
			_, err := ledger.ApplyDelta(ctx, tx, "u1", ledger.Delta{Amount: decimal.NewFromInt(10)})
			return err
		})

		assert.True(t, errors.Is(err, ledger.ErrTransientConflict))
		assert.True(t, store.Balance("u1").Available.IsZero())
	})

	t.Run("business errors are not retried", func(t *testing.T) {
		l, _ := newLedger(t, 5)
		calls := 0

		err := l.Run(ctx, "noop", func(tx ledger.Tx) error {
			calls++
			return fmt.Errorf("wrapped: %w", ledger.ErrInvalidStateTransition)
		})

		assert.True(t, errors.Is(err, ledger.ErrInvalidStateTransition))
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		l, _ := newLedger(t, 5)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := l.Run(cctx, "noop", func(tx ledger.Tx) error { return nil })

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGetBalance(t *testing.T) {
	l, store := newLedger(t, 3)
	seed(t, store, "u1", 42)

	rec, err := l.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, rec.Available.Equal(decimal.NewFromInt(42)))

	_, err = l.GetBalance(context.Background(), "nobody")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}
