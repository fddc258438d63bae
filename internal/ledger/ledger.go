package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/metrics"
	"github.com/yieldledger/backend/internal/models"
)

// MoneyPlaces is the scale of every stored amount.
const MoneyPlaces = 2

// ValidAmount reports whether d is positive and representable in whole cents.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(MoneyPlaces))
}

// Earnings overwrites today's-earnings with the credited amount for the given run key.
type Earnings struct {
	RunKey string
}

// Delta describes one balance mutation. Amount is the signed change to the available
// balance; the totals are added as given.
type Delta struct {
	Amount          decimal.Decimal
	RechargeTotal   decimal.Decimal
	WithdrawalTotal decimal.Decimal
	Earnings        *Earnings
	ResetEarnings   string // run key; zeroes today's-earnings when non-empty
	CreateIfMissing bool
	Kind            models.EntryKind
	Reference       string
}

// ApplyDelta is the read-check-write primitive. It must run inside the Tx whose commit
// publishes the result; callers compose it with their own status writes.
func ApplyDelta(ctx context.Context, tx Tx, userID string, d Delta) (*models.BalanceRecord, error) {
	created := false
	rec, err := tx.LockBalance(ctx, userID)
	if errors.Is(err, ErrNotFound) && d.CreateIfMissing {
		rec = models.NewBalanceRecord(userID)
		created = true
	} else if err != nil {
		return nil, fmt.Errorf("lock balance %s: %w", userID, err)
	}

	next := rec.Available.Add(d.Amount)
	if d.Amount.IsNegative() && next.IsNegative() {
		return nil, fmt.Errorf("%w: available %s, required %s", ErrInsufficientFunds, rec.Available.String(), d.Amount.Neg().String())
	}

	rec.Available = next
	rec.RechargeTotal = rec.RechargeTotal.Add(d.RechargeTotal)
	rec.WithdrawalTotal = rec.WithdrawalTotal.Add(d.WithdrawalTotal)
	switch {
	case d.Earnings != nil:
		rec.TodaysEarnings = d.Amount
		rec.EarningsRun = d.Earnings.RunKey
	case d.ResetEarnings != "":
		rec.TodaysEarnings = decimal.Zero
		rec.EarningsRun = d.ResetEarnings
	}
	rec.UpdatedAt = time.Now().UTC()

	if created {
		err = tx.InsertBalance(ctx, rec)
	} else {
		err = tx.UpdateBalance(ctx, rec)
	}
	if err != nil {
		return nil, fmt.Errorf("write balance %s: %w", userID, err)
	}

	if d.Kind != "" {
		entry := &models.LedgerEntry{
			ID:        uuid.NewString(),
			UserID:    userID,
			Kind:      d.Kind,
			Amount:    d.Amount,
			Balance:   rec.Available,
			Reference: d.Reference,
			CreatedAt: rec.UpdatedAt,
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("append ledger entry: %w", err)
		}
	}

	return rec, nil
}

// Ledger runs units of work against a Store, retrying contention a bounded number of times.
type Ledger struct {
	store       Store
	maxAttempts int
	backoff     time.Duration
	log         logrus.FieldLogger
}

func New(store Store, maxAttempts int, backoff time.Duration, log logrus.FieldLogger) *Ledger {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Ledger{
		store:       store,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		log:         log,
	}
}

// Run executes fn in a fresh unit of work. Errors wrapping ErrConflict restart fn from
// scratch; once attempts are exhausted the caller gets ErrTransientConflict.
func (l *Ledger) Run(ctx context.Context, op string, fn func(tx Tx) error) error {
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			metrics.RecordLedgerOp(op, "cancelled", time.Since(start))
			return err
		}

		err := l.store.WithTx(ctx, fn)
		if err == nil {
			metrics.RecordLedgerOp(op, "ok", time.Since(start))
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			metrics.RecordLedgerOp(op, resultLabel(err), time.Since(start))
			return err
		}

		lastErr = err
		metrics.RecordTxRetry(op)
		l.log.WithFields(logrus.Fields{"op": op, "attempt": attempt, "error": err}).Debug("[Ledger] conflict, retrying")

		if attempt < l.maxAttempts && l.backoff > 0 {
			select {
			case <-ctx.Done():
				metrics.RecordLedgerOp(op, "cancelled", time.Since(start))
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * l.backoff):
			}
		}
	}

	metrics.RecordLedgerOp(op, "conflict", time.Since(start))
	l.log.WithFields(logrus.Fields{"op": op, "attempts": l.maxAttempts}).Warn("[Ledger] retries exhausted")
	return fmt.Errorf("%s: %w (last: %v)", op, ErrTransientConflict, lastErr)
}

// GetBalance returns the current balance record for userID.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (*models.BalanceRecord, error) {
	var rec *models.BalanceRecord
	err := l.Run(ctx, "get_balance", func(tx Tx) error {
		var err error
		rec, err = tx.LockBalance(ctx, userID)
		return err
	})
	return rec, err
}

// ApplyDelta runs the primitive as its own unit of work.
func (l *Ledger) ApplyDelta(ctx context.Context, userID string, d Delta) (*models.BalanceRecord, error) {
	var rec *models.BalanceRecord
	err := l.Run(ctx, "apply_delta", func(tx Tx) error {
		var err error
		rec, err = ApplyDelta(ctx, tx, userID, d)
		return err
	})
	return rec, err
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
