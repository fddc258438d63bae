package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/audit"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/metrics"
	"github.com/yieldledger/backend/internal/models"
)

var (
	// ErrAccrualInProgress is returned when another run holds the lock for the same run key.
	ErrAccrualInProgress = errors.New("accrual run already in progress")

	// ErrFutureRunDate is returned for a run key later than today's.
	ErrFutureRunDate = errors.New("run date is in the future")
)

const runKeyLayout = "2006-01-02"

type AccrualSummary struct {
	RunKey        string          `json:"runKey"`
	UsersCredited int             `json:"usersCredited"`
	TotalCredited decimal.Decimal `json:"totalCredited"`
	UsersSkipped  int             `json:"usersSkipped"`
	UsersReset    int             `json:"usersReset"`
	Failures      int             `json:"failures"`
}

// AccrualEngine credits each owner the sum of daily returns of their active investments,
// at most once per owner per run key, and zeroes stale today's-earnings.
type AccrualEngine struct {
	ledger   *ledger.Ledger
	redis    *redis.Client
	location *time.Location
	lockTTL  time.Duration
	lockID   string
	now      func() time.Time
	audit    *audit.Logger
	log      logrus.FieldLogger
}

// NewAccrualEngine builds the engine. rdb may be nil, in which case overlapping runs are
// not prevented and the per-user marks alone guard against double credit.
func NewAccrualEngine(l *ledger.Ledger, rdb *redis.Client, loc *time.Location, lockTTL time.Duration, auditLog *audit.Logger, log logrus.FieldLogger) *AccrualEngine {
	if loc == nil {
		loc = time.UTC
	}
	return &AccrualEngine{
		ledger:   l,
		redis:    rdb,
		location: loc,
		lockTTL:  lockTTL,
		lockID:   uuid.NewString(),
		now:      time.Now,
		audit:    auditLog,
		log:      log,
	}
}

// RunKey is the calendar date of runDate in the engine's timezone.
func (e *AccrualEngine) RunKey(runDate time.Time) string {
	return runDate.In(e.location).Format(runKeyLayout)
}

// ParseRunDate reads a YYYY-MM-DD run key as midday of that date in the engine's timezone.
func (e *AccrualEngine) ParseRunDate(s string) (time.Time, error) {
	day, err := time.ParseInLocation(runKeyLayout, s, e.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("run date %q: %w", s, err)
	}
	return day.Add(12 * time.Hour), nil
}

// Run executes one accrual cycle. Per-user failures are counted and logged; the summary
// is returned regardless. Run keys after today's are refused.
func (e *AccrualEngine) Run(ctx context.Context, runDate time.Time) (*AccrualSummary, error) {
	start := time.Now()
	runKey := e.RunKey(runDate)
	if today := e.RunKey(e.now()); runKey > today {
		e.log.WithFields(logrus.Fields{"run_key": runKey, "today": today}).Warn("[Accrual] refusing future run date")
		return nil, fmt.Errorf("%w: %s is after %s", ErrFutureRunDate, runKey, today)
	}
	summary := &AccrualSummary{RunKey: runKey, TotalCredited: decimal.Zero}

	release, err := e.acquire(ctx, runKey)
	if err != nil {
		return nil, err
	}
	defer release()

	var sums map[string]decimal.Decimal
	err = e.ledger.Run(ctx, "accrual_scan", func(tx ledger.Tx) error {
		var err error
		sums, err = tx.SumActiveReturnsByOwner(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("scan active investments: %w", err)
	}

	owners := make([]string, 0, len(sums))
	for id := range sums {
		owners = append(owners, id)
	}
	sort.Strings(owners)

	contributed := make(map[string]bool, len(owners))
	for _, userID := range owners {
		amount := sums[userID]
		if amount.IsZero() {
			continue
		}
		contributed[userID] = true

		credited, err := e.credit(ctx, userID, runKey, amount)
		switch {
		case err != nil:
			summary.Failures++
			e.audit.LogError("ACCRUAL", runKey, userID, err)
			e.log.WithFields(logrus.Fields{"user_id": userID, "run_key": runKey, "error": err}).Error("[Accrual] credit failed")
		case credited:
			summary.UsersCredited++
			summary.TotalCredited = summary.TotalCredited.Add(amount)
			e.audit.LogMovement("ACCRUAL", runKey, userID, "", amount)
		default:
			summary.UsersSkipped++
		}
	}

	var earning []string
	err = e.ledger.Run(ctx, "accrual_scan_earnings", func(tx ledger.Tx) error {
		var err error
		earning, err = tx.ListEarningUsers(ctx)
		return err
	})
	if err != nil {
		e.log.WithError(err).Error("[Accrual] listing earning users failed")
		summary.Failures++
	}

	for _, userID := range earning {
		if contributed[userID] {
			continue
		}
		reset, err := e.reset(ctx, userID, runKey)
		if err != nil {
			summary.Failures++
			e.log.WithFields(logrus.Fields{"user_id": userID, "run_key": runKey, "error": err}).Error("[Accrual] earnings reset failed")
			continue
		}
		if reset {
			summary.UsersReset++
		}
	}

	total, _ := summary.TotalCredited.Float64()
	metrics.RecordAccrualRun(summary.UsersCredited, summary.UsersSkipped, summary.UsersReset, summary.Failures, total, time.Since(start))
	e.log.WithFields(logrus.Fields{
		"run_key":        runKey,
		"users_credited": summary.UsersCredited,
		"total_credited": summary.TotalCredited.String(),
		"users_skipped":  summary.UsersSkipped,
		"users_reset":    summary.UsersReset,
		"failures":       summary.Failures,
	}).Info("[Accrual] run complete")

	return summary, nil
}

// credit reports false when userID was already credited for runKey.
func (e *AccrualEngine) credit(ctx context.Context, userID, runKey string, amount decimal.Decimal) (bool, error) {
	credited := false
	err := e.ledger.Run(ctx, "accrual_credit", func(tx ledger.Tx) error {
		credited = false
		fresh, err := tx.MarkAccrual(ctx, &models.AccrualMark{
			UserID:    userID,
			RunKey:    runKey,
			Amount:    amount,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}

		if _, err := ledger.ApplyDelta(ctx, tx, userID, ledger.Delta{
			Amount:          amount,
			Earnings:        &ledger.Earnings{RunKey: runKey},
			CreateIfMissing: true,
			Kind:            models.EntryAccrual,
			Reference:       "accrual:" + runKey,
		}); err != nil {
			return err
		}
		credited = true
		return nil
	})
	return credited, err
}

func (e *AccrualEngine) reset(ctx context.Context, userID, runKey string) (bool, error) {
	reset := false
	err := e.ledger.Run(ctx, "accrual_reset", func(tx ledger.Tx) error {
		reset = false
		rec, err := tx.LockBalance(ctx, userID)
		if err != nil {
			return err
		}
		if rec.TodaysEarnings.IsZero() || rec.EarningsRun == runKey {
			return nil
		}
		if _, err := ledger.ApplyDelta(ctx, tx, userID, ledger.Delta{
			ResetEarnings: runKey,
			Kind:          models.EntryEarningsReset,
			Reference:     "accrual:" + runKey,
		}); err != nil {
			return err
		}
		reset = true
		return nil
	})
	return reset, err
}

// releaseLockScript deletes the lock only while it still carries this engine's id.
const releaseLockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

func (e *AccrualEngine) lockKey(runKey string) string {
	return "accrual:lock:" + runKey
}

func (e *AccrualEngine) acquire(ctx context.Context, runKey string) (func(), error) {
	if e.redis == nil {
		return func() {}, nil
	}

	key := e.lockKey(runKey)
	ok, err := e.redis.SetNX(ctx, key, e.lockID, e.lockTTL).Result()
	if err != nil {
		// The per-user marks still prevent double credit.
		e.log.WithError(err).Warn("[Accrual] run lock unavailable, continuing without it")
		return func() {}, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccrualInProgress, runKey)
	}

	return func() {
		released, err := e.redis.Eval(context.Background(), releaseLockScript, []string{key}, e.lockID).Int64()
		switch {
		case err != nil:
			e.log.WithError(err).Warn("[Accrual] failed to release run lock")
		case released == 0:
			e.log.WithField("run_key", runKey).Warn("[Accrual] run lock expired before release")
		}
	}, nil
}
