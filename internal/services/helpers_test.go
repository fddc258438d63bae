package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/yieldledger/backend/internal/audit"
	"github.com/yieldledger/backend/internal/catalog"
	"github.com/yieldledger/backend/internal/database"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
	"github.com/yieldledger/backend/internal/notify"
)

var (
	adminPrincipal = models.Principal{UserID: "admin-1", Email: "ops@example.com", Verified: true}
	errCommitLost  = errors.New("connection reset during commit")
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func testPolicy() AuthorizationPolicy {
	return NewAllowListPolicy([]string{adminPrincipal.UserID}, nil)
}

func testAudit() *audit.Logger {
	return audit.NewLogger(nullLogger())
}

func newTestLedger(store ledger.Store) *ledger.Ledger {
	return ledger.New(store, 5, 0, nullLogger())
}

func principal(userID string) models.Principal {
	return models.Principal{UserID: userID, Email: userID + "@example.com", Verified: true}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		[]models.InvestmentPackage{
			{ID: "starter", Name: "Starter", Price: dec("1000"), DailyReturn: dec("50"), DurationDays: 30},
			{ID: "gold", Name: "Gold", Price: dec("20000"), DailyReturn: dec("1200"), DurationDays: 60},
		},
		[]models.ContributorTier{
			{ID: "level-1", Level: "Level 1", Deposit: dec("39000"), MonthlyIncome: dec("4500")},
		},
		nil,
	)
	require.NoError(t, err)
	return c
}

// seedUser creates an account with the given available balance.
func seedUser(t *testing.T, store *database.MemoryStore, userID, referrerID, available string) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx ledger.Tx) error {
		now := time.Now().UTC()
		if err := tx.InsertUser(context.Background(), &models.UserAccount{
			ID:         userID,
			Email:      userID + "@example.com",
			ReferrerID: referrerID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
		rec := models.NewBalanceRecord(userID)
		rec.Available = dec(available)
		return tx.InsertBalance(context.Background(), rec)
	})
	require.NoError(t, err)
}

// seedInvestment inserts an investment directly, bypassing the purchase debit.
func seedInvestment(t *testing.T, store *database.MemoryStore, id, userID, dailyReturn string, status models.InvestmentStatus, startedAt time.Time) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx ledger.Tx) error {
		if err := tx.InsertInvestment(context.Background(), &models.Investment{
			ID:           id,
			UserID:       userID,
			PackageID:    "starter",
			PackageName:  "Starter",
			Price:        dec("1000"),
			DailyReturn:  dec(dailyReturn),
			DurationDays: 30,
			TotalReturn:  dec(dailyReturn).Mul(decimal.NewFromInt(30)),
			StartedAt:    startedAt,
			Status:       status,
			UpdatedAt:    startedAt,
		}); err != nil {
			return err
		}
		_, err := syncActiveFlag(context.Background(), tx, userID)
		return err
	})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, store *database.MemoryStore, userID string) decimal.Decimal {
	t.Helper()
	rec := store.Balance(userID)
	require.NotNil(t, rec, "no balance for %s", userID)
	return rec.Available
}

func assertBalance(t *testing.T, store *database.MemoryStore, userID, want string) {
	t.Helper()
	got := balanceOf(t, store, userID)
	require.True(t, got.Equal(dec(want)), "balance of %s: got %s, want %s", userID, got, want)
}

func withTx(t *testing.T, store ledger.Store, fn func(tx ledger.Tx) error) {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), fn))
}

// MockNotifier records notifications.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n notify.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}
