// Package ledger holds the balance primitive every money-moving operation goes through.
//
// All reads that feed a write happen inside Store.WithTx on a Tx, so the value checked is
// the value committed. Implementations live in internal/database.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yieldledger/backend/internal/models"
)

// Store opens atomic units of work. fn's writes commit together or not at all.
// Implementations must give serializable semantics per BalanceRecord and report
// retryable contention as an error wrapping ErrConflict.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside one unit of work.
// Lock* methods read a row and hold it until the unit ends; they return ErrNotFound
// when the row does not exist.
type Tx interface {
	// Accounts
	GetUser(ctx context.Context, userID string) (*models.UserAccount, error)
	InsertUser(ctx context.Context, user *models.UserAccount) error
	SetUserDisabled(ctx context.Context, userID string, disabled bool) error
	SetHasActiveInvestment(ctx context.Context, userID string, active bool) error
	CountActiveReferrals(ctx context.Context, referrerID string) (int, error)

	// Balances and journal
	LockBalance(ctx context.Context, userID string) (*models.BalanceRecord, error)
	InsertBalance(ctx context.Context, rec *models.BalanceRecord) error
	UpdateBalance(ctx context.Context, rec *models.BalanceRecord) error
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error
	ListEarningUsers(ctx context.Context) ([]string, error)

	// Investments
	InsertInvestment(ctx context.Context, inv *models.Investment) error
	LockInvestment(ctx context.Context, id string) (*models.Investment, error)
	UpdateInvestment(ctx context.Context, inv *models.Investment) error
	DeleteInvestment(ctx context.Context, id string) error
	CountActiveInvestments(ctx context.Context, userID string) (int, error)
	SumActiveReturnsByOwner(ctx context.Context) (map[string]decimal.Decimal, error)
	ListMaturedInvestments(ctx context.Context, asOf time.Time) ([]*models.Investment, error)

	// Deposit proofs
	InsertDeposit(ctx context.Context, d *models.DepositProof) error
	LockDeposit(ctx context.Context, id string) (*models.DepositProof, error)
	UpdateDepositStatus(ctx context.Context, d *models.DepositProof) error
	ListDeposits(ctx context.Context, userID string) ([]*models.DepositProof, error)

	// Withdrawal requests
	InsertWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error
	LockWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	UpdateWithdrawalStatus(ctx context.Context, w *models.WithdrawalRequest) error
	ListWithdrawals(ctx context.Context, userID string) ([]*models.WithdrawalRequest, error)

	// Contributor applications
	InsertApplication(ctx context.Context, a *models.ContributorApplication) error
	LockApplication(ctx context.Context, id string) (*models.ContributorApplication, error)
	UpdateApplicationStatus(ctx context.Context, a *models.ContributorApplication) error

	// MarkAccrual records (userID, runKey). It reports false when the pair already exists.
	MarkAccrual(ctx context.Context, mark *models.AccrualMark) (bool, error)
}
