package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryDeposit            EntryKind = "DEPOSIT"
	EntryWithdrawal         EntryKind = "WITHDRAWAL"
	EntryWithdrawalHold     EntryKind = "WITHDRAWAL_HOLD"
	EntryWithdrawalRelease  EntryKind = "WITHDRAWAL_RELEASE"
	EntryPurchase           EntryKind = "PURCHASE"
	EntryAccrual            EntryKind = "ACCRUAL"
	EntryEarningsReset      EntryKind = "EARNINGS_RESET"
	EntryCommission         EntryKind = "COMMISSION"
	EntryContributorDeposit EntryKind = "CONTRIBUTOR_DEPOSIT"
	EntryContributorRefund  EntryKind = "CONTRIBUTOR_REFUND"
	EntryAccountOpened      EntryKind = "ACCOUNT_OPENED"
)

// BalanceRecord is the per-user ledger row. It shares its id with the owning UserAccount.
type BalanceRecord struct {
	UserID          string          `json:"userId" db:"user_id"`
	Available       decimal.Decimal `json:"available" db:"available"`
	RechargeTotal   decimal.Decimal `json:"rechargeTotal" db:"recharge_total"`
	WithdrawalTotal decimal.Decimal `json:"withdrawalTotal" db:"withdrawal_total"`
	TodaysEarnings  decimal.Decimal `json:"todaysEarnings" db:"todays_earnings"`
	EarningsRun     string          `json:"earningsRun,omitempty" db:"earnings_run"` // run key that produced TodaysEarnings
	Version         int             `json:"-" db:"version"`                          // for optimistic locking
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

func NewBalanceRecord(userID string) *BalanceRecord {
	return &BalanceRecord{
		UserID:          userID,
		Available:       decimal.Zero,
		RechargeTotal:   decimal.Zero,
		WithdrawalTotal: decimal.Zero,
		TodaysEarnings:  decimal.Zero,
		UpdatedAt:       time.Now().UTC(),
	}
}

// LedgerEntry is the append-only journal line written with every balance mutation.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"userId" db:"user_id"`
	Kind      EntryKind       `json:"kind" db:"kind"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // signed change to available
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Reference string          `json:"reference" db:"reference"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// AccrualMark records that a user was credited for a given accrual run key.
type AccrualMark struct {
	UserID    string          `json:"userId" db:"user_id"`
	RunKey    string          `json:"runKey" db:"run_key"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}
