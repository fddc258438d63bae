package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus is shared by deposit proofs, withdrawal requests and contributor applications.
// The only legal transitions are pending->approved and pending->rejected.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

type DepositProof struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"userId" db:"user_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Proof       string          `json:"proof" db:"proof"` // transaction id / hash supplied by the user
	SubmittedAt time.Time       `json:"submittedAt" db:"submitted_at"`
	Status      RequestStatus   `json:"status" db:"status"`
	ResolvedBy  string          `json:"resolvedBy,omitempty" db:"resolved_by"`
	ResolvedAt  *time.Time      `json:"resolvedAt,omitempty" db:"resolved_at"`
}

type WithdrawalRequest struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"userId" db:"user_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Destination json.RawMessage `json:"destination" db:"destination"` // opaque payment details
	RequestedAt time.Time       `json:"requestedAt" db:"requested_at"`
	Status      RequestStatus   `json:"status" db:"status"`
	FundsHeld   bool            `json:"fundsHeld" db:"funds_held"` // debited at request time
	ResolvedBy  string          `json:"resolvedBy,omitempty" db:"resolved_by"`
	ResolvedAt  *time.Time      `json:"resolvedAt,omitempty" db:"resolved_at"`
}

type ContributorApplication struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"userId" db:"user_id"`
	TierID     string          `json:"tierId" db:"tier_id"`
	TierLevel  string          `json:"tierLevel" db:"tier_level"`
	Deposit    decimal.Decimal `json:"deposit" db:"deposit"`
	AppliedAt  time.Time       `json:"appliedAt" db:"applied_at"`
	Status     RequestStatus   `json:"status" db:"status"`
	ResolvedBy string          `json:"resolvedBy,omitempty" db:"resolved_by"`
	ResolvedAt *time.Time      `json:"resolvedAt,omitempty" db:"resolved_at"`
}
