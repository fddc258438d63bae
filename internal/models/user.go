package models

import "time"

// UserAccount is the identity anchor every ledger record hangs off.
type UserAccount struct {
	ID                  string    `json:"id"`
	DisplayName         string    `json:"displayName"`
	Email               string    `json:"email"`
	ReferrerID          string    `json:"referrerId,omitempty"` // set at creation, never changed
	Disabled            bool      `json:"disabled"`
	HasActiveInvestment bool      `json:"hasActiveInvestment"` // maintained by status sync
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Principal is the authenticated caller handed over by the identity provider.
type Principal struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}
