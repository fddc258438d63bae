package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvestmentStatus string

const (
	InvestmentActive    InvestmentStatus = "active"
	InvestmentCompleted InvestmentStatus = "completed"
)

func (s InvestmentStatus) Valid() bool {
	return s == InvestmentActive || s == InvestmentCompleted
}

type Investment struct {
	ID           string           `json:"id" db:"id"`
	UserID       string           `json:"userId" db:"user_id"`
	PackageID    string           `json:"packageId" db:"package_id"`
	PackageName  string           `json:"packageName" db:"package_name"`
	Price        decimal.Decimal  `json:"price" db:"price"`
	DailyReturn  decimal.Decimal  `json:"dailyReturn" db:"daily_return"`
	DurationDays int              `json:"durationDays" db:"duration_days"`
	TotalReturn  decimal.Decimal  `json:"totalReturn" db:"total_return"`
	StartedAt    time.Time        `json:"startedAt" db:"started_at"`
	Status       InvestmentStatus `json:"status" db:"status"`
	UpdatedAt    time.Time        `json:"updatedAt" db:"updated_at"`
}

// MaturesAt is the instant the investment has run its full duration.
func (i *Investment) MaturesAt() time.Time {
	return i.StartedAt.AddDate(0, 0, i.DurationDays)
}
