package models

import "github.com/shopspring/decimal"

// InvestmentPackage is a read-only catalog entry a user can buy.
type InvestmentPackage struct {
	ID           string          `json:"id" yaml:"id" validate:"required"`
	Name         string          `json:"name" yaml:"name" validate:"required"`
	Price        decimal.Decimal `json:"price" yaml:"price"`
	DailyReturn  decimal.Decimal `json:"dailyReturn" yaml:"daily_return"`
	DurationDays int             `json:"durationDays" yaml:"duration_days" validate:"required,gt=0"`
}

func (p InvestmentPackage) TotalReturn() decimal.Decimal {
	return p.DailyReturn.Mul(decimal.NewFromInt(int64(p.DurationDays)))
}

// ContributorTier is a recurring-income tier unlocked by a refundable deposit.
type ContributorTier struct {
	ID            string          `json:"id" yaml:"id" validate:"required"`
	Level         string          `json:"level" yaml:"level" validate:"required"`
	Deposit       decimal.Decimal `json:"deposit" yaml:"deposit"`
	MonthlyIncome decimal.Decimal `json:"monthlyIncome" yaml:"monthly_income"`
}

// CommissionTier describes an agent commission band. Informational only.
type CommissionTier struct {
	ID           string          `json:"id" yaml:"id" validate:"required"`
	Name         string          `json:"name" yaml:"name" validate:"required"`
	Rate         decimal.Decimal `json:"rate" yaml:"rate"`
	MinReferrals int             `json:"minReferrals" yaml:"min_referrals" validate:"gte=0"`
}
