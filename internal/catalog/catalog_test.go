package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yieldledger/backend/internal/ledger"
)

const sample = `
packages:
  - id: starter
    name: Starter
    price: 1000
    daily_return: "50.50"
    duration_days: 30
  - id: mini
    name: Mini
    price: 500
    daily_return: 20
    duration_days: 10
contributor_tiers:
  - id: level-1
    level: Level 1
    deposit: 39000
    monthly_income: 4500
commission_tiers:
  - id: agent
    name: Agent
    rate: 0.05
    min_referrals: 0
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	p, err := c.Package("starter")
	require.NoError(t, err)
	assert.Equal(t, "Starter", p.Name)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(1000)))
	assert.True(t, p.DailyReturn.Equal(decimal.RequireFromString("50.50")))
	assert.True(t, p.TotalReturn().Equal(decimal.RequireFromString("1515")))

	tier, err := c.Tier("level-1")
	require.NoError(t, err)
	assert.True(t, tier.Deposit.Equal(decimal.NewFromInt(39000)))

	pkgs := c.Packages()
	require.Len(t, pkgs, 2)
	assert.Equal(t, "mini", pkgs[0].ID)
	assert.Len(t, c.CommissionTiers(), 1)
}

func TestLookupMissing(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	_, err = c.Package("platinum")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	_, err = c.Tier("level-9")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}

func TestParseRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "zero price",
			yaml: "packages:\n  - {id: a, name: A, price: 0, daily_return: 1, duration_days: 1}\n",
		},
		{
			name: "missing duration",
			yaml: "packages:\n  - {id: a, name: A, price: 10, daily_return: 1}\n",
		},
		{
			name: "duplicate id",
			yaml: "packages:\n  - {id: a, name: A, price: 10, daily_return: 1, duration_days: 1}\n  - {id: a, name: B, price: 20, daily_return: 2, duration_days: 1}\n",
		},
		{
			name: "tier without deposit",
			yaml: "contributor_tiers:\n  - {id: t, level: L1, deposit: 0}\n",
		},
		{
			name: "sub-cent daily return",
			yaml: "packages:\n  - {id: a, name: A, price: 10, daily_return: 0.005, duration_days: 1}\n",
		},
		{
			name: "bad decimal",
			yaml: "packages:\n  - {id: a, name: A, price: ten, daily_return: 1, duration_days: 1}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, c.Tiers(), 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
