// Package catalog exposes the read-only package and tier definitions that purchases and
// contributor applications are priced from.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
	"gopkg.in/yaml.v3"
)

// Reader is what the services need from a catalog.
type Reader interface {
	Package(id string) (models.InvestmentPackage, error)
	Tier(id string) (models.ContributorTier, error)
}

type file struct {
	Packages        []models.InvestmentPackage `yaml:"packages"`
	ContributorTier []models.ContributorTier   `yaml:"contributor_tiers"`
	CommissionTiers []models.CommissionTier    `yaml:"commission_tiers"`
}

// Catalog is an immutable in-memory catalog. Safe for concurrent reads.
type Catalog struct {
	packages    map[string]models.InvestmentPackage
	tiers       map[string]models.ContributorTier
	commissions []models.CommissionTier
}

// LoadFile reads and validates a YAML catalog.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(f.Packages, f.ContributorTier, f.CommissionTiers)
}

// New builds a catalog from already-decoded entries, rejecting duplicates and
// non-positive prices.
func New(packages []models.InvestmentPackage, tiers []models.ContributorTier, commissions []models.CommissionTier) (*Catalog, error) {
	v := validator.New()
	c := &Catalog{
		packages:    make(map[string]models.InvestmentPackage, len(packages)),
		tiers:       make(map[string]models.ContributorTier, len(tiers)),
		commissions: commissions,
	}

	for _, p := range packages {
		if err := v.Struct(p); err != nil {
			return nil, fmt.Errorf("package %q: %w", p.ID, err)
		}
		if !ledger.ValidAmount(p.Price) || !ledger.ValidAmount(p.DailyReturn) {
			return nil, fmt.Errorf("package %q: price and daily return must be positive whole cents", p.ID)
		}
		if _, dup := c.packages[p.ID]; dup {
			return nil, fmt.Errorf("duplicate package id %q", p.ID)
		}
		c.packages[p.ID] = p
	}

	for _, t := range tiers {
		if err := v.Struct(t); err != nil {
			return nil, fmt.Errorf("tier %q: %w", t.ID, err)
		}
		if !ledger.ValidAmount(t.Deposit) {
			return nil, fmt.Errorf("tier %q: deposit must be positive whole cents", t.ID)
		}
		if _, dup := c.tiers[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tier id %q", t.ID)
		}
		c.tiers[t.ID] = t
	}

	for _, ct := range commissions {
		if err := v.Struct(ct); err != nil {
			return nil, fmt.Errorf("commission tier %q: %w", ct.ID, err)
		}
	}

	return c, nil
}

func (c *Catalog) Package(id string) (models.InvestmentPackage, error) {
	p, ok := c.packages[id]
	if !ok {
		return models.InvestmentPackage{}, fmt.Errorf("package %s: %w", id, ledger.ErrNotFound)
	}
	return p, nil
}

func (c *Catalog) Tier(id string) (models.ContributorTier, error) {
	t, ok := c.tiers[id]
	if !ok {
		return models.ContributorTier{}, fmt.Errorf("contributor tier %s: %w", id, ledger.ErrNotFound)
	}
	return t, nil
}

// Packages returns every package ordered by price.
func (c *Catalog) Packages() []models.InvestmentPackage {
	out := make([]models.InvestmentPackage, 0, len(c.packages))
	for _, p := range c.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price.Equal(out[j].Price) {
			return out[i].ID < out[j].ID
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// Tiers returns every contributor tier ordered by deposit.
func (c *Catalog) Tiers() []models.ContributorTier {
	out := make([]models.ContributorTier, 0, len(c.tiers))
	for _, t := range c.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Deposit.Equal(out[j].Deposit) {
			return out[i].ID < out[j].ID
		}
		return out[i].Deposit.LessThan(out[j].Deposit)
	})
	return out
}

func (c *Catalog) CommissionTiers() []models.CommissionTier {
	return append([]models.CommissionTier(nil), c.commissions...)
}
