package services

import (
	"fmt"
	"strings"

	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
)

// AuthorizationPolicy decides whether a principal may run admin-only operations.
type AuthorizationPolicy interface {
	IsAdmin(p models.Principal) bool
}

// AllowListPolicy grants admin rights to configured user ids, and to configured emails
// once the identity provider has verified them.
type AllowListPolicy struct {
	ids    map[string]struct{}
	emails map[string]struct{}
}

func NewAllowListPolicy(ids, emails []string) *AllowListPolicy {
	p := &AllowListPolicy{
		ids:    make(map[string]struct{}, len(ids)),
		emails: make(map[string]struct{}, len(emails)),
	}
	for _, id := range ids {
		p.ids[id] = struct{}{}
	}
	for _, e := range emails {
		p.emails[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return p
}

func (p *AllowListPolicy) IsAdmin(pr models.Principal) bool {
	if pr.UserID == "" {
		return false
	}
	if _, ok := p.ids[pr.UserID]; ok {
		return true
	}
	if !pr.Verified || pr.Email == "" {
		return false
	}
	_, ok := p.emails[strings.ToLower(pr.Email)]
	return ok
}

func requireAdmin(policy AuthorizationPolicy, actor models.Principal) error {
	if policy == nil || !policy.IsAdmin(actor) {
		return fmt.Errorf("%w: %s is not an administrator", ledger.ErrUnauthorized, actor.UserID)
	}
	return nil
}

func requirePrincipal(actor models.Principal) error {
	if actor.UserID == "" {
		return fmt.Errorf("%w: no authenticated principal", ledger.ErrUnauthorized)
	}
	return nil
}
