package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
)

// MemoryStore is an in-memory ledger.Store. Units of work run one at a time against a
// private copy of the state that replaces the shared state only on commit, so a failing
// unit leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState

	// fault injection
	conflicts int
	commitErr error
}

type memState struct {
	users        map[string]*models.UserAccount
	balances     map[string]*models.BalanceRecord
	entries      []*models.LedgerEntry
	investments  map[string]*models.Investment
	deposits     map[string]*models.DepositProof
	withdrawals  map[string]*models.WithdrawalRequest
	applications map[string]*models.ContributorApplication
	marks        map[string]*models.AccrualMark
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func newMemState() *memState {
	return &memState{
		users:        make(map[string]*models.UserAccount),
		balances:     make(map[string]*models.BalanceRecord),
		investments:  make(map[string]*models.Investment),
		deposits:     make(map[string]*models.DepositProof),
		withdrawals:  make(map[string]*models.WithdrawalRequest),
		applications: make(map[string]*models.ContributorApplication),
		marks:        make(map[string]*models.AccrualMark),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range s.balances {
		b := *v
		c.balances[k] = &b
	}
	c.entries = append(c.entries, s.entries...)
	for k, v := range s.investments {
		i := *v
		c.investments[k] = &i
	}
	for k, v := range s.deposits {
		d := *v
		c.deposits[k] = &d
	}
	for k, v := range s.withdrawals {
		w := *v
		c.withdrawals[k] = &w
	}
	for k, v := range s.applications {
		a := *v
		c.applications[k] = &a
	}
	for k, v := range s.marks {
		m := *v
		c.marks[k] = &m
	}
	return c
}

// InjectConflicts makes the next n units of work fail with ledger.ErrConflict after fn ran.
func (m *MemoryStore) InjectConflicts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = n
}

// FailNextCommit makes the next unit of work fail at commit with err after fn ran.
func (m *MemoryStore) FailNextCommit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}

	if m.conflicts > 0 {
		m.conflicts--
		return fmt.Errorf("%w: injected", ledger.ErrConflict)
	}
	if m.commitErr != nil {
		err := m.commitErr
		m.commitErr = nil
		return err
	}

	m.state = work
	return nil
}

// Balance returns a copy of the committed balance record, or nil.
func (m *MemoryStore) Balance(userID string) *models.BalanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.state.balances[userID]; ok {
		c := *b
		return &c
	}
	return nil
}

// User returns a copy of the committed account, or nil.
func (m *MemoryStore) User(userID string) *models.UserAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.state.users[userID]; ok {
		c := *u
		return &c
	}
	return nil
}

// Investments returns copies of the committed investments owned by userID.
func (m *MemoryStore) Investments(userID string) []*models.Investment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Investment
	for _, inv := range m.state.investments {
		if inv.UserID == userID {
			c := *inv
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Entries returns the committed journal lines for userID in append order.
func (m *MemoryStore) Entries(userID string) []models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range m.state.entries {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out
}

type memTx struct {
	s *memState
}

func (t *memTx) GetUser(_ context.Context, userID string) (*models.UserAccount, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ledger.ErrNotFound)
	}
	c := *u
	return &c, nil
}

func (t *memTx) InsertUser(_ context.Context, user *models.UserAccount) error {
	if _, ok := t.s.users[user.ID]; ok {
		return fmt.Errorf("%w: user %s exists", ledger.ErrConflict, user.ID)
	}
	c := *user
	t.s.users[user.ID] = &c
	return nil
}

func (t *memTx) SetUserDisabled(_ context.Context, userID string, disabled bool) error {
	u, ok := t.s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ledger.ErrNotFound)
	}
	u.Disabled = disabled
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) SetHasActiveInvestment(_ context.Context, userID string, active bool) error {
	u, ok := t.s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ledger.ErrNotFound)
	}
	u.HasActiveInvestment = active
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) CountActiveReferrals(_ context.Context, referrerID string) (int, error) {
	n := 0
	for _, u := range t.s.users {
		if u.ReferrerID == referrerID && u.HasActiveInvestment {
			n++
		}
	}
	return n, nil
}

func (t *memTx) LockBalance(_ context.Context, userID string) (*models.BalanceRecord, error) {
	b, ok := t.s.balances[userID]
	if !ok {
		return nil, fmt.Errorf("balance %s: %w", userID, ledger.ErrNotFound)
	}
	c := *b
	return &c, nil
}

func (t *memTx) InsertBalance(_ context.Context, rec *models.BalanceRecord) error {
	if _, ok := t.s.balances[rec.UserID]; ok {
		return fmt.Errorf("%w: balance %s exists", ledger.ErrConflict, rec.UserID)
	}
	c := *rec
	t.s.balances[rec.UserID] = &c
	return nil
}

func (t *memTx) UpdateBalance(_ context.Context, rec *models.BalanceRecord) error {
	cur, ok := t.s.balances[rec.UserID]
	if !ok {
		return fmt.Errorf("balance %s: %w", rec.UserID, ledger.ErrNotFound)
	}
	if cur.Version != rec.Version {
		return fmt.Errorf("%w: optimistic lock failed for balance %s", ledger.ErrConflict, rec.UserID)
	}
	rec.Version++
	c := *rec
	t.s.balances[rec.UserID] = &c
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, entry *models.LedgerEntry) error {
	c := *entry
	t.s.entries = append(t.s.entries, &c)
	return nil
}

func (t *memTx) ListEarningUsers(_ context.Context) ([]string, error) {
	var out []string
	for id, b := range t.s.balances {
		if !b.TodaysEarnings.IsZero() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (t *memTx) InsertInvestment(_ context.Context, inv *models.Investment) error {
	c := *inv
	t.s.investments[inv.ID] = &c
	return nil
}

func (t *memTx) LockInvestment(_ context.Context, id string) (*models.Investment, error) {
	inv, ok := t.s.investments[id]
	if !ok {
		return nil, fmt.Errorf("investment %s: %w", id, ledger.ErrNotFound)
	}
	c := *inv
	return &c, nil
}

func (t *memTx) UpdateInvestment(_ context.Context, inv *models.Investment) error {
	if _, ok := t.s.investments[inv.ID]; !ok {
		return fmt.Errorf("investment %s: %w", inv.ID, ledger.ErrNotFound)
	}
	c := *inv
	t.s.investments[inv.ID] = &c
	return nil
}

func (t *memTx) DeleteInvestment(_ context.Context, id string) error {
	if _, ok := t.s.investments[id]; !ok {
		return fmt.Errorf("investment %s: %w", id, ledger.ErrNotFound)
	}
	delete(t.s.investments, id)
	return nil
}

func (t *memTx) CountActiveInvestments(_ context.Context, userID string) (int, error) {
	n := 0
	for _, inv := range t.s.investments {
		if inv.UserID == userID && inv.Status == models.InvestmentActive {
			n++
		}
	}
	return n, nil
}

func (t *memTx) SumActiveReturnsByOwner(_ context.Context) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, inv := range t.s.investments {
		if inv.Status != models.InvestmentActive {
			continue
		}
		out[inv.UserID] = out[inv.UserID].Add(inv.DailyReturn)
	}
	return out, nil
}

func (t *memTx) ListMaturedInvestments(_ context.Context, asOf time.Time) ([]*models.Investment, error) {
	var out []*models.Investment
	for _, inv := range t.s.investments {
		if inv.Status == models.InvestmentActive && !inv.MaturesAt().After(asOf) {
			c := *inv
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) InsertDeposit(_ context.Context, d *models.DepositProof) error {
	c := *d
	t.s.deposits[d.ID] = &c
	return nil
}

func (t *memTx) LockDeposit(_ context.Context, id string) (*models.DepositProof, error) {
	d, ok := t.s.deposits[id]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", id, ledger.ErrNotFound)
	}
	c := *d
	return &c, nil
}

func (t *memTx) UpdateDepositStatus(_ context.Context, d *models.DepositProof) error {
	cur, ok := t.s.deposits[d.ID]
	if !ok {
		return fmt.Errorf("deposit %s: %w", d.ID, ledger.ErrNotFound)
	}
	cur.Status, cur.ResolvedBy, cur.ResolvedAt = d.Status, d.ResolvedBy, d.ResolvedAt
	return nil
}

func (t *memTx) ListDeposits(_ context.Context, userID string) ([]*models.DepositProof, error) {
	var out []*models.DepositProof
	for _, d := range t.s.deposits {
		if d.UserID == userID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

func (t *memTx) InsertWithdrawal(_ context.Context, w *models.WithdrawalRequest) error {
	c := *w
	t.s.withdrawals[w.ID] = &c
	return nil
}

func (t *memTx) LockWithdrawal(_ context.Context, id string) (*models.WithdrawalRequest, error) {
	w, ok := t.s.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: %w", id, ledger.ErrNotFound)
	}
	c := *w
	return &c, nil
}

func (t *memTx) UpdateWithdrawalStatus(_ context.Context, w *models.WithdrawalRequest) error {
	cur, ok := t.s.withdrawals[w.ID]
	if !ok {
		return fmt.Errorf("withdrawal %s: %w", w.ID, ledger.ErrNotFound)
	}
	cur.Status, cur.ResolvedBy, cur.ResolvedAt = w.Status, w.ResolvedBy, w.ResolvedAt
	return nil
}

func (t *memTx) ListWithdrawals(_ context.Context, userID string) ([]*models.WithdrawalRequest, error) {
	var out []*models.WithdrawalRequest
	for _, w := range t.s.withdrawals {
		if w.UserID == userID {
			c := *w
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

func (t *memTx) InsertApplication(_ context.Context, a *models.ContributorApplication) error {
	c := *a
	t.s.applications[a.ID] = &c
	return nil
}

func (t *memTx) LockApplication(_ context.Context, id string) (*models.ContributorApplication, error) {
	a, ok := t.s.applications[id]
	if !ok {
		return nil, fmt.Errorf("application %s: %w", id, ledger.ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (t *memTx) UpdateApplicationStatus(_ context.Context, a *models.ContributorApplication) error {
	cur, ok := t.s.applications[a.ID]
	if !ok {
		return fmt.Errorf("application %s: %w", a.ID, ledger.ErrNotFound)
	}
	cur.Status, cur.ResolvedBy, cur.ResolvedAt = a.Status, a.ResolvedBy, a.ResolvedAt
	return nil
}

func (t *memTx) MarkAccrual(_ context.Context, mark *models.AccrualMark) (bool, error) {
	key := mark.UserID + "|" + mark.RunKey
	if _, ok := t.s.marks[key]; ok {
		return false, nil
	}
	c := *mark
	t.s.marks[key] = &c
	return true, nil
}

// Ensure MemoryStore implements ledger.Store
var _ ledger.Store = (*MemoryStore)(nil)
