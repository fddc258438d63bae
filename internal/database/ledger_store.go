package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
)

// PostgresStore is the durable ledger.Store. Each unit of work is a SERIALIZABLE
// transaction; balance rows are read FOR UPDATE and written with a version check.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// classify marks postgres contention errors as retryable.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505": // serialization_failure, deadlock_detected, unique_violation
			return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
		}
	}
	return err
}

type pgTx struct {
	tx *sql.Tx
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ledger.ErrNotFound)
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func (t *pgTx) GetUser(ctx context.Context, userID string) (*models.UserAccount, error) {
	var u models.UserAccount
	var referrer sql.NullString
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, display_name, email, referrer_id, disabled, has_active_investment, created_at, updated_at
		FROM users
		WHERE id = $1`, userID).
		Scan(&u.ID, &u.DisplayName, &u.Email, &referrer, &u.Disabled, &u.HasActiveInvestment, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "user", userID)
	}
	u.ReferrerID = referrer.String
	return &u, nil
}

func (t *pgTx) InsertUser(ctx context.Context, user *models.UserAccount) error {
	referrer := sql.NullString{String: user.ReferrerID, Valid: user.ReferrerID != ""}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, referrer_id, disabled, has_active_investment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.DisplayName, user.Email, referrer, user.Disabled, user.HasActiveInvestment, user.CreatedAt, user.UpdatedAt)
	return err
}

func (t *pgTx) SetUserDisabled(ctx context.Context, userID string, disabled bool) error {
	return t.execOne(ctx, "user", userID, `
		UPDATE users SET disabled = $1, updated_at = $2 WHERE id = $3`,
		disabled, time.Now().UTC(), userID)
}

func (t *pgTx) SetHasActiveInvestment(ctx context.Context, userID string, active bool) error {
	return t.execOne(ctx, "user", userID, `
		UPDATE users SET has_active_investment = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), userID)
}

func (t *pgTx) CountActiveReferrals(ctx context.Context, referrerID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE referrer_id = $1 AND has_active_investment = true`, referrerID).Scan(&n)
	return n, err
}

func (t *pgTx) LockBalance(ctx context.Context, userID string) (*models.BalanceRecord, error) {
	var b models.BalanceRecord
	err := t.tx.QueryRowContext(ctx, `
		SELECT user_id, available, recharge_total, withdrawal_total, todays_earnings, earnings_run, version, updated_at
		FROM balances
		WHERE user_id = $1
		FOR UPDATE`, userID).
		Scan(&b.UserID, &b.Available, &b.RechargeTotal, &b.WithdrawalTotal, &b.TodaysEarnings, &b.EarningsRun, &b.Version, &b.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "balance", userID)
	}
	return &b, nil
}

func (t *pgTx) InsertBalance(ctx context.Context, rec *models.BalanceRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, available, recharge_total, withdrawal_total, todays_earnings, earnings_run, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.UserID, rec.Available, rec.RechargeTotal, rec.WithdrawalTotal, rec.TodaysEarnings, rec.EarningsRun, rec.Version, rec.UpdatedAt)
	return err
}

func (t *pgTx) UpdateBalance(ctx context.Context, rec *models.BalanceRecord) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE balances
		SET available = $1, recharge_total = $2, withdrawal_total = $3, todays_earnings = $4, earnings_run = $5, version = version + 1, updated_at = $6
		WHERE user_id = $7 AND version = $8`,
		rec.Available, rec.RechargeTotal, rec.WithdrawalTotal, rec.TodaysEarnings, rec.EarningsRun, rec.UpdatedAt, rec.UserID, rec.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: optimistic lock failed for balance %s", ledger.ErrConflict, rec.UserID)
	}

	rec.Version++
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, kind, amount, balance, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.UserID, string(entry.Kind), entry.Amount, entry.Balance, entry.Reference, entry.CreatedAt)
	return err
}

func (t *pgTx) ListEarningUsers(ctx context.Context) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT user_id FROM balances WHERE todays_earnings <> 0 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const investmentColumns = `id, user_id, package_id, package_name, price, daily_return, duration_days, total_return, started_at, status, updated_at`

func scanInvestment(row interface{ Scan(...any) error }) (*models.Investment, error) {
	var inv models.Investment
	var status string
	err := row.Scan(&inv.ID, &inv.UserID, &inv.PackageID, &inv.PackageName, &inv.Price, &inv.DailyReturn,
		&inv.DurationDays, &inv.TotalReturn, &inv.StartedAt, &status, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.Status = models.InvestmentStatus(status)
	return &inv, nil
}

func (t *pgTx) InsertInvestment(ctx context.Context, inv *models.Investment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO investments (`+investmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inv.ID, inv.UserID, inv.PackageID, inv.PackageName, inv.Price, inv.DailyReturn,
		inv.DurationDays, inv.TotalReturn, inv.StartedAt, string(inv.Status), inv.UpdatedAt)
	return err
}

func (t *pgTx) LockInvestment(ctx context.Context, id string) (*models.Investment, error) {
	inv, err := scanInvestment(t.tx.QueryRowContext(ctx, `
		SELECT `+investmentColumns+` FROM investments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "investment", id)
	}
	return inv, nil
}

func (t *pgTx) UpdateInvestment(ctx context.Context, inv *models.Investment) error {
	return t.execOne(ctx, "investment", inv.ID, `
		UPDATE investments
		SET price = $1, daily_return = $2, duration_days = $3, total_return = $4, status = $5, updated_at = $6
		WHERE id = $7`,
		inv.Price, inv.DailyReturn, inv.DurationDays, inv.TotalReturn, string(inv.Status), inv.UpdatedAt, inv.ID)
}

func (t *pgTx) DeleteInvestment(ctx context.Context, id string) error {
	return t.execOne(ctx, "investment", id, `DELETE FROM investments WHERE id = $1`, id)
}

func (t *pgTx) CountActiveInvestments(ctx context.Context, userID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM investments WHERE user_id = $1 AND status = 'active'`, userID).Scan(&n)
	return n, err
}

func (t *pgTx) SumActiveReturnsByOwner(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT user_id, SUM(daily_return) FROM investments WHERE status = 'active' GROUP BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var id string
		var sum decimal.Decimal
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

func (t *pgTx) ListMaturedInvestments(ctx context.Context, asOf time.Time) ([]*models.Investment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+investmentColumns+` FROM investments
		WHERE status = 'active' AND started_at + duration_days * INTERVAL '1 day' <= $1
		ORDER BY id`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertDeposit(ctx context.Context, d *models.DepositProof) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO deposit_proofs (id, user_id, amount, proof, submitted_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.UserID, d.Amount, d.Proof, d.SubmittedAt, string(d.Status))
	return err
}

const depositColumns = `id, user_id, amount, proof, submitted_at, status, resolved_by, resolved_at`

func scanDeposit(row interface{ Scan(...any) error }) (*models.DepositProof, error) {
	var d models.DepositProof
	var status string
	var resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&d.ID, &d.UserID, &d.Amount, &d.Proof, &d.SubmittedAt, &status, &resolvedBy, &resolvedAt); err != nil {
		return nil, err
	}
	d.Status = models.RequestStatus(status)
	d.ResolvedBy = resolvedBy.String
	d.ResolvedAt = timePtr(resolvedAt)
	return &d, nil
}

func (t *pgTx) LockDeposit(ctx context.Context, id string) (*models.DepositProof, error) {
	d, err := scanDeposit(t.tx.QueryRowContext(ctx, `
		SELECT `+depositColumns+` FROM deposit_proofs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "deposit", id)
	}
	return d, nil
}

func (t *pgTx) UpdateDepositStatus(ctx context.Context, d *models.DepositProof) error {
	return t.execOne(ctx, "deposit", d.ID, `
		UPDATE deposit_proofs SET status = $1, resolved_by = $2, resolved_at = $3 WHERE id = $4`,
		string(d.Status), d.ResolvedBy, nullTime(d.ResolvedAt), d.ID)
}

func (t *pgTx) ListDeposits(ctx context.Context, userID string) ([]*models.DepositProof, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+depositColumns+` FROM deposit_proofs WHERE user_id = $1 ORDER BY submitted_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DepositProof
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (id, user_id, amount, destination, requested_at, status, funds_held)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.UserID, w.Amount, string(w.Destination), w.RequestedAt, string(w.Status), w.FundsHeld)
	return err
}

const withdrawalColumns = `id, user_id, amount, destination, requested_at, status, funds_held, resolved_by, resolved_at`

func scanWithdrawal(row interface{ Scan(...any) error }) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	var status string
	var destination []byte
	var resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&w.ID, &w.UserID, &w.Amount, &destination, &w.RequestedAt, &status, &w.FundsHeld, &resolvedBy, &resolvedAt); err != nil {
		return nil, err
	}
	w.Destination = destination
	w.Status = models.RequestStatus(status)
	w.ResolvedBy = resolvedBy.String
	w.ResolvedAt = timePtr(resolvedAt)
	return &w, nil
}

func (t *pgTx) LockWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(t.tx.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "withdrawal", id)
	}
	return w, nil
}

func (t *pgTx) UpdateWithdrawalStatus(ctx context.Context, w *models.WithdrawalRequest) error {
	return t.execOne(ctx, "withdrawal", w.ID, `
		UPDATE withdrawal_requests SET status = $1, resolved_by = $2, resolved_at = $3 WHERE id = $4`,
		string(w.Status), w.ResolvedBy, nullTime(w.ResolvedAt), w.ID)
}

func (t *pgTx) ListWithdrawals(ctx context.Context, userID string) ([]*models.WithdrawalRequest, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE user_id = $1 ORDER BY requested_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertApplication(ctx context.Context, a *models.ContributorApplication) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO contributor_applications (id, user_id, tier_id, tier_level, deposit, applied_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.TierID, a.TierLevel, a.Deposit, a.AppliedAt, string(a.Status))
	return err
}

func (t *pgTx) LockApplication(ctx context.Context, id string) (*models.ContributorApplication, error) {
	var a models.ContributorApplication
	var status string
	var resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, tier_id, tier_level, deposit, applied_at, status, resolved_by, resolved_at
		FROM contributor_applications
		WHERE id = $1
		FOR UPDATE`, id).
		Scan(&a.ID, &a.UserID, &a.TierID, &a.TierLevel, &a.Deposit, &a.AppliedAt, &status, &resolvedBy, &resolvedAt)
	if err != nil {
		return nil, notFound(err, "application", id)
	}
	a.Status = models.RequestStatus(status)
	a.ResolvedBy = resolvedBy.String
	a.ResolvedAt = timePtr(resolvedAt)
	return &a, nil
}

func (t *pgTx) UpdateApplicationStatus(ctx context.Context, a *models.ContributorApplication) error {
	return t.execOne(ctx, "application", a.ID, `
		UPDATE contributor_applications SET status = $1, resolved_by = $2, resolved_at = $3 WHERE id = $4`,
		string(a.Status), a.ResolvedBy, nullTime(a.ResolvedAt), a.ID)
}

func (t *pgTx) MarkAccrual(ctx context.Context, mark *models.AccrualMark) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO accrual_marks (user_id, run_key, amount, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, run_key) DO NOTHING`,
		mark.UserID, mark.RunKey, mark.Amount, mark.CreatedAt)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

// execOne runs a single-row write and maps zero affected rows to ErrNotFound.
func (t *pgTx) execOne(ctx context.Context, what, id, query string, args ...any) error {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ledger.ErrNotFound)
	}
	return nil
}

// Ensure PostgresStore implements ledger.Store
var _ ledger.Store = (*PostgresStore)(nil)
