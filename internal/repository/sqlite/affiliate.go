package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/veo3pk/studio/internal/repository"
)

type affiliateRepo struct {
	db *sql.DB
}

const earningColumns = `id, referrer_id, referred_user_id, transaction_id, plan_type, amount, is_first_time, status, created_at`

const withdrawalColumns = `id, user_id, amount, bank_name, account_title, account_number, status, remarks,
	processed_by, processed_at, created_at`

func scanEarning(row scanner) (*repository.AffiliateEarning, error) {
	var (
		e     repository.AffiliateEarning
		first int
	)
	if err := row.Scan(&e.ID, &e.ReferrerID, &e.ReferredUserID, &e.TransactionID, &e.PlanType, &e.Amount,
		&first, &e.Status, &e.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	e.IsFirstTime = first == 1
	return &e, nil
}

func scanWithdrawal(row scanner) (*repository.AffiliateWithdrawal, error) {
	var (
		w           repository.AffiliateWithdrawal
		processedBy sql.NullInt64
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.BankName, &w.AccountTitle, &w.AccountNumber, &w.Status,
		&w.Remarks, &processedBy, &w.ProcessedAt, &w.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	w.ProcessedBy = nullableIntPtr(processedBy)
	return &w, nil
}

func (r *affiliateRepo) Credit(ctx context.Context, earning *repository.AffiliateEarning) (bool, error) {
	if earning == nil {
		return false, errors.New("earning is required")
	}
	var credited bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO affiliate_earnings(referrer_id, referred_user_id, transaction_id,
			plan_type, amount, is_first_time, status, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(referred_user_id, transaction_id) DO NOTHING`,
			earning.ReferrerID, earning.ReferredUserID, earning.TransactionID, earning.PlanType, earning.Amount,
			boolToInt(earning.IsFirstTime), earning.Status, earning.CreatedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		earning.ID = id

		referrals := 0
		if earning.IsFirstTime {
			referrals = 1
		}
		upd, err := tx.ExecContext(ctx, `UPDATE users SET affiliate_balance = affiliate_balance + ?,
			total_referrals = total_referrals + ?, updated_at = ? WHERE id = ?`,
			earning.Amount, referrals, earning.CreatedAt, earning.ReferrerID)
		if err := expectRow(upd, err); err != nil {
			return err
		}
		credited = true
		return nil
	})
	return credited, err
}

func (r *affiliateRepo) ListEarnings(ctx context.Context, referrerID int64, limit, offset int) ([]*repository.AffiliateEarning, error) {
	limit, offset = normalizePaging(limit, offset)
	rows, err := r.db.QueryContext(ctx, `SELECT `+earningColumns+` FROM affiliate_earnings WHERE referrer_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, referrerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*repository.AffiliateEarning
	for rows.Next() {
		e, err := scanEarning(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *affiliateRepo) TotalEarned(ctx context.Context, referrerID int64) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM affiliate_earnings WHERE referrer_id = ?`, referrerID).Scan(&total)
	return total, err
}

// CreateWithdrawal enforces a single pending request per user inside the insert transaction.
func (r *affiliateRepo) CreateWithdrawal(ctx context.Context, w *repository.AffiliateWithdrawal) (*repository.AffiliateWithdrawal, error) {
	if w == nil {
		return nil, errors.New("withdrawal is required")
	}
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO affiliate_withdrawals(user_id, amount, bank_name, account_title,
			account_number, status, created_at)
			SELECT ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (SELECT 1 FROM affiliate_withdrawals WHERE user_id = ? AND status = ?)`,
			w.UserID, w.Amount, w.BankName, w.AccountTitle, w.AccountNumber, repository.WithdrawalPending, w.CreatedAt,
			w.UserID, repository.WithdrawalPending)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrConflict
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		w.ID = id
		w.Status = repository.WithdrawalPending
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *affiliateRepo) FindWithdrawal(ctx context.Context, id int64) (*repository.AffiliateWithdrawal, error) {
	return scanWithdrawal(r.db.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM affiliate_withdrawals WHERE id = ?`, id))
}

func (r *affiliateRepo) ListWithdrawals(ctx context.Context, filter repository.WithdrawalFilter) ([]*repository.AffiliateWithdrawal, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.UserID != nil {
		clauses = append(clauses, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	limit, offset := normalizePaging(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, `SELECT `+withdrawalColumns+` FROM affiliate_withdrawals`+where+
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*repository.AffiliateWithdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

func (r *affiliateRepo) ApproveWithdrawal(ctx context.Context, id, adminID int64, remarks string, now int64) (*repository.AffiliateWithdrawal, error) {
	var result *repository.AffiliateWithdrawal
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		w, err := r.decide(ctx, tx, id, repository.WithdrawalApproved, adminID, remarks, now)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE users SET affiliate_balance = affiliate_balance - ?, updated_at = ?
			WHERE id = ? AND affiliate_balance >= ?`, w.Amount, now, w.UserID, w.Amount)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrInsufficientFunds
		}
		result = w
		return nil
	})
	return result, err
}

func (r *affiliateRepo) RejectWithdrawal(ctx context.Context, id, adminID int64, remarks string, now int64) (*repository.AffiliateWithdrawal, error) {
	var result *repository.AffiliateWithdrawal
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		w, err := r.decide(ctx, tx, id, repository.WithdrawalRejected, adminID, remarks, now)
		result = w
		return err
	})
	return result, err
}

// decide moves a pending withdrawal to its final status.
func (r *affiliateRepo) decide(ctx context.Context, tx *sql.Tx, id int64, status string, adminID int64, remarks string, now int64) (*repository.AffiliateWithdrawal, error) {
	w, err := scanWithdrawal(tx.QueryRowContext(ctx, `UPDATE affiliate_withdrawals SET status = ?, processed_by = ?,
		processed_at = ?, remarks = ? WHERE id = ? AND status = ? RETURNING `+withdrawalColumns,
		status, adminID, now, remarks, id, repository.WithdrawalPending))
	if errors.Is(err, repository.ErrNotFound) {
		if _, findErr := scanWithdrawal(tx.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM affiliate_withdrawals WHERE id = ?`, id)); findErr != nil {
			return nil, findErr
		}
		return nil, repository.ErrStateChanged
	}
	return w, err
}
