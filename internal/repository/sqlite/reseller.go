package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/veo3pk/studio/internal/repository"
)

type resellerRepo struct {
	db *sql.DB
}

const resellerColumns = `id, user_id, name, credit_balance, is_active, created_at, updated_at`

const ledgerColumns = `id, reseller_id, delta, balance_after, reason, reference, created_by, created_at`

func scanReseller(row scanner) (*repository.Reseller, error) {
	var (
		rs     repository.Reseller
		active int
	)
	if err := row.Scan(&rs.ID, &rs.UserID, &rs.Name, &rs.CreditBalance, &active, &rs.CreatedAt, &rs.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	rs.IsActive = active == 1
	return &rs, nil
}

func scanLedger(row scanner) (*repository.CreditLedgerEntry, error) {
	var e repository.CreditLedgerEntry
	if err := row.Scan(&e.ID, &e.ResellerID, &e.Delta, &e.BalanceAfter, &e.Reason, &e.Reference, &e.CreatedBy, &e.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *resellerRepo) Create(ctx context.Context, reseller *repository.Reseller) (*repository.Reseller, error) {
	if reseller == nil {
		return nil, errors.New("reseller is required")
	}
	now := time.Now().Unix()
	reseller.CreatedAt = now
	reseller.UpdatedAt = now
	res, err := r.db.ExecContext(ctx, `INSERT INTO resellers(user_id, name, credit_balance, is_active, created_at, updated_at)
		VALUES(?, ?, 0, ?, ?, ?)`, reseller.UserID, reseller.Name, boolToInt(reseller.IsActive), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	reseller.ID = id
	reseller.CreditBalance = 0
	return reseller, nil
}

func (r *resellerRepo) FindByID(ctx context.Context, id int64) (*repository.Reseller, error) {
	return scanReseller(r.db.QueryRowContext(ctx, `SELECT `+resellerColumns+` FROM resellers WHERE id = ?`, id))
}

func (r *resellerRepo) FindByUserID(ctx context.Context, userID int64) (*repository.Reseller, error) {
	return scanReseller(r.db.QueryRowContext(ctx, `SELECT `+resellerColumns+` FROM resellers WHERE user_id = ?`, userID))
}

func (r *resellerRepo) List(ctx context.Context) ([]*repository.Reseller, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+resellerColumns+` FROM resellers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*repository.Reseller
	for rows.Next() {
		rs, err := scanReseller(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rs)
	}
	return list, rows.Err()
}

func (r *resellerRepo) SetActive(ctx context.Context, id int64, active bool, now int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE resellers SET is_active = ?, updated_at = ? WHERE id = ?`, boolToInt(active), now, id)
	return expectRow(res, err)
}

func (r *resellerRepo) ApplyCredit(ctx context.Context, change repository.CreditChange) (*repository.CreditLedgerEntry, error) {
	var entry *repository.CreditLedgerEntry
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var balance int64
		err := tx.QueryRowContext(ctx, `UPDATE resellers SET credit_balance = credit_balance + ?, updated_at = ?
			WHERE id = ? AND credit_balance + ? >= 0 RETURNING credit_balance`,
			change.Delta, change.CreatedAt, change.ResellerID, change.Delta).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			if _, findErr := r.FindByIDTx(ctx, tx, change.ResellerID); findErr != nil {
				return findErr
			}
			return repository.ErrInsufficientFunds
		}
		if err != nil {
			return err
		}
		entry, err = scanLedger(tx.QueryRowContext(ctx, `INSERT INTO reseller_credit_ledger(reseller_id, delta, balance_after,
			reason, reference, created_by, created_at) VALUES(?, ?, ?, ?, ?, ?, ?) RETURNING `+ledgerColumns,
			change.ResellerID, change.Delta, balance, change.Reason, change.Reference, change.CreatedBy, change.CreatedAt))
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// FindByIDTx reads a reseller inside an open transaction.
func (r *resellerRepo) FindByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*repository.Reseller, error) {
	return scanReseller(tx.QueryRowContext(ctx, `SELECT `+resellerColumns+` FROM resellers WHERE id = ?`, id))
}

func (r *resellerRepo) Ledger(ctx context.Context, resellerID int64, limit, offset int) ([]*repository.CreditLedgerEntry, error) {
	limit, offset = normalizePaging(limit, offset)
	rows, err := r.db.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM reseller_credit_ledger WHERE reseller_id = ?
		ORDER BY id DESC LIMIT ? OFFSET ?`, resellerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*repository.CreditLedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *resellerRepo) LastLedgerBalance(ctx context.Context, resellerID int64) (int64, bool, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `SELECT balance_after FROM reseller_credit_ledger WHERE reseller_id = ?
		ORDER BY id DESC LIMIT 1`, resellerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}
