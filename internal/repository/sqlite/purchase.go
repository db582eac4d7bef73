package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/veo3pk/studio/internal/repository"
)

type purchaseRepo struct {
	db *sql.DB
}

const purchaseColumns = `id, user_id, plan_type, amount, source, transaction_id, created_at`

func scanPurchase(row scanner) (*repository.PlanPurchase, error) {
	var p repository.PlanPurchase
	if err := row.Scan(&p.ID, &p.UserID, &p.PlanType, &p.Amount, &p.Source, &p.TransactionID, &p.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *purchaseRepo) Activate(ctx context.Context, activation repository.PlanActivation) (*repository.PlanPurchase, bool, error) {
	p := activation.Purchase
	var (
		stored   *repository.PlanPurchase
		inserted bool
	)
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO plan_purchases(user_id, plan_type, amount, source, transaction_id, created_at)
			VALUES(?, ?, ?, ?, ?, ?) ON CONFLICT(transaction_id) DO NOTHING`,
			p.UserID, p.PlanType, p.Amount, p.Source, p.TransactionID, p.CreatedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n == 1
		if inserted {
			upd, err := tx.ExecContext(ctx, `UPDATE users SET plan_type = ?, plan_status = ?, plan_started_at = ?,
				plan_expires_at = ?, updated_at = ? WHERE id = ?`,
				p.PlanType, repository.PlanStatusActive, activation.StartedAt, activation.ExpiresAt, p.CreatedAt, p.UserID)
			if err := expectRow(upd, err); err != nil {
				return err
			}
		}
		stored, err = scanPurchase(tx.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM plan_purchases WHERE transaction_id = ?`, p.TransactionID))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, inserted, nil
}

func (r *purchaseRepo) IsFirstPaid(ctx context.Context, purchase *repository.PlanPurchase) (bool, error) {
	if purchase == nil {
		return false, errors.New("purchase is required")
	}
	var earlier int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM plan_purchases
		WHERE user_id = ? AND plan_type <> ? AND amount > 0 AND id < ?`, purchase.UserID, repository.PlanFree, purchase.ID).Scan(&earlier)
	if err != nil {
		return false, err
	}
	return earlier == 0, nil
}

func (r *purchaseRepo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*repository.PlanPurchase, error) {
	limit, offset = normalizePaging(limit, offset)
	rows, err := r.db.QueryContext(ctx, `SELECT `+purchaseColumns+` FROM plan_purchases WHERE user_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*repository.PlanPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
