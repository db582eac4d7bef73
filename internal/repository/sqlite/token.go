package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/veo3pk/studio/internal/repository"
)

type tokenRepo struct {
	db *sql.DB
}

const tokenColumns = `id, pool, label, credential, is_active, usage_limit, request_count, characters_used,
	seconds_used, error_count, consecutive_errors, last_error, last_used_at, created_at, updated_at`

// usageExpr is the counter compared against usage_limit for each pool.
const usageExpr = `(CASE pool WHEN 'cartesia' THEN characters_used WHEN 'zyphra' THEN seconds_used / 60 ELSE request_count END)`

const eligibleClause = `pool = ? AND is_active = 1 AND consecutive_errors < ?
	AND (usage_limit = 0 OR ` + usageExpr + ` < usage_limit)`

func scanToken(row scanner) (*repository.APIToken, error) {
	var (
		t      repository.APIToken
		active int
	)
	if err := row.Scan(&t.ID, &t.Pool, &t.Label, &t.Credential, &active, &t.UsageLimit, &t.RequestCount,
		&t.CharactersUsed, &t.SecondsUsed, &t.ErrorCount, &t.ConsecutiveErrors, &t.LastError, &t.LastUsedAt,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	t.IsActive = active == 1
	return &t, nil
}

func scanPool(row scanner) (*repository.TokenPool, error) {
	var p repository.TokenPool
	if err := row.Scan(&p.Pool, &p.Policy, &p.NextRotationIndex, &p.ErrorThreshold, &p.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *tokenRepo) ListPools(ctx context.Context) ([]repository.TokenPool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT pool, policy, next_rotation_index, error_threshold, updated_at FROM token_pools ORDER BY pool`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPool)
}

func (r *tokenRepo) GetPool(ctx context.Context, pool string) (*repository.TokenPool, error) {
	return scanPool(r.db.QueryRowContext(ctx,
		`SELECT pool, policy, next_rotation_index, error_threshold, updated_at FROM token_pools WHERE pool = ?`, pool))
}

func (r *tokenRepo) UpdatePool(ctx context.Context, pool *repository.TokenPool) error {
	pool.UpdatedAt = time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `UPDATE token_pools SET policy = ?, error_threshold = ?, updated_at = ? WHERE pool = ?`,
		pool.Policy, pool.ErrorThreshold, pool.UpdatedAt, pool.Pool)
	return expectRow(res, err)
}

func (r *tokenRepo) Create(ctx context.Context, token *repository.APIToken) (*repository.APIToken, error) {
	if token == nil {
		return nil, errors.New("token is required")
	}
	now := time.Now().Unix()
	token.CreatedAt = now
	token.UpdatedAt = now
	res, err := r.db.ExecContext(ctx, `INSERT INTO api_tokens(pool, label, credential, is_active, usage_limit, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		token.Pool, token.Label, token.Credential, boolToInt(token.IsActive), token.UsageLimit, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	token.ID = id
	return token, nil
}

func (r *tokenRepo) FindByID(ctx context.Context, id int64) (*repository.APIToken, error) {
	return scanToken(r.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM api_tokens WHERE id = ?`, id))
}

func (r *tokenRepo) List(ctx context.Context, pool string) ([]*repository.APIToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM api_tokens`
	var args []any
	if pool != "" {
		query += ` WHERE pool = ?`
		args = append(args, pool)
	}
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY pool, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTokens(rows)
}

func collectTokens(rows *sql.Rows) ([]*repository.APIToken, error) {
	var tokens []*repository.APIToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Update writes the admin-editable fields; reactivating clears the error streak.
func (r *tokenRepo) Update(ctx context.Context, token *repository.APIToken) error {
	token.UpdatedAt = time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `UPDATE api_tokens SET pool = ?, label = ?, credential = ?, usage_limit = ?,
		consecutive_errors = CASE WHEN ? = 1 AND is_active = 0 THEN 0 ELSE consecutive_errors END,
		is_active = ?, updated_at = ? WHERE id = ?`,
		token.Pool, token.Label, token.Credential, token.UsageLimit, boolToInt(token.IsActive), boolToInt(token.IsActive),
		token.UpdatedAt, token.ID)
	return expectRow(res, err)
}

func (r *tokenRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE id = ?`, id)
	return expectRow(res, err)
}

func (r *tokenRepo) ResetCounters(ctx context.Context, id int64, at int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_tokens SET request_count = 0, characters_used = 0, seconds_used = 0,
		error_count = 0, consecutive_errors = 0, last_error = '', is_active = 1, updated_at = ? WHERE id = ?`, at, id)
	return expectRow(res, err)
}

func (r *tokenRepo) AcquireLRU(ctx context.Context, pool string, threshold int, now int64) (*repository.APIToken, error) {
	const stmt = `UPDATE api_tokens SET request_count = request_count + 1, last_used_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM api_tokens WHERE ` + eligibleClause + `
			ORDER BY last_used_at ASC, id ASC LIMIT 1
		)
		RETURNING ` + tokenColumns
	return scanToken(r.db.QueryRowContext(ctx, stmt, now, now, pool, threshold))
}

func (r *tokenRepo) AcquireRoundRobin(ctx context.Context, pool string, threshold int, now int64) (*repository.APIToken, error) {
	var picked *repository.APIToken
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		// Writing the cursor first takes the database write lock before the read.
		var cursor int64
		err := tx.QueryRowContext(ctx, `UPDATE token_pools SET next_rotation_index = next_rotation_index + 1, updated_at = ?
			WHERE pool = ? RETURNING next_rotation_index - 1`, now, pool).Scan(&cursor)
		if err != nil {
			return notFound(err)
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM api_tokens WHERE `+eligibleClause+` ORDER BY id ASC`, pool, threshold)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return repository.ErrNotFound
		}

		chosen := ids[cursor%int64(len(ids))]
		picked, err = scanToken(tx.QueryRowContext(ctx, `UPDATE api_tokens SET request_count = request_count + 1,
			last_used_at = ?, updated_at = ? WHERE id = ? RETURNING `+tokenColumns, now, now, chosen))
		return err
	})
	if err != nil {
		return nil, err
	}
	return picked, nil
}

func (r *tokenRepo) CountEligible(ctx context.Context, pool string, threshold int) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM api_tokens WHERE `+eligibleClause, pool, threshold).Scan(&n)
	return n, err
}

func (r *tokenRepo) RecordSuccess(ctx context.Context, id int64, usage repository.TokenUsage, now int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_tokens SET characters_used = characters_used + ?,
		seconds_used = seconds_used + ?, consecutive_errors = 0, updated_at = ? WHERE id = ?`,
		usage.Characters, usage.Seconds, now, id)
	return expectRow(res, err)
}

func (r *tokenRepo) RecordFailure(ctx context.Context, id int64, message string, countsAgainst bool, threshold int, now int64) (bool, error) {
	streak := 0
	if countsAgainst {
		streak = 1
	}
	var (
		active      int
		consecutive int
	)
	err := r.db.QueryRowContext(ctx, `UPDATE api_tokens SET
			error_count = error_count + 1,
			consecutive_errors = consecutive_errors + ?,
			is_active = CASE WHEN consecutive_errors + ? >= ? THEN 0 ELSE is_active END,
			last_error = ?,
			updated_at = ?
		WHERE id = ?
		RETURNING is_active, consecutive_errors`,
		streak, streak, threshold, truncate(message, 500), now, id).Scan(&active, &consecutive)
	if err != nil {
		return false, notFound(err)
	}
	return countsAgainst && active == 0 && consecutive == threshold, nil
}

func (r *tokenRepo) Stats(ctx context.Context) ([]repository.PoolStats, error) {
	const query = `SELECT p.pool, p.policy, p.error_threshold,
			COUNT(t.id),
			COALESCE(SUM(CASE WHEN t.is_active = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN t.is_active = 1 AND t.consecutive_errors < p.error_threshold
				AND (t.usage_limit = 0 OR (CASE t.pool WHEN 'cartesia' THEN t.characters_used
					WHEN 'zyphra' THEN t.seconds_used / 60 ELSE t.request_count END) < t.usage_limit)
				THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(t.request_count), 0),
			COALESCE(SUM(t.error_count), 0)
		FROM token_pools p
		LEFT JOIN api_tokens t ON t.pool = p.pool
		GROUP BY p.pool, p.policy, p.error_threshold
		ORDER BY p.pool`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []repository.PoolStats
	for rows.Next() {
		var s repository.PoolStats
		if err := rows.Scan(&s.Pool, &s.Policy, &s.ErrorThreshold, &s.Total, &s.Active, &s.Eligible, &s.Requests, &s.Errors); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
