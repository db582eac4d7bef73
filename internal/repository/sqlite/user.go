package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/veo3pk/studio/internal/repository"
)

type userRepo struct {
	db *sql.DB
}

const userColumns = `id, uid, username, email, password, is_admin, status, plan_type, plan_status,
	plan_started_at, plan_expires_at, daily_video_count, daily_video_limit, daily_reset_date,
	voice_characters_used, voice_characters_reset_at, referred_by, affiliate_balance, total_referrals,
	two_factor_secret, two_factor_enabled, last_login_at, created_at, updated_at`

func scanUser(row scanner) (*repository.User, error) {
	var (
		u        repository.User
		isAdmin  int
		twoFA    int
		limitCol sql.NullInt64
	)
	if err := row.Scan(
		&u.ID, &u.UID, &u.Username, &u.Email, &u.Password, &isAdmin, &u.Status, &u.PlanType, &u.PlanStatus,
		&u.PlanStartedAt, &u.PlanExpiresAt, &u.DailyVideoCount, &limitCol, &u.DailyResetDate,
		&u.VoiceCharactersUsed, &u.VoiceCharactersResetAt, &u.ReferredBy, &u.AffiliateBalance, &u.TotalReferrals,
		&u.TwoFactorSecret, &twoFA, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	u.IsAdmin = isAdmin == 1
	u.TwoFactorEnabled = twoFA == 1
	u.DailyVideoLimit = nullableIntPtr(limitCol)
	return &u, nil
}

func (r *userRepo) findBy(ctx context.Context, column string, value any) (*repository.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)
	return scanUser(row)
}

func (r *userRepo) FindByID(ctx context.Context, id int64) (*repository.User, error) {
	return r.findBy(ctx, "id", id)
}

func (r *userRepo) FindByUsername(ctx context.Context, username string) (*repository.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ? COLLATE NOCASE`, username)
	return scanUser(row)
}

func (r *userRepo) FindByUID(ctx context.Context, uid string) (*repository.User, error) {
	return r.findBy(ctx, "uid", uid)
}

func (r *userRepo) Create(ctx context.Context, user *repository.User) (*repository.User, error) {
	if user == nil {
		return nil, errors.New("user is required")
	}
	const stmt = `INSERT INTO users(uid, username, email, password, is_admin, status, plan_type, plan_status,
		plan_started_at, plan_expires_at, daily_video_limit, referred_by, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().Unix()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.PlanType == "" {
		user.PlanType = repository.PlanFree
	}
	if user.PlanStatus == "" {
		user.PlanStatus = repository.PlanStatusActive
	}
	res, err := r.db.ExecContext(ctx, stmt,
		user.UID, user.Username, user.Email, user.Password, boolToInt(user.IsAdmin), user.Status,
		user.PlanType, user.PlanStatus, user.PlanStartedAt, user.PlanExpiresAt,
		nullableInt(user.DailyVideoLimit), user.ReferredBy, user.CreatedAt, user.UpdatedAt,
	)
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
	user.ID = id
	return user, nil
}

// Update writes the admin-editable profile and plan fields.
func (r *userRepo) Update(ctx context.Context, user *repository.User) error {
	const stmt = `UPDATE users SET email = ?, is_admin = ?, status = ?, plan_type = ?, plan_status = ?,
		plan_started_at = ?, plan_expires_at = ?, daily_video_limit = ?, updated_at = ?
		WHERE id = ?`
	user.UpdatedAt = time.Now().Unix()
	res, err := r.db.ExecContext(ctx, stmt,
		user.Email, boolToInt(user.IsAdmin), user.Status, user.PlanType, user.PlanStatus,
		user.PlanStartedAt, user.PlanExpiresAt, nullableInt(user.DailyVideoLimit), user.UpdatedAt, user.ID,
	)
	return expectRow(res, err)
}

func (r *userRepo) UpdatePassword(ctx context.Context, id int64, hashed string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password = ?, updated_at = ? WHERE id = ?`, hashed, time.Now().Unix(), id)
	return expectRow(res, err)
}

func (r *userRepo) TouchLogin(ctx context.Context, id int64, at int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, at, id)
	return expectRow(res, err)
}

func (r *userRepo) SetTwoFactor(ctx context.Context, id int64, secret string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET two_factor_secret = ?, two_factor_enabled = ?, updated_at = ? WHERE id = ?`,
		secret, boolToInt(enabled), time.Now().Unix(), id)
	return expectRow(res, err)
}

func buildUserWhere(filter repository.UserSearchFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if kw := strings.TrimSpace(filter.Keyword); kw != "" {
		clauses = append(clauses, "(username LIKE ? OR email LIKE ? OR uid = ?)")
		like := "%" + kw + "%"
		args = append(args, like, like, kw)
	}
	if filter.PlanType != "" {
		clauses = append(clauses, "plan_type = ?")
		args = append(args, filter.PlanType)
	}
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *userRepo) Search(ctx context.Context, filter repository.UserSearchFilter) ([]*repository.User, error) {
	where, args := buildUserWhere(filter)
	limit, offset := normalizePaging(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*repository.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *userRepo) Count(ctx context.Context, filter repository.UserSearchFilter) (int64, error) {
	where, args := buildUserWhere(filter)
	var total int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`+where, args...).Scan(&total)
	return total, err
}

func (r *userRepo) HasAdmin(ctx context.Context) (bool, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE is_admin = 1`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *userRepo) ConsumeVideoQuota(ctx context.Context, userID int64, today string, amount, limit int64) (int64, bool, error) {
	const stmt = `UPDATE users SET
		daily_video_count = CASE WHEN daily_reset_date = ? THEN daily_video_count + ? ELSE ? END,
		daily_reset_date = ?,
		updated_at = ?
		WHERE id = ?
		  AND (? = 0 OR (CASE WHEN daily_reset_date = ? THEN daily_video_count ELSE 0 END) + ? <= ?)
		RETURNING daily_video_count`
	var count int64
	err := r.db.QueryRowContext(ctx, stmt,
		today, amount, amount, today, time.Now().Unix(), userID,
		limit, today, amount, limit,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := r.FindByID(ctx, userID); findErr != nil {
			return 0, false, findErr
		}
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (r *userRepo) ConsumeVoiceQuota(ctx context.Context, userID int64, amount, limit, windowCutoff, now int64) (int64, bool, error) {
	const stmt = `UPDATE users SET
		voice_characters_used = CASE WHEN voice_characters_reset_at > ? THEN voice_characters_used + ? ELSE ? END,
		voice_characters_reset_at = CASE WHEN voice_characters_reset_at > ? THEN voice_characters_reset_at ELSE ? END,
		updated_at = ?
		WHERE id = ?
		  AND (? = 0 OR (CASE WHEN voice_characters_reset_at > ? THEN voice_characters_used ELSE 0 END) + ? <= ?)
		RETURNING voice_characters_used`
	var used int64
	err := r.db.QueryRowContext(ctx, stmt,
		windowCutoff, amount, amount,
		windowCutoff, now,
		now, userID,
		limit, windowCutoff, amount, limit,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := r.FindByID(ctx, userID); findErr != nil {
			return 0, false, findErr
		}
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return used, true, nil
}

func (r *userRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return expectRow(res, err)
}

func (r *userRepo) ResetQuota(ctx context.Context, userID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET daily_video_count = 0, voice_characters_used = 0,
		voice_characters_reset_at = 0, updated_at = ? WHERE id = ?`, time.Now().Unix(), userID)
	return expectRow(res, err)
}

func (r *userRepo) ExpirePlans(ctx context.Context, now int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET plan_status = ?, updated_at = ?
		WHERE plan_status = ? AND plan_type <> ? AND plan_expires_at > 0 AND plan_expires_at <= ?`,
		repository.PlanStatusExpired, now, repository.PlanStatusActive, repository.PlanFree, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *userRepo) ListReferrals(ctx context.Context, referrerUID string, limit, offset int) ([]*repository.User, error) {
	limit, offset = normalizePaging(limit, offset)
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE referred_by = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		referrerUID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*repository.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func expectRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
