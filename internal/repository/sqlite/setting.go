package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/veo3pk/studio/internal/repository"
)

const settingColumns = `key, value, category, updated_at`

func scanSetting(row scanner) (*repository.Setting, error) {
	s := &repository.Setting{}
	if err := row.Scan(&s.Key, &s.Value, &s.Category, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

type settingRepo struct {
	db *sql.DB
}

func (r *settingRepo) Get(ctx context.Context, key string) (*repository.Setting, error) {
	s, err := scanSetting(r.db.QueryRowContext(ctx, `SELECT `+settingColumns+` FROM settings WHERE key = ?`, key))
	return s, notFound(err)
}

// Upsert stamps UpdatedAt when the caller left it zero.
func (r *settingRepo) Upsert(ctx context.Context, s *repository.Setting) error {
	if s.UpdatedAt == 0 {
		s.UpdatedAt = time.Now().Unix()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO settings(`+settingColumns+`) VALUES(?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, category = excluded.category, updated_at = excluded.updated_at`,
		s.Key, s.Value, s.Category, s.UpdatedAt)
	return err
}

func (r *settingRepo) List(ctx context.Context) ([]repository.Setting, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+settingColumns+` FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSetting)
}

func (r *settingRepo) ListByCategory(ctx context.Context, category string) ([]repository.Setting, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+settingColumns+` FROM settings WHERE category = ? ORDER BY key`, category)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSetting)
}
