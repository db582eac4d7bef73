package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/veo3pk/studio/internal/repository"
)

type voiceRepo struct {
	db *sql.DB
}

const communityColumns = `id, creator_id, creator_name, name, description, voice_id, provider, demo_audio_url, likes, created_at`

const topColumns = `id, name, description, voice_id, provider, demo_audio_url, likes, sort_order, created_at`

func scanCommunity(row scanner) (*repository.CommunityVoice, error) {
	var v repository.CommunityVoice
	if err := row.Scan(&v.ID, &v.CreatorID, &v.CreatorName, &v.Name, &v.Description, &v.VoiceID, &v.Provider,
		&v.DemoAudioURL, &v.Likes, &v.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func scanTop(row scanner) (*repository.TopVoice, error) {
	var v repository.TopVoice
	if err := row.Scan(&v.ID, &v.Name, &v.Description, &v.VoiceID, &v.Provider, &v.DemoAudioURL, &v.Likes,
		&v.SortOrder, &v.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (r *voiceRepo) ListCommunity(ctx context.Context, sort string, limit, offset int) ([]*repository.CommunityVoice, error) {
	order := "created_at DESC, id DESC"
	if sort == "popular" {
		order = "likes DESC, id DESC"
	}
	limit, offset = normalizePaging(limit, offset)
	rows, err := r.db.QueryContext(ctx, `SELECT `+communityColumns+` FROM community_voices ORDER BY `+order+` LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*repository.CommunityVoice
	for rows.Next() {
		v, err := scanCommunity(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

func (r *voiceRepo) FindCommunity(ctx context.Context, id int64) (*repository.CommunityVoice, error) {
	return scanCommunity(r.db.QueryRowContext(ctx, `SELECT `+communityColumns+` FROM community_voices WHERE id = ?`, id))
}

func (r *voiceRepo) CreateCommunity(ctx context.Context, v *repository.CommunityVoice) (*repository.CommunityVoice, error) {
	if v == nil {
		return nil, errors.New("voice is required")
	}
	v.CreatedAt = time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `INSERT INTO community_voices(creator_id, creator_name, name, description, voice_id,
		provider, demo_audio_url, likes, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		v.CreatorID, v.CreatorName, v.Name, v.Description, v.VoiceID, v.Provider, v.DemoAudioURL, v.CreatedAt)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	v.ID = id
	return v, nil
}

func (r *voiceRepo) DeleteCommunity(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM community_voices WHERE id = ?`, id)
	return expectRow(res, err)
}

func (r *voiceRepo) Like(ctx context.Context, voiceID, userID int64, now int64) (bool, error) {
	var liked bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO community_voice_likes(voice_id, user_id, created_at) VALUES(?, ?, ?)
			ON CONFLICT(voice_id, user_id) DO NOTHING`, voiceID, userID, now)
		if err != nil {
			if isForeignKeyViolation(err) {
				return repository.ErrNotFound
			}
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		upd, err := tx.ExecContext(ctx, `UPDATE community_voices SET likes = likes + 1 WHERE id = ?`, voiceID)
		if err := expectRow(upd, err); err != nil {
			return err
		}
		liked = true
		return nil
	})
	return liked, err
}

func (r *voiceRepo) ListTop(ctx context.Context) ([]*repository.TopVoice, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+topColumns+` FROM top_voices ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*repository.TopVoice
	for rows.Next() {
		v, err := scanTop(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

func (r *voiceRepo) FindTop(ctx context.Context, id int64) (*repository.TopVoice, error) {
	return scanTop(r.db.QueryRowContext(ctx, `SELECT `+topColumns+` FROM top_voices WHERE id = ?`, id))
}

func (r *voiceRepo) SaveTop(ctx context.Context, v *repository.TopVoice) (*repository.TopVoice, error) {
	if v == nil {
		return nil, errors.New("voice is required")
	}
	if v.ID == 0 {
		v.CreatedAt = time.Now().Unix()
		res, err := r.db.ExecContext(ctx, `INSERT INTO top_voices(name, description, voice_id, provider, demo_audio_url,
			likes, sort_order, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			v.Name, v.Description, v.VoiceID, v.Provider, v.DemoAudioURL, v.Likes, v.SortOrder, v.CreatedAt)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		v.ID = id
		return v, nil
	}
	res, err := r.db.ExecContext(ctx, `UPDATE top_voices SET name = ?, description = ?, voice_id = ?, provider = ?,
		demo_audio_url = ?, likes = ?, sort_order = ? WHERE id = ?`,
		v.Name, v.Description, v.VoiceID, v.Provider, v.DemoAudioURL, v.Likes, v.SortOrder, v.ID)
	if err := expectRow(res, err); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *voiceRepo) DeleteTop(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM top_voices WHERE id = ?`, id)
	return expectRow(res, err)
}
