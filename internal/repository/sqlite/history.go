package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/veo3pk/studio/internal/repository"
)

type historyRepo struct {
	db *sql.DB
}

const historyColumns = `id, user_id, kind, prompt, aspect_ratio, model, status, media_url, error_message,
	error_category, retryable, operation_name, scene_id, token_id, retry_count, last_retry_at, failed_at,
	poll_count, next_poll_at, scene_number, batch_id, depends_on, reference_image_url, request_payload,
	deleted_by_user, created_at, updated_at, completed_at`

func scanHistory(row scanner) (*repository.GenerationRecord, error) {
	var (
		h         repository.GenerationRecord
		retryable int
		deleted   int
		tokenID   sql.NullInt64
		dependsOn sql.NullInt64
	)
	if err := row.Scan(&h.ID, &h.UserID, &h.Kind, &h.Prompt, &h.AspectRatio, &h.Model, &h.Status, &h.MediaURL,
		&h.ErrorMessage, &h.ErrorCategory, &retryable, &h.OperationName, &h.SceneID, &tokenID, &h.RetryCount,
		&h.LastRetryAt, &h.FailedAt, &h.PollCount, &h.NextPollAt, &h.SceneNumber, &h.BatchID, &dependsOn,
		&h.ReferenceImageURL, &h.RequestPayload, &deleted, &h.CreatedAt, &h.UpdatedAt, &h.CompletedAt); err != nil {
		return nil, notFound(err)
	}
	h.Retryable = retryable == 1
	h.DeletedByUser = deleted == 1
	h.TokenID = nullableIntPtr(tokenID)
	h.DependsOn = nullableIntPtr(dependsOn)
	return &h, nil
}

func collectHistory(rows *sql.Rows) ([]*repository.GenerationRecord, error) {
	var list []*repository.GenerationRecord
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, h)
	}
	return list, rows.Err()
}

func (r *historyRepo) Create(ctx context.Context, record *repository.GenerationRecord) (*repository.GenerationRecord, error) {
	if record == nil {
		return nil, errors.New("history record is required")
	}
	now := time.Now().Unix()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = repository.StatusPending
	}
	if record.Kind == "" {
		record.Kind = repository.KindVideo
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO generation_history(user_id, kind, prompt, aspect_ratio, model, status,
		scene_number, batch_id, depends_on, reference_image_url, request_payload, retry_count, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.UserID, record.Kind, record.Prompt, record.AspectRatio, record.Model, record.Status,
		record.SceneNumber, record.BatchID, nullableInt(record.DependsOn), record.ReferenceImageURL,
		record.RequestPayload, record.RetryCount, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	record.ID = id
	return record, nil
}

func (r *historyRepo) FindByID(ctx context.Context, id int64) (*repository.GenerationRecord, error) {
	return scanHistory(r.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM generation_history WHERE id = ?`, id))
}

func buildHistoryWhere(filter repository.HistoryFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.UserID != nil {
		clauses = append(clauses, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.BatchID != "" {
		clauses = append(clauses, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_by_user = 0")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List orders batch listings by scene number and everything else newest first.
func (r *historyRepo) List(ctx context.Context, filter repository.HistoryFilter) ([]*repository.GenerationRecord, error) {
	where, args := buildHistoryWhere(filter)
	order := " ORDER BY created_at DESC, id DESC"
	if filter.BatchID != "" {
		order = " ORDER BY scene_number ASC, id ASC"
	}
	limit, offset := normalizePaging(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, `SELECT `+historyColumns+` FROM generation_history`+where+order+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHistory(rows)
}

func (r *historyRepo) Count(ctx context.Context, filter repository.HistoryFilter) (int64, error) {
	where, args := buildHistoryWhere(filter)
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM generation_history`+where, args...).Scan(&n)
	return n, err
}

func (r *historyRepo) Transition(ctx context.Context, id int64, from, to string, patch repository.StatusPatch, now int64) (bool, error) {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{to, now}
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.MediaURL != nil {
		add("media_url", *patch.MediaURL)
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}
	if patch.ErrorCategory != nil {
		add("error_category", *patch.ErrorCategory)
	}
	if patch.Retryable != nil {
		add("retryable", boolToInt(*patch.Retryable))
	}
	if patch.OperationName != nil {
		add("operation_name", *patch.OperationName)
	}
	if patch.SceneID != nil {
		add("scene_id", *patch.SceneID)
	}
	if patch.TokenID != nil {
		add("token_id", *patch.TokenID)
	}
	if patch.NextPollAt != nil {
		add("next_poll_at", *patch.NextPollAt)
	}
	if patch.FailedAt != nil {
		add("failed_at", *patch.FailedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	if patch.LastRetryAt != nil {
		add("last_retry_at", *patch.LastRetryAt)
	}
	if patch.IncrementRetry {
		sets = append(sets, "retry_count = retry_count + 1")
	}
	if patch.ResetPolls {
		sets = append(sets, "poll_count = 0")
	}
	args = append(args, id, from)

	res, err := r.db.ExecContext(ctx, `UPDATE generation_history SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const recordPollStmt = `UPDATE generation_history SET poll_count = poll_count + 1, next_poll_at = ?, updated_at = ?
	WHERE id = ? AND status = ?`

func (r *historyRepo) RecordPoll(ctx context.Context, id int64, nextPollAt, now int64) (int, error) {
	return r.bumpPoll(ctx, recordPollStmt+` RETURNING poll_count`, nextPollAt, now, id, repository.StatusProcessing)
}

func (r *historyRepo) ClaimPoll(ctx context.Context, id int64, nextPollAt, now int64) (int, error) {
	return r.bumpPoll(ctx, recordPollStmt+` AND next_poll_at <= ? RETURNING poll_count`,
		nextPollAt, now, id, repository.StatusProcessing, now)
}

func (r *historyRepo) bumpPoll(ctx context.Context, stmt string, args ...any) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repository.ErrStateChanged
	}
	return count, err
}

func (r *historyRepo) ListDuePolls(ctx context.Context, now int64, limit int) ([]*repository.GenerationRecord, error) {
	limit, _ = normalizePaging(limit, 0)
	rows, err := r.db.QueryContext(ctx, `SELECT `+historyColumns+` FROM generation_history
		WHERE status = ? AND kind = ? AND operation_name <> '' AND next_poll_at <= ?
		ORDER BY next_poll_at ASC, id ASC LIMIT ?`, repository.StatusProcessing, repository.KindVideo, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHistory(rows)
}

func (r *historyRepo) ListRetryable(ctx context.Context, kind string, categories []string, maxAttempts int, failedBefore int64, limit int) ([]*repository.GenerationRecord, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	limit, _ = normalizePaging(limit, 0)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(categories)), ",")
	args := []any{repository.StatusFailed, kind}
	for _, c := range categories {
		args = append(args, c)
	}
	args = append(args, maxAttempts, failedBefore, limit)
	rows, err := r.db.QueryContext(ctx, `SELECT `+historyColumns+` FROM generation_history
		WHERE status = ? AND kind = ? AND retryable = 1 AND deleted_by_user = 0
		  AND error_category IN (`+placeholders+`)
		  AND retry_count < ? AND failed_at <= ?
		ORDER BY failed_at ASC, id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHistory(rows)
}

func (r *historyRepo) SoftDelete(ctx context.Context, id, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE generation_history SET deleted_by_user = 1, updated_at = ?
		WHERE id = ? AND user_id = ? AND deleted_by_user = 0`, time.Now().Unix(), id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
