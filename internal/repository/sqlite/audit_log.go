package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/veo3pk/studio/internal/repository"
)

// auditLogRepo persists security events for the admin audit view.
type auditLogRepo struct {
	db *sql.DB
}

func (r *auditLogRepo) Create(ctx context.Context, entry *repository.AuditLog) error {
	if entry == nil {
		return errors.New("audit entry is required")
	}
	if strings.TrimSpace(entry.Kind) == "" {
		return errors.New("audit kind is required")
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	if entry.Metadata == "" {
		entry.Metadata = "{}"
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO audit_logs(kind, actor_id, ip, user_agent, metadata, created_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
		entry.Kind, entry.ActorID, nullableString(entry.IP), nullableString(entry.UserAgent), entry.Metadata, entry.CreatedAt)
	if err != nil {
		return err
	}
	entry.ID, err = res.LastInsertId()
	return err
}

func (r *auditLogRepo) List(ctx context.Context, filter repository.AuditFilter) ([]*repository.AuditLog, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.ActorID != "" {
		clauses = append(clauses, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	limit, offset := normalizePaging(filter.Limit, filter.Offset)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, `SELECT id, kind, actor_id, ip, user_agent, metadata, created_at FROM audit_logs`+
		where+` ORDER BY id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*repository.AuditLog
	for rows.Next() {
		var (
			e     repository.AuditLog
			ip    sql.NullString
			agent sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.ActorID, &ip, &agent, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.IP = ip.String
		e.UserAgent = agent.String
		list = append(list, &e)
	}
	return list, rows.Err()
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
