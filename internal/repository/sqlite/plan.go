package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/veo3pk/studio/internal/repository"
)

type planRepo struct {
	db *sql.DB
}

const planColumns = `plan_type, name, daily_video_limit, voice_character_limit, price, duration_days, reseller_cost, updated_at`

func scanPlan(row scanner) (*repository.Plan, error) {
	var p repository.Plan
	if err := row.Scan(&p.PlanType, &p.Name, &p.DailyVideoLimit, &p.VoiceCharacterLimit, &p.Price,
		&p.DurationDays, &p.ResellerCost, &p.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *planRepo) List(ctx context.Context) ([]repository.Plan, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans ORDER BY price ASC, plan_type ASC`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPlan)
}

func (r *planRepo) Get(ctx context.Context, planType string) (*repository.Plan, error) {
	return scanPlan(r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE plan_type = ?`, planType))
}

func (r *planRepo) Upsert(ctx context.Context, plan *repository.Plan) error {
	const stmt = `INSERT INTO plans(` + planColumns + `) VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_type) DO UPDATE SET
			name = excluded.name,
			daily_video_limit = excluded.daily_video_limit,
			voice_character_limit = excluded.voice_character_limit,
			price = excluded.price,
			duration_days = excluded.duration_days,
			reseller_cost = excluded.reseller_cost,
			updated_at = excluded.updated_at`
	plan.UpdatedAt = time.Now().Unix()
	_, err := r.db.ExecContext(ctx, stmt, plan.PlanType, plan.Name, plan.DailyVideoLimit, plan.VoiceCharacterLimit,
		plan.Price, plan.DurationDays, plan.ResellerCost, plan.UpdatedAt)
	return err
}
