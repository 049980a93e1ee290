package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"fieldroute/internal/metrics"
	"fieldroute/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PoolConfig sizes the database/sql pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 10, MaxIdleConns: 10, ConnMaxLifetime: 30 * time.Minute}
}

type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(ctx context.Context, dsn string, pool PoolConfig) (*Postgres, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded migrations in name order, recording each in
// schema_migrations so reruns are no-ops.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("migrate: list: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		var done bool
		if err := p.db.GetContext(ctx, &done, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if done {
			continue
		}
		body, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("migrate %s: read: %w", name, err)
		}
		tx, err := p.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate %s: begin: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate %s: record: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate %s: commit: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) BusinessForUser(ctx context.Context, userID string) (string, error) {
	var b sql.NullString
	err := p.db.GetContext(ctx, &b, `SELECT business_id FROM profiles WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && b.String == "") {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("business for user: %w", err)
	}
	return b.String, nil
}

type jobRow struct {
	ID         string          `db:"id"`
	BusinessID string          `db:"business_id"`
	JobNumber  string          `db:"job_number"`
	Lat        sql.NullFloat64 `db:"latitude"`
	Lng        sql.NullFloat64 `db:"longitude"`
	CustLat    sql.NullFloat64 `db:"customer_latitude"`
	CustLng    sql.NullFloat64 `db:"customer_longitude"`
	Duration   sql.NullInt64   `db:"estimated_duration_minutes"`
	Priority   string          `db:"priority"`
	Status     string          `db:"status"`
	AssignedTo sql.NullString  `db:"assigned_to"`
	Start      sql.NullTime    `db:"scheduled_start"`
	End        sql.NullTime    `db:"scheduled_end"`
	RouteSeq   sql.NullInt64   `db:"route_sequence"`
}

func (r jobRow) toModel() model.Job {
	j := model.Job{
		ID:                       r.ID,
		BusinessID:               r.BusinessID,
		JobNumber:                r.JobNumber,
		Location:                 geo(r.Lat, r.Lng),
		CustomerLocation:         geo(r.CustLat, r.CustLng),
		EstimatedDurationMinutes: int(r.Duration.Int64),
		Priority:                 model.Priority(r.Priority),
		Status:                   r.Status,
		AssignedTo:               r.AssignedTo.String,
		RouteSequence:            int(r.RouteSeq.Int64),
	}
	if r.Start.Valid {
		t := r.Start.Time
		j.ScheduledStart = &t
	}
	if r.End.Valid {
		t := r.End.Time
		j.ScheduledEnd = &t
	}
	return j
}

func (p *Postgres) LoadJobs(ctx context.Context, businessID string, ids []string) (out []model.Job, err error) {
	defer metrics.Time(ctx, "store.load_jobs")(&err)
	var rows []jobRow
	err = p.db.SelectContext(ctx, &rows, `
		SELECT j.id, j.business_id, j.job_number, j.latitude, j.longitude,
		       c.latitude AS customer_latitude, c.longitude AS customer_longitude,
		       j.estimated_duration_minutes, j.priority, j.status, j.assigned_to,
		       j.scheduled_start, j.scheduled_end, j.route_sequence
		FROM jobs j
		LEFT JOIN customers c ON c.id = j.customer_id
		WHERE j.business_id=$1 AND j.id = ANY($2)`, businessID, ids)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	out = make([]model.Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

type workerRow struct {
	ID       string          `db:"user_id"`
	Business string          `db:"business_id"`
	Name     string          `db:"full_name"`
	Lat      sql.NullFloat64 `db:"home_latitude"`
	Lng      sql.NullFloat64 `db:"home_longitude"`
	MaxJobs  sql.NullInt64   `db:"max_daily_jobs"`
	MaxHours sql.NullFloat64 `db:"max_daily_hours"`
}

func (p *Postgres) ListWorkers(ctx context.Context, businessID string, only []string) (out []model.Worker, err error) {
	defer metrics.Time(ctx, "store.list_workers")(&err)
	q := `SELECT user_id, business_id, full_name, home_latitude, home_longitude, max_daily_jobs, max_daily_hours
		FROM team_members WHERE business_id=$1 AND is_active`
	args := []any{businessID}
	if len(only) > 0 {
		q += ` AND user_id = ANY($2)`
		args = append(args, only)
	}
	q += ` ORDER BY full_name, user_id`
	var rows []workerRow
	if err = p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	out = make([]model.Worker, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Worker{
			ID:            r.ID,
			BusinessID:    r.Business,
			Name:          r.Name,
			Home:          geo(r.Lat, r.Lng),
			MaxDailyJobs:  int(r.MaxJobs.Int64),
			MaxDailyHours: r.MaxHours.Float64,
		})
	}
	return out, nil
}

func (p *Postgres) ListApprovedTimeOff(ctx context.Context, businessID string, workerIDs []string, startDate, endDate string) ([]model.TimeOffRequest, error) {
	var rows []struct {
		UserID string `db:"user_id"`
		Start  string `db:"start_date"`
		End    string `db:"end_date"`
	}
	err := p.db.SelectContext(ctx, &rows, `
		SELECT user_id, start_date::text AS start_date, end_date::text AS end_date
		FROM time_off_requests
		WHERE business_id=$1 AND user_id = ANY($2) AND status='approved'
		  AND start_date <= $4::date AND end_date >= $3::date`, businessID, workerIDs, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("list time off: %w", err)
	}
	out := make([]model.TimeOffRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.TimeOffRequest{UserID: r.UserID, StartDate: r.Start, EndDate: r.End})
	}
	return out, nil
}

func (p *Postgres) ListAvailability(ctx context.Context, businessID string, workerIDs []string) ([]model.AvailabilityRule, error) {
	var rows []struct {
		UserID    string         `db:"user_id"`
		DayOfWeek int            `db:"day_of_week"`
		Start     sql.NullString `db:"start_time"`
		End       sql.NullString `db:"end_time"`
		Available bool           `db:"is_available"`
	}
	err := p.db.SelectContext(ctx, &rows, `
		SELECT user_id, day_of_week, start_time::text AS start_time, end_time::text AS end_time, is_available
		FROM team_availability
		WHERE business_id=$1 AND user_id = ANY($2)`, businessID, workerIDs)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	out := make([]model.AvailabilityRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AvailabilityRule{UserID: r.UserID, DayOfWeek: r.DayOfWeek, StartTime: r.Start.String, EndTime: r.End.String, IsAvailable: r.Available})
	}
	return out, nil
}

func (p *Postgres) ListScheduledJobs(ctx context.Context, businessID string, workerIDs []string, from, to time.Time) ([]model.ScheduledJob, error) {
	var rows []struct {
		ID       string        `db:"id"`
		UserID   string        `db:"assigned_to"`
		Start    time.Time     `db:"scheduled_start"`
		Duration sql.NullInt64 `db:"estimated_duration_minutes"`
	}
	err := p.db.SelectContext(ctx, &rows, `
		SELECT id, assigned_to, scheduled_start, estimated_duration_minutes
		FROM jobs
		WHERE business_id=$1 AND assigned_to = ANY($2)
		  AND status IN ('scheduled','in_progress')
		  AND scheduled_start >= $3 AND scheduled_start < $4
		ORDER BY scheduled_start`, businessID, workerIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	out := make([]model.ScheduledJob, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ScheduledJob{JobID: r.ID, UserID: r.UserID, ScheduledStart: r.Start, EstimatedDurationMinutes: int(r.Duration.Int64)})
	}
	return out, nil
}

// ApplyAssignment updates the job's assignment fields and upserts the
// job/worker link in one transaction.
func (p *Postgres) ApplyAssignment(ctx context.Context, businessID string, a model.Assignment) (err error) {
	defer metrics.Time(ctx, "store.apply_assignment")(&err)
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply assignment job=%s: begin: %w", a.JobID, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET assigned_to=$3, scheduled_start=$4, scheduled_end=$5, route_sequence=$6,
		       status='scheduled', updated_at=now()
		WHERE id=$1 AND business_id=$2`,
		a.JobID, businessID, a.UserID, a.ScheduledStart, a.ScheduledEnd, a.RoutePosition)
	if err != nil {
		return fmt.Errorf("apply assignment job=%s: update job: %w", a.JobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("apply assignment job=%s: %w", a.JobID, ErrNotFound)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO job_assignments (job_id, user_id, business_id, assigned_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (job_id, user_id) DO UPDATE SET assigned_at=EXCLUDED.assigned_at`,
		a.JobID, a.UserID, businessID); err != nil {
		return fmt.Errorf("apply assignment job=%s: link: %w", a.JobID, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("apply assignment job=%s: commit: %w", a.JobID, err)
	}
	return nil
}

func (p *Postgres) UpsertRoutePlan(ctx context.Context, plan model.RoutePlan) (id string, err error) {
	defer metrics.Time(ctx, "store.upsert_route_plan")(&err)
	err = p.db.GetContext(ctx, &id, `
		INSERT INTO route_plans (business_id, user_id, route_date, job_ids, status, reasoning, total_minutes, updated_at)
		VALUES ($1,$2,$3::date,$4,$5,$6,$7,now())
		ON CONFLICT (business_id, user_id, route_date) DO UPDATE
		SET job_ids=EXCLUDED.job_ids, status=EXCLUDED.status, reasoning=EXCLUDED.reasoning,
		    total_minutes=EXCLUDED.total_minutes, updated_at=now()
		RETURNING id`,
		plan.BusinessID, plan.UserID, plan.RouteDate, textArray(plan.JobIDs), plan.Status, plan.Reasoning, plan.TotalMinutes)
	if err != nil {
		return "", fmt.Errorf("upsert route plan user=%s date=%s: %w", plan.UserID, plan.RouteDate, err)
	}
	return id, nil
}

type routePlanRow struct {
	ID           string         `db:"id"`
	BusinessID   string         `db:"business_id"`
	UserID       string         `db:"user_id"`
	RouteDate    string         `db:"route_date"`
	JobIDs       string         `db:"job_ids"`
	Status       string         `db:"status"`
	Reasoning    sql.NullString `db:"reasoning"`
	TotalMinutes int            `db:"total_minutes"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

const routePlanCols = `id, business_id, user_id, route_date::text AS route_date,
	COALESCE(array_to_json(job_ids), '[]'::json)::text AS job_ids,
	status, reasoning, total_minutes, updated_at`

func (r routePlanRow) toModel() (model.RoutePlan, error) {
	rp := model.RoutePlan{
		ID:           r.ID,
		BusinessID:   r.BusinessID,
		UserID:       r.UserID,
		RouteDate:    r.RouteDate,
		Status:       r.Status,
		Reasoning:    r.Reasoning.String,
		TotalMinutes: r.TotalMinutes,
		UpdatedAt:    r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.JobIDs), &rp.JobIDs); err != nil {
		return model.RoutePlan{}, fmt.Errorf("route plan %s: decode job ids: %w", r.ID, err)
	}
	return rp, nil
}

func (p *Postgres) ListRoutePlans(ctx context.Context, businessID, date, userID string) ([]model.RoutePlan, error) {
	q := `SELECT ` + routePlanCols + ` FROM route_plans WHERE business_id=$1`
	args := []any{businessID}
	if date != "" {
		args = append(args, date)
		q += fmt.Sprintf(` AND route_date=$%d::date`, len(args))
	}
	if userID != "" {
		args = append(args, userID)
		q += fmt.Sprintf(` AND user_id=$%d`, len(args))
	}
	q += ` ORDER BY route_date, user_id`
	var rows []routePlanRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list route plans: %w", err)
	}
	out := make([]model.RoutePlan, 0, len(rows))
	for _, r := range rows {
		rp, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	return out, nil
}

func (p *Postgres) GetRoutePlan(ctx context.Context, businessID, id string) (model.RoutePlan, error) {
	var r routePlanRow
	err := p.db.GetContext(ctx, &r, `SELECT `+routePlanCols+` FROM route_plans WHERE business_id=$1 AND id=$2`, businessID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RoutePlan{}, ErrNotFound
	}
	if err != nil {
		return model.RoutePlan{}, fmt.Errorf("get route plan: %w", err)
	}
	return r.toModel()
}

func (p *Postgres) ListBusinessesWithUnassignedJobs(ctx context.Context) ([]string, error) {
	var out []string
	err := p.db.SelectContext(ctx, &out, `
		SELECT DISTINCT business_id FROM jobs
		WHERE status='pending' AND assigned_to IS NULL
		ORDER BY business_id`)
	if err != nil {
		return nil, fmt.Errorf("list businesses with unassigned jobs: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListUnassignedJobIDs(ctx context.Context, businessID string, limit int) ([]string, error) {
	q := `SELECT id FROM jobs WHERE business_id=$1 AND status='pending' AND assigned_to IS NULL ORDER BY created_at, id`
	args := []any{businessID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	var out []string
	if err := p.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("list unassigned jobs: %w", err)
	}
	return out, nil
}

func geo(lat, lng sql.NullFloat64) *model.GeoPoint {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
}

// textArray passes ids as a text[] parameter; pgx encodes []string natively.
// An empty slice is sent as an empty array rather than NULL.
func textArray(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
