package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
	"github.com/scoopworks/retail-audit-backend/internal/domain/ops"
)

// MetricRepository implements ops.MetricRepository on PostgreSQL. Samples
// are write-once; the table has no update path.
type MetricRepository struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewMetricRepository(db *pgxpool.Pool, timeout time.Duration) *MetricRepository {
	return &MetricRepository{db: db, timeout: timeout}
}

func (r *MetricRepository) Store(ctx context.Context, sample *ops.MetricSample) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var tagsJSON []byte
	if len(sample.Tags) > 0 {
		var err error
		tagsJSON, err = json.Marshal(sample.Tags)
		if err != nil {
			return errors.NewInternalError("failed to marshal sample tags").WithCause(err)
		}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO metric_samples (id, service, metric, value, tags, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sample.ID, sample.Service, sample.Metric, sample.Value, tagsJSON, sample.Timestamp)
	if err != nil {
		return errors.NewTransientStoreError("metrics", "failed to store sample").WithCause(err)
	}
	return nil
}

func (r *MetricRepository) ListByMetric(ctx context.Context, service, metric string, from, to time.Time, limit int) ([]*ops.MetricSample, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, service, metric, value, tags, timestamp
		FROM metric_samples
		WHERE service = $1 AND metric = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp DESC LIMIT $5`,
		service, metric, from, to, limit)
	if err != nil {
		return nil, errors.NewTransientStoreError("metrics", "query failed").WithCause(err)
	}
	defer rows.Close()

	samples := make([]*ops.MetricSample, 0)
	for rows.Next() {
		var sample ops.MetricSample
		var tagsJSON []byte
		if err := rows.Scan(&sample.ID, &sample.Service, &sample.Metric, &sample.Value, &tagsJSON, &sample.Timestamp); err != nil {
			return nil, errors.NewTransientStoreError("metrics", "failed to scan sample").WithCause(err)
		}
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &sample.Tags); err != nil {
				return nil, errors.NewInternalError("failed to unmarshal sample tags").WithCause(err)
			}
		}
		samples = append(samples, &sample)
	}
	return samples, rows.Err()
}

// MaintenanceRepository implements the read-only ops.MaintenanceRepository.
// The table is owned by the operations service; this pipeline never writes it.
type MaintenanceRepository struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewMaintenanceRepository(db *pgxpool.Pool, timeout time.Duration) *MaintenanceRepository {
	return &MaintenanceRepository{db: db, timeout: timeout}
}

func (r *MaintenanceRepository) ListOverlapping(ctx context.Context, from, to time.Time) ([]*ops.MaintenanceWindow, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT id, title, scheduled_start, scheduled_end, actual_start, actual_end,
		       status, affected_services, created_at, updated_at
		FROM maintenance_windows
		WHERE scheduled_start <= $2 AND scheduled_end >= $1
		ORDER BY scheduled_start`,
		from, to)
	if err != nil {
		return nil, errors.NewTransientStoreError("maintenance", "query failed").WithCause(err)
	}
	defer rows.Close()

	windows := make([]*ops.MaintenanceWindow, 0)
	for rows.Next() {
		var w ops.MaintenanceWindow
		var status string
		var services []string
		err := rows.Scan(&w.ID, &w.Title, &w.ScheduledStart, &w.ScheduledEnd,
			&w.ActualStart, &w.ActualEnd, &status, &services, &w.CreatedAt, &w.UpdatedAt)
		if err != nil {
			return nil, errors.NewTransientStoreError("maintenance", "failed to scan window").WithCause(err)
		}
		w.Status = ops.MaintenanceStatus(status)
		if services == nil {
			services = []string{}
		}
		w.AffectedServices = services
		windows = append(windows, &w)
	}
	return windows, rows.Err()
}

func (r *MaintenanceRepository) CountActiveInWindow(ctx context.Context, from, to time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM maintenance_windows
		WHERE status = ANY($1) AND scheduled_start <= $3 AND scheduled_end >= $2`,
		pq.Array([]string{string(ops.MaintenanceScheduled), string(ops.MaintenanceInProgress)}),
		from, to).Scan(&n)
	if err != nil {
		return 0, errors.NewTransientStoreError("maintenance", "count query failed").WithCause(err)
	}
	return n, nil
}

// UserDirectory is the read-only view over the platform's users table that
// the compliance generator needs.
type UserDirectory struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewUserDirectory(db *pgxpool.Pool, timeout time.Duration) *UserDirectory {
	return &UserDirectory{db: db, timeout: timeout}
}

// CountUsers returns the total number of platform users.
func (d *UserDirectory) CountUsers(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	var n int64
	if err := d.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, errors.NewTransientStoreError("users", "count query failed").WithCause(err)
	}
	return n, nil
}
