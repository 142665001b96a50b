package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
	"github.com/scoopworks/retail-audit-backend/internal/domain/security"
)

// SecurityRepository implements security.Repository on PostgreSQL.
type SecurityRepository struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewSecurityRepository(db *pgxpool.Pool, timeout time.Duration) *SecurityRepository {
	return &SecurityRepository{db: db, timeout: timeout}
}

const securityColumns = `
	id, event_type, severity, actor_user_id, ip_address, user_agent,
	description, endpoint, status, resolved_at, resolved_by, notes,
	created_at, updated_at`

func (r *SecurityRepository) Store(ctx context.Context, event *security.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO security_events (` + securityColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err := r.db.Exec(ctx, query,
		event.ID,
		event.EventType,
		string(event.Severity),
		nullable(event.ActorUserID),
		nullable(event.IPAddress),
		nullable(event.UserAgent),
		event.Description,
		nullable(event.Endpoint),
		string(event.Status),
		event.ResolvedAt,
		nullable(event.ResolvedBy),
		nullable(event.Notes),
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return errors.NewTransientStoreError("security", "failed to store event").WithCause(err)
	}
	return nil
}

func (r *SecurityRepository) GetByID(ctx context.Context, id uuid.UUID) (*security.Event, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRow(ctx,
		`SELECT `+securityColumns+` FROM security_events WHERE id = $1`, id)
	event, err := scanSecurityEvent(row)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrSecurityEventNotFound
	}
	if err != nil {
		return nil, errors.NewTransientStoreError("security", "failed to load event").WithCause(err)
	}
	return event, nil
}

// Update persists workflow mutations only; classification fields stay as
// written at creation.
func (r *SecurityRepository) Update(ctx context.Context, event *security.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		UPDATE security_events
		SET status = $2, resolved_at = $3, resolved_by = $4, notes = $5, updated_at = $6
		WHERE id = $1`,
		event.ID,
		string(event.Status),
		event.ResolvedAt,
		nullable(event.ResolvedBy),
		nullable(event.Notes),
		event.UpdatedAt,
	)
	if err != nil {
		return errors.NewTransientStoreError("security", "failed to update event").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrSecurityEventNotFound
	}
	return nil
}

func (r *SecurityRepository) ListByStatus(ctx context.Context, status security.EventStatus, limit int) ([]*security.Event, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+securityColumns+` FROM security_events
		WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, errors.NewTransientStoreError("security", "query failed").WithCause(err)
	}
	defer rows.Close()

	events := make([]*security.Event, 0)
	for rows.Next() {
		event, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, errors.NewTransientStoreError("security", "failed to scan event").WithCause(err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *SecurityRepository) CountInWindow(ctx context.Context, from, to time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM security_events
		WHERE created_at >= $1 AND created_at <= $2`, from, to).Scan(&n)
	if err != nil {
		return 0, errors.NewTransientStoreError("security", "count query failed").WithCause(err)
	}
	return n, nil
}

func scanSecurityEvent(row pgx.Row) (*security.Event, error) {
	var event security.Event
	var actorUserID, ipAddress, userAgent, endpoint, resolvedBy, notes *string
	var severity, status string

	err := row.Scan(
		&event.ID,
		&event.EventType,
		&severity,
		&actorUserID,
		&ipAddress,
		&userAgent,
		&event.Description,
		&endpoint,
		&status,
		&event.ResolvedAt,
		&resolvedBy,
		&notes,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Severity = security.Severity(severity)
	event.Status = security.EventStatus(status)
	event.ActorUserID = deref(actorUserID)
	event.IPAddress = deref(ipAddress)
	event.UserAgent = deref(userAgent)
	event.Endpoint = deref(endpoint)
	event.ResolvedBy = deref(resolvedBy)
	event.Notes = deref(notes)
	return &event, nil
}
