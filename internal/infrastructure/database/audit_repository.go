package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/scoopworks/retail-audit-backend/internal/domain/audit"
	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
)

// AuditRepository implements audit.Repository on PostgreSQL.
type AuditRepository struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// NewAuditRepository creates a PostgreSQL audit repository. The timeout
// bounds every operation.
func NewAuditRepository(db *pgxpool.Pool, timeout time.Duration) *AuditRepository {
	return &AuditRepository{db: db, timeout: timeout}
}

const auditColumns = `
	id, actor_user_id, actor_role, action, resource, resource_id,
	ip_address, user_agent, endpoint, old_values, new_values,
	status, message, tags, created_at`

// Store persists a single audit record. There is no update path: the table
// is append-only by construction.
func (r *AuditRepository) Store(ctx context.Context, record *audit.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO audit_records (` + auditColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`

	_, err := r.db.Exec(ctx, query,
		record.ID,
		nullable(record.ActorUserID),
		nullable(record.ActorRole),
		record.Action,
		record.Resource,
		nullable(record.ResourceID),
		nullable(record.IPAddress),
		nullable(record.UserAgent),
		nullable(record.Endpoint),
		rawOrNil(record.OldValues),
		rawOrNil(record.NewValues),
		string(record.Status),
		record.Message,
		pq.Array(record.Tags),
		record.CreatedAt,
	)
	if err != nil {
		return errors.NewTransientStoreError("audit", "failed to store record").WithCause(err)
	}
	return nil
}

// GetByID retrieves a record by identifier.
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*audit.Record, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM audit_records WHERE id = $1`, id)
	record, err := scanRecord(row)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrAuditRecordNotFound
	}
	if err != nil {
		return nil, errors.NewTransientStoreError("audit", "failed to load record").WithCause(err)
	}
	return record, nil
}

// List returns records matching the filter, newest first.
func (r *AuditRepository) List(ctx context.Context, filter audit.Filter) ([]*audit.Record, error) {
	var conditions []string
	var args []interface{}
	argCounter := 1

	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE 1=1`

	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argCounter))
		args = append(args, filter.Action)
		argCounter++
	}
	if filter.Resource != "" {
		conditions = append(conditions, fmt.Sprintf("resource = $%d", argCounter))
		args = append(args, filter.Resource)
		argCounter++
	}
	if filter.ActorUserID != "" {
		conditions = append(conditions, fmt.Sprintf("actor_user_id = $%d", argCounter))
		args = append(args, filter.ActorUserID)
		argCounter++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argCounter))
		args = append(args, string(filter.Status))
		argCounter++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argCounter))
		args = append(args, *filter.From)
		argCounter++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argCounter))
		args = append(args, *filter.To)
		argCounter++
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCounter)
		args = append(args, filter.Limit)
		argCounter++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCounter)
		args = append(args, filter.Offset)
	}

	return r.queryRecords(ctx, query, args)
}

// Search compiles the criteria into one conjunctive query: each list field
// is an OR-of-equality, the keyword group matches message substrings or tag
// membership, and everything is ANDed together.
func (r *AuditRepository) Search(ctx context.Context, criteria audit.SearchCriteria) ([]*audit.Record, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	var conditions []string
	var args []interface{}
	argCounter := 1

	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE 1=1`

	if criteria.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argCounter))
		args = append(args, *criteria.From)
		argCounter++
	}
	if criteria.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argCounter))
		args = append(args, *criteria.To)
		argCounter++
	}
	if len(criteria.ActorUserIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("actor_user_id = ANY($%d)", argCounter))
		args = append(args, pq.Array(criteria.ActorUserIDs))
		argCounter++
	}
	if len(criteria.Actions) > 0 {
		conditions = append(conditions, fmt.Sprintf("action = ANY($%d)", argCounter))
		args = append(args, pq.Array(criteria.Actions))
		argCounter++
	}
	if len(criteria.Resources) > 0 {
		conditions = append(conditions, fmt.Sprintf("resource = ANY($%d)", argCounter))
		args = append(args, pq.Array(criteria.Resources))
		argCounter++
	}
	if len(criteria.Statuses) > 0 {
		statusStrings := make([]string, len(criteria.Statuses))
		for i, s := range criteria.Statuses {
			statusStrings[i] = string(s)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argCounter))
		args = append(args, pq.Array(statusStrings))
		argCounter++
	}
	if len(criteria.Keywords) > 0 {
		var keywordConds []string
		for _, kw := range criteria.Keywords {
			if kw == "" {
				continue
			}
			keywordConds = append(keywordConds,
				fmt.Sprintf("(message ILIKE $%d OR $%d = ANY(tags))", argCounter, argCounter+1))
			args = append(args, "%"+escapeLike(kw)+"%", kw)
			argCounter += 2
		}
		if len(keywordConds) > 0 {
			conditions = append(conditions, "("+strings.Join(keywordConds, " OR ")+")")
		}
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCounter)
	args = append(args, criteria.Limit)

	return r.queryRecords(ctx, query, args)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes LIKE metacharacters so keywords match literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// CountInWindow counts records inside the closed interval.
func (r *AuditRepository) CountInWindow(ctx context.Context, from, to time.Time) (int64, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM audit_records WHERE created_at >= $1 AND created_at <= $2`,
		from, to)
}

// CountByActionsInWindow counts records whose action matches any of the
// given actions inside the closed interval.
func (r *AuditRepository) CountByActionsInWindow(ctx context.Context, actions []string, from, to time.Time) (int64, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM audit_records
		 WHERE action = ANY($1) AND created_at >= $2 AND created_at <= $3`,
		pq.Array(actions), from, to)
}

// CountDistinctActorsInWindow counts distinct non-empty actors in-window.
func (r *AuditRepository) CountDistinctActorsInWindow(ctx context.Context, from, to time.Time) (int64, error) {
	return r.count(ctx,
		`SELECT COUNT(DISTINCT actor_user_id) FROM audit_records
		 WHERE actor_user_id IS NOT NULL AND created_at >= $1 AND created_at <= $2`,
		from, to)
}

// StatsInWindow returns in-window record counts grouped by action and by
// resource.
func (r *AuditRepository) StatsInWindow(ctx context.Context, from, to time.Time) (*audit.Stats, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	stats := &audit.Stats{
		ByAction:   make(map[string]int64),
		ByResource: make(map[string]int64),
	}

	rows, err := r.db.Query(ctx,
		`SELECT action, resource, COUNT(*) FROM audit_records
		 WHERE created_at >= $1 AND created_at <= $2
		 GROUP BY action, resource`,
		from, to)
	if err != nil {
		return nil, errors.NewTransientStoreError("audit", "stats query failed").WithCause(err)
	}
	defer rows.Close()

	for rows.Next() {
		var action, resource string
		var n int64
		if err := rows.Scan(&action, &resource, &n); err != nil {
			return nil, errors.NewTransientStoreError("audit", "failed to scan stats row").WithCause(err)
		}
		stats.ByAction[action] += n
		stats.ByResource[resource] += n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientStoreError("audit", "row iteration failed").WithCause(err)
	}
	return stats, nil
}

// DeleteOlderThan is the retention purge.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	tag, err := r.db.Exec(ctx,
		`DELETE FROM audit_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.NewTransientStoreError("audit", "retention purge failed").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

func (r *AuditRepository) count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var n int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.NewTransientStoreError("audit", "count query failed").WithCause(err)
	}
	return n, nil
}

func (r *AuditRepository) queryRecords(ctx context.Context, query string, args []interface{}) ([]*audit.Record, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientStoreError("audit", "query failed").WithCause(err)
	}
	defer rows.Close()

	records := make([]*audit.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, errors.NewTransientStoreError("audit", "failed to scan record").WithCause(err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientStoreError("audit", "row iteration failed").WithCause(err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*audit.Record, error) {
	var record audit.Record
	var actorUserID, actorRole, resourceID, ipAddress, userAgent, endpoint *string
	var oldValues, newValues []byte
	var status string
	var tags []string

	err := row.Scan(
		&record.ID,
		&actorUserID,
		&actorRole,
		&record.Action,
		&record.Resource,
		&resourceID,
		&ipAddress,
		&userAgent,
		&endpoint,
		&oldValues,
		&newValues,
		&status,
		&record.Message,
		&tags,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.ActorUserID = deref(actorUserID)
	record.ActorRole = deref(actorRole)
	record.ResourceID = deref(resourceID)
	record.IPAddress = deref(ipAddress)
	record.UserAgent = deref(userAgent)
	record.Endpoint = deref(endpoint)
	record.OldValues = oldValues
	record.NewValues = newValues
	record.Status = audit.Status(status)
	if tags == nil {
		tags = []string{}
	}
	record.Tags = tags
	return &record, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func rawOrNil(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
