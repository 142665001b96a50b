package audit

import (
	"context"
	"time"
)

// Stats is a grouped breakdown of record volume over a window.
type Stats struct {
	Total      int64            `json:"total"`
	ByAction   map[string]int64 `json:"by_action"`
	ByResource map[string]int64 `json:"by_resource"`
}

// Repository defines persistence for audit records. The collection is
// append-only: implementations expose no update path, and deletion exists
// only for retention purges.
type Repository interface {
	// Store persists a single record.
	Store(ctx context.Context, record *Record) error

	// GetByID retrieves a record by its identifier.
	GetByID(ctx context.Context, id string) (*Record, error)

	// List returns records matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*Record, error)

	// Search returns records matching the criteria, newest first, bounded
	// by the criteria limit.
	Search(ctx context.Context, criteria SearchCriteria) ([]*Record, error)

	// CountInWindow counts records created inside the closed interval.
	CountInWindow(ctx context.Context, from, to time.Time) (int64, error)

	// CountByActionsInWindow counts records whose action is any of the
	// given actions, inside the closed interval.
	CountByActionsInWindow(ctx context.Context, actions []string, from, to time.Time) (int64, error)

	// CountDistinctActorsInWindow counts distinct non-empty actor user IDs
	// inside the closed interval.
	CountDistinctActorsInWindow(ctx context.Context, from, to time.Time) (int64, error)

	// StatsInWindow returns record counts grouped by action and by
	// resource inside the closed interval.
	StatsInWindow(ctx context.Context, from, to time.Time) (*Stats, error)

	// DeleteOlderThan removes records created before the cutoff. This is the
	// retention purge, the only deletion path for audit records.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
