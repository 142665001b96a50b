// Package repository provides in-memory implementations of the domain
// repositories. They back unit tests and local development, and double as
// the reference semantics for the PostgreSQL implementations: List and
// Search are brute-force scans over the domain Matches predicates.
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scoopworks/retail-audit-backend/internal/domain/audit"
	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
	"github.com/scoopworks/retail-audit-backend/internal/domain/ops"
	"github.com/scoopworks/retail-audit-backend/internal/domain/security"
)

// MemoryAuditRepository implements audit.Repository in memory.
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	records []*audit.Record

	// failing simulates an unavailable store for tests.
	failing bool
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{records: make([]*audit.Record, 0)}
}

// SetFailing toggles simulated store unavailability.
func (r *MemoryAuditRepository) SetFailing(failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = failing
}

func (r *MemoryAuditRepository) Store(ctx context.Context, record *audit.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.NewTransientStoreError("audit", "store unavailable")
	}
	clone := *record
	r.records = append(r.records, &clone)
	return nil
}

func (r *MemoryAuditRepository) GetByID(ctx context.Context, id string) (*audit.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, record := range r.records {
		if record.ID.String() == id {
			clone := *record
			return &clone, nil
		}
	}
	return nil, errors.ErrAuditRecordNotFound
}

func (r *MemoryAuditRepository) List(ctx context.Context, filter audit.Filter) ([]*audit.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*audit.Record, 0)
	for _, record := range r.records {
		if filter.Matches(record) {
			clone := *record
			matched = append(matched, &clone)
		}
	}
	sortNewestFirst(matched)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*audit.Record{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (r *MemoryAuditRepository) Search(ctx context.Context, criteria audit.SearchCriteria) ([]*audit.Record, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*audit.Record, 0)
	for _, record := range r.records {
		if criteria.Matches(record) {
			clone := *record
			matched = append(matched, &clone)
		}
	}
	sortNewestFirst(matched)

	if len(matched) > criteria.Limit {
		matched = matched[:criteria.Limit]
	}
	return matched, nil
}

func (r *MemoryAuditRepository) CountInWindow(ctx context.Context, from, to time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, record := range r.records {
		if inWindow(record.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryAuditRepository) CountByActionsInWindow(ctx context.Context, actions []string, from, to time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actionSet := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		actionSet[a] = struct{}{}
	}

	var n int64
	for _, record := range r.records {
		if !inWindow(record.CreatedAt, from, to) {
			continue
		}
		if _, ok := actionSet[record.Action]; ok {
			n++
		}
	}
	return n, nil
}

func (r *MemoryAuditRepository) StatsInWindow(ctx context.Context, from, to time.Time) (*audit.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &audit.Stats{
		ByAction:   make(map[string]int64),
		ByResource: make(map[string]int64),
	}
	for _, record := range r.records {
		if !inWindow(record.CreatedAt, from, to) {
			continue
		}
		stats.ByAction[record.Action]++
		stats.ByResource[record.Resource]++
		stats.Total++
	}
	return stats, nil
}

func (r *MemoryAuditRepository) CountDistinctActorsInWindow(ctx context.Context, from, to time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actors := make(map[string]struct{})
	for _, record := range r.records {
		if record.ActorUserID == "" || !inWindow(record.CreatedAt, from, to) {
			continue
		}
		actors[record.ActorUserID] = struct{}{}
	}
	return int64(len(actors)), nil
}

func (r *MemoryAuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]*audit.Record, 0, len(r.records))
	var purged int64
	for _, record := range r.records {
		if record.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, record)
	}
	r.records = kept
	return purged, nil
}

// Len reports the number of stored records.
func (r *MemoryAuditRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func sortNewestFirst(records []*audit.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

// MemorySecurityRepository implements security.Repository in memory.
type MemorySecurityRepository struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*security.Event
}

func NewMemorySecurityRepository() *MemorySecurityRepository {
	return &MemorySecurityRepository{events: make(map[uuid.UUID]*security.Event)}
}

func (r *MemorySecurityRepository) Store(ctx context.Context, event *security.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *event
	r.events[event.ID] = &clone
	return nil
}

func (r *MemorySecurityRepository) GetByID(ctx context.Context, id uuid.UUID) (*security.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[id]
	if !ok {
		return nil, errors.ErrSecurityEventNotFound
	}
	clone := *event
	return &clone, nil
}

func (r *MemorySecurityRepository) Update(ctx context.Context, event *security.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ID]; !ok {
		return errors.ErrSecurityEventNotFound
	}
	clone := *event
	r.events[event.ID] = &clone
	return nil
}

func (r *MemorySecurityRepository) ListByStatus(ctx context.Context, status security.EventStatus, limit int) ([]*security.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*security.Event, 0)
	for _, event := range r.events {
		if event.Status == status {
			clone := *event
			matched = append(matched, &clone)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *MemorySecurityRepository) CountInWindow(ctx context.Context, from, to time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, event := range r.events {
		if inWindow(event.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

// MemoryMetricRepository implements ops.MetricRepository in memory.
type MemoryMetricRepository struct {
	mu      sync.RWMutex
	samples []*ops.MetricSample
	failing bool
}

func NewMemoryMetricRepository() *MemoryMetricRepository {
	return &MemoryMetricRepository{samples: make([]*ops.MetricSample, 0)}
}

// SetFailing toggles simulated store unavailability.
func (r *MemoryMetricRepository) SetFailing(failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = failing
}

func (r *MemoryMetricRepository) Store(ctx context.Context, sample *ops.MetricSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.NewTransientStoreError("metrics", "store unavailable")
	}
	clone := *sample
	r.samples = append(r.samples, &clone)
	return nil
}

func (r *MemoryMetricRepository) ListByMetric(ctx context.Context, service, metric string, from, to time.Time, limit int) ([]*ops.MetricSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*ops.MetricSample, 0)
	for _, sample := range r.samples {
		if sample.Service != service || sample.Metric != metric {
			continue
		}
		if !inWindow(sample.Timestamp, from, to) {
			continue
		}
		clone := *sample
		matched = append(matched, &clone)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Len reports the number of stored samples.
func (r *MemoryMetricRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}

// MemoryMaintenanceRepository implements ops.MaintenanceRepository in memory.
type MemoryMaintenanceRepository struct {
	mu      sync.RWMutex
	windows []*ops.MaintenanceWindow
}

func NewMemoryMaintenanceRepository(windows ...*ops.MaintenanceWindow) *MemoryMaintenanceRepository {
	return &MemoryMaintenanceRepository{windows: windows}
}

func (r *MemoryMaintenanceRepository) Add(window *ops.MaintenanceWindow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, window)
}

func (r *MemoryMaintenanceRepository) ListOverlapping(ctx context.Context, from, to time.Time) ([]*ops.MaintenanceWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*ops.MaintenanceWindow, 0)
	for _, w := range r.windows {
		if overlaps(w, from, to) {
			clone := *w
			matched = append(matched, &clone)
		}
	}
	return matched, nil
}

func (r *MemoryMaintenanceRepository) CountActiveInWindow(ctx context.Context, from, to time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, w := range r.windows {
		if w.IsActive() && overlaps(w, from, to) {
			n++
		}
	}
	return n, nil
}

func overlaps(w *ops.MaintenanceWindow, from, to time.Time) bool {
	return !w.ScheduledStart.After(to) && !w.ScheduledEnd.Before(from)
}

// StaticUserDirectory serves a fixed user count, for tests and local runs.
type StaticUserDirectory struct {
	Total int64
}

func (d *StaticUserDirectory) CountUsers(ctx context.Context) (int64, error) {
	return d.Total, nil
}
