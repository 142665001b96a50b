package ops

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
)

// MetricSample is a write-once operational measurement. Samples come from two
// sources: per-event counters recorded during ingestion, and the periodic
// process sampler.
type MetricSample struct {
	ID        uuid.UUID         `json:"id"`
	Service   string            `json:"service"`
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewMetricSample creates a validated sample.
func NewMetricSample(service, metric string, value float64, tags map[string]string, ts time.Time) (*MetricSample, error) {
	if service == "" {
		return nil, errors.NewValidationError("MISSING_SERVICE", "service is required")
	}
	if metric == "" {
		return nil, errors.NewValidationError("MISSING_METRIC", "metric name is required")
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &MetricSample{
		ID:        uuid.New(),
		Service:   service,
		Metric:    metric,
		Value:     value,
		Tags:      tags,
		Timestamp: ts,
	}, nil
}

// MetricRepository persists metric samples. Samples are never mutated after
// creation; there is no update path.
type MetricRepository interface {
	Store(ctx context.Context, sample *MetricSample) error
	ListByMetric(ctx context.Context, service, metric string, from, to time.Time, limit int) ([]*MetricSample, error)
}

// MaintenanceStatus is the lifecycle state of a maintenance window.
type MaintenanceStatus string

const (
	MaintenanceScheduled  MaintenanceStatus = "SCHEDULED"
	MaintenanceInProgress MaintenanceStatus = "IN_PROGRESS"
	MaintenanceCompleted  MaintenanceStatus = "COMPLETED"
	MaintenanceCancelled  MaintenanceStatus = "CANCELLED"
)

// MaintenanceWindow is read-only reference data owned by the operations
// service; the pipeline only consumes it for compliance summaries.
type MaintenanceWindow struct {
	ID               uuid.UUID         `json:"id"`
	Title            string            `json:"title"`
	ScheduledStart   time.Time         `json:"scheduled_start"`
	ScheduledEnd     time.Time         `json:"scheduled_end"`
	ActualStart      *time.Time        `json:"actual_start,omitempty"`
	ActualEnd        *time.Time        `json:"actual_end,omitempty"`
	Status           MaintenanceStatus `json:"status"`
	AffectedServices []string          `json:"affected_services"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IsActive reports whether the window counts toward the compliance
// maintenance summary.
func (w *MaintenanceWindow) IsActive() bool {
	return w.Status == MaintenanceScheduled || w.Status == MaintenanceInProgress
}

// MaintenanceRepository is the read surface over maintenance windows.
type MaintenanceRepository interface {
	ListOverlapping(ctx context.Context, from, to time.Time) ([]*MaintenanceWindow, error)
	CountActiveInWindow(ctx context.Context, from, to time.Time) (int64, error)
}
