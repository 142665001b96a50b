// Package obsmetrics persists operational metric samples: per-event counters
// recorded during ingestion and periodic process health samples. Writes are
// best effort; a failed sample is logged and skipped, never retried and never
// surfaced to the caller.
package obsmetrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/scoopworks/retail-audit-backend/internal/domain/ops"
)

const serviceName = "audit-pipeline"

// Recorder writes per-event counter samples.
type Recorder struct {
	repo   ops.MetricRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(repo ops.MetricRepository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger, now: time.Now}
}

// RecordEvent stores a count-one sample tagged with the event's topic and
// resource.
func (r *Recorder) RecordEvent(ctx context.Context, topic, resource string) {
	sample, err := ops.NewMetricSample(serviceName, "events_processed", 1,
		map[string]string{"topic": topic, "resource": resource}, r.now().UTC())
	if err == nil {
		err = r.repo.Store(ctx, sample)
	}
	if err != nil {
		r.logger.Warn("metric sample dropped",
			"metric", "events_processed", "topic", topic, "error", err)
	}
}
