package obsmetrics

import (
	"context"
	"log/slog"
	"runtime"
	runtimemetrics "runtime/metrics"
	"time"

	"github.com/scoopworks/retail-audit-backend/internal/domain/ops"
)

const cpuMetricName = "/cpu/classes/total:cpu-seconds"

// Sampler periodically stores process health samples: heap usage, cpu time,
// goroutine count and uptime. It is the pipeline's own heartbeat in the metric store,
// so dashboards can tell "no events" from "pipeline down".
type Sampler struct {
	repo     ops.MetricRepository
	logger   *slog.Logger
	interval time.Duration
	started  time.Time
	now      func() time.Time
}

func NewSampler(repo ops.MetricRepository, interval time.Duration, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sampler{
		repo:     repo,
		logger:   logger,
		interval: interval,
		started:  time.Now().UTC(),
		now:      time.Now,
	}
}

// Run samples on a fixed interval until ctx is canceled. One sample is taken
// immediately so a fresh deployment shows up without waiting a full interval.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sampleOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	now := s.now().UTC()

	s.store(ctx, "heap_used_bytes", float64(mem.HeapAlloc), now)
	s.store(ctx, "heap_total_bytes", float64(mem.HeapSys), now)
	s.store(ctx, "goroutines", float64(runtime.NumGoroutine()), now)
	s.store(ctx, "uptime_seconds", now.Sub(s.started).Seconds(), now)

	cpu := []runtimemetrics.Sample{{Name: cpuMetricName}}
	runtimemetrics.Read(cpu)
	if cpu[0].Value.Kind() == runtimemetrics.KindFloat64 {
		s.store(ctx, "cpu_seconds_total", cpu[0].Value.Float64(), now)
	}
}

func (s *Sampler) store(ctx context.Context, metric string, value float64, ts time.Time) {
	sample, err := ops.NewMetricSample(serviceName, metric, value, nil, ts)
	if err == nil {
		err = s.repo.Store(ctx, sample)
	}
	if err != nil {
		s.logger.Warn("process sample dropped", "metric", metric, "error", err)
	}
}
