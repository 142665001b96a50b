package obsmetrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/repository"
)

func TestRecorderStoresTaggedSample(t *testing.T) {
	repo := repository.NewMemoryMetricRepository()
	recorder := NewRecorder(repo, nil)

	recorder.RecordEvent(context.Background(), "POS_TRANSACTION", "POS_TRANSACTION")

	samples, err := repo.ListByMetric(context.Background(), serviceName, "events_processed",
		time.Now().Add(-time.Minute), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, float64(1), samples[0].Value)
	assert.Equal(t, "POS_TRANSACTION", samples[0].Tags["topic"])
}

func TestRecorderSwallowsStoreFailure(t *testing.T) {
	repo := repository.NewMemoryMetricRepository()
	repo.SetFailing(true)
	recorder := NewRecorder(repo, nil)

	// Must not panic or propagate; the envelope that triggered this sample
	// is already committed.
	recorder.RecordEvent(context.Background(), "USER_LOGIN", "USER")
	assert.Equal(t, 0, repo.Len())
}

func TestSamplerTakesImmediateSample(t *testing.T) {
	repo := repository.NewMemoryMetricRepository()
	sampler := NewSampler(repo, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sampler.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return repo.Len() >= 5 },
		2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not stop on cancel")
	}

	heap, err := repo.ListByMetric(context.Background(), serviceName, "heap_used_bytes",
		time.Now().Add(-time.Minute), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, heap, 1)
	assert.Greater(t, heap[0].Value, float64(0))

	cpu, err := repo.ListByMetric(context.Background(), serviceName, "cpu_seconds_total",
		time.Now().Add(-time.Minute), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, cpu, 1)
	assert.GreaterOrEqual(t, cpu[0].Value, float64(0))
}

func TestSamplerKeepsRunningThroughStoreFailures(t *testing.T) {
	repo := repository.NewMemoryMetricRepository()
	repo.SetFailing(true)
	sampler := NewSampler(repo, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sampler.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 0, repo.Len())
}
