package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/scoopworks/retail-audit-backend/internal/domain/audit"
	"github.com/scoopworks/retail-audit-backend/internal/domain/security"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/events"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/repository"
	"github.com/scoopworks/retail-audit-backend/internal/testutil/fixtures"
)

// fakeTransport delivers queued messages with redelivery of anything unacked,
// mirroring the at-least-once contract of the stream transport.
type fakeTransport struct {
	mu     sync.Mutex
	queue  []events.Message
	acked  map[string]bool
	closed bool
}

func newFakeTransport(msgs ...events.Message) *fakeTransport {
	return &fakeTransport{queue: msgs, acked: make(map[string]bool)}
}

func (f *fakeTransport) Fetch(ctx context.Context) ([]events.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Message
	for _, m := range f.queue {
		if !f.acked[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeTransport) Ack(ctx context.Context, msg events.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked[msg.ID] = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isAcked(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acked[id]
}

func message(t *testing.T, id, topic string, payload map[string]any) events.Message {
	t.Helper()
	at := time.Now().UTC()
	return events.Message{
		Stream:     topic,
		ID:         id,
		Envelope:   fixtures.Envelope(t, topic, payload, at),
		ReceivedAt: at,
	}
}

func newTestConsumer(transport events.Consumer, audits audit.Repository, incidents security.Repository, cfg Config) (*Consumer, *Metrics) {
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewConsumer(transport, audits, incidents, nil, metrics, nil, cfg), metrics
}

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func TestProcessEmitsSpanPerEnvelope(t *testing.T) {
	recorder := recordSpans(t)

	audits := repository.NewMemoryAuditRepository()
	consumer, _ := newTestConsumer(newFakeTransport(), audits, nil, Config{})

	consumer.process(context.Background(), message(t, "1-0", "USER_LOGIN", map[string]any{"userId": "u-1"}))
	audits.SetFailing(true)
	consumer.process(context.Background(), message(t, "2-0", "USER_LOGIN", map[string]any{"userId": "u-2"}))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "ingest.process", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("messaging.topic", "USER_LOGIN"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code, "store failure must mark the span")
}

func TestConsumerCommitsAfterStore(t *testing.T) {
	audits := repository.NewMemoryAuditRepository()
	transport := newFakeTransport()
	consumer, metrics := newTestConsumer(transport, audits, nil, Config{})

	msg := message(t, "1-0", "USER_LOGIN", map[string]any{"userId": "u-1"})
	ok := consumer.process(context.Background(), msg)
	assert.True(t, ok)
	assert.True(t, transport.isAcked(msg.ID), "commit must follow the audit write")
	assert.Equal(t, 1, audits.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Committed))
}

func TestConsumerHoldsCommitOnStoreFailure(t *testing.T) {
	audits := repository.NewMemoryAuditRepository()
	audits.SetFailing(true)
	transport := newFakeTransport()
	consumer, metrics := newTestConsumer(transport, audits, nil, Config{MaxConsecutiveFailures: 5})

	msg := message(t, "1-0", "POS_TRANSACTION", map[string]any{"transactionId": "tx-1"})
	ok := consumer.process(context.Background(), msg)

	assert.False(t, ok, "the stream must block behind the failed envelope")
	assert.False(t, transport.isAcked(msg.ID), "no commit without a durable write")
	assert.Equal(t, 0, audits.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StoreFailures))
}

func TestConsumerDeadLettersAfterMaxFailures(t *testing.T) {
	audits := repository.NewMemoryAuditRepository()
	audits.SetFailing(true)
	transport := newFakeTransport()
	consumer, metrics := newTestConsumer(transport, audits, nil, Config{MaxConsecutiveFailures: 3})

	msg := message(t, "1-0", "POS_TRANSACTION", map[string]any{"transactionId": "tx-1"})
	ctx := context.Background()

	assert.False(t, consumer.process(ctx, msg))
	assert.False(t, consumer.process(ctx, msg))
	ok := consumer.process(ctx, msg)

	assert.True(t, ok, "the stream unblocks once the envelope is dead lettered")
	assert.True(t, transport.isAcked(msg.ID), "dead letter commits even when its own write fails")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DeadLettered))
	assert.Equal(t, 0, consumer.failures[msg.Stream], "counter resets after dead letter")

	// With the store healthy again the dead-letter record itself persists.
	audits.SetFailing(false)
	msg2 := message(t, "2-0", "POS_TRANSACTION", map[string]any{"transactionId": "tx-2"})
	audits.SetFailing(true)
	assert.False(t, consumer.process(ctx, msg2))
	assert.False(t, consumer.process(ctx, msg2))
	audits.SetFailing(false)
	require.True(t, consumer.process(ctx, msg2))
	assert.Equal(t, 1, audits.Len(), "recovered store writes a normal record, not a dead letter")
}

func TestConsumerDeadLetterRecordShape(t *testing.T) {
	audits := repository.NewMemoryAuditRepository()
	transport := newFakeTransport()
	consumer, _ := newTestConsumer(transport, audits, nil, Config{})

	msg := events.Message{
		Stream:     "POS_TRANSACTION",
		ID:         "1-0",
		Envelope:   events.Envelope{Topic: "POS_TRANSACTION", Payload: json.RawMessage(`{broken`)},
		ReceivedAt: time.Now().UTC(),
	}

	ok := consumer.process(context.Background(), msg)
	require.True(t, ok, "a malformed payload is dead lettered immediately, not retried")
	assert.True(t, transport.isAcked(msg.ID))

	records, err := audits.List(context.Background(), audit.Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ActionDeadLetter, records[0].Action)
	assert.ElementsMatch(t, []string{TagUnknown, TagIngestionFailure}, records[0].Tags)
	assert.Equal(t, audit.StatusFailure, records[0].Status)
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRecorder) RecordEvent(ctx context.Context, topic, resource string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, topic+"/"+resource)
}

func TestConsumerRecordsOnlyNormalizedEvents(t *testing.T) {
	audits := repository.NewMemoryAuditRepository()
	transport := newFakeTransport()
	recorder := &fakeRecorder{}
	consumer := NewConsumer(transport, audits, nil, recorder,
		NewMetrics(prometheus.NewRegistry()), nil, Config{})

	malformed := events.Message{
		Stream:     "POS_TRANSACTION",
		ID:         "1-0",
		Envelope:   events.Envelope{Topic: "POS_TRANSACTION", Payload: json.RawMessage(`{broken`)},
		ReceivedAt: time.Now().UTC(),
	}
	require.True(t, consumer.process(context.Background(), malformed))
	assert.Equal(t, 1, audits.Len(), "the dead letter record is still written")
	assert.Empty(t, recorder.calls, "dead letters are not processed events")

	require.True(t, consumer.process(context.Background(),
		message(t, "2-0", "USER_LOGIN", map[string]any{"userId": "u-1"})))
	assert.Equal(t, []string{"USER_LOGIN/" + audit.ResourceUser}, recorder.calls)
}

func TestConsumerStoresSecurityEventAlongsideRecord(t *testing.T) {
	audits := repository.NewMemoryAuditRepository()
	incidents := repository.NewMemorySecurityRepository()
	transport := newFakeTransport()
	consumer, _ := newTestConsumer(transport, audits, incidents, Config{})

	msg := message(t, "1-0", "SECURITY_EVENT", map[string]any{
		"eventType": "BRUTE_FORCE", "severity": "HIGH", "userId": "u-7",
	})
	require.True(t, consumer.process(context.Background(), msg))

	assert.Equal(t, 1, audits.Len())
	open, err := incidents.ListByStatus(context.Background(), security.StatusOpen, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "BRUTE_FORCE", open[0].EventType)
	assert.Equal(t, security.SeverityHigh, open[0].Severity)
}

func TestConsumerRedeliveryYieldsTwoRecords(t *testing.T) {
	audits := repository.NewMemoryAuditRepository()
	transport := newFakeTransport()
	consumer, _ := newTestConsumer(transport, audits, nil, Config{})

	msg := message(t, "1-0", "USER_LOGIN", map[string]any{"userId": "u-1"})
	ctx := context.Background()

	require.True(t, consumer.process(ctx, msg))
	// Simulate the broker forgetting the ack and redelivering the same
	// envelope. Without a dedup key the pipeline writes a second record.
	transport.mu.Lock()
	delete(transport.acked, msg.ID)
	transport.mu.Unlock()
	require.True(t, consumer.process(ctx, msg))

	assert.Equal(t, 2, audits.Len())
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	audits := repository.NewMemoryAuditRepository()
	transport := newFakeTransport(
		message(t, "1-0", "USER_LOGIN", map[string]any{"userId": "u-1"}),
		message(t, "2-0", "USER_LOGOUT", map[string]any{"userId": "u-1"}),
	)
	consumer, _ := newTestConsumer(transport, audits, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool {
		return transport.isAcked("1-0") && transport.isAcked("2-0")
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
	assert.Equal(t, 2, audits.Len())
}

func TestConsumerBlockedStreamSkipsRestOfBatch(t *testing.T) {
	audits := repository.NewMemoryAuditRepository()
	audits.SetFailing(true)
	transport := newFakeTransport(
		message(t, "1-0", "POS_TRANSACTION", map[string]any{"transactionId": "tx-1"}),
		message(t, "1-1", "POS_TRANSACTION", map[string]any{"transactionId": "tx-2"}),
		message(t, "2-0", "USER_LOGIN", map[string]any{"userId": "u-1"}),
	)
	consumer, _ := newTestConsumer(transport, audits, nil, Config{MaxConsecutiveFailures: 99})

	ctx := context.Background()
	batch, err := transport.Fetch(ctx)
	require.NoError(t, err)
	consumer.processBatch(ctx, batch)

	assert.False(t, transport.isAcked("1-0"))
	assert.False(t, transport.isAcked("1-1"), "later messages on a failed stream must wait")
	assert.Equal(t, 1, consumer.failures["POS_TRANSACTION"], "only the head of the stream is attempted")
}
