package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scoopworks/retail-audit-backend/internal/domain/audit"
	"github.com/scoopworks/retail-audit-backend/internal/domain/security"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/events"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/telemetry"
)

var tracer = telemetry.Tracer("ingest")

// EventRecorder receives one observation per successfully stored envelope.
// Implementations must not fail the envelope; recording problems are theirs
// to log.
type EventRecorder interface {
	RecordEvent(ctx context.Context, topic, resource string)
}

// Config tunes the consumer runtime.
type Config struct {
	// MaxConsecutiveFailures is the number of store failures on one stream
	// after which the envelope is written as DEAD_LETTER and committed, so a
	// poisoned message cannot block the stream forever.
	MaxConsecutiveFailures int

	// FetchBackoff is the pause after a transport fetch error.
	FetchBackoff time.Duration
}

func (c *Config) withDefaults() {
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.FetchBackoff <= 0 {
		c.FetchBackoff = time.Second
	}
}

// Consumer drives the ingestion pipeline: fetch, normalize, persist, commit.
// An envelope is committed only after its audit record is durably stored, or
// after repeated failures turned it into a DEAD_LETTER record. Security-event
// and metric writes happen after the audit write and never fail the envelope.
type Consumer struct {
	transport events.Consumer
	audits    audit.Repository
	incidents security.Repository
	recorder  EventRecorder
	metrics   *Metrics
	logger    *slog.Logger
	cfg       Config

	// consecutive store failures per stream, reset on success or dead-letter
	failures map[string]int
	now      func() time.Time
}

// NewConsumer wires the runtime. incidents, recorder and metrics may be nil;
// the corresponding side effects are skipped.
func NewConsumer(
	transport events.Consumer,
	audits audit.Repository,
	incidents security.Repository,
	recorder EventRecorder,
	metrics *Metrics,
	logger *slog.Logger,
	cfg Config,
) *Consumer {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		transport: transport,
		audits:    audits,
		incidents: incidents,
		recorder:  recorder,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		failures:  make(map[string]int),
		now:       time.Now,
	}
}

// Run fetches and processes until ctx is canceled. The in-flight envelope is
// always finished before returning, so shutdown never strands a half-processed
// message in an ambiguous state.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		batch, err := c.transport.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.FetchBackoff):
			}
			continue
		}

		c.processBatch(ctx, batch)
	}
}

// processBatch handles one fetch worth of messages. A stream becomes blocked
// for the rest of the batch once one of its messages fails without a commit.
// Skipped messages stay pending and come back in order on the next fetch,
// which preserves per-stream ordering.
func (c *Consumer) processBatch(ctx context.Context, batch []events.Message) {
	blocked := make(map[string]bool)
	for _, msg := range batch {
		if blocked[msg.Stream] {
			continue
		}
		if !c.process(ctx, msg) {
			blocked[msg.Stream] = true
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// process handles one envelope and reports whether the stream may continue.
// Each envelope gets its own span so store latency and failure paths show up
// per message, and log lines written under this ctx carry the trace id.
func (c *Consumer) process(ctx context.Context, msg events.Message) bool {
	ctx, span := tracer.Start(ctx, "ingest.process", trace.WithAttributes(
		attribute.String("messaging.stream", msg.Stream),
		attribute.String("messaging.topic", msg.Envelope.Topic),
	))
	defer span.End()

	start := c.now()
	if c.metrics != nil {
		c.metrics.Consumed.WithLabelValues(msg.Envelope.Topic).Inc()
	}

	norm := Normalize(msg.Envelope, msg.ReceivedAt)
	if norm.DeadLetter && c.metrics != nil {
		c.metrics.DeadLettered.Inc()
	}

	record, err := audit.NewRecord(norm.Record)
	if err != nil {
		// The normalizer only emits materializable drafts; reaching this
		// means a bug, so the envelope takes the failure path rather than
		// being silently dropped.
		telemetry.RecordError(span, err)
		c.logger.ErrorContext(ctx, "draft rejected", "topic", msg.Envelope.Topic, "error", err)
		return c.handleFailure(ctx, msg, err)
	}

	if err := c.audits.Store(ctx, record); err != nil {
		telemetry.RecordError(span, err)
		c.logger.ErrorContext(ctx, "audit store failed",
			"stream", msg.Stream, "id", msg.ID, "error", err)
		return c.handleFailure(ctx, msg, err)
	}
	delete(c.failures, msg.Stream)

	c.storeSecondary(ctx, msg, norm)

	if err := c.transport.Ack(ctx, msg); err != nil {
		// The record is stored but the commit failed; the transport will
		// redeliver and a second record will be written. At-least-once
		// delivery makes this duplicate expected, not an error state.
		c.logger.WarnContext(ctx, "ack failed, envelope will be redelivered",
			"stream", msg.Stream, "id", msg.ID, "error", err)
		return true
	}

	if c.metrics != nil {
		c.metrics.Committed.Inc()
		c.metrics.Processing.Observe(c.now().Sub(start).Seconds())
	}
	return true
}

// storeSecondary performs the writes that ride along with a stored audit
// record. Failures here are logged and dropped: the envelope is already
// durable in the audit trail and must not be reprocessed for a side effect.
func (c *Consumer) storeSecondary(ctx context.Context, msg events.Message, norm Normalized) {
	if norm.Security != nil && c.incidents != nil {
		event, err := security.NewEvent(*norm.Security)
		if err == nil {
			err = c.incidents.Store(ctx, event)
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "security event write failed",
				"stream", msg.Stream, "id", msg.ID, "error", err)
		}
	}
	// Dead letters are failures, not processed events; they are counted by
	// the dead-letter metric instead.
	if c.recorder != nil && !norm.DeadLetter {
		c.recorder.RecordEvent(ctx, msg.Envelope.Topic, norm.Record.Resource)
	}
}

// handleFailure tracks consecutive failures per stream. Below the threshold
// the envelope stays uncommitted and blocks its stream; at the threshold it
// is written as DEAD_LETTER and committed so the stream can move again.
func (c *Consumer) handleFailure(ctx context.Context, msg events.Message, cause error) bool {
	if c.metrics != nil {
		c.metrics.StoreFailures.Inc()
	}
	c.failures[msg.Stream]++
	if c.failures[msg.Stream] < c.cfg.MaxConsecutiveFailures {
		return false
	}

	reason := fmt.Sprintf("giving up after %d failures: %v",
		c.failures[msg.Stream], cause)
	draft := DeadLetterDraft(msg.Envelope, c.now().UTC(), reason)
	record, err := audit.NewRecord(draft)
	if err == nil {
		err = c.audits.Store(ctx, record)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "dead letter write failed, committing anyway",
			"stream", msg.Stream, "id", msg.ID, "error", err)
	}

	if err := c.transport.Ack(ctx, msg); err != nil {
		c.logger.ErrorContext(ctx, "dead letter commit failed",
			"stream", msg.Stream, "id", msg.ID, "error", err)
		return false
	}

	delete(c.failures, msg.Stream)
	if c.metrics != nil {
		c.metrics.DeadLettered.Inc()
	}
	c.logger.WarnContext(ctx, "envelope dead lettered",
		"stream", msg.Stream, "id", msg.ID, "topic", msg.Envelope.Topic)
	return true
}

// Close releases the transport.
func (c *Consumer) Close() error {
	if err := c.transport.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
