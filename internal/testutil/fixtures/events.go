package fixtures

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scoopworks/retail-audit-backend/internal/domain/security"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/events"
)

// SecurityEventBuilder builds test security events
type SecurityEventBuilder struct {
	t     *testing.T
	draft security.Draft
}

// NewSecurityEventBuilder creates a builder with defaults
func NewSecurityEventBuilder(t *testing.T) *SecurityEventBuilder {
	t.Helper()
	return &SecurityEventBuilder{
		t: t,
		draft: security.Draft{
			EventType:   "UNAUTHORIZED_ACCESS",
			Severity:    security.SeverityMedium,
			ActorUserID: "user-1",
			IPAddress:   "192.0.2.10",
			Description: "access to restricted endpoint",
			CreatedAt:   time.Now().UTC().Add(-time.Hour),
		},
	}
}

// WithType sets the event type
func (b *SecurityEventBuilder) WithType(eventType string) *SecurityEventBuilder {
	b.draft.EventType = eventType
	return b
}

// WithSeverity sets the severity
func (b *SecurityEventBuilder) WithSeverity(severity security.Severity) *SecurityEventBuilder {
	b.draft.Severity = severity
	return b
}

// WithActor sets the acting user
func (b *SecurityEventBuilder) WithActor(userID string) *SecurityEventBuilder {
	b.draft.ActorUserID = userID
	return b
}

// WithCreatedAt sets the creation time
func (b *SecurityEventBuilder) WithCreatedAt(at time.Time) *SecurityEventBuilder {
	b.draft.CreatedAt = at
	return b
}

// Build materializes the event
func (b *SecurityEventBuilder) Build() *security.Event {
	event, err := security.NewEvent(b.draft)
	require.NoError(b.t, err)
	return event
}

// Envelope builds a transport envelope with a JSON payload and an
// epoch-millisecond timestamp.
func Envelope(t *testing.T, topic string, payload map[string]any, at time.Time) events.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.Envelope{
		Topic:     topic,
		Payload:   raw,
		Timestamp: strconv.FormatInt(at.UnixMilli(), 10),
	}
}
