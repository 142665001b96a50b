package fixtures

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scoopworks/retail-audit-backend/internal/domain/audit"
)

// RecordBuilder builds test audit records
type RecordBuilder struct {
	t     *testing.T
	draft audit.Draft
}

// NewRecordBuilder creates a RecordBuilder with sensible defaults
func NewRecordBuilder(t *testing.T) *RecordBuilder {
	t.Helper()
	return &RecordBuilder{
		t: t,
		draft: audit.Draft{
			ActorUserID: "user-1",
			ActorRole:   "CLERK",
			Action:      audit.ActionLogin,
			Resource:    audit.ResourceUser,
			IPAddress:   "192.0.2.10",
			Status:      audit.StatusSuccess,
			Message:     "user logged in: user-1",
			Tags:        []string{"AUTHENTICATION"},
			CreatedAt:   time.Now().UTC().Add(-time.Hour),
		},
	}
}

// WithActor sets the acting user
func (b *RecordBuilder) WithActor(userID string) *RecordBuilder {
	b.draft.ActorUserID = userID
	return b
}

// WithAction sets the action
func (b *RecordBuilder) WithAction(action string) *RecordBuilder {
	b.draft.Action = action
	return b
}

// WithResource sets the resource and its id
func (b *RecordBuilder) WithResource(resource, resourceID string) *RecordBuilder {
	b.draft.Resource = resource
	b.draft.ResourceID = resourceID
	return b
}

// WithStatus sets the outcome status
func (b *RecordBuilder) WithStatus(status audit.Status) *RecordBuilder {
	b.draft.Status = status
	return b
}

// WithMessage sets the message
func (b *RecordBuilder) WithMessage(message string) *RecordBuilder {
	b.draft.Message = message
	return b
}

// WithTags replaces the tag set
func (b *RecordBuilder) WithTags(tags ...string) *RecordBuilder {
	b.draft.Tags = tags
	return b
}

// WithCreatedAt sets the creation time
func (b *RecordBuilder) WithCreatedAt(at time.Time) *RecordBuilder {
	b.draft.CreatedAt = at
	return b
}

// Build materializes the record
func (b *RecordBuilder) Build() *audit.Record {
	record, err := audit.NewRecord(b.draft)
	require.NoError(b.t, err)
	return record
}
