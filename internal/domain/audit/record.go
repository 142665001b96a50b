package audit

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
)

// Status is the outcome recorded for an audited action.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusWarning Status = "WARNING"
)

// Well-known actions. The normalizer only ever emits these plus
// ActionUnknown for topics missing from the mapping table.
const (
	ActionCreate        = "CREATE"
	ActionUpdate        = "UPDATE"
	ActionDelete        = "DELETE"
	ActionRead          = "READ"
	ActionExport        = "EXPORT"
	ActionAccess        = "ACCESS"
	ActionLogin         = "LOGIN"
	ActionLogout        = "LOGOUT"
	ActionRoleChange    = "ROLE_CHANGE"
	ActionError         = "ERROR"
	ActionSecurityEvent = "SECURITY_EVENT"
	ActionUnknown       = "UNKNOWN_ACTION"
)

// Well-known resources.
const (
	ResourceUser           = "USER"
	ResourcePOSTransaction = "POS_TRANSACTION"
	ResourceStockItem      = "STOCK_ITEM"
	ResourceInvoice        = "INVOICE"
	ResourceSystem         = "SYSTEM"
	ResourceSecurity       = "SECURITY"
)

// Record represents an immutable audit trail entry. Records are append-only:
// once stored they are never updated, and are removed only by retention purge.
type Record struct {
	ID          uuid.UUID `json:"id"`
	ActorUserID string    `json:"actor_user_id,omitempty"`
	ActorRole   string    `json:"actor_role,omitempty"`
	Action      string    `json:"action"`
	Resource    string    `json:"resource"`
	ResourceID  string    `json:"resource_id,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Endpoint    string    `json:"endpoint,omitempty"`

	// Before/after snapshots are opaque producer payloads. They are stored
	// verbatim, never interpreted, so producers can evolve their shapes freely.
	OldValues json.RawMessage `json:"old_values,omitempty"`
	NewValues json.RawMessage `json:"new_values,omitempty"`

	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// Draft is a Record before identity assignment, produced by the normalizer.
type Draft struct {
	ActorUserID string
	ActorRole   string
	Action      string
	Resource    string
	ResourceID  string
	IPAddress   string
	UserAgent   string
	Endpoint    string
	OldValues   json.RawMessage
	NewValues   json.RawMessage
	Status      Status
	Message     string
	Tags        []string
	CreatedAt   time.Time
}

// NewRecord materializes a draft into a Record with validation.
func NewRecord(draft Draft) (*Record, error) {
	if draft.Action == "" {
		return nil, errors.NewValidationError("MISSING_ACTION", "action is required")
	}
	if draft.Resource == "" {
		return nil, errors.NewValidationError("MISSING_RESOURCE", "resource is required")
	}
	if err := validateStatus(draft.Status); err != nil {
		return nil, errors.NewValidationError("INVALID_STATUS", "status validation failed").WithCause(err)
	}

	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return &Record{
		ID:          uuid.New(),
		ActorUserID: draft.ActorUserID,
		ActorRole:   draft.ActorRole,
		Action:      draft.Action,
		Resource:    draft.Resource,
		ResourceID:  draft.ResourceID,
		IPAddress:   draft.IPAddress,
		UserAgent:   draft.UserAgent,
		Endpoint:    draft.Endpoint,
		OldValues:   draft.OldValues,
		NewValues:   draft.NewValues,
		Status:      draft.Status,
		Message:     draft.Message,
		Tags:        normalizeTags(draft.Tags),
		CreatedAt:   createdAt,
	}, nil
}

// HasTag reports whether the record carries the given tag.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsDataAccess reports whether the record counts as a data-access action
// for compliance reporting.
func (r *Record) IsDataAccess() bool {
	switch r.Action {
	case ActionRead, ActionExport, ActionAccess:
		return true
	}
	return false
}

// IsDataModification reports whether the record counts as a data-modification
// action for compliance reporting.
func (r *Record) IsDataModification() bool {
	switch r.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Validate checks the record's invariants.
func (r *Record) Validate() error {
	if r.Action == "" {
		return errors.NewValidationError("MISSING_ACTION", "action is required")
	}
	if r.Resource == "" {
		return errors.NewValidationError("MISSING_RESOURCE", "resource is required")
	}
	if r.Tags == nil {
		return errors.NewValidationError("NIL_TAGS", "tags must never be nil")
	}
	if err := validateStatus(r.Status); err != nil {
		return errors.NewValidationError("INVALID_STATUS", "status validation failed").WithCause(err)
	}
	return nil
}

func validateStatus(status Status) error {
	switch status {
	case StatusSuccess, StatusFailure, StatusWarning:
		return nil
	default:
		return errors.NewValidationError("INVALID_STATUS",
			"status must be SUCCESS, FAILURE, or WARNING")
	}
}

// normalizeTags deduplicates and sorts tags. A nil input yields an empty,
// non-nil slice so the tags invariant holds for every record.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
