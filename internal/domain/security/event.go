package security

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
)

// Severity ranks an incident for report prioritization. It never affects the
// initial workflow state: every event starts OPEN.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// EventStatus is the resolution workflow state of a security event.
type EventStatus string

const (
	StatusOpen          EventStatus = "OPEN"
	StatusInvestigating EventStatus = "INVESTIGATING"
	StatusResolved      EventStatus = "RESOLVED"
	StatusFalsePositive EventStatus = "FALSE_POSITIVE"
	StatusEscalated     EventStatus = "ESCALATED"
)

// transitions encodes the resolution state machine. RESOLVED and
// FALSE_POSITIVE are terminal; ESCALATED may loop back to INVESTIGATING.
var transitions = map[EventStatus][]EventStatus{
	StatusOpen:          {StatusInvestigating, StatusResolved, StatusFalsePositive, StatusEscalated},
	StatusInvestigating: {StatusResolved, StatusFalsePositive, StatusEscalated},
	StatusEscalated:     {StatusInvestigating, StatusResolved, StatusFalsePositive},
	StatusResolved:      {},
	StatusFalsePositive: {},
}

// CanTransition reports whether the workflow permits moving between states.
func CanTransition(from, to EventStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Event is a classified security incident extracted from the audit stream.
// It is mutated only through the resolution workflow.
type Event struct {
	ID          uuid.UUID   `json:"id"`
	EventType   string      `json:"event_type"`
	Severity    Severity    `json:"severity"`
	ActorUserID string      `json:"actor_user_id,omitempty"`
	IPAddress   string      `json:"ip_address,omitempty"`
	UserAgent   string      `json:"user_agent,omitempty"`
	Description string      `json:"description"`
	Endpoint    string      `json:"endpoint,omitempty"`
	Status      EventStatus `json:"status"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy  string      `json:"resolved_by,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Draft is an Event before identity assignment, produced by the normalizer
// for SECURITY_EVENT envelopes.
type Draft struct {
	EventType   string
	Severity    Severity
	ActorUserID string
	IPAddress   string
	UserAgent   string
	Description string
	Endpoint    string
	CreatedAt   time.Time
}

// NewEvent materializes a draft. Creation always begins at OPEN regardless
// of severity.
func NewEvent(draft Draft) (*Event, error) {
	if draft.EventType == "" {
		return nil, errors.NewValidationError("MISSING_EVENT_TYPE", "event type is required")
	}
	severity := draft.Severity
	if severity == "" {
		severity = SeverityLow
	}
	if err := validateSeverity(severity); err != nil {
		return nil, err
	}

	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return &Event{
		ID:          uuid.New(),
		EventType:   draft.EventType,
		Severity:    severity,
		ActorUserID: draft.ActorUserID,
		IPAddress:   draft.IPAddress,
		UserAgent:   draft.UserAgent,
		Description: draft.Description,
		Endpoint:    draft.Endpoint,
		Status:      StatusOpen,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// Transition moves the event to a new workflow state. Moving to RESOLVED
// stamps ResolvedAt and ResolvedBy; every other target clears them, which
// keeps the resolved-iff-RESOLVED invariant.
func (e *Event) Transition(to EventStatus, actor, notes string, now time.Time) error {
	if err := validateEventStatus(to); err != nil {
		return err
	}
	if !CanTransition(e.Status, to) {
		return errors.NewBusinessError("INVALID_TRANSITION",
			"workflow does not permit "+string(e.Status)+" -> "+string(to))
	}

	e.Status = to
	e.UpdatedAt = now
	if notes != "" {
		e.Notes = notes
	}

	if to == StatusResolved {
		resolvedAt := now
		e.ResolvedAt = &resolvedAt
		e.ResolvedBy = actor
	} else {
		e.ResolvedAt = nil
		e.ResolvedBy = ""
	}
	return nil
}

// Validate checks the event's invariants, in particular that ResolvedAt is
// set exactly when the status is RESOLVED.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return errors.NewValidationError("MISSING_EVENT_TYPE", "event type is required")
	}
	if err := validateSeverity(e.Severity); err != nil {
		return err
	}
	if err := validateEventStatus(e.Status); err != nil {
		return err
	}
	if e.Status == StatusResolved && e.ResolvedAt == nil {
		return errors.NewValidationError("MISSING_RESOLVED_AT", "resolved event must carry resolution time")
	}
	if e.Status != StatusResolved && e.ResolvedAt != nil {
		return errors.NewValidationError("STALE_RESOLVED_AT", "unresolved event must not carry resolution time")
	}
	return nil
}

func validateSeverity(s Severity) error {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return nil
	default:
		return errors.NewValidationError("INVALID_SEVERITY",
			"severity must be LOW, MEDIUM, HIGH, or CRITICAL")
	}
}

func validateEventStatus(s EventStatus) error {
	switch s {
	case StatusOpen, StatusInvestigating, StatusResolved, StatusFalsePositive, StatusEscalated:
		return nil
	default:
		return errors.NewValidationError("INVALID_EVENT_STATUS", "unknown workflow status")
	}
}

// Repository defines persistence for security events.
type Repository interface {
	Store(ctx context.Context, event *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)

	// Update persists workflow mutations. Only fields touched by Transition
	// change; identity and classification fields are immutable.
	Update(ctx context.Context, event *Event) error

	ListByStatus(ctx context.Context, status EventStatus, limit int) ([]*Event, error)
	CountInWindow(ctx context.Context, from, to time.Time) (int64, error)
}
