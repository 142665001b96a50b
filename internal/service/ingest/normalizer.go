package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scoopworks/retail-audit-backend/internal/domain/audit"
	"github.com/scoopworks/retail-audit-backend/internal/domain/security"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/events"
)

// Tags attached by the normalizer. The dead-letter pair marks envelopes that
// could not be parsed or mapped.
const (
	TagUnknown          = "UNKNOWN"
	TagIngestionFailure = "INGESTION_FAILURE"
)

// ActionDeadLetter marks records representing envelopes that could not be
// normalized.
const ActionDeadLetter = "DEAD_LETTER"

// Normalized is the output of normalization: always an audit record draft,
// plus a security event draft for SECURITY_EVENT envelopes.
type Normalized struct {
	Record     audit.Draft
	Security   *security.Draft
	DeadLetter bool
}

// topicMapping is one row of the normalization table.
type topicMapping struct {
	action   string
	resource string
	tags     []string
	message  func(p payload) string
}

var topicTable = map[string]topicMapping{
	"USER_REGISTERED": {
		action:   audit.ActionCreate,
		resource: audit.ResourceUser,
		tags:     []string{"USER_REGISTRATION"},
		message:  func(p payload) string { return "user registered: " + p.subject() },
	},
	"USER_LOGIN": {
		action:   audit.ActionLogin,
		resource: audit.ResourceUser,
		tags:     []string{"AUTHENTICATION"},
		message:  func(p payload) string { return "user logged in: " + p.subject() },
	},
	"USER_LOGOUT": {
		action:   audit.ActionLogout,
		resource: audit.ResourceUser,
		tags:     []string{"AUTHENTICATION"},
		message:  func(p payload) string { return "user logged out: " + p.subject() },
	},
	"USER_ROLE_CHANGED": {
		action:   audit.ActionRoleChange,
		resource: audit.ResourceUser,
		tags:     []string{"ADMIN_ACTION", "USER_MANAGEMENT"},
		message: func(p payload) string {
			return fmt.Sprintf("role changed for %s: %s -> %s", p.subject(), p.OldRole, p.NewRole)
		},
	},
	"POS_TRANSACTION": {
		action:   audit.ActionCreate,
		resource: audit.ResourcePOSTransaction,
		tags:     []string{"SALES", "TRANSACTION"},
		message:  func(p payload) string { return "POS transaction recorded: " + p.resourceID() },
	},
	"STOCK_REGISTERED": {
		action:   audit.ActionCreate,
		resource: audit.ResourceStockItem,
		tags:     []string{"INVENTORY", "PRODUCTION"},
		message:  func(p payload) string { return "stock registered: " + p.resourceID() },
	},
	"INVOICE_GENERATED": {
		action:   audit.ActionCreate,
		resource: audit.ResourceInvoice,
		tags:     []string{"INVENTORY", "FINANCE"},
		message:  func(p payload) string { return "invoice generated: " + p.resourceID() },
	},
	"SYSTEM_ERROR": {
		action:   audit.ActionError,
		resource: audit.ResourceSystem,
		tags:     []string{"SYSTEM_ERROR", "ERROR_HANDLING"},
		message: func(p payload) string {
			if p.ErrorMessage != "" {
				return "system error: " + p.ErrorMessage
			}
			return "system error"
		},
	},
	"SECURITY_EVENT": {
		action:   audit.ActionSecurityEvent,
		resource: audit.ResourceSecurity,
		tags:     []string{"SECURITY"},
		message: func(p payload) string {
			if p.Description != "" {
				return "security event: " + p.Description
			}
			return "security event: " + p.EventType
		},
	},
}

// payload is the loosely-typed superset of every producer's payload shape.
// Unknown fields are ignored; before/after snapshots stay opaque.
type payload struct {
	UserID        flexString      `json:"userId"`
	Email         string          `json:"email"`
	Role          string          `json:"role"`
	OldRole       string          `json:"oldRole"`
	NewRole       string          `json:"newRole"`
	IPAddress     string          `json:"ipAddress"`
	UserAgent     string          `json:"userAgent"`
	Endpoint      string          `json:"endpoint"`
	TransactionID flexString      `json:"transactionId"`
	StockItemID   flexString      `json:"stockItemId"`
	InvoiceID     flexString      `json:"invoiceId"`
	ErrorMessage  string          `json:"errorMessage"`
	EventType     string          `json:"eventType"`
	Severity      string          `json:"severity"`
	Description   string          `json:"description"`
	OldValues     json.RawMessage `json:"oldValues"`
	NewValues     json.RawMessage `json:"newValues"`
}

func (p payload) subject() string {
	if p.UserID != "" {
		return string(p.UserID)
	}
	if p.Email != "" {
		return p.Email
	}
	return "unknown"
}

func (p payload) resourceID() string {
	switch {
	case p.TransactionID != "":
		return string(p.TransactionID)
	case p.StockItemID != "":
		return string(p.StockItemID)
	case p.InvoiceID != "":
		return string(p.InvoiceID)
	case p.UserID != "":
		return string(p.UserID)
	}
	return ""
}

// flexString tolerates producers that send numeric identifiers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	return fmt.Errorf("value is neither string nor number")
}

// Normalize maps an envelope to an audit record draft, plus a security event
// draft for SECURITY_EVENT envelopes. It is pure: the only clock input is
// receivedAt, used when the producer declared no event time. It never fails;
// an unparseable payload yields a dead-letter draft so one bad message cannot
// stall a partition, and a topic missing from the table falls back to
// UNKNOWN_ACTION.
func Normalize(envelope events.Envelope, receivedAt time.Time) Normalized {
	createdAt := receivedAt
	if ts, ok := envelope.EventTime(); ok {
		createdAt = ts
	}

	var p payload
	if len(envelope.Payload) > 0 {
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return deadLetter(envelope, createdAt, "unparseable payload")
		}
	}

	mapping, known := topicTable[envelope.Topic]
	if !known {
		return Normalized{Record: audit.Draft{
			ActorUserID: string(p.UserID),
			Action:      audit.ActionUnknown,
			Resource:    audit.ResourceSystem,
			IPAddress:   p.IPAddress,
			UserAgent:   p.UserAgent,
			Endpoint:    p.Endpoint,
			Status:      audit.StatusWarning,
			Message:     "unrecognized topic: " + envelope.Topic,
			Tags:        []string{TagUnknown},
			CreatedAt:   createdAt,
		}}
	}

	status := audit.StatusSuccess
	if envelope.Topic == "SYSTEM_ERROR" {
		// Forced regardless of any status-like field in the payload.
		status = audit.StatusFailure
	}

	tags := append([]string(nil), mapping.tags...)

	record := audit.Draft{
		ActorUserID: string(p.UserID),
		ActorRole:   p.Role,
		Action:      mapping.action,
		Resource:    mapping.resource,
		ResourceID:  p.resourceID(),
		IPAddress:   p.IPAddress,
		UserAgent:   p.UserAgent,
		Endpoint:    p.Endpoint,
		OldValues:   p.OldValues,
		NewValues:   p.NewValues,
		Status:      status,
		Message:     mapping.message(p),
		Tags:        tags,
		CreatedAt:   createdAt,
	}

	if envelope.Topic == "USER_ROLE_CHANGED" && record.OldValues == nil && p.OldRole != "" {
		record.OldValues, _ = json.Marshal(map[string]string{"role": p.OldRole})
		record.NewValues, _ = json.Marshal(map[string]string{"role": p.NewRole})
	}

	result := Normalized{Record: record}

	if envelope.Topic == "SECURITY_EVENT" {
		severity := security.Severity(strings.ToUpper(p.Severity))
		switch severity {
		case security.SeverityLow, security.SeverityMedium, security.SeverityHigh, security.SeverityCritical:
		default:
			severity = security.SeverityLow
		}
		result.Record.Tags = append(result.Record.Tags, string(severity))
		result.Security = &security.Draft{
			EventType:   p.EventType,
			Severity:    severity,
			ActorUserID: string(p.UserID),
			IPAddress:   p.IPAddress,
			UserAgent:   p.UserAgent,
			Description: p.Description,
			Endpoint:    p.Endpoint,
			CreatedAt:   createdAt,
		}
		if result.Security.EventType == "" {
			result.Security.EventType = "UNSPECIFIED"
		}
	}

	return result
}

// DeadLetterDraft builds the record draft used when processing gives up on
// an envelope after repeated failures.
func DeadLetterDraft(envelope events.Envelope, createdAt time.Time, reason string) audit.Draft {
	return deadLetter(envelope, createdAt, reason).Record
}

func deadLetter(envelope events.Envelope, createdAt time.Time, reason string) Normalized {
	preview := string(envelope.Payload)
	if len(preview) > 256 {
		preview = preview[:256]
	}
	return Normalized{
		DeadLetter: true,
		Record: audit.Draft{
			Action:    ActionDeadLetter,
			Resource:  audit.ResourceSystem,
			Status:    audit.StatusFailure,
			Message:   fmt.Sprintf("dead letter on topic %s: %s: %s", envelope.Topic, reason, preview),
			Tags:      []string{TagUnknown, TagIngestionFailure},
			CreatedAt: createdAt,
		},
	}
}
