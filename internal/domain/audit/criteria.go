package audit

import (
	"strings"
	"time"

	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
)

// SearchCriteria describes a forensic search over the audit trail. All fields
// are optional; absent or empty fields impose no filter. List fields are
// OR-of-equality within the field and ANDed across fields. Keywords match a
// record when any keyword is a case-insensitive substring of the message or an
// exact member of the tag set.
type SearchCriteria struct {
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
	ActorUserIDs []string   `json:"actor_user_ids,omitempty"`
	Actions      []string   `json:"actions,omitempty"`
	Resources    []string   `json:"resources,omitempty"`
	Statuses     []Status   `json:"statuses,omitempty"`
	Keywords     []string   `json:"keywords,omitempty"`

	// Limit bounds the result set and is always enforced.
	Limit int `json:"limit" validate:"required,gt=0,lte=10000"`
}

// Validate checks criteria invariants beyond struct tags.
func (c SearchCriteria) Validate() error {
	if c.Limit <= 0 {
		return errors.NewValidationError("INVALID_LIMIT", "limit must be positive")
	}
	if c.Limit > 10000 {
		return errors.NewValidationError("LIMIT_TOO_LARGE", "limit cannot exceed 10000 records")
	}
	if c.From != nil && c.To != nil && c.To.Before(*c.From) {
		return errors.NewValidationError("INVALID_RANGE", "date range end precedes start")
	}
	for _, s := range c.Statuses {
		if err := validateStatus(s); err != nil {
			return err
		}
	}
	return nil
}

// Matches evaluates the criteria against a single record. This is the
// reference semantics; store implementations must agree with it.
func (c SearchCriteria) Matches(r *Record) bool {
	if c.From != nil && r.CreatedAt.Before(*c.From) {
		return false
	}
	if c.To != nil && r.CreatedAt.After(*c.To) {
		return false
	}
	if len(c.ActorUserIDs) > 0 && !containsString(c.ActorUserIDs, r.ActorUserID) {
		return false
	}
	if len(c.Actions) > 0 && !containsString(c.Actions, r.Action) {
		return false
	}
	if len(c.Resources) > 0 && !containsString(c.Resources, r.Resource) {
		return false
	}
	if len(c.Statuses) > 0 && !containsStatus(c.Statuses, r.Status) {
		return false
	}
	if len(c.Keywords) > 0 && !c.matchesKeywords(r) {
		return false
	}
	return true
}

func (c SearchCriteria) matchesKeywords(r *Record) bool {
	message := strings.ToLower(r.Message)
	for _, kw := range c.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(message, strings.ToLower(kw)) {
			return true
		}
		if r.HasTag(kw) {
			return true
		}
	}
	return false
}

// Filter is the simpler list surface consumed by the HTTP layer: single-value
// filters plus pagination, always ordered by descending creation time.
type Filter struct {
	Action      string     `json:"action,omitempty"`
	Resource    string     `json:"resource,omitempty"`
	ActorUserID string     `json:"actor_user_id,omitempty"`
	Status      Status     `json:"status,omitempty"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	Limit       int        `json:"limit"`
	Offset      int        `json:"offset"`
}

// Matches evaluates the filter against a single record.
func (f Filter) Matches(r *Record) bool {
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.Resource != "" && r.Resource != f.Resource {
		return false
	}
	if f.ActorUserID != "" && r.ActorUserID != f.ActorUserID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsStatus(haystack []Status, needle Status) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
