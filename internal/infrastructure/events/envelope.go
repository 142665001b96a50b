package events

import (
	"encoding/json"
	"strconv"
	"time"
)

// Envelope is the unit delivered by the event transport: a logical topic, an
// opaque JSON payload, and an optional producer-declared event timestamp
// expressed as epoch milliseconds in string form.
type Envelope struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// EventTime decodes the producer-declared timestamp. The second return is
// false when the envelope carries no usable timestamp, in which case callers
// fall back to ingestion time.
func (e Envelope) EventTime() (time.Time, bool) {
	if e.Timestamp == "" {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(e.Timestamp, 10, 64)
	if err != nil {
		// Producers occasionally send RFC 3339 instead of epoch millis.
		if ts, terr := time.Parse(time.RFC3339, e.Timestamp); terr == nil {
			return ts.UTC(), true
		}
		return time.Time{}, false
	}
	return time.UnixMilli(millis).UTC(), true
}

// Message is an envelope as received from the transport, carrying delivery
// metadata needed for acknowledgment.
type Message struct {
	Stream     string
	ID         string
	Envelope   Envelope
	ReceivedAt time.Time
}
