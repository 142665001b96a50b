package events

import "context"

// Consumer is the inbound side of the event transport. Implementations
// deliver messages per stream in order, at least once, and redeliver any
// message that was fetched but never acknowledged.
type Consumer interface {
	// Fetch returns the next batch of messages. Previously delivered but
	// unacknowledged messages are returned before new ones.
	Fetch(ctx context.Context) ([]Message, error)

	// Ack commits a message. Until Ack returns, the message remains
	// eligible for redelivery.
	Ack(ctx context.Context, msg Message) error

	// Close releases transport resources.
	Close() error
}

// Publisher is the outbound side, used by producing services and tests.
type Publisher interface {
	Publish(ctx context.Context, envelope Envelope) (string, error)
}
