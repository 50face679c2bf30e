package port

import (
	"context"
	"time"
)

// Message is a claimed queue envelope: the raw body plus the opaque receipt
// handle used to extend the claim or acknowledge it.
type Message struct {
	Body          []byte
	ReceiptHandle string
}

// Queue is the consumer-side protocol against the durable queue. Delivery is
// at-least-once with a single visible consumer per message inside the lease
// window.
type Queue interface {
	// Claim fetches at most one message, long-polling up to the configured
	// wait time. Returns (nil, nil) when the queue is empty.
	Claim(ctx context.Context) (*Message, error)
	// ExtendLease resets the message's visibility window.
	ExtendLease(ctx context.Context, receiptHandle string, d time.Duration) error
	// Delete acknowledges the message, removing it from the queue.
	Delete(ctx context.Context, receiptHandle string) error
	// PublishDeadLetter forwards a message body verbatim to the dead-letter
	// queue.
	PublishDeadLetter(ctx context.Context, body []byte) error
}

// Publisher enqueues new job requests (submission side).
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}
