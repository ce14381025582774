package domain

import "time"

// Descriptor is the transport-independent view of a received queue message.
// It is built fresh on every receive and never updated in place.
type Descriptor struct {
	ID            string
	ReceiptToken  string
	DeliveryCount int // 1 on first delivery
	QueueName     string
	InsertedAt    time.Time
	ExpiresAt     time.Time // zero = no expiry
	NextVisibleAt time.Time
}

// Delivery is a received message together with its payload.
type Delivery struct {
	Descriptor
	Body []byte
}

// Expired reports whether the message lifetime has passed at now.
func (d Descriptor) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// PoisonQueueName returns the queue that receives messages rejected by
// the transport's native delivery limit.
func PoisonQueueName(queue string) string {
	return queue + "-poison"
}
