package domain

import "time"

// ParkedMessage is a message set aside after a permanent failure.
type ParkedMessage struct {
	ID            string       `json:"id" db:"id"`
	QueueName     string       `json:"queue" db:"queue_name"`
	MessageID     string       `json:"message_id" db:"message_id"`
	DeliveryCount int          `json:"delivery_count" db:"delivery_count"`
	FailureType   FailureType  `json:"failure_type" db:"failure_type"`
	Error         string       `json:"error_msg" db:"error"`
	Body          []byte       `json:"body" db:"body"`
	Status        ParkedStatus `json:"status" db:"status"`
	ParkedAt      time.Time    `json:"parked_at" db:"parked_at"`
}

// Attempt records a transient failure that was handed back to the queue.
type Attempt struct {
	QueueName     string    `json:"queue" db:"queue_name"`
	MessageID     string    `json:"message_id" db:"message_id"`
	DeliveryCount int       `json:"delivery_count" db:"delivery_count"`
	Error         string    `json:"error_msg" db:"error"`
	AttemptedAt   time.Time `json:"attempted_at" db:"attempted_at"`
}

type ParkedStatus string

const (
	ParkedStatusPending  ParkedStatus = "pending"
	ParkedStatusResolved ParkedStatus = "resolved"
)

type FailureType string

const (
	FailureTypeTransient FailureType = "transient"
	FailureTypePermanent FailureType = "permanent"
)
