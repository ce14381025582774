// Package queue defines the at-least-once queue transport used by the
// delivery engine.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/requeue/internal/core/domain"
)

var (
	// ErrEmpty is returned by Receive when no message is visible.
	ErrEmpty = errors.New("queue is empty")
	// ErrNotFound is returned when a message id is unknown to the queue.
	ErrNotFound = errors.New("message not found")
	// ErrReceiptMismatch is returned when the receipt token is stale.
	ErrReceiptMismatch = errors.New("receipt token does not match")
)

// Metadata describes a queue at the time it was sampled.
type Metadata struct {
	ApproximateMessageCount int64
}

// SendOptions tunes a single Send call.
type SendOptions struct {
	Delay time.Duration // initial invisibility
	TTL   time.Duration // 0 = no expiry
}

// Sender enqueues messages.
type Sender interface {
	Send(ctx context.Context, queue string, body []byte, opts SendOptions) (string, error)
}

// Receiver pops the next visible message and hides it for visibility.
type Receiver interface {
	Receive(ctx context.Context, queue string, visibility time.Duration) (*domain.Delivery, error)
}

// Deleter removes a message permanently.
type Deleter interface {
	Delete(ctx context.Context, queue, id, receipt string) error
}

// VisibilityUpdater pushes a message's next-visible time to now+delay.
type VisibilityUpdater interface {
	UpdateVisibility(ctx context.Context, queue, id, receipt string, delay time.Duration) error
}

// MetadataReader samples queue metadata.
type MetadataReader interface {
	GetQueueMetadata(ctx context.Context, queue string) (Metadata, error)
}

// Transport is the full queue surface used by the consumer.
type Transport interface {
	Sender
	Receiver
	Deleter
	VisibilityUpdater
	MetadataReader

	// Ping checks that the transport is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Options configures native queue behaviour shared by all transports.
type Options struct {
	// MaxDeliveries moves a message to its poison queue once its delivery
	// count would exceed this value. 0 disables the poison policy.
	MaxDeliveries map[string]int
}

// MaxDeliveriesFor returns the poison threshold for queue.
func (o Options) MaxDeliveriesFor(queue string) int {
	if o.MaxDeliveries == nil {
		return 0
	}
	return o.MaxDeliveries[queue]
}
