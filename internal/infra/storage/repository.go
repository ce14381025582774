package storage

import (
	"context"
	"errors"

	"github.com/vietddude/requeue/internal/core/domain"
)

// ErrParkedNotFound is returned when a parked message doesn't exist
var ErrParkedNotFound = errors.New("parked message not found")

// ParkedMessageRepository stores messages set aside after permanent failures
type ParkedMessageRepository interface {
	// Add parks a message
	Add(ctx context.Context, msg *domain.ParkedMessage) error

	// GetAll retrieves pending parked messages for a queue, newest first
	GetAll(ctx context.Context, queue string, limit int) ([]*domain.ParkedMessage, error)

	// MarkResolved marks a parked message as handled by an operator
	MarkResolved(ctx context.Context, id string) error

	// Count returns the count of pending parked messages
	Count(ctx context.Context, queue string) (int, error)
}

// AttemptRepository records transient failures handed back to the queue
type AttemptRepository interface {
	// Add records an attempt
	Add(ctx context.Context, attempt *domain.Attempt) error

	// CountByMessage returns how many attempts were recorded for a message
	CountByMessage(ctx context.Context, queue, messageID string) (int, error)
}
