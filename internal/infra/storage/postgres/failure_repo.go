package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/infra/storage"
)

// ParkedRepo implements storage.ParkedMessageRepository using PostgreSQL.
type ParkedRepo struct {
	db *DB
}

// NewParkedRepo creates a new PostgreSQL parked message repository.
func NewParkedRepo(db *DB) *ParkedRepo {
	return &ParkedRepo{db: db}
}

// Add parks a message.
func (r *ParkedRepo) Add(ctx context.Context, msg *domain.ParkedMessage) error {
	query := `
		INSERT INTO parked_messages
			(id, queue_name, message_id, delivery_count, failure_type, error, body, status, parked_at)
		VALUES
			(:id, :queue_name, :message_id, :delivery_count, :failure_type, :error, :body, :status, :parked_at)
		ON CONFLICT (id) DO NOTHING
	`
	if msg.Status == "" {
		msg.Status = domain.ParkedStatusPending
	}
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("failed to park message: %w", err)
	}
	return nil
}

// GetAll retrieves pending parked messages, newest first.
func (r *ParkedRepo) GetAll(
	ctx context.Context,
	queue string,
	limit int,
) ([]*domain.ParkedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, queue_name, message_id, delivery_count, failure_type, error, body, status, parked_at
		FROM parked_messages
		WHERE queue_name = $1 AND status = 'pending'
		ORDER BY parked_at DESC
		LIMIT $2
	`
	var res []*domain.ParkedMessage
	if err := r.db.SelectContext(ctx, &res, query, queue, limit); err != nil {
		return nil, fmt.Errorf("failed to list parked messages: %w", err)
	}
	return res, nil
}

// MarkResolved marks a parked message as handled.
func (r *ParkedRepo) MarkResolved(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE parked_messages SET status = 'resolved' WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to resolve parked message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrParkedNotFound
	}
	return nil
}

// Count returns the number of pending parked messages for a queue.
func (r *ParkedRepo) Count(ctx context.Context, queue string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT count(*) FROM parked_messages WHERE queue_name = $1 AND status = 'pending'", queue)
	return count, err
}

// AttemptRepo implements storage.AttemptRepository using PostgreSQL.
type AttemptRepo struct {
	db *DB
}

// NewAttemptRepo creates a new PostgreSQL attempt repository.
func NewAttemptRepo(db *DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

// Add records a transient failure.
func (r *AttemptRepo) Add(ctx context.Context, attempt *domain.Attempt) error {
	query := `
		INSERT INTO message_attempts (queue_name, message_id, delivery_count, error, attempted_at)
		VALUES (:queue_name, :message_id, :delivery_count, :error, :attempted_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// CountByMessage returns the number of attempts recorded for a message.
func (r *AttemptRepo) CountByMessage(ctx context.Context, queue, messageID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT count(*) FROM message_attempts WHERE queue_name = $1 AND message_id = $2",
		queue, messageID)
	return count, err
}
