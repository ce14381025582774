package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/infra/queue"
)

type message struct {
	id            string
	body          []byte
	receipt       string
	deliveryCount int
	insertedAt    time.Time
	expiresAt     time.Time
	nextVisibleAt time.Time
	seq           uint64
}

func (m *message) descriptor(queue string) domain.Descriptor {
	return domain.Descriptor{
		ID:            m.id,
		ReceiptToken:  m.receipt,
		DeliveryCount: m.deliveryCount,
		QueueName:     queue,
		InsertedAt:    m.insertedAt,
		ExpiresAt:     m.expiresAt,
		NextVisibleAt: m.nextVisibleAt,
	}
}

// Queue is an in-process transport with the same visibility semantics as
// the Redis transport.
type Queue struct {
	opts   queue.Options
	now    func() time.Time
	queues map[string]map[string]*message
	seq    uint64
	mu     sync.Mutex
}

// Option tunes a memory Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates an empty memory transport.
func NewQueue(opts queue.Options, options ...Option) *Queue {
	q := &Queue{
		opts:   opts,
		now:    time.Now,
		queues: make(map[string]map[string]*message),
	}
	for _, o := range options {
		o(q)
	}
	return q
}

func (q *Queue) bucket(name string) map[string]*message {
	b, ok := q.queues[name]
	if !ok {
		b = make(map[string]*message)
		q.queues[name] = b
	}
	return b
}

// Send enqueues body on name.
func (q *Queue) Send(
	ctx context.Context,
	name string,
	body []byte,
	opts queue.SendOptions,
) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.seq++
	m := &message{
		id:            uuid.NewString(),
		body:          append([]byte(nil), body...),
		insertedAt:    now,
		nextVisibleAt: now.Add(opts.Delay),
		seq:           q.seq,
	}
	if opts.TTL > 0 {
		m.expiresAt = now.Add(opts.TTL)
	}
	q.bucket(name)[m.id] = m
	return m.id, nil
}

// Receive returns the visible message with the earliest next-visible time.
func (q *Queue) Receive(
	ctx context.Context,
	name string,
	visibility time.Duration,
) (*domain.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	b := q.bucket(name)
	maxDeliveries := q.opts.MaxDeliveriesFor(name)

	for {
		var next *message
		for _, m := range b {
			if m.descriptor(name).Expired(now) {
				delete(b, m.id)
				continue
			}
			if m.nextVisibleAt.After(now) {
				continue
			}
			if next == nil || m.nextVisibleAt.Before(next.nextVisibleAt) ||
				(m.nextVisibleAt.Equal(next.nextVisibleAt) && m.seq < next.seq) {
				next = m
			}
		}
		if next == nil {
			return nil, queue.ErrEmpty
		}

		if maxDeliveries > 0 && next.deliveryCount >= maxDeliveries {
			delete(b, next.id)
			next.receipt = ""
			next.nextVisibleAt = now
			q.bucket(domain.PoisonQueueName(name))[next.id] = next
			continue
		}

		next.deliveryCount++
		next.receipt = uuid.NewString()
		next.nextVisibleAt = now.Add(visibility)

		return &domain.Delivery{
			Descriptor: next.descriptor(name),
			Body:       append([]byte(nil), next.body...),
		}, nil
	}
}

func (q *Queue) lookup(name, id, receipt string) (*message, error) {
	m, ok := q.bucket(name)[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	if m.receipt != receipt {
		return nil, queue.ErrReceiptMismatch
	}
	return m, nil
}

// Delete removes a received message.
func (q *Queue) Delete(ctx context.Context, name, id, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.lookup(name, id, receipt); err != nil {
		return err
	}
	delete(q.bucket(name), id)
	return nil
}

// UpdateVisibility hides a received message until now+delay.
func (q *Queue) UpdateVisibility(
	ctx context.Context,
	name, id, receipt string,
	delay time.Duration,
) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.lookup(name, id, receipt)
	if err != nil {
		return err
	}
	m.nextVisibleAt = q.now().Add(delay)
	return nil
}

// GetQueueMetadata counts all messages held for name, visible or not.
func (q *Queue) GetQueueMetadata(ctx context.Context, name string) (queue.Metadata, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Metadata{ApproximateMessageCount: int64(len(q.bucket(name)))}, nil
}

// Ping always succeeds.
func (q *Queue) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (q *Queue) Close() error { return nil }
