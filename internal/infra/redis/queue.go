package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/infra/queue"
)

// receiveScript pops the oldest visible message, dropping expired ones and
// moving over-delivered ones to the poison queue.
var receiveScript = redis.NewScript(`
local visible = KEYS[1]
local poison = KEYS[2]
local now = tonumber(ARGV[1])
local visibility = tonumber(ARGV[2])
local receipt = ARGV[3]
local maxDeliveries = tonumber(ARGV[4])
local msgPrefix = ARGV[5]
local poisonPrefix = ARGV[6]

while true do
	local ids = redis.call('ZRANGEBYSCORE', visible, '-inf', now, 'LIMIT', 0, 1)
	if #ids == 0 then
		return false
	end
	local id = ids[1]
	local key = msgPrefix .. id
	local fields = redis.call('HMGET', key, 'body', 'count', 'inserted_at', 'expires_at')
	if not fields[1] then
		redis.call('ZREM', visible, id)
	else
		local count = tonumber(fields[2]) or 0
		local expires = tonumber(fields[4]) or 0
		if expires > 0 and expires <= now then
			redis.call('ZREM', visible, id)
			redis.call('DEL', key)
		elseif maxDeliveries > 0 and count >= maxDeliveries then
			redis.call('ZREM', visible, id)
			redis.call('RENAME', key, poisonPrefix .. id)
			redis.call('HSET', poisonPrefix .. id, 'receipt', '', 'next_visible_at', now)
			redis.call('ZADD', poison, now, id)
		else
			count = count + 1
			local nextVisible = now + visibility
			redis.call('HSET', key, 'count', count, 'receipt', receipt, 'next_visible_at', nextVisible)
			redis.call('ZADD', visible, nextVisible, id)
			return {id, fields[1], count, fields[3], fields[4], nextVisible}
		end
	end
end
`)

// updateScript moves next-visible forward when the receipt still matches.
var updateScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[2], 'receipt')
if not current then
	return -1
end
if current ~= ARGV[1] then
	return -2
end
redis.call('HSET', KEYS[2], 'next_visible_at', ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
return 1
`)

// deleteScript removes a message when the receipt still matches.
var deleteScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[2], 'receipt')
if not current then
	return -1
end
if current ~= ARGV[1] then
	return -2
end
redis.call('DEL', KEYS[2])
redis.call('ZREM', KEYS[1], ARGV[2])
return 1
`)

// Queue implements queue.Transport on Redis. Each queue is a sorted set of
// ids scored by next-visible unix milliseconds plus one hash per message.
type Queue struct {
	client *Client
	opts   queue.Options
	now    func() time.Time
}

// NewQueue creates a Redis-backed transport.
func NewQueue(client *Client, opts queue.Options) *Queue {
	return &Queue{client: client, opts: opts, now: time.Now}
}

// Send enqueues body on name.
func (q *Queue) Send(
	ctx context.Context,
	name string,
	body []byte,
	opts queue.SendOptions,
) (string, error) {
	id := uuid.NewString()
	now := q.now()
	nextVisible := now.Add(opts.Delay).UnixMilli()
	var expiresAt int64
	if opts.TTL > 0 {
		expiresAt = now.Add(opts.TTL).UnixMilli()
	}

	key := q.client.messageKey(name, id)
	_, err := q.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"body", body,
			"count", 0,
			"receipt", "",
			"inserted_at", now.UnixMilli(),
			"expires_at", expiresAt,
			"next_visible_at", nextVisible,
		)
		pipe.ZAdd(ctx, q.client.visibleKey(name), redis.Z{
			Score:  float64(nextVisible),
			Member: id,
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return id, nil
}

// Receive pops the next visible message on name.
func (q *Queue) Receive(
	ctx context.Context,
	name string,
	visibility time.Duration,
) (*domain.Delivery, error) {
	poison := domain.PoisonQueueName(name)
	receipt := uuid.NewString()
	res, err := receiveScript.Run(ctx, q.client.rdb,
		[]string{q.client.visibleKey(name), q.client.visibleKey(poison)},
		q.now().UnixMilli(),
		visibility.Milliseconds(),
		receipt,
		q.opts.MaxDeliveriesFor(name),
		q.client.messagePrefix(name),
		q.client.messagePrefix(poison),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("receive failed: %w", err)
	}
	if len(res) != 6 {
		return nil, fmt.Errorf("unexpected receive reply length %d", len(res))
	}

	id, _ := res[0].(string)
	body, _ := res[1].(string)
	count, _ := res[2].(int64)
	nextVisible, _ := res[5].(int64)

	return &domain.Delivery{
		Descriptor: domain.Descriptor{
			ID:            id,
			ReceiptToken:  receipt,
			DeliveryCount: int(count),
			QueueName:     name,
			InsertedAt:    millis(res[3]),
			ExpiresAt:     millis(res[4]),
			NextVisibleAt: time.UnixMilli(nextVisible),
		},
		Body: []byte(body),
	}, nil
}

// Delete removes a received message.
func (q *Queue) Delete(ctx context.Context, name, id, receipt string) error {
	code, err := deleteScript.Run(ctx, q.client.rdb,
		[]string{q.client.visibleKey(name), q.client.messageKey(name, id)},
		receipt, id,
	).Int()
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return scriptError(code)
}

// UpdateVisibility hides a received message until now+delay.
func (q *Queue) UpdateVisibility(
	ctx context.Context,
	name, id, receipt string,
	delay time.Duration,
) error {
	nextVisible := q.now().Add(delay).UnixMilli()
	code, err := updateScript.Run(ctx, q.client.rdb,
		[]string{q.client.visibleKey(name), q.client.messageKey(name, id)},
		receipt, nextVisible, id,
	).Int()
	if err != nil {
		return fmt.Errorf("update visibility failed: %w", err)
	}
	return scriptError(code)
}

// GetQueueMetadata returns the number of messages held for name.
func (q *Queue) GetQueueMetadata(ctx context.Context, name string) (queue.Metadata, error) {
	count, err := q.client.rdb.ZCard(ctx, q.client.visibleKey(name)).Result()
	if err != nil {
		return queue.Metadata{}, fmt.Errorf("zcard failed: %w", err)
	}
	return queue.Metadata{ApproximateMessageCount: count}, nil
}

// Ping checks the connection.
func (q *Queue) Ping(ctx context.Context) error { return q.client.Ping(ctx) }

// Close closes the underlying client.
func (q *Queue) Close() error { return q.client.Close() }

func scriptError(code int) error {
	switch code {
	case -1:
		return queue.ErrNotFound
	case -2:
		return queue.ErrReceiptMismatch
	default:
		return nil
	}
}

func millis(v any) time.Time {
	s, _ := v.(string)
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
