package redis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/infra/queue"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestQueue(t *testing.T, opts queue.Options) (*Queue, *testClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewQueue(newClient(rdb, "test"), opts)
	q.now = clk.Now
	return q, clk
}

func TestQueue_SendReceiveDelete(t *testing.T) {
	q, clk := newTestQueue(t, queue.Options{})
	ctx := context.Background()

	id, err := q.Send(ctx, "jobs", []byte(`{"n":1}`), queue.SendOptions{TTL: time.Hour})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	d, err := q.Receive(ctx, "jobs", 30*time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if d.ID != id || string(d.Body) != `{"n":1}` || d.DeliveryCount != 1 {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if !d.InsertedAt.Equal(clk.now) {
		t.Errorf("expected inserted_at %v, got %v", clk.now, d.InsertedAt)
	}
	if !d.ExpiresAt.Equal(clk.now.Add(time.Hour)) {
		t.Errorf("expected expires_at %v, got %v", clk.now.Add(time.Hour), d.ExpiresAt)
	}
	if !d.NextVisibleAt.Equal(clk.now.Add(30 * time.Second)) {
		t.Errorf("expected next_visible_at %v, got %v", clk.now.Add(30*time.Second), d.NextVisibleAt)
	}

	if _, err := q.Receive(ctx, "jobs", 30*time.Second); !errors.Is(err, queue.ErrEmpty) {
		t.Fatalf("expected ErrEmpty while in flight, got %v", err)
	}

	if err := q.Delete(ctx, "jobs", id, "stale"); !errors.Is(err, queue.ErrReceiptMismatch) {
		t.Errorf("expected ErrReceiptMismatch, got %v", err)
	}
	if err := q.Delete(ctx, "jobs", id, d.ReceiptToken); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := q.Delete(ctx, "jobs", id, d.ReceiptToken); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	meta, err := q.GetQueueMetadata(ctx, "jobs")
	if err != nil || meta.ApproximateMessageCount != 0 {
		t.Errorf("expected empty queue, got %+v (%v)", meta, err)
	}
}

func TestQueue_RedeliveryAfterVisibilityUpdate(t *testing.T) {
	q, clk := newTestQueue(t, queue.Options{})
	ctx := context.Background()

	_, _ = q.Send(ctx, "jobs", []byte("x"), queue.SendOptions{})
	first, err := q.Receive(ctx, "jobs", time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	if err := q.UpdateVisibility(ctx, "jobs", first.ID, first.ReceiptToken, 2*time.Minute); err != nil {
		t.Fatalf("UpdateVisibility failed: %v", err)
	}

	clk.now = clk.now.Add(time.Minute)
	if _, err := q.Receive(ctx, "jobs", time.Second); !errors.Is(err, queue.ErrEmpty) {
		t.Fatalf("message should still be hidden, got %v", err)
	}

	clk.now = clk.now.Add(time.Minute)
	second, err := q.Receive(ctx, "jobs", time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if second.DeliveryCount != 2 {
		t.Errorf("expected delivery count 2, got %d", second.DeliveryCount)
	}
	if second.ReceiptToken == first.ReceiptToken {
		t.Error("receipt should rotate on redelivery")
	}

	err = q.UpdateVisibility(ctx, "jobs", first.ID, first.ReceiptToken, time.Second)
	if !errors.Is(err, queue.ErrReceiptMismatch) {
		t.Errorf("expected ErrReceiptMismatch for stale receipt, got %v", err)
	}
}

func TestQueue_Poison(t *testing.T) {
	q, clk := newTestQueue(t, queue.Options{MaxDeliveries: map[string]int{"jobs": 1}})
	ctx := context.Background()

	id, _ := q.Send(ctx, "jobs", []byte("x"), queue.SendOptions{})
	if _, err := q.Receive(ctx, "jobs", time.Second); err != nil {
		t.Fatalf("first receive failed: %v", err)
	}

	clk.now = clk.now.Add(2 * time.Second)
	if _, err := q.Receive(ctx, "jobs", time.Second); !errors.Is(err, queue.ErrEmpty) {
		t.Fatalf("expected message to move to poison, got %v", err)
	}

	poison := domain.PoisonQueueName("jobs")
	d, err := q.Receive(ctx, poison, time.Second)
	if err != nil {
		t.Fatalf("poison receive failed: %v", err)
	}
	if d.ID != id || string(d.Body) != "x" {
		t.Errorf("unexpected poison delivery: %+v", d)
	}
}

func TestQueue_ExpiredDropped(t *testing.T) {
	q, clk := newTestQueue(t, queue.Options{})
	ctx := context.Background()

	_, _ = q.Send(ctx, "jobs", []byte("x"), queue.SendOptions{TTL: time.Second})
	clk.now = clk.now.Add(time.Second)

	if _, err := q.Receive(ctx, "jobs", time.Second); !errors.Is(err, queue.ErrEmpty) {
		t.Fatalf("expected expired message to be dropped, got %v", err)
	}
	meta, _ := q.GetQueueMetadata(ctx, "jobs")
	if meta.ApproximateMessageCount != 0 {
		t.Errorf("expected 0 messages, got %d", meta.ApproximateMessageCount)
	}
}

func TestQueue_OrdersByVisibility(t *testing.T) {
	q, _ := newTestQueue(t, queue.Options{})
	ctx := context.Background()

	later, _ := q.Send(ctx, "jobs", []byte("later"), queue.SendOptions{Delay: -time.Second})
	earlier, _ := q.Send(ctx, "jobs", []byte("earlier"), queue.SendOptions{Delay: -2 * time.Second})

	first, _ := q.Receive(ctx, "jobs", time.Minute)
	second, _ := q.Receive(ctx, "jobs", time.Minute)
	if first.ID != earlier || second.ID != later {
		t.Errorf("expected %s then %s, got %s then %s", earlier, later, first.ID, second.ID)
	}
}

func TestClient_KeysShareSlotWithPoisonQueue(t *testing.T) {
	c := newClient(nil, "")

	keys := []string{
		c.visibleKey("jobs"),
		c.messageKey("jobs", "m1"),
		c.visibleKey(domain.PoisonQueueName("jobs")),
		c.messageKey(domain.PoisonQueueName("jobs"), "m1"),
	}
	for _, k := range keys {
		if !strings.Contains(k, "{jobs}") {
			t.Errorf("key %q is missing the {jobs} hash tag", k)
		}
	}
	if c.visibleKey("jobs") == c.visibleKey(domain.PoisonQueueName("jobs")) {
		t.Errorf("queue and poison queue must use distinct keys")
	}
}
