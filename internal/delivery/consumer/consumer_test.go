package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/delivery/recovery"
	"github.com/vietddude/requeue/internal/infra/queue"
	queuemem "github.com/vietddude/requeue/internal/infra/queue/memory"
	"github.com/vietddude/requeue/internal/infra/storage"
	"github.com/vietddude/requeue/internal/infra/storage/memory"
)

const testQueue = "jobs"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingParked struct {
	*memory.ParkedRepo
}

func (failingParked) Add(ctx context.Context, msg *domain.ParkedMessage) error {
	return errors.New("parking table unavailable")
}

type fixture struct {
	clock    *clock
	queue    *queuemem.Queue
	parked   *memory.ParkedRepo
	attempts *memory.AttemptRepo
}

func newFixture() *fixture {
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := memory.NewMemoryStorage()
	return &fixture{
		clock:    c,
		queue:    queuemem.NewQueue(queue.Options{}, queuemem.WithClock(c.Now)),
		parked:   memory.NewParkedRepo(store),
		attempts: memory.NewAttemptRepo(store),
	}
}

func (f *fixture) worker(
	p Processor,
	policy recovery.DelayPolicy,
	parked storage.ParkedMessageRepository,
) *Worker {
	h := recovery.NewHandler(
		recovery.MarkerClassifier{Default: recovery.KindTransient},
		recovery.NewExtender(f.queue, policy),
	)
	return NewWorker(
		Config{Queue: testQueue, VisibilityTimeout: 30 * time.Second},
		f.queue, p, h, parked, f.attempts,
	)
}

func (f *fixture) send(t *testing.T) string {
	t.Helper()
	id, err := f.queue.Send(context.Background(), testQueue, []byte(`{"n":1}`), queue.SendOptions{})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	return id
}

func (f *fixture) receive(t *testing.T) *domain.Delivery {
	t.Helper()
	d, err := f.queue.Receive(context.Background(), testQueue, 30*time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	return d
}

func (f *fixture) depth(t *testing.T) int64 {
	t.Helper()
	md, err := f.queue.GetQueueMetadata(context.Background(), testQueue)
	if err != nil {
		t.Fatalf("GetQueueMetadata failed: %v", err)
	}
	return md.ApproximateMessageCount
}

func returning(err error) Processor {
	return ProcessorFunc(func(ctx context.Context, d *domain.Delivery) error { return err })
}

func TestWorker_SuccessDeletes(t *testing.T) {
	f := newFixture()
	f.send(t)
	w := f.worker(returning(nil), recovery.DefaultBackoff(), f.parked)

	if err := w.Handle(context.Background(), f.receive(t)); err != nil {
		t.Fatalf("Handle returned %v", err)
	}
	if got := f.depth(t); got != 0 {
		t.Errorf("Expected queue to be empty, got %d", got)
	}
}

func TestWorker_TransientLeavesMessage(t *testing.T) {
	f := newFixture()
	id := f.send(t)
	w := f.worker(returning(errors.New("upstream flaked")), recovery.DefaultBackoff(), f.parked)

	err := w.Handle(context.Background(), f.receive(t))
	if !errors.Is(err, recovery.ErrRetryRequested) {
		t.Fatalf("Expected ErrRetryRequested, got %v", err)
	}
	if got := f.depth(t); got != 1 {
		t.Fatalf("Expected message to stay in queue, got depth %d", got)
	}

	n, _ := f.attempts.CountByMessage(context.Background(), testQueue, id)
	if n != 1 {
		t.Errorf("Expected 1 recorded attempt, got %d", n)
	}

	// Delay for delivery 1 is 1s; hidden until then.
	if _, err := f.queue.Receive(context.Background(), testQueue, time.Second); !errors.Is(err, queue.ErrEmpty) {
		t.Errorf("Expected message hidden, got %v", err)
	}
	f.clock.Advance(time.Second)
	d := f.receive(t)
	if d.ID != id || d.DeliveryCount != 2 {
		t.Errorf("Expected redelivery of %s with count 2, got %s/%d", id, d.ID, d.DeliveryCount)
	}
}

func TestWorker_PermanentParksAndDeletes(t *testing.T) {
	f := newFixture()
	id := f.send(t)
	w := f.worker(returning(recovery.Permanent(errors.New("bad payload"))), recovery.DefaultBackoff(), f.parked)

	if err := w.Handle(context.Background(), f.receive(t)); err != nil {
		t.Fatalf("Handle returned %v", err)
	}
	if got := f.depth(t); got != 0 {
		t.Errorf("Expected message deleted, got depth %d", got)
	}

	parked, _ := f.parked.GetAll(context.Background(), testQueue, 10)
	if len(parked) != 1 {
		t.Fatalf("Expected 1 parked message, got %d", len(parked))
	}
	if parked[0].MessageID != id || parked[0].FailureType != domain.FailureTypePermanent {
		t.Errorf("Unexpected parked message: %+v", parked[0])
	}
	if string(parked[0].Body) != `{"n":1}` {
		t.Errorf("Expected body preserved, got %s", parked[0].Body)
	}
}

func TestWorker_ParkFailureEscalatesToRetry(t *testing.T) {
	f := newFixture()
	id := f.send(t)
	w := f.worker(
		returning(recovery.Permanent(errors.New("bad payload"))),
		recovery.DefaultBackoff(),
		failingParked{f.parked},
	)

	err := w.Handle(context.Background(), f.receive(t))
	if !errors.Is(err, recovery.ErrRetryRequested) {
		t.Fatalf("Expected ErrRetryRequested after failed park, got %v", err)
	}
	if got := f.depth(t); got != 1 {
		t.Errorf("Expected message kept for redelivery, got depth %d", got)
	}
	n, _ := f.attempts.CountByMessage(context.Background(), testQueue, id)
	if n != 1 {
		t.Errorf("Expected escalated failure recorded as attempt, got %d", n)
	}
}

func TestWorker_ExhaustedDeletes(t *testing.T) {
	f := newFixture()
	f.send(t)

	// 1s..2s gives a single retry.
	policy, err := recovery.NewBackoff(time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("NewBackoff failed: %v", err)
	}
	w := f.worker(returning(errors.New("still failing")), policy, f.parked)

	if err := w.Handle(context.Background(), f.receive(t)); !errors.Is(err, recovery.ErrRetryRequested) {
		t.Fatalf("Expected retry on first delivery, got %v", err)
	}

	f.clock.Advance(time.Minute)
	d := f.receive(t)
	if d.DeliveryCount != 2 {
		t.Fatalf("Expected delivery count 2, got %d", d.DeliveryCount)
	}
	if err := w.Handle(context.Background(), d); err != nil {
		t.Fatalf("Expected stopped after exhaustion, got %v", err)
	}
	if got := f.depth(t); got != 0 {
		t.Errorf("Expected message deleted after exhaustion, got depth %d", got)
	}

	parked, _ := f.parked.GetAll(context.Background(), testQueue, 10)
	if len(parked) != 1 {
		t.Fatalf("Expected exhausted message to be parked, got %d", len(parked))
	}
	if parked[0].FailureType != domain.FailureTypeTransient || parked[0].DeliveryCount != 2 {
		t.Errorf("Unexpected parked message: %+v", parked[0])
	}
}

func TestWorker_ExhaustedParkFailureKeepsMessage(t *testing.T) {
	f := newFixture()
	f.send(t)

	policy, err := recovery.NewBackoff(time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("NewBackoff failed: %v", err)
	}
	w := f.worker(returning(errors.New("still failing")), policy, failingParked{f.parked})

	_ = w.Handle(context.Background(), f.receive(t))
	f.clock.Advance(time.Minute)

	if err := w.Handle(context.Background(), f.receive(t)); err == nil {
		t.Fatal("Expected park error to be returned")
	}
	if got := f.depth(t); got != 1 {
		t.Errorf("Expected message kept when parking fails, got depth %d", got)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	q := queuemem.NewQueue(queue.Options{})
	if _, err := q.Send(context.Background(), testQueue, []byte(`{}`), queue.SendOptions{}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	processed := make(chan string, 1)
	p := ProcessorFunc(func(ctx context.Context, d *domain.Delivery) error {
		processed <- d.ID
		return nil
	})
	h := recovery.NewHandler(recovery.MarkerClassifier{}, recovery.NewExtender(q, recovery.DefaultBackoff()))
	w := NewWorker(Config{Queue: testQueue, PollInterval: 10 * time.Millisecond}, q, p, h, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	md, _ := q.GetQueueMetadata(context.Background(), testQueue)
	if md.ApproximateMessageCount != 0 {
		t.Errorf("Expected message deleted, got %d", md.ApproximateMessageCount)
	}
}

func TestWorker_RunLeasesOnlyWhenSlotFree(t *testing.T) {
	q := queuemem.NewQueue(queue.Options{})
	ctx0 := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := q.Send(ctx0, testQueue, []byte(`{}`), queue.SendOptions{}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	started := make(chan string, 2)
	release := make(chan struct{})
	p := ProcessorFunc(func(ctx context.Context, d *domain.Delivery) error {
		started <- d.ID
		<-release
		return nil
	})
	h := recovery.NewHandler(recovery.MarkerClassifier{}, recovery.NewExtender(q, recovery.DefaultBackoff()))
	w := NewWorker(Config{Queue: testQueue, Concurrency: 1, PollInterval: 5 * time.Millisecond}, q, p, h, nil, nil)

	ctx, cancel := context.WithCancel(ctx0)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var first string
	select {
	case first = <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for first message")
	}

	// Give the loop time to poll again while the only slot is busy.
	time.Sleep(50 * time.Millisecond)

	// The second message must still be visible, not leased by the worker.
	d, err := q.Receive(ctx0, testQueue, time.Minute)
	if err != nil {
		t.Fatalf("Expected second message to be unleased, got %v", err)
	}
	if d.ID == first || d.DeliveryCount != 1 {
		t.Errorf("Expected fresh second message, got %s/%d", d.ID, d.DeliveryCount)
	}

	close(release)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
