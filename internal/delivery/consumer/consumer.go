// Package consumer polls a queue and feeds each delivery through a
// processor, handing failures to the recovery handler.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/delivery/metrics"
	"github.com/vietddude/requeue/internal/delivery/recovery"
	"github.com/vietddude/requeue/internal/infra/queue"
	"github.com/vietddude/requeue/internal/infra/storage"
)

// settleTimeout bounds failure handling and deletes, which run detached from
// the worker context so a shutdown does not abandon a half-handled failure.
const settleTimeout = 10 * time.Second

// Processor handles a single delivery.
type Processor interface {
	Process(ctx context.Context, d *domain.Delivery) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, d *domain.Delivery) error

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, d *domain.Delivery) error { return f(ctx, d) }

// Config holds per-queue worker settings.
type Config struct {
	Queue             string
	VisibilityTimeout time.Duration
	Concurrency       int
	PollInterval      time.Duration
}

// Worker consumes one queue.
type Worker struct {
	cfg       Config
	transport queue.Transport
	processor Processor
	handler   *recovery.Handler
	parked    storage.ParkedMessageRepository
	attempts  storage.AttemptRepository
	now       func() time.Time
}

// NewWorker creates a worker for cfg.Queue. parked and attempts may be nil.
func NewWorker(
	cfg Config,
	transport queue.Transport,
	processor Processor,
	handler *recovery.Handler,
	parked storage.ParkedMessageRepository,
	attempts storage.AttemptRepository,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	return &Worker{
		cfg:       cfg,
		transport: transport,
		processor: processor,
		handler:   handler,
		parked:    parked,
		attempts:  attempts,
		now:       time.Now,
	}
}

// Run polls until ctx is done, then waits for in-flight deliveries.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("Consumer started",
		"queue", w.cfg.Queue,
		"concurrency", w.cfg.Concurrency,
		"visibility_timeout", w.cfg.VisibilityTimeout,
	)

	// A slot is reserved before Receive so no message sits leased while
	// waiting for a free worker.
	slots := semaphore.NewWeighted(int64(w.cfg.Concurrency))
	g := new(errgroup.Group)

	for ctx.Err() == nil {
		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}

		d, err := w.transport.Receive(ctx, w.cfg.Queue, w.cfg.VisibilityTimeout)
		if err != nil {
			slots.Release(1)
			if !errors.Is(err, queue.ErrEmpty) && ctx.Err() == nil {
				slog.Error("Failed to receive message", "queue", w.cfg.Queue, "error", err)
			}
			w.idle(ctx)
			continue
		}

		g.Go(func() error {
			defer slots.Release(1)
			w.Handle(ctx, d)
			return nil
		})
	}

	err := g.Wait()
	slog.Info("Consumer stopped", "queue", w.cfg.Queue)
	return err
}

func (w *Worker) idle(ctx context.Context) {
	t := time.NewTimer(w.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Handle processes one delivery and settles it. It returns the outcome of
// failure handling, or nil when processing succeeded.
func (w *Worker) Handle(ctx context.Context, d *domain.Delivery) error {
	procCtx, cancel := context.WithTimeout(ctx, w.cfg.VisibilityTimeout)
	start := w.now()
	err := w.processor.Process(procCtx, d)
	cancel()
	metrics.ProcessingLatency.WithLabelValues(w.cfg.Queue).Observe(w.now().Sub(start).Seconds())

	settleCtx, cancelSettle := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancelSettle()

	if err == nil {
		metrics.MessagesProcessed.WithLabelValues(w.cfg.Queue).Inc()
		w.delete(settleCtx, d)
		return nil
	}

	res := w.handler.Resolve(settleCtx, d.Descriptor, err, recovery.Callbacks{
		OnTransient: w.recordAttempt(d),
		OnPermanent: w.park(d, domain.FailureTypePermanent),
	})
	if res.Outcome == recovery.OutcomeRetryRequested {
		slog.Debug("Leaving message for redelivery",
			"queue", d.QueueName,
			"id", d.ID,
			"delivery_count", d.DeliveryCount,
		)
		return &recovery.RetryError{Resolution: res}
	}

	// Stopped on the transient path means the retry budget ran out.
	if res.Kind == recovery.KindTransient {
		if perr := w.park(d, domain.FailureTypeTransient)(settleCtx, res.Cause); perr != nil {
			slog.Error("Failed to park exhausted message, leaving for redelivery",
				"queue", d.QueueName,
				"id", d.ID,
				"error", perr,
			)
			return perr
		}
	}

	w.delete(settleCtx, d)
	return nil
}

func (w *Worker) delete(ctx context.Context, d *domain.Delivery) {
	err := w.transport.Delete(ctx, d.QueueName, d.ID, d.ReceiptToken)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrReceiptMismatch), errors.Is(err, queue.ErrNotFound):
		slog.Warn("Lease lost before delete, message may be redelivered",
			"queue", d.QueueName,
			"id", d.ID,
			"error", err,
		)
	default:
		slog.Error("Failed to delete message", "queue", d.QueueName, "id", d.ID, "error", err)
	}
}

func (w *Worker) recordAttempt(d *domain.Delivery) recovery.Callback {
	return func(ctx context.Context, cause error) error {
		if w.attempts == nil {
			return nil
		}
		return w.attempts.Add(ctx, &domain.Attempt{
			QueueName:     d.QueueName,
			MessageID:     d.ID,
			DeliveryCount: d.DeliveryCount,
			Error:         cause.Error(),
			AttemptedAt:   w.now(),
		})
	}
}

func (w *Worker) park(d *domain.Delivery, failureType domain.FailureType) recovery.Callback {
	return func(ctx context.Context, cause error) error {
		if w.parked == nil {
			return nil
		}
		return w.parked.Add(ctx, &domain.ParkedMessage{
			ID:            uuid.NewString(),
			QueueName:     d.QueueName,
			MessageID:     d.ID,
			DeliveryCount: d.DeliveryCount,
			FailureType:   failureType,
			Error:         cause.Error(),
			Body:          d.Body,
			Status:        domain.ParkedStatusPending,
			ParkedAt:      w.now(),
		})
	}
}
