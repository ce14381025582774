package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/delivery/metrics"
	"github.com/vietddude/requeue/internal/infra/queue"
)

// Extender pushes a failed message's next delivery out by the policy delay.
type Extender struct {
	updater queue.VisibilityUpdater
	policy  DelayPolicy
}

// NewExtender creates a visibility extender.
func NewExtender(updater queue.VisibilityUpdater, policy DelayPolicy) *Extender {
	return &Extender{updater: updater, policy: policy}
}

// Extend returns false only when the retry budget for d is exhausted, in
// which case the transport is not called. A transport error is logged and
// still reported as true: a failed extension only means an earlier
// redelivery.
func (e *Extender) Extend(ctx context.Context, d domain.Descriptor) (time.Duration, bool) {
	delay, ok := e.policy.Delay(d.DeliveryCount)
	if !ok {
		return 0, false
	}

	if err := e.updater.UpdateVisibility(ctx, d.QueueName, d.ID, d.ReceiptToken, delay); err != nil {
		metrics.VisibilityErrors.WithLabelValues(d.QueueName).Inc()
		slog.Warn("Failed to extend visibility",
			"queue", d.QueueName,
			"id", d.ID,
			"delivery_count", d.DeliveryCount,
			"delay", delay,
			"error", err,
		)
	}
	return delay, true
}
