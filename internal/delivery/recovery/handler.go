package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/delivery/metrics"
)

// ErrRetryRequested is matched by the error HandleFailure returns when the
// caller must hand the message back to the queue for redelivery.
var ErrRetryRequested = errors.New("retry requested")

// Callback runs a side effect for a classified failure.
type Callback func(ctx context.Context, err error) error

// Callbacks bundles the per-path side effects.
type Callbacks struct {
	OnTransient Callback
	OnPermanent Callback
}

// Outcome is the terminal state of a failure resolution.
type Outcome int

const (
	// OutcomeRetryRequested means the caller must re-raise so the queue redelivers.
	OutcomeRetryRequested Outcome = iota + 1
	// OutcomeStopped means the message is settled and must not be retried.
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetryRequested:
		return "retry_requested"
	case OutcomeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Resolution describes how a failure was resolved.
type Resolution struct {
	Outcome   Outcome
	Kind      Kind          // classification of the path that resolved it
	Cause     error         // error that drove the final path
	Delay     time.Duration // visibility delay applied on the transient path
	Escalated bool          // onPermanent failed and the transient path took over
}

// RetryError is returned by HandleFailure for OutcomeRetryRequested.
type RetryError struct {
	Resolution Resolution
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry requested after %v: %v", e.Resolution.Delay, e.Resolution.Cause)
}

func (e *RetryError) Unwrap() []error {
	return []error{ErrRetryRequested, e.Resolution.Cause}
}

// Handler resolves processing failures into retry or stop decisions.
type Handler struct {
	classifier Classifier
	extender   *Extender
}

// NewHandler creates a new failure handler.
func NewHandler(classifier Classifier, extender *Extender) *Handler {
	if classifier == nil {
		classifier = MarkerClassifier{Default: KindTransient}
	}
	return &Handler{
		classifier: classifier,
		extender:   extender,
	}
}

// HandleFailure resolves err for d. It returns nil when the message is
// settled and a *RetryError (errors.Is ErrRetryRequested) when the caller
// must propagate the failure so the queue redelivers.
func (h *Handler) HandleFailure(
	ctx context.Context,
	d domain.Descriptor,
	err error,
	onTransient, onPermanent Callback,
) error {
	res := h.Resolve(ctx, d, err, Callbacks{OnTransient: onTransient, OnPermanent: onPermanent})
	if res.Outcome == OutcomeRetryRequested {
		return &RetryError{Resolution: res}
	}
	return nil
}

// Resolve runs the failure state machine. Steps run strictly in order:
// classification, then visibility extension and onTransient on the transient
// path, or onPermanent on the permanent path. A failed onPermanent takes the
// transient path with Transient(cleanupErr) and the same descriptor; the
// classifier is not consulted again.
func (h *Handler) Resolve(
	ctx context.Context,
	d domain.Descriptor,
	err error,
	cb Callbacks,
) Resolution {
	if h.classifier.Classify(err) != KindPermanent {
		return h.resolveTransient(ctx, d, err, cb.OnTransient)
	}

	cleanupErr := runCallback(ctx, cb.OnPermanent, err)
	if cleanupErr == nil {
		slog.Warn("Permanent failure handled",
			"queue", d.QueueName,
			"id", d.ID,
			"delivery_count", d.DeliveryCount,
			"error", err,
		)
		metrics.Failures.WithLabelValues(d.QueueName, KindPermanent.String(), OutcomeStopped.String()).Inc()
		return Resolution{
			Outcome: OutcomeStopped,
			Kind:    KindPermanent,
			Cause:   err,
		}
	}

	metrics.Escalations.WithLabelValues(d.QueueName).Inc()
	slog.Error("Permanent failure cleanup failed, escalating",
		"queue", d.QueueName,
		"id", d.ID,
		"delivery_count", d.DeliveryCount,
		"error", err,
		"cleanup_error", cleanupErr,
	)

	res := h.resolveTransient(ctx, d, Transient(cleanupErr), cb.OnTransient)
	res.Escalated = true
	return res
}

func (h *Handler) resolveTransient(
	ctx context.Context,
	d domain.Descriptor,
	cause error,
	onTransient Callback,
) Resolution {
	delay, extended := h.extender.Extend(ctx, d)

	if err := runCallback(ctx, onTransient, cause); err != nil {
		slog.Warn("Transient failure callback failed",
			"queue", d.QueueName,
			"id", d.ID,
			"error", err,
		)
	}

	if !extended {
		slog.Error("Transient failure, maximum retries reached",
			"queue", d.QueueName,
			"id", d.ID,
			"delivery_count", d.DeliveryCount,
			"error", cause,
		)
		metrics.Failures.WithLabelValues(d.QueueName, KindTransient.String(), OutcomeStopped.String()).Inc()
		return Resolution{Outcome: OutcomeStopped, Kind: KindTransient, Cause: cause}
	}

	slog.Warn("Transient failure, retry scheduled",
		"queue", d.QueueName,
		"id", d.ID,
		"delivery_count", d.DeliveryCount,
		"delay", delay,
		"error", cause,
	)
	metrics.Failures.WithLabelValues(d.QueueName, KindTransient.String(), OutcomeRetryRequested.String()).Inc()
	return Resolution{
		Outcome: OutcomeRetryRequested,
		Kind:    KindTransient,
		Cause:   cause,
		Delay:   delay,
	}
}

func runCallback(ctx context.Context, cb Callback, err error) error {
	if cb == nil {
		return nil
	}
	return cb(ctx, err)
}
