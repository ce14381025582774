// Package classify maps concrete transport, database and RPC failures onto
// transient or permanent kinds.
package classify

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/requeue/internal/delivery/recovery"
	"github.com/vietddude/requeue/internal/delivery/sink"
)

// Rule inspects err and returns a kind when it is decisive.
type Rule func(err error) (recovery.Kind, bool)

// Chain tries each rule in order; the first decisive rule wins.
type Chain struct {
	rules    []Rule
	fallback recovery.Kind
}

// NewChain creates a classifier from rules. Explicit recovery markers are
// always consulted first.
func NewChain(fallback recovery.Kind, rules ...Rule) *Chain {
	return &Chain{
		rules:    append([]Rule{Markers}, rules...),
		fallback: fallback,
	}
}

// Default returns the classifier used by the service.
func Default() *Chain {
	return NewChain(recovery.KindTransient,
		Context,
		Sink,
		GRPC,
		Postgres,
		Redis,
		Network,
	)
}

// Classify implements recovery.Classifier.
func (c *Chain) Classify(err error) recovery.Kind {
	if err == nil {
		return c.fallback
	}
	for _, rule := range c.rules {
		if kind, ok := rule(err); ok {
			return kind
		}
	}
	return c.fallback
}

// Markers honours recovery.Transient / recovery.Permanent.
func Markers(err error) (recovery.Kind, bool) {
	return recovery.KindOf(err)
}

// Context treats deadlines as transient and cancellation as transient too:
// the message will be redelivered after shutdown.
func Context(err error) (recovery.Kind, bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return recovery.KindTransient, true
	}
	return 0, false
}

// Sink maps HTTP sink responses.
func Sink(err error) (recovery.Kind, bool) {
	var statusErr *sink.StatusError
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	if statusErr.Retryable() {
		return recovery.KindTransient, true
	}
	return recovery.KindPermanent, true
}

// GRPC maps gRPC status codes. A RetryInfo detail always means transient.
func GRPC(err error) (recovery.Kind, bool) {
	var grpcErr interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &grpcErr) {
		return 0, false
	}
	st := grpcErr.GRPCStatus()

	for _, detail := range st.Details() {
		if _, ok := detail.(*errdetails.RetryInfo); ok {
			return recovery.KindTransient, true
		}
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Internal, codes.Unknown, codes.Canceled:
		return recovery.KindTransient, true
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition,
		codes.AlreadyExists, codes.PermissionDenied, codes.Unauthenticated,
		codes.OutOfRange, codes.Unimplemented, codes.DataLoss:
		return recovery.KindPermanent, true
	}
	return 0, false
}

// Postgres maps SQLSTATE classes from either pgx or lib/pq.
func Postgres(err error) (recovery.Kind, bool) {
	var code string
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	default:
		return 0, false
	}
	if len(code) < 2 {
		return 0, false
	}

	switch code[:2] {
	// connection, transaction rollback, resources, operator intervention, system
	case "08", "40", "53", "57", "58":
		return recovery.KindTransient, true
	// data exception, integrity constraint, syntax or access rule
	case "22", "23", "42":
		return recovery.KindPermanent, true
	}
	return 0, false
}

// Redis maps go-redis errors.
func Redis(err error) (recovery.Kind, bool) {
	if errors.Is(err, redis.Nil) {
		return recovery.KindPermanent, true
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, redis.ErrPoolTimeout) {
		return recovery.KindTransient, true
	}
	return 0, false
}

// Network treats timeouts, resets and refused connections as transient.
func Network(err error) (recovery.Kind, bool) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return recovery.KindTransient, true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return recovery.KindTransient, true
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "connection reset") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "i/o timeout") {
		return recovery.KindTransient, true
	}
	return 0, false
}
