package recovery

import (
	"fmt"
	"math/bits"
	"time"
)

const (
	// DefaultMinBackoff is the smallest backoff unit.
	DefaultMinBackoff = 285 * time.Millisecond
	// DefaultMaxBackoff keeps the last retry under a 7 day queue TTL.
	DefaultMaxBackoff = 7 * 24 * time.Hour
)

// DelayPolicy maps a delivery attempt to the delay before the next one.
type DelayPolicy interface {
	// Delay returns the backoff for deliveryCount, or false once the retry
	// budget is exhausted.
	Delay(deliveryCount int) (time.Duration, bool)
}

// Backoff doubles the delay on every delivery, keyed off the delivery count.
// Delays are rounded up to whole seconds.
type Backoff struct {
	minBackoff time.Duration
	maxBackoff time.Duration
	maxRetries int
}

// NewBackoff derives maxRetries = floor(log2(max/min)) so that the last
// allowed delay never exceeds max.
func NewBackoff(minBackoff, maxBackoff time.Duration) (*Backoff, error) {
	if minBackoff <= 0 {
		return nil, fmt.Errorf("min backoff must be positive, got %v", minBackoff)
	}
	if maxBackoff < minBackoff {
		return nil, fmt.Errorf("max backoff %v is below min backoff %v", maxBackoff, minBackoff)
	}
	ratio := uint64(maxBackoff / minBackoff)
	return &Backoff{
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		maxRetries: bits.Len64(ratio) - 1,
	}, nil
}

// DefaultBackoff returns the 285ms / 7 day schedule.
func DefaultBackoff() *Backoff {
	b, _ := NewBackoff(DefaultMinBackoff, DefaultMaxBackoff)
	return b
}

// MaxRetries is the highest delivery count that still gets a delay.
func (b *Backoff) MaxRetries() int { return b.maxRetries }

// MinBackoff returns the configured base delay.
func (b *Backoff) MinBackoff() time.Duration { return b.minBackoff }

// MaxBackoff returns the configured delay ceiling.
func (b *Backoff) MaxBackoff() time.Duration { return b.maxBackoff }

// Delay returns ceil(minBackoff * 2^deliveryCount) in whole seconds.
func (b *Backoff) Delay(deliveryCount int) (time.Duration, bool) {
	if deliveryCount < 1 {
		deliveryCount = 1
	}
	if deliveryCount > b.maxRetries {
		return 0, false
	}
	d := b.minBackoff << deliveryCount
	return (d + time.Second - 1) / time.Second * time.Second, true
}
