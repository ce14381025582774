package recovery

import "errors"

// Kind is the retry classification of a failure.
type Kind int

const (
	KindTransient Kind = iota + 1
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classifier decides whether a failure is worth retrying.
// Implementations must be pure: the same error always yields the same Kind.
type Classifier interface {
	Classify(err error) Kind
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) Kind

// Classify implements Classifier.
func (f ClassifierFunc) Classify(err error) Kind { return f(err) }

// Failure is an error tagged with an explicit Kind.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String() + " failure"
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Transient marks err as retryable.
func Transient(err error) error {
	return &Failure{Kind: KindTransient, Err: err}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return &Failure{Kind: KindPermanent, Err: err}
}

// KindOf returns the outermost explicit marker on err, if any.
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}

// MarkerClassifier honours Transient/Permanent markers and falls back to
// Default for unmarked errors.
type MarkerClassifier struct {
	Default Kind
}

// Classify implements Classifier.
func (c MarkerClassifier) Classify(err error) Kind {
	if k, ok := KindOf(err); ok {
		return k
	}
	if c.Default == 0 {
		return KindTransient
	}
	return c.Default
}
