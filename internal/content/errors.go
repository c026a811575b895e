package content

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies an acquisition failure. The Resilience Engine's behavior
// depends entirely on this classification: a transient fault is retried with
// backoff, a structural fault advances the degradation ladder, a fatal fault
// aborts the whole acquisition, and a cancellation is never retried.
type Kind int

// Failure kinds, from most to least recoverable.
const (
	// KindTransient marks faults that are safe to retry: network timeouts,
	// upstream 5xx responses, and detected rate limiting.
	KindTransient Kind = iota
	// KindStructural marks extraction that no longer matches the page or
	// response shape. Retrying the same strategy is pointless.
	KindStructural
	// KindFatal marks invalid input, e.g. an unparseable URL.
	KindFatal
	// KindCancelled marks caller-initiated abortion.
	KindCancelled
	// KindStorage marks a persistence write failure.
	KindStorage
)

// String returns the reason tag reported at the external boundary.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindStructural:
		return "structural"
	case KindFatal:
		return "fatal"
	case KindCancelled:
		return "cancelled"
	case KindStorage:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// Error is a classified acquisition failure.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transientf builds a transient (retry-eligible) failure.
func Transientf(format string, args ...any) error {
	return &Error{Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

// Structuralf builds a structural (switch-strategy) failure.
func Structuralf(format string, args ...any) error {
	return &Error{Kind: KindStructural, Err: fmt.Errorf(format, args...)}
}

// Fatalf builds a fatal (abort-immediately) failure.
func Fatalf(format string, args ...any) error {
	return &Error{Kind: KindFatal, Err: fmt.Errorf(format, args...)}
}

// Storagef builds a storage-write failure.
func Storagef(format string, args ...any) error {
	return &Error{Kind: KindStorage, Err: fmt.Errorf(format, args...)}
}

// Cancelled wraps a context error as a cancelled outcome.
func Cancelled(err error) error {
	return &Error{Kind: KindCancelled, Err: err}
}

// Classify maps an arbitrary error onto the failure taxonomy. Context
// cancellation always wins, regardless of how strategies wrapped the error.
// Network timeouts are transient. Unclassified errors default to transient,
// matching the retry-by-default posture toward flaky upstreams.
func Classify(err error) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindTransient
}

// ClassifyStatus maps an HTTP status code onto the taxonomy. A 429 is a
// detected rate limit and therefore transient; any 5xx is transient; 4xx
// responses mean the request shape no longer matches what the platform
// expects, which is structural drift.
func ClassifyStatus(status int) Kind {
	switch {
	case status == 429:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindStructural
	}
}
