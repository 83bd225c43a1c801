package source

import (
	"context"
	"net"
	"strings"

	"github.com/sentivane/sentivane/errors"
)

// ErrorKind classifies a fetch failure. The kind decides retry behavior:
// transient failures are retried with backoff, rate-limited calls are
// deferred, auth and malformed failures surface immediately, and fatal
// failures abort the calling job.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"
	KindRateLimited ErrorKind = "rate_limited"
	KindAuth        ErrorKind = "auth"
	KindMalformed   ErrorKind = "malformed"
	KindFatal       ErrorKind = "fatal"
)

// FetchError pairs an underlying error with its classification.
type FetchError struct {
	Kind ErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable transient failure.
func Transient(err error) error {
	return &FetchError{Kind: KindTransient, Err: err}
}

// Auth wraps err as a non-retryable authentication failure.
func Auth(err error) error {
	return &FetchError{Kind: KindAuth, Err: err}
}

// Malformed wraps err as a non-retryable payload parse failure. Source
// adapters return this from their typed parse-and-validate step instead of
// trusting payload shape at use-site.
func Malformed(err error) error {
	return &FetchError{Kind: KindMalformed, Err: err}
}

// Fatal wraps err as a failure that aborts the calling job.
func Fatal(err error) error {
	return &FetchError{Kind: KindFatal, Err: err}
}

// KindOf returns the classification for err. Errors the adapter tagged via
// FetchError keep their kind; timeouts and context deadline expiries convert
// to transient; everything else defaults to transient so the retry policy,
// not the adapter, decides when to give up.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, errors.ErrRateLimited) {
		return KindRateLimited
	}
	if errors.Is(err, errors.ErrCircuitOpen) {
		return KindRateLimited
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	// Heuristic fallback for adapters that return bare errors.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return KindAuth
	case strings.Contains(msg, "parse") || strings.Contains(msg, "unmarshal"):
		return KindMalformed
	default:
		return KindTransient
	}
}
