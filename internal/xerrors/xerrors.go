// Package xerrors wraps errors with a call-site stack frame and a
// retryable/critical classification, mirroring the teacher's
// internal/xerrors package minus its gRPC-status branch (this core has no
// gRPC transport to classify — see DESIGN.md).
package xerrors

import (
	"errors"
	"fmt"

	"golang.org/x/xerrors"

	"github.com/booknouse/cpp-driver/internal/stack"
)

type stackError struct {
	record stack.Record
	err    error
}

func (e *stackError) Error() string {
	if e.record.IsZero() {
		return e.err.Error()
	}

	return fmt.Sprintf("%s at `%s`", e.err.Error(), e.record.String())
}

func (e *stackError) Unwrap() error {
	return e.err
}

func (e *stackError) Format(f fmt.State, verb rune) {
	xerrors.FormatError(e, f, verb)
}

func (e *stackError) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())

	return nil
}

type withStackTraceOptions struct {
	skipDepth int
}

type Option func(o *withStackTraceOptions)

func WithSkipDepth(skip int) Option {
	return func(o *withStackTraceOptions) { o.skipDepth = skip }
}

// WithStackTrace annotates err with the call site, once. A nil err returns
// nil so call sites can write `return xerrors.WithStackTrace(err)`
// unconditionally in a defer.
func WithStackTrace(err error, opts ...Option) error {
	if err == nil {
		return nil
	}

	options := withStackTraceOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	return &stackError{
		record: stack.Frame(options.skipDepth + 1),
		err:    err,
	}
}

func Wrap(err error) error {
	return WithStackTrace(err, WithSkipDepth(1))
}

func Is(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// retryableError marks an error as transient: the request processor or pool
// may retry/reconnect without surfacing it to the caller.
type retryableError struct {
	err        error
	backoff    bool
	deleteSess bool
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type retryableOption func(e *retryableError)

func WithBackoff(b bool) retryableOption {
	return func(e *retryableError) { e.backoff = b }
}

func Retryable(err error, opts ...retryableOption) error {
	if err == nil {
		return nil
	}
	e := &retryableError{err: err}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

func IsRetryable(err error) bool {
	var r *retryableError

	return errors.As(err, &r)
}

// criticalError marks an error per spec §4.A: auth failure, protocol
// mismatch, TLS failure. Critical errors cannot be retried on the same
// connector attempt and must be reported (spec §7 CriticalConnectionError).
type criticalError struct {
	err error
}

func (e *criticalError) Error() string { return e.err.Error() }
func (e *criticalError) Unwrap() error { return e.err }

func Critical(err error) error {
	if err == nil {
		return nil
	}

	return &criticalError{err: err}
}

func IsCritical(err error) bool {
	var c *criticalError

	return errors.As(err, &c)
}
