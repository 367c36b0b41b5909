// Package lperr defines the error taxonomy surfaced by the control plane.
// Callers match on the sentinel kinds with errors.Is; the rich *Error type
// carries device context for logging and diagnostics.
package lperr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every error returned by the library wraps exactly one.
var (
	// ErrConnection: TCP or TLS could not establish.
	ErrConnection = errors.New("linkplay: connection failed")
	// ErrTimeout: request exceeded its deadline, retries exhausted.
	ErrTimeout = errors.New("linkplay: request timed out")
	// ErrMalformed: body was expected JSON but was neither parseable nor in
	// the non-JSON allow-list for that command.
	ErrMalformed = errors.New("linkplay: malformed response")
	// ErrUnsupported: endpoint chain empty for this profile, or operation
	// forbidden for the current source.
	ErrUnsupported = errors.New("linkplay: unsupported operation")
	// ErrInconsistent: local model contradicts device-reported state, e.g.
	// a slave command with no linked group, or grouping across wmrm majors.
	ErrInconsistent = errors.New("linkplay: inconsistent state")
	// ErrPrecondition: an operation precondition could not be satisfied,
	// e.g. a Gen1 join with no discoverable SSID.
	ErrPrecondition = errors.New("linkplay: precondition failed")
	// ErrCancelled: caller cancellation.
	ErrCancelled = errors.New("linkplay: cancelled")
)

// Error wraps a sentinel kind with device and operation context.
type Error struct {
	Kind     error
	Op       string
	Host     string
	Model    string
	Firmware string
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Host != "" {
		msg = fmt.Sprintf("%s (host=%s", msg, e.Host)
		if e.Model != "" {
			msg += " model=" + e.Model
		}
		if e.Firmware != "" {
			msg += " firmware=" + e.Firmware
		}
		msg += ")"
	}
	if e.Endpoint != "" {
		msg += " endpoint=" + e.Endpoint
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the sentinel kind so errors.Is(err, lperr.ErrTimeout) works
// regardless of wrapping depth.
func (e *Error) Unwrap() error { return e.Kind }

// Cause returns the nested lower-level error, if any.
func (e *Error) Cause() error { return e.Err }

// New builds an *Error for the given kind and operation.
func New(kind error, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// WithDevice attaches device context and returns the error for chaining.
func (e *Error) WithDevice(host, model, firmware string) *Error {
	e.Host, e.Model, e.Firmware = host, model, firmware
	return e
}

// WithEndpoint records the last attempted endpoint.
func (e *Error) WithEndpoint(endpoint string) *Error {
	e.Endpoint = endpoint
	return e
}

// WithCause nests a lower-level error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// Wrap builds a contextual error around a lower-level cause in one call.
func Wrap(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the sentinel kind of err, or nil when err does not carry
// one of this package's kinds.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrConnection, ErrTimeout, ErrMalformed, ErrUnsupported,
		ErrInconsistent, ErrPrecondition, ErrCancelled,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsTransient reports whether err is worth retrying at the transport layer.
// Only connection and timeout failures qualify; semantic errors never do.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}
