// Package errors provides the unified error taxonomy used across every
// component of the core. It consolidates what, in the teacher codebase, was
// spread across several competing error packages into the single type the
// rest of this module builds on.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for HTTP-status mapping, retry policy, and
// logging severity.
type Kind string

const (
	KindInvalidInput   Kind = "INVALID_INPUT"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindUnauthorized   Kind = "UNAUTHORIZED"
	KindForbidden      Kind = "FORBIDDEN"
	KindTierUnavailable Kind = "TIER_UNAVAILABLE"
	KindTimeout        Kind = "TIMEOUT"
	KindTransportError Kind = "TRANSPORT_ERROR"
	KindQueueOverflow  Kind = "QUEUE_OVERFLOW"
	KindInternal       Kind = "INTERNAL"
)

// Severity is used for log routing and alert thresholds.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// CoreError is the single error type returned by every public operation in
// the core. It carries enough context to render a uniform API response and
// to decide local recovery (retry, drop, pause sweeper) without string
// matching on messages.
type CoreError struct {
	Kind      Kind
	Code      string
	Message   string
	Operation string
	Resource  string
	Severity  Severity
	Retryable bool
	Cause     error
}

func (e *CoreError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Kind, e.Code, e.Operation, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, ErrNotFound) style sentinel checks against Kind.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Builder provides fluent construction, mirroring the teacher's
// ErrorBuilder so call sites read the same way across the codebase.
type Builder struct {
	err *CoreError
}

func newBuilder(kind Kind, code, message string, severity Severity, retryable bool) *Builder {
	return &Builder{err: &CoreError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Severity:  severity,
		Retryable: retryable,
	}}
}

func (b *Builder) WithOperation(op string) *Builder { b.err.Operation = op; return b }
func (b *Builder) WithResource(res string) *Builder { b.err.Resource = res; return b }
func (b *Builder) WithCause(cause error) *Builder    { b.err.Cause = cause; return b }
func (b *Builder) Build() *CoreError                 { return b.err }

// InvalidInput builds a 400-class error. Never retried by the core.
func InvalidInput(code, message string) *Builder {
	return newBuilder(KindInvalidInput, code, message, SeverityLow, false)
}

// NotFound builds a 404-class error.
func NotFound(code, message string) *Builder {
	return newBuilder(KindNotFound, code, message, SeverityLow, false)
}

// Conflict builds a 409-class error (e.g. mutating an immutable event).
func Conflict(code, message string) *Builder {
	return newBuilder(KindConflict, code, message, SeverityMedium, false)
}

// Unauthorized builds a 401-class error.
func Unauthorized(code, message string) *Builder {
	return newBuilder(KindUnauthorized, code, message, SeverityMedium, false)
}

// Forbidden builds a 403-class error.
func Forbidden(code, message string) *Builder {
	return newBuilder(KindForbidden, code, message, SeverityMedium, false)
}

// TierUnavailable builds a 503-class error. Sweepers pause until recovery.
func TierUnavailable(code, message string) *Builder {
	return newBuilder(KindTierUnavailable, code, message, SeverityHigh, true)
}

// Timeout builds an error for deadline-exceeded operations.
func Timeout(code, message string) *Builder {
	return newBuilder(KindTimeout, code, message, SeverityMedium, true)
}

// TransportError builds a sync-fabric send/receive failure. Recovered
// locally: mark peer error, requeue batch, schedule redial.
func TransportError(code, message string) *Builder {
	return newBuilder(KindTransportError, code, message, SeverityMedium, true)
}

// QueueOverflow builds an error surfaced only via log/metric, never to the
// originating write caller.
func QueueOverflow(code, message string) *Builder {
	return newBuilder(KindQueueOverflow, code, message, SeverityMedium, false)
}

// Internal builds a 500-class error for unexpected failures.
func Internal(code, message string) *Builder {
	return newBuilder(KindInternal, code, message, SeverityCritical, false)
}

// KindOf extracts the Kind of err if it is (or wraps) a *CoreError.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a *CoreError of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Timestamped pairs a response body with the RFC3339 timestamp every
// external response carries.
type Timestamped struct {
	Timestamp time.Time `json:"timestamp"`
}

func Now() Timestamped { return Timestamped{Timestamp: time.Now().UTC()} }
