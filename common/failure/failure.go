package failure

// Error taxonomy shared by the harness, the cluster handle and the scenarios.
// Every error that reaches the scenario boundary is converted into a
// failed outcome; the types below only decide how it is reported.

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned (wrapped) when a resource does not exist.
// Release actions treat it as success.
var ErrNotFound = errors.New("resource not found")

// ConfigurationError the cluster handle or the scenario options cannot
// satisfy the requested scenario shape.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ConfigErrorf returns a ConfigurationError with a formatted reason.
func ConfigErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// OperationFailedError an administrative action did not produce the
// expected cluster state.
type OperationFailedError struct {
	Op  string
	Err error
}

func (e *OperationFailedError) Error() string {
	if e.Err == nil {
		return "operation failed: " + e.Op
	}
	return fmt.Sprintf("operation failed: %s: %v", e.Op, e.Err)
}

func (e *OperationFailedError) Cause() error { return e.Err }

func (e *OperationFailedError) Unwrap() error { return e.Err }

// OperationFailed wraps err as an OperationFailedError for op.
// A nil err still yields an error, the caller decided op has failed.
func OperationFailed(op string, err error) error {
	return &OperationFailedError{Op: op, Err: err}
}

// OperationFailedf reports a failed operation without an underlying error.
func OperationFailedf(format string, args ...interface{}) error {
	return &OperationFailedError{Op: fmt.Sprintf(format, args...)}
}

// AssertionError a verified value diverges from the expected value.
type AssertionError struct {
	What     string
	Expected interface{}
	Actual   interface{}
	Detail   string
}

func (e *AssertionError) Error() string {
	var sb strings.Builder
	sb.WriteString("assertion failed: ")
	sb.WriteString(e.What)
	if e.Expected != nil || e.Actual != nil {
		fmt.Fprintf(&sb, ": expected %v, got %v", e.Expected, e.Actual)
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Assertf returns an AssertionError carrying only a description.
func Assertf(format string, args ...interface{}) error {
	return &AssertionError{What: fmt.Sprintf(format, args...)}
}

// TimeoutError a polled predicate was not satisfied before its deadline.
type TimeoutError struct {
	What    string
	Timeout time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %v waiting for %s", e.Timeout, e.What)
	if e.LastErr != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.LastErr)
	}
	return msg
}

// SkipError the scenario does not apply to the cluster under test.
// A skipped scenario passes.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skipf returns a SkipError with a formatted reason.
func Skipf(format string, args ...interface{}) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err, or any error it wraps, is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsAssertion reports whether err is, or wraps, an AssertionError.
func IsAssertion(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}

// IsOperationFailed reports whether err is, or wraps, an OperationFailedError.
func IsOperationFailed(err error) bool {
	var oe *OperationFailedError
	return errors.As(err, &oe)
}

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsSkip reports whether err is, or wraps, a SkipError.
func IsSkip(err error) bool {
	var se *SkipError
	return errors.As(err, &se)
}

// Kind returns a short label for the error class, used for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsSkip(err):
		return "skip"
	case IsConfiguration(err):
		return "configuration"
	case IsAssertion(err):
		return "assertion"
	case IsTimeout(err):
		return "timeout"
	case IsOperationFailed(err):
		return "operation"
	default:
		return "error"
	}
}
