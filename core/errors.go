package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison using errors.Is().
// These are wrapped with operation context inside AxisError but remain
// directly comparable for callers that only care about the error class.
var (
	ErrJobNotFound        = errors.New("job not found")
	ErrIllegalTransition   = errors.New("illegal state transition")
	ErrTimeout             = errors.New("operation timed out")
	ErrCycleDetected       = errors.New("dependency cycle detected")
	ErrUnknownDependency   = errors.New("unknown dependency")
	ErrSelfDependency      = errors.New("step depends on itself")
	ErrInvalidNonce        = errors.New("invalid approval nonce")
	ErrNonceConsumed       = errors.New("approval nonce already consumed")
	ErrNonceExpired        = errors.New("approval nonce expired")
	ErrCircuitOpen         = errors.New("circuit breaker open")
	ErrConditionFalse      = errors.New("step condition evaluated false")
	ErrSandboxDenied       = errors.New("action denied by sandbox policy")
	ErrDiskFull            = errors.New("disk usage above pause threshold")
	ErrRSSHigh             = errors.New("resident memory above pause threshold")
	ErrExceededAttempts    = errors.New("maximum attempts exceeded")
	ErrAlreadyStarted      = errors.New("already started")
	ErrNotInitialized      = errors.New("not initialized")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ErrorKind is the closed taxonomy of error classes a component may raise.
// Values match the Kind strings carried in audit log entries so that an
// operator can grep the log for a class of failure without parsing messages.
type ErrorKind string

const (
	KindIllegalTransition ErrorKind = "ILLEGAL_TRANSITION"
	KindTimeout           ErrorKind = "TIMEOUT"
	KindCycleDetected     ErrorKind = "CYCLE_DETECTED"
	KindUnknownDep        ErrorKind = "UNKNOWN_DEP"
	KindSelfDep           ErrorKind = "SELF_DEP"
	KindInvalidNonce      ErrorKind = "INVALID_NONCE"
	KindNonceConsumed     ErrorKind = "NONCE_CONSUMED"
	KindNonceExpired      ErrorKind = "NONCE_EXPIRED"
	KindCircuitOpen       ErrorKind = "CIRCUIT_OPEN"
	KindConditionFalse    ErrorKind = "CONDITION_FALSE"
	KindSandboxDenied     ErrorKind = "SANDBOX_DENIED"
	KindDiskFull          ErrorKind = "DISK_FULL"
	KindRSSHigh           ErrorKind = "RSS_HIGH"
	KindExceededAttempts  ErrorKind = "EXCEEDED_ATTEMPTS"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindConfiguration     ErrorKind = "CONFIGURATION"
	KindUserRejected      ErrorKind = "USER_REJECTED"
)

// AxisError carries structured context about a failure: the operation that
// failed, the taxonomy kind, the entity ID involved, and the wrapped cause.
type AxisError struct {
	Op      string
	Kind    ErrorKind
	ID      string
	Message string
	Err     error
}

func (e *AxisError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *AxisError) Unwrap() error {
	return e.Err
}

// NewAxisError builds an AxisError wrapping err under kind, tagged with the
// operation name and entity ID for audit logging.
func NewAxisError(op string, kind ErrorKind, id string, err error) *AxisError {
	return &AxisError{Op: op, Kind: kind, ID: id, Err: err}
}

// IsRetryable reports whether err represents a transient condition worth a
// retry (circuit-open, timeout, resource pressure).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrDiskFull) ||
		errors.Is(err, ErrRSSHigh)
}

// IsNotFound reports whether err represents a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsTerminalState reports whether err is (or wraps) ErrIllegalTransition,
// which covers an operation against a job already in a terminal state as
// well as any other non-permitted or lost compare-and-set transition.
func IsTerminalState(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}

// IsConfigurationError reports whether err is configuration-related.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

// KindOf extracts the ErrorKind from err if it is (or wraps) an *AxisError.
func KindOf(err error) (ErrorKind, bool) {
	var ae *AxisError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}
