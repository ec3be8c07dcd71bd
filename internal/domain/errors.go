package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared by every layer.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Routing sentinels. Each maps to exactly one ErrorKind.
var (
	ErrDuplicateWorker       = fmt.Errorf("worker already registered: %w", ErrDuplicate)
	ErrUnknownWorker         = fmt.Errorf("unknown worker: %w", ErrNotFound)
	ErrNoMatchingWorker      = fmt.Errorf("no worker matches the task")
	ErrClassifierUnavailable = fmt.Errorf("classifier unavailable")
	ErrWorkerTimeout         = fmt.Errorf("worker timed out: %w", ErrTimeout)
	ErrWorkerTransport       = fmt.Errorf("worker transport failed")
)

// Infrastructure sentinels.
var (
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrDecryption        = fmt.Errorf("decryption failed")
	ErrEncryption        = fmt.Errorf("encryption operation failed")
	ErrProviderNotFound  = fmt.Errorf("llm provider not found")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrForbidden         = fmt.Errorf("forbidden")
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Register")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorKind is the caller-facing name of a failure. It is what a DispatchResult
// carries in its "error" field so callers can decide whether to retry.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindDuplicateWorker       ErrorKind = "DuplicateWorkerError"
	KindUnknownWorker         ErrorKind = "UnknownWorkerError"
	KindNoMatchingWorker      ErrorKind = "NoMatchingWorkerError"
	KindClassifierUnavailable ErrorKind = "ClassifierUnavailableError"
	KindWorkerTimeout         ErrorKind = "WorkerTimeoutError"
	KindWorkerTransport       ErrorKind = "WorkerTransportError"
	KindInvalidInput          ErrorKind = "InvalidInputError"
	KindInternal              ErrorKind = "InternalError"
)

// kindOrder is checked in sequence; the routing sentinels come before the
// category sentinels they wrap.
var kindOrder = []struct {
	err  error
	kind ErrorKind
}{
	{ErrDuplicateWorker, KindDuplicateWorker},
	{ErrUnknownWorker, KindUnknownWorker},
	{ErrNoMatchingWorker, KindNoMatchingWorker},
	{ErrClassifierUnavailable, KindClassifierUnavailable},
	{ErrWorkerTimeout, KindWorkerTimeout},
	{ErrWorkerTransport, KindWorkerTransport},
	{ErrInvalidInput, KindInvalidInput},
}

// ErrorKindOf returns the ErrorKind for err by walking the chain with errors.Is.
// Unrecognized errors map to KindInternal; nil maps to KindNone.
func ErrorKindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsRetryableKind reports whether a failure of this kind may succeed if the
// caller issues the same query again. The dispatcher itself never retries.
func IsRetryableKind(kind ErrorKind) bool {
	switch kind {
	case KindClassifierUnavailable, KindWorkerTimeout, KindWorkerTransport:
		return true
	default:
		return false
	}
}
