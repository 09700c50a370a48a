package domain

import (
	"context"
	"errors"
	"fmt"
)

// Category sentinels. Every failure a caller sees matches one of these via errors.Is.
var (
	ErrValidation        = fmt.Errorf("validation failed")
	ErrSchemaParse       = fmt.Errorf("tool parameter schema is not valid JSON")
	ErrDuplicateToolName = fmt.Errorf("duplicate tool name")
	ErrTransport         = fmt.Errorf("transport failure")
	ErrRetryExhausted    = fmt.Errorf("retry attempts exhausted")
)

// Transport causes. A *TransportError wraps one of these (or a network error).
var (
	ErrRateLimit     = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid   = fmt.Errorf("authentication failed")
	ErrBadRequest    = fmt.Errorf("bad request")
	ErrServerError   = fmt.Errorf("server error")
	ErrCircuitOpen   = fmt.Errorf("circuit breaker open")
	ErrProviderError = fmt.Errorf("provider error")
)

// Tool errors.
var (
	ErrToolNotFound = fmt.Errorf("tool not found")
	ErrToolFailure  = fmt.Errorf("tool execution failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "RequestBuilder.Build")
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

// TransportError is a failure talking to the remote service. It always
// matches ErrTransport and unwraps to its cause, so both
// errors.Is(err, ErrTransport) and errors.Is(err, ErrRateLimit) hold for a 429.
type TransportError struct {
	Op         string
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Cause      error
}

// NewTransportError creates a TransportError for an HTTP status.
func NewTransportError(op string, status int, cause error, message string) *TransportError {
	return &TransportError{Op: op, StatusCode: status, Cause: cause, Message: message}
}

func (e *TransportError) Error() string {
	msg := e.Op + ": transport"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Is makes every TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch {
	case te.StatusCode == 408 || te.StatusCode == 504:
		return true
	case errors.Is(te.Cause, ErrRateLimit), errors.Is(te.Cause, ErrServerError):
		return true
	case errors.Is(te.Cause, ErrCircuitOpen), errors.Is(te.Cause, ErrAuthInvalid),
		errors.Is(te.Cause, ErrBadRequest), errors.Is(te.Cause, ErrProviderError):
		return false
	case errors.Is(te.Cause, context.Canceled), errors.Is(te.Cause, context.DeadlineExceeded):
		return false
	}
	// No status means the request never completed: a network failure.
	return te.StatusCode == 0
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeValidation        ErrorCode = "VALIDATION"
	CodeSchemaParse       ErrorCode = "SCHEMA_PARSE"
	CodeDuplicateToolName ErrorCode = "DUPLICATE_TOOL_NAME"
	CodeTransport         ErrorCode = "TRANSPORT"
	CodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeBadRequest        ErrorCode = "BAD_REQUEST"
	CodeServerError       ErrorCode = "SERVER_ERROR"
	CodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	CodeProviderError     ErrorCode = "PROVIDER_ERROR"
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure       ErrorCode = "TOOL_FAILURE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrValidation:        CodeValidation,
	ErrSchemaParse:       CodeSchemaParse,
	ErrDuplicateToolName: CodeDuplicateToolName,
	ErrTransport:         CodeTransport,
	ErrRetryExhausted:    CodeRetryExhausted,
	ErrRateLimit:         CodeRateLimit,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrBadRequest:        CodeBadRequest,
	ErrServerError:       CodeServerError,
	ErrCircuitOpen:       CodeCircuitOpen,
	ErrProviderError:     CodeProviderError,
	ErrToolNotFound:      CodeToolNotFound,
	ErrToolFailure:       CodeToolFailure,
}

// codePriority orders the chain walk: the most specific code wins when an
// error matches several sentinels (an exhausted 429 matches three).
var codePriority = []error{
	ErrRetryExhausted,
	ErrValidation,
	ErrSchemaParse,
	ErrDuplicateToolName,
	ErrToolNotFound,
	ErrToolFailure,
	ErrCircuitOpen,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrBadRequest,
	ErrServerError,
	ErrProviderError,
	ErrTransport,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
