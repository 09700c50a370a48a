package usecase

import (
	"context"
	"errors"
	"strings"

	"qianfan-chat/internal/domain"
)

// ErrorCategory indicates whether an error is retryable or permanent.
type ErrorCategory int

const (
	ErrorCategoryUnknown   ErrorCategory = iota
	ErrorCategoryRetryable               // 429, 5xx, 408/504, connection errors
	ErrorCategoryPermanent               // 401, 403, other 4xx, validation, open circuit
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryRetryable:
		return "retryable"
	case ErrorCategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Code       domain.ErrorCode
	StatusCode int // HTTP status, or 0 if none was received
}

// ErrorClassifier categorizes completion errors for the retry policy.
type ErrorClassifier struct{}

// NewErrorClassifier creates a new classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// Classify inspects an error and returns its category and code.
func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}
	out := ClassifiedError{Original: err, Code: domain.ErrorCodeOf(err)}

	var te *domain.TransportError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.Category = ErrorCategoryPermanent
	case errors.As(err, &te):
		out.StatusCode = te.StatusCode
		if domain.IsRetryableError(err) {
			out.Category = ErrorCategoryRetryable
		} else {
			out.Category = ErrorCategoryPermanent
		}
	case out.Code != domain.CodeUnknown:
		// Validation, schema and tool errors never improve on retry.
		out.Category = ErrorCategoryPermanent
	default:
		out.Category = classifyByString(err.Error())
	}
	return out
}

// classifyByString is the fallback for errors raised outside the transport,
// e.g. by a custom Transport implementation.
func classifyByString(errStr string) ErrorCategory {
	lower := strings.ToLower(errStr)
	for _, p := range []string{
		"rate limit", "too many requests",
		"connection refused", "no such host", "timeout",
		"connection reset", "temporarily unavailable", "service unavailable",
	} {
		if strings.Contains(lower, p) {
			return ErrorCategoryRetryable
		}
	}
	return ErrorCategoryUnknown
}
