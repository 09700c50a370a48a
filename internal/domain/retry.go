package domain

import "context"

// RetryPolicy runs an operation, retrying transient failures.
type RetryPolicy interface {
	Execute(ctx context.Context, op func(ctx context.Context) error) error
}

// NoRetry runs the operation exactly once.
type NoRetry struct{}

func (NoRetry) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	return op(ctx)
}
