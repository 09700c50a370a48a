package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"qianfan-chat/internal/domain"
	"qianfan-chat/internal/infra/config"
)

const (
	defaultMaxAttempts = 3
	baseRetryDelay     = 500 * time.Millisecond
	maxRetryDelay      = 10 * time.Second
)

// BackoffRetryPolicy retries retryable errors with exponential backoff and
// jitter. It implements domain.RetryPolicy.
type BackoffRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	classifier  *ErrorClassifier
	logger      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

var _ domain.RetryPolicy = (*BackoffRetryPolicy)(nil)

// NewBackoffRetryPolicy creates a policy from config. Zero values fall back
// to 3 attempts, a 500ms base delay and a 10s cap.
func NewBackoffRetryPolicy(cfg config.RetryConfig, logger *slog.Logger) *BackoffRetryPolicy {
	p := &BackoffRetryPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		classifier:  NewErrorClassifier(),
		logger:      logger,
		sleep:       sleepCtx,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = defaultMaxAttempts
	}
	if p.baseDelay <= 0 {
		p.baseDelay = baseRetryDelay
	}
	if p.maxDelay <= 0 {
		p.maxDelay = maxRetryDelay
	}
	return p
}

// Execute runs op until it succeeds, fails permanently, or the attempts are
// used up. Running out of attempts wraps the last error in
// domain.ErrRetryExhausted.
func (p *BackoffRetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		classified := p.classifier.Classify(err)
		if classified.Category != ErrorCategoryRetryable {
			return err
		}
		if attempt == p.maxAttempts-1 {
			break
		}

		delay := p.backoff(attempt)
		p.logger.Info("retrying after error",
			"attempt", attempt+1, "delay", delay, "code", classified.Code, "error", err)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if p.maxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrRetryExhausted, p.maxAttempts, lastErr)
}

// backoff computes exponential backoff with 0-25% jitter.
func (p *BackoffRetryPolicy) backoff(attempt int) time.Duration {
	delay := p.baseDelay * time.Duration(1<<uint(attempt))
	if delay > p.maxDelay || delay <= 0 {
		delay = p.maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay/4) + 1))
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
