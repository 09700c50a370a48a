package qianfan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"qianfan-chat/internal/domain"
	"qianfan-chat/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerTransport wraps a Transport with circuit breaker protection.
// When the wrapped transport fails repeatedly, the circuit opens and calls
// fail fast with domain.ErrCircuitOpen, preventing retry storms.
type CircuitBreakerTransport struct {
	inner   Transport
	name    string
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

var _ Transport = (*CircuitBreakerTransport)(nil)

// NewCircuitBreakerTransport wraps inner with a circuit breaker.
// Zero-valued settings fall back to defaults.
func NewCircuitBreakerTransport(inner Transport, name string, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerTransport {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "qianfan:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Only failures of the service count against it; caller mistakes and
		// cancellations do not.
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsRetryableError(err)
		},
	})

	return &CircuitBreakerTransport{inner: inner, name: name, breaker: cb, logger: logger}
}

// ChatCompletion implements Transport.
func (t *CircuitBreakerTransport) ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletion, error) {
	res, err := t.breaker.Execute(func() (any, error) {
		return t.inner.ChatCompletion(ctx, req)
	})
	if err != nil {
		return nil, t.wrap(err)
	}
	completion, _ := res.(*ChatCompletion)
	return completion, nil
}

// ChatCompletionStream implements Transport. The breaker guards stream
// initiation only; errors after the stream opened arrive on the channel.
func (t *CircuitBreakerTransport) ChatCompletionStream(ctx context.Context, req *ChatCompletionRequest) (<-chan StreamResult, error) {
	res, err := t.breaker.Execute(func() (any, error) {
		return t.inner.ChatCompletionStream(ctx, req)
	})
	if err != nil {
		return nil, t.wrap(err)
	}
	ch, _ := res.(<-chan StreamResult)
	return ch, nil
}

// Embeddings implements Transport.
func (t *CircuitBreakerTransport) Embeddings(ctx context.Context, req *EmbeddingRequest) (*EmbeddingList, error) {
	res, err := t.breaker.Execute(func() (any, error) {
		return t.inner.Embeddings(ctx, req)
	})
	if err != nil {
		return nil, t.wrap(err)
	}
	list, _ := res.(*EmbeddingList)
	return list, nil
}

// State returns the current circuit breaker state for monitoring.
func (t *CircuitBreakerTransport) State() gobreaker.State {
	return t.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (t *CircuitBreakerTransport) Counts() gobreaker.Counts {
	return t.breaker.Counts()
}

func (t *CircuitBreakerTransport) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.TransportError{Op: "qianfan." + t.name, Cause: domain.ErrCircuitOpen, Message: err.Error()}
	}
	return err
}
