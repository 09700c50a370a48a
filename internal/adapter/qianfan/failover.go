package qianfan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"qianfan-chat/internal/domain"
)

// FailoverTransport wraps a primary transport with fallback transports,
// typically the same service behind other base URLs. A transient failure on
// one endpoint moves on to the next; a permanent failure is returned as is.
type FailoverTransport struct {
	primary   Transport
	fallbacks []Transport
	logger    *slog.Logger
}

var _ Transport = (*FailoverTransport)(nil)

// NewFailoverTransport creates a failover-capable transport.
func NewFailoverTransport(primary Transport, fallbacks []Transport, logger *slog.Logger) *FailoverTransport {
	return &FailoverTransport{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// ChatCompletion implements Transport.
func (f *FailoverTransport) ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletion, error) {
	return failover(ctx, f, "chat", func(t Transport) (*ChatCompletion, error) {
		return t.ChatCompletion(ctx, req)
	})
}

// ChatCompletionStream implements Transport. Failover applies to stream
// initiation only.
func (f *FailoverTransport) ChatCompletionStream(ctx context.Context, req *ChatCompletionRequest) (<-chan StreamResult, error) {
	return failover(ctx, f, "stream", func(t Transport) (<-chan StreamResult, error) {
		return t.ChatCompletionStream(ctx, req)
	})
}

// Embeddings implements Transport.
func (f *FailoverTransport) Embeddings(ctx context.Context, req *EmbeddingRequest) (*EmbeddingList, error) {
	return failover(ctx, f, "embeddings", func(t Transport) (*EmbeddingList, error) {
		return t.Embeddings(ctx, req)
	})
}

// failover tries each endpoint in order. All collected errors are joined so
// the caller can still match their categories.
func failover[T any](ctx context.Context, f *FailoverTransport, kind string, call func(Transport) (T, error)) (T, error) {
	var zero T
	endpoints := append([]Transport{f.primary}, f.fallbacks...)

	var errs []error
	for i, t := range endpoints {
		res, err := call(t)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover succeeded", "kind", kind, "endpoint", endpointName(t))
			}
			return res, nil
		}
		if !domain.IsRetryableError(err) || ctx.Err() != nil {
			if len(errs) == 0 {
				return zero, err
			}
			return zero, errors.Join(append(errs, err)...)
		}
		f.logger.Warn("endpoint failed, trying next", "kind", kind, "endpoint", endpointName(t), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", endpointName(t), err))
	}
	return zero, errors.Join(errs...)
}

func endpointName(t Transport) string {
	if named, ok := t.(interface{ BaseURL() string }); ok {
		return named.BaseURL()
	}
	return fmt.Sprintf("%T", t)
}
