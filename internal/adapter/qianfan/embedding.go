package qianfan

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/oklog/ulid/v2"

	"qianfan-chat/internal/domain"
	"qianfan-chat/internal/infra/config"
)

// EmbeddingModel produces text embeddings through a Transport.
type EmbeddingModel struct {
	transport  Transport
	model      string
	userID     string
	dimensions int
	retry      domain.RetryPolicy
	observer   domain.Observer
	logger     *slog.Logger
}

var _ domain.EmbeddingProvider = (*EmbeddingModel)(nil)

// NewEmbeddingModel creates an EmbeddingModel. Only the retry and observer
// options apply.
func NewEmbeddingModel(transport Transport, cfg config.EmbeddingConfig, logger *slog.Logger, opts ...Option) *EmbeddingModel {
	s := newSettings(opts)
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = EmbeddingDimensions[model]
	}
	return &EmbeddingModel{
		transport:  transport,
		model:      model,
		userID:     cfg.UserID,
		dimensions: dims,
		retry:      s.retry,
		observer:   s.observer,
		logger:     logger,
	}
}

// Embed returns one vector per input text, in input order. The batch must
// hold between 1 and domain.MaxEmbeddingBatch texts.
func (e *EmbeddingModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := domain.ValidateEmbeddingBatch(texts); err != nil {
		return nil, err
	}

	ctx, obs := e.observer.Start(ctx, domain.ObservationContext{
		CallID:     ulid.Make().String(),
		Provider:   ProviderName,
		Operation:  domain.OperationEmbedding,
		Model:      e.model,
		InputCount: len(texts),
	})

	fail := func(err error) ([][]float32, error) {
		obs.Error(err)
		return nil, domain.WrapOp("EmbeddingModel.Embed", err)
	}

	req := &EmbeddingRequest{Input: texts, Model: e.model, UserID: e.userID}
	var list *EmbeddingList
	err := e.retry.Execute(ctx, func(ctx context.Context) error {
		l, err := e.transport.Embeddings(ctx, req)
		if err != nil {
			return err
		}
		list = l
		return nil
	})
	if err != nil {
		return fail(err)
	}

	vectors, err := orderEmbeddings(list, len(texts))
	if err != nil {
		return fail(err)
	}

	e.logger.Debug("qianfan embedding completed", "model", e.model, "inputs", len(texts))
	obs.Stop(&domain.ChatResponse{Metadata: domain.ResponseMetadata{
		Model: e.model,
		Usage: mapUsage(list.Usage),
	}})
	return vectors, nil
}

// orderEmbeddings places each vector at its reported index.
func orderEmbeddings(list *EmbeddingList, n int) ([][]float32, error) {
	if list == nil || len(list.Data) != n {
		got := 0
		if list != nil {
			got = len(list.Data)
		}
		return nil, domain.NewTransportError("qianfan.Embeddings", http.StatusOK, domain.ErrProviderError,
			fmt.Sprintf("expected %d embeddings, got %d", n, got))
	}
	out := make([][]float32, n)
	for _, d := range list.Data {
		if d.Index < 0 || d.Index >= n || out[d.Index] != nil {
			return nil, domain.NewTransportError("qianfan.Embeddings", http.StatusOK, domain.ErrProviderError,
				fmt.Sprintf("unexpected embedding index %d", d.Index))
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the vector size, or 0 when unknown.
func (e *EmbeddingModel) Dimensions() int { return e.dimensions }

// Name returns the provider name.
func (e *EmbeddingModel) Name() string { return ProviderName }
