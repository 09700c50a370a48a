package domain

import "context"

// MaxEmbeddingBatch is the largest number of inputs one embedding request may carry.
const MaxEmbeddingBatch = 16

// EmbeddingProvider is the interface for text embedding backends.
type EmbeddingProvider interface {
	// Embed generates embeddings for the given texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the dimensionality of the embedding vectors.
	Dimensions() int
	// Name returns the provider's identifier.
	Name() string
}

// ValidateEmbeddingBatch checks that a batch holds between 1 and MaxEmbeddingBatch inputs.
func ValidateEmbeddingBatch(texts []string) error {
	switch {
	case len(texts) == 0:
		return NewDomainError("Embedding.Validate", ErrValidation, "input list must not be empty")
	case len(texts) > MaxEmbeddingBatch:
		return NewDomainError("Embedding.Validate", ErrValidation,
			"input list must hold at most 16 items")
	}
	return nil
}
