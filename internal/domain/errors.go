package domain

import "errors"

var (
	// ErrInvalidInput signals a malformed query, refinement request or catalog record.
	ErrInvalidInput = errors.New("invalid input")
	// ErrServiceNotFound signals a missing catalog record.
	ErrServiceNotFound = errors.New("service not found")

	// ErrClassificationUnavailable signals that the classifier model could not be reached.
	ErrClassificationUnavailable = errors.New("classification unavailable")
	// ErrRetrievalUnavailable signals an embedding or vector store failure during retrieval.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrCompositionUnavailable signals that the composer model failed or returned nothing.
	ErrCompositionUnavailable = errors.New("composition unavailable")
	// ErrRefinementUnavailable signals that follow-up questions could not be generated.
	ErrRefinementUnavailable = errors.New("refinement unavailable")

	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrLLMProviderError signals a chat model provider failure.
	ErrLLMProviderError = errors.New("llm provider error")
	// ErrRateLimited signals a provider rate limit hit.
	ErrRateLimited = errors.New("rate limited")
)

// IsStageUnavailable reports whether err means a pipeline stage could not produce a result.
func IsStageUnavailable(err error) bool {
	return errors.Is(err, ErrClassificationUnavailable) ||
		errors.Is(err, ErrRetrievalUnavailable) ||
		errors.Is(err, ErrCompositionUnavailable) ||
		errors.Is(err, ErrRefinementUnavailable)
}
