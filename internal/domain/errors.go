package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrEmptyDocument signals source text that normalized to nothing.
	ErrEmptyDocument = errors.New("empty normalized document")
	// ErrDocumentTooLarge signals a file that exceeds the chunk budget under the reject policy.
	ErrDocumentTooLarge = errors.New("document exceeds chunk budget")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrVectorDimMismatch signals a vector dimension mismatch against the collection.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrCollectionUnavailable signals that the vector index cannot be reached.
	ErrCollectionUnavailable = errors.New("vector index unavailable")
)
