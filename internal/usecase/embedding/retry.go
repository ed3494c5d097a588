// Package embedding wraps an embedding provider with a retry policy and
// dimension probing.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/domain"
	"github.com/clearsrc/scadex/internal/metrics"
)

// RetryPolicy controls exponential backoff for embedding calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    5 * time.Second,
	Multiplier:  2.0,
}

// RetryEmbedder decorates a domain.Embedder with retry-with-backoff.
// Only provider errors are retried; context cancellation aborts immediately.
type RetryEmbedder struct {
	inner  domain.Embedder
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryEmbedder wraps inner with the given retry policy.
func NewRetryEmbedder(inner domain.Embedder, policy RetryPolicy, logger *zap.Logger) *RetryEmbedder {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}
	return &RetryEmbedder{inner: inner, policy: policy, logger: logger}
}

// Embed implements domain.Embedder.
func (r *RetryEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	var lastErr error
	delay := r.policy.BaseDelay

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		result, err := r.inner.Embed(ctx, text)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return domain.EmbeddingResult{}, ctx.Err()
		}
		if !errors.Is(err, domain.ErrEmbeddingProviderError) {
			return domain.EmbeddingResult{}, err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		metrics.EmbeddingRetriesTotal.Inc()
		r.logger.Warn("embedding attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return domain.EmbeddingResult{}, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * r.policy.Multiplier)
		if delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}

	return domain.EmbeddingResult{}, fmt.Errorf("embedding failed after %d attempts: %w",
		r.policy.MaxAttempts, lastErr)
}

// ProbeDimension issues a single embedding call to learn the vector dimension
// the provider produces. The dimension is needed before the vector collection
// can be created.
func ProbeDimension(ctx context.Context, e domain.Embedder) (int, error) {
	result, err := e.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}
	if len(result.Embedding) == 0 {
		return 0, fmt.Errorf("probe returned empty vector: %w", domain.ErrEmbeddingProviderError)
	}
	return len(result.Embedding), nil
}
