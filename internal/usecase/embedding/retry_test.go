package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/domain"
)

// flakyEmbedder fails the first n calls with a provider error.
type flakyEmbedder struct {
	failures int
	calls    int
	result   domain.EmbeddingResult
	err      error
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return domain.EmbeddingResult{}, f.err
		}
		return domain.EmbeddingResult{}, fmt.Errorf("upstream unavailable: %w", domain.ErrEmbeddingProviderError)
	}
	return f.result, nil
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestRetryEmbedder_SucceedsFirstAttempt(t *testing.T) {
	inner := &flakyEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 2}}}
	r := NewRetryEmbedder(inner, fastPolicy(3), zap.NewNop())

	result, err := r.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
	if len(result.Embedding) != 2 {
		t.Errorf("embedding = %v", result.Embedding)
	}
}

func TestRetryEmbedder_RecoversAfterFailures(t *testing.T) {
	inner := &flakyEmbedder{failures: 2, result: domain.EmbeddingResult{Embedding: []float32{1}}}
	r := NewRetryEmbedder(inner, fastPolicy(3), zap.NewNop())

	if _, err := r.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryEmbedder_ExhaustsAttempts(t *testing.T) {
	inner := &flakyEmbedder{failures: 10}
	r := NewRetryEmbedder(inner, fastPolicy(3), zap.NewNop())

	_, err := r.Embed(context.Background(), "x")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryEmbedder_NonProviderErrorNotRetried(t *testing.T) {
	inner := &flakyEmbedder{failures: 10, err: errors.New("bad input")}
	r := NewRetryEmbedder(inner, fastPolicy(3), zap.NewNop())

	_, err := r.Embed(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for non-provider errors)", inner.calls)
	}
}

func TestRetryEmbedder_ContextCanceledStopsRetries(t *testing.T) {
	inner := &flakyEmbedder{failures: 10}
	r := NewRetryEmbedder(inner, RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Minute, // never elapses
		MaxDelay:    time.Minute,
		Multiplier:  2.0,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Embed(ctx, "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestProbeDimension(t *testing.T) {
	inner := &flakyEmbedder{result: domain.EmbeddingResult{Embedding: make([]float32, 1024)}}

	dim, err := ProbeDimension(context.Background(), inner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dim != 1024 {
		t.Errorf("dim = %d, want 1024", dim)
	}
}

func TestProbeDimension_ProviderDown(t *testing.T) {
	inner := &flakyEmbedder{failures: 10}

	if _, err := ProbeDimension(context.Background(), inner); err == nil {
		t.Fatal("expected error when provider is down")
	}
}
