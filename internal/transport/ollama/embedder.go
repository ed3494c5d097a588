// Package ollama provides an embedding provider for a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/clearsrc/scadex/internal/domain"
	"github.com/clearsrc/scadex/internal/metrics"
)

// Embedder talks to the Ollama embeddings endpoint.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// Config holds the Ollama provider settings.
type Config struct {
	BaseURL string // e.g. http://localhost:11434
	Model   string // e.g. mxbai-embed-large:latest
	Timeout time.Duration
}

// NewEmbedder creates an Ollama embedding provider.
func NewEmbedder(cfg Config) *Embedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Embedder{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

type embReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embResp struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements domain.Embedder. Ollama reports no token usage, so only
// the vector is returned.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	body, err := json.Marshal(embReq{Model: e.model, Prompt: text})
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()

	resp, err := e.client.Do(req)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("ollama", e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues("ollama", e.model, "transport").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("do request: %w: %w", err, domain.ErrEmbeddingProviderError)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingRequestsTotal.WithLabelValues("ollama", e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues("ollama", e.model, "api_error").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("ollama API: status %d: %w",
			resp.StatusCode, domain.ErrEmbeddingProviderError)
	}

	var result embResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.EmbeddingErrorsTotal.WithLabelValues("ollama", e.model, "decode").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("decode: %w", err)
	}
	if len(result.Embedding) == 0 {
		metrics.EmbeddingErrorsTotal.WithLabelValues("ollama", e.model, "empty_response").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("empty embedding response: %w", domain.ErrEmbeddingProviderError)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues("ollama", e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues("ollama", e.model).Observe(time.Since(start).Seconds())

	return domain.EmbeddingResult{Embedding: result.Embedding}, nil
}
