// Package qdrant implements the vector index port against the Qdrant REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/domain"
	"github.com/clearsrc/scadex/internal/index"
)

// Compile-time check: Client implements index.Index.
var _ index.Index = (*Client)(nil)

// Config holds connection parameters for a Qdrant backend.
type Config struct {
	BaseURL    string // e.g. http://localhost:6333
	Collection string
	APIKey     string
	Timeout    time.Duration
}

// Client talks to Qdrant over its HTTP API.
type Client struct {
	baseURL    string
	collection string
	apiKey     string
	httpc      *http.Client
	logger     *zap.Logger
}

// New creates a Qdrant client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		collection: cfg.Collection,
		apiKey:     cfg.APIKey,
		httpc:      &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection with cosine distance if it does not
// exist. An existing collection is reused unchanged; a dimension mismatch
// against its stored config is an error rather than a silent recreate.
func (c *Client) EnsureCollection(ctx context.Context, dimension int) error {
	existing, err := c.collectionDimension(ctx)
	if err != nil {
		return err
	}
	if existing > 0 {
		if existing != dimension {
			return fmt.Errorf("%w: collection %q has dimension %d, embedder produces %d",
				domain.ErrVectorDimMismatch, c.collection, existing, dimension)
		}
		c.logger.Info("reusing existing collection",
			zap.String("collection", c.collection), zap.Int("dimension", existing))
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dimension, "distance": "Cosine"},
	}
	if err := c.do(ctx, http.MethodPut, "/collections/"+c.collection, body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	c.logger.Info("created collection",
		zap.String("collection", c.collection), zap.Int("dimension", dimension))
	return nil
}

// collectionDimension returns the vector size of the collection, or 0 if the
// collection does not exist.
func (c *Client) collectionDimension(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := c.do(ctx, http.MethodGet, "/collections/"+c.collection, nil, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("get collection: %w", err)
	}
	return resp.Result.Config.Params.Vectors.Size, nil
}

type upsertPoint struct {
	ID      uint64         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Upsert writes a batch of points. Existing ids are overwritten.
func (c *Client) Upsert(ctx context.Context, points []index.Point) error {
	if len(points) == 0 {
		return nil
	}

	body := struct {
		Points []upsertPoint `json:"points"`
	}{Points: make([]upsertPoint, len(points))}

	for i, p := range points {
		body.Points[i] = upsertPoint{
			ID:     p.ID,
			Vector: p.Vector,
			Payload: map[string]any{
				"ecosystem":   p.Payload.Ecosystem,
				"package":     p.Payload.Package,
				"file_path":   p.Payload.FilePath,
				"chunk_index": p.Payload.ChunkIndex,
				"extension":   p.Payload.Extension,
				"file_fp":     p.Payload.FileFP,
				"chunk_fp":    p.Payload.ChunkFP,
			},
		}
	}

	path := "/collections/" + c.collection + "/points?wait=true"
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search returns the top-k nearest neighbors by cosine similarity, best first.
func (c *Client) Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": false,
		"with_vector":  false,
	}

	var resp struct {
		Result []struct {
			ID    uint64  `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	path := "/collections/" + c.collection + "/points/search"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]index.Hit, len(resp.Result))
	for i, r := range resp.Result {
		hits[i] = index.Hit{ID: r.ID, Score: r.Score}
	}
	return hits, nil
}

// Ping verifies the Qdrant endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/collections", nil, nil); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCollectionUnavailable, err)
	}
	return nil
}

// Close is a no-op; the underlying http.Client needs no teardown.
func (c *Client) Close() {}

// statusError carries a non-2xx HTTP response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant API: status %d: %s", e.code, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
	}
	return nil
}
