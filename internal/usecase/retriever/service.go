// Package retriever answers similarity queries: embed the snippet, search
// the vector index, and join each hit with its metadata row and license.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/domain"
)

// DefaultTopK is used when the caller does not ask for a specific k.
const DefaultTopK = 5

// MaxTopK caps how many results a single query may request.
const MaxTopK = 100

// Result is the answer to one similarity query.
type Result struct {
	SnippetLength int
	Matches       []domain.Match
}

// Service answers similarity queries.
type Service struct {
	embedder domain.Embedder
	idx      Index
	store    Metastore
	logger   *zap.Logger
}

// NewService creates a retriever.
func NewService(embedder domain.Embedder, idx Index, store Metastore, logger *zap.Logger) *Service {
	return &Service{embedder: embedder, idx: idx, store: store, logger: logger}
}

// Search embeds the snippet and returns the topK nearest chunks joined with
// their metadata and license labels. The snippet is normalized the same way
// indexed files are, so queries and corpus text meet in the same vector
// space. A hit whose metadata row is missing is dropped with a warning
// rather than failing the query.
func (s *Service) Search(ctx context.Context, snippet string, topK int) (Result, error) {
	if strings.TrimSpace(snippet) == "" {
		return Result{}, fmt.Errorf("empty snippet: %w", domain.ErrEmptyDocument)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	normalized := domain.Normalize(snippet)
	if normalized == "" {
		return Result{}, fmt.Errorf("snippet has no code content: %w", domain.ErrEmptyDocument)
	}

	embedded, err := s.embedder.Embed(ctx, normalized)
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.idx.Search(ctx, embedded.Embedding, topK)
	if err != nil {
		return Result{}, fmt.Errorf("vector search: %w", err)
	}

	matches := make([]domain.Match, 0, len(hits))
	for _, hit := range hits {
		row, err := s.store.GetChunk(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("vector hit has no metadata row, dropping",
					zap.Uint64("point_id", hit.ID))
				continue
			}
			return Result{}, fmt.Errorf("load chunk %d: %w", hit.ID, err)
		}

		meta := row.Meta
		license, err := s.store.GetLicense(ctx, meta.Ecosystem, meta.Package)
		if err != nil {
			return Result{}, fmt.Errorf("load license for %s/%s: %w", meta.Ecosystem, meta.Package, err)
		}

		matches = append(matches, domain.Match{
			Score:      hit.Score,
			PointID:    hit.ID,
			Ecosystem:  meta.Ecosystem,
			Package:    meta.Package,
			FilePath:   meta.FilePath,
			ChunkIndex: meta.ChunkIndex,
			FileFP:     meta.FileFP,
			ChunkFP:    meta.ChunkFP,
			License:    license,
		})
	}

	return Result{SnippetLength: len(snippet), Matches: matches}, nil
}
