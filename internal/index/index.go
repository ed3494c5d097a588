// Package index defines the vector index port consumed by the indexer and
// retriever, with backend adapters in subpackages.
package index

import (
	"context"

	"github.com/clearsrc/scadex/internal/domain"
)

// Point is one vector entry with its chunk payload.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload domain.ChunkMeta
}

// Hit is one nearest-neighbor result, best first.
type Hit struct {
	ID    uint64
	Score float64
}

// Index is the vector store contract. EnsureCollection is idempotent: an
// existing collection is reused unchanged, never recreated or wiped.
// Upserting an existing id overwrites that point.
type Index interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Close()
}
