package indexer

import (
	"context"

	"github.com/clearsrc/scadex/internal/domain"
	"github.com/clearsrc/scadex/internal/index"
	"github.com/clearsrc/scadex/internal/metastore"
)

// Walker yields candidate source files in deterministic order.
type Walker interface {
	Walk(ctx context.Context, fn func(domain.SourceUnit) error) error
}

// Index is the vector index write surface the pipeline needs.
type Index interface {
	Upsert(ctx context.Context, points []index.Point) error
}

// Metastore is the metadata persistence surface the pipeline needs.
type Metastore interface {
	MaxPointID(ctx context.Context) (uint64, error)
	InsertChunkBatch(ctx context.Context, rows []metastore.ChunkRow) error
}
