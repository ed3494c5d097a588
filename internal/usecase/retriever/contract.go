package retriever

import (
	"context"

	"github.com/clearsrc/scadex/internal/index"
	"github.com/clearsrc/scadex/internal/metastore"
)

// Index is the vector index read surface the retriever needs.
type Index interface {
	Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error)
}

// Metastore is the metadata lookup surface the retriever needs.
type Metastore interface {
	GetChunk(ctx context.Context, id uint64) (metastore.ChunkRow, error)
	GetLicense(ctx context.Context, ecosystem, pkg string) (string, error)
}
