// Package indexer runs the ingestion pipeline: walk source files, normalize
// and chunk them, embed each chunk, and commit batches to the vector index
// and the metadata store under sequential point ids.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clearsrc/scadex/internal/domain"
	"github.com/clearsrc/scadex/internal/index"
	"github.com/clearsrc/scadex/internal/metastore"
	"github.com/clearsrc/scadex/internal/metrics"
)

// Config holds the pipeline settings.
type Config struct {
	Workers   int
	QueueSize int
	BatchSize int
	Chunker   domain.Chunker
}

// Summary reports what a pipeline run did.
type Summary struct {
	FilesProcessed int64
	FilesSkipped   int64
	ChunksEmbedded int64
	ChunksSkipped  int64
	Batches        int64
	FirstPointID   uint64
	LastPointID    uint64
}

// Service is the ingestion pipeline.
type Service struct {
	walker   Walker
	embedder domain.Embedder
	idx      Index
	store    Metastore
	cfg      Config
	metrics  *metrics.IngestMetrics
	logger   *zap.Logger

	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
	chunksSkipped  atomic.Int64
}

// NewService creates the ingestion pipeline.
func NewService(
	walker Walker,
	embedder domain.Embedder,
	idx Index,
	store Metastore,
	cfg Config,
	m *metrics.IngestMetrics,
	logger *zap.Logger,
) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &Service{
		walker:   walker,
		embedder: embedder,
		idx:      idx,
		store:    store,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// chunkJob is one chunk awaiting embedding.
type chunkJob struct {
	meta domain.ChunkMeta
	text string
}

// embedded is a chunk with its vector, awaiting id assignment and commit.
type embedded struct {
	meta   domain.ChunkMeta
	vector []float32
}

// Run executes the pipeline to completion. Point ids are assigned
// sequentially by a single collector goroutine, seeded from the highest
// committed id, so a run can resume after an interrupted one without
// reusing ids.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	maxID, err := s.store.MaxPointID(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("read max point id: %w", err)
	}
	nextID := maxID + 1
	firstID := nextID

	s.logger.Info("starting ingestion",
		zap.Uint64("first_point_id", firstID),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("batch_size", s.cfg.BatchSize))

	jobs := make(chan chunkJob, s.cfg.QueueSize)
	results := make(chan embedded, s.cfg.QueueSize)

	g, gctx := errgroup.WithContext(ctx)

	// Producer: walk files, normalize, fingerprint, chunk.
	g.Go(func() error {
		defer close(jobs)
		return s.walker.Walk(gctx, func(unit domain.SourceUnit) error {
			return s.produceFile(gctx, unit, jobs)
		})
	})

	// Workers: embed chunks. Per-chunk failures are logged and skipped,
	// they never abort the run.
	var workers sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			s.embedWorker(gctx, jobs, results)
		}()
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	// Collector: owns the id counter and the batch buffer.
	var lastID uint64
	var chunksEmbedded, batches int64
	g.Go(func() error {
		points := make([]index.Point, 0, s.cfg.BatchSize)
		rows := make([]metastore.ChunkRow, 0, s.cfg.BatchSize)

		flush := func() error {
			if len(points) == 0 {
				return nil
			}
			if err := s.flushBatch(gctx, points, rows); err != nil {
				return err
			}
			chunksEmbedded += int64(len(points))
			batches++
			lastID = points[len(points)-1].ID
			points = points[:0]
			rows = rows[:0]
			return nil
		}

		for e := range results {
			id := nextID
			nextID++
			points = append(points, index.Point{ID: id, Vector: e.vector, Payload: e.meta})
			rows = append(rows, metastore.ChunkRow{ID: id, Meta: e.meta})
			if len(points) >= s.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		FilesProcessed: s.filesProcessed.Load(),
		FilesSkipped:   s.filesSkipped.Load(),
		ChunksEmbedded: chunksEmbedded,
		ChunksSkipped:  s.chunksSkipped.Load(),
		Batches:        batches,
		FirstPointID:   firstID,
		LastPointID:    lastID,
	}

	s.logger.Info("ingestion complete",
		zap.Int64("files_processed", summary.FilesProcessed),
		zap.Int64("files_skipped", summary.FilesSkipped),
		zap.Int64("chunks_embedded", summary.ChunksEmbedded),
		zap.Int64("chunks_skipped", summary.ChunksSkipped),
		zap.Int64("batches", summary.Batches),
		zap.Uint64("last_point_id", summary.LastPointID))

	return summary, nil
}

// produceFile reads, normalizes, fingerprints, and chunks one source file,
// queueing each chunk for embedding.
func (s *Service) produceFile(ctx context.Context, unit domain.SourceUnit, jobs chan<- chunkJob) error {
	raw, err := os.ReadFile(unit.AbsPath)
	if err != nil {
		s.skipFile(unit, "read_error", err)
		return nil
	}

	normalized := domain.Normalize(string(raw))
	if normalized == "" {
		s.skipFile(unit, "empty", domain.ErrEmptyDocument)
		return nil
	}

	fileFP := domain.Fingerprint(normalized)

	chunks, err := s.cfg.Chunker.Split(normalized)
	if err != nil {
		reason := "chunk_error"
		if errors.Is(err, domain.ErrDocumentTooLarge) {
			reason = "too_large"
		}
		s.skipFile(unit, reason, err)
		return nil
	}

	for _, chunk := range chunks {
		job := chunkJob{
			meta: domain.ChunkMeta{
				Ecosystem:  unit.Ecosystem,
				Package:    unit.Package,
				FilePath:   unit.Path,
				ChunkIndex: chunk.Index,
				Extension:  unit.Extension,
				FileFP:     fileFP,
				ChunkFP:    domain.Fingerprint(chunk.Text),
			},
			text: chunk.Text,
		}
		select {
		case jobs <- job:
			s.metrics.QueueDepth.Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.filesProcessed.Add(1)
	s.metrics.FilesProcessed.Inc()
	return nil
}

func (s *Service) skipFile(unit domain.SourceUnit, reason string, err error) {
	s.filesSkipped.Add(1)
	s.metrics.FilesSkipped.WithLabelValues(reason).Inc()
	s.logger.Warn("skipping file",
		zap.String("file", unit.Path),
		zap.String("reason", reason),
		zap.Error(err))
}

func (s *Service) embedWorker(ctx context.Context, jobs <-chan chunkJob, results chan<- embedded) {
	for job := range jobs {
		s.metrics.QueueDepth.Dec()

		result, err := s.embedder.Embed(ctx, job.text)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.chunksSkipped.Add(1)
			s.metrics.ChunksSkipped.WithLabelValues("embed_error").Inc()
			s.logger.Warn("skipping chunk",
				zap.String("file", job.meta.FilePath),
				zap.Int("chunk_index", job.meta.ChunkIndex),
				zap.Error(err))
			continue
		}

		select {
		case results <- embedded{meta: job.meta, vector: result.Embedding}:
		case <-ctx.Done():
			return
		}
	}
}

// flushBatch commits one batch: the intent (id range) is logged first, then
// the vector index is written, then the metastore. A batch interrupted
// between the two writes is repaired by re-running the indexer; both writes
// are idempotent per point id.
func (s *Service) flushBatch(ctx context.Context, points []index.Point, rows []metastore.ChunkRow) error {
	start := time.Now()
	first, last := points[0].ID, points[len(points)-1].ID

	s.logger.Info("committing batch",
		zap.Uint64("first_id", first),
		zap.Uint64("last_id", last),
		zap.Int("size", len(points)))

	if err := s.idx.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert batch %d-%d: %w", first, last, err)
	}
	if err := s.store.InsertChunkBatch(ctx, rows); err != nil {
		return fmt.Errorf("store batch %d-%d: %w", first, last, err)
	}

	s.metrics.BatchesTotal.Inc()
	s.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	s.metrics.ChunksEmbedded.Add(float64(len(points)))
	s.metrics.LastPointID.Set(float64(last))
	return nil
}
