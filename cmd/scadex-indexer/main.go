// Command scadex-indexer walks an OSS source corpus and ingests it into the
// vector index and metadata store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/config"
	"github.com/clearsrc/scadex/internal/domain"
	"github.com/clearsrc/scadex/internal/index"
	"github.com/clearsrc/scadex/internal/index/qdrant"
	indexRedis "github.com/clearsrc/scadex/internal/index/redis"
	logpkg "github.com/clearsrc/scadex/internal/logger"
	"github.com/clearsrc/scadex/internal/metastore"
	"github.com/clearsrc/scadex/internal/metrics"
	"github.com/clearsrc/scadex/internal/selector"
	ollamaEmb "github.com/clearsrc/scadex/internal/transport/ollama"
	openaiEmb "github.com/clearsrc/scadex/internal/transport/openai"
	embeddinguc "github.com/clearsrc/scadex/internal/usecase/embedding"
	indexeruc "github.com/clearsrc/scadex/internal/usecase/indexer"
	"github.com/clearsrc/scadex/internal/version"
)

func main() {
	root := flag.String("root", "", "corpus root directory (overrides config)")
	workers := flag.Int("workers", 0, "embedding workers (overrides config)")
	batchSize := flag.Int("batch-size", 0, "commit batch size (overrides config)")
	metricsPort := flag.Int("metrics-port", 0, "serve /metrics on this port while running (0 = off)")
	flag.Parse()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if *root != "" {
		cfg.Indexer.Root = *root
	}
	if *workers > 0 {
		cfg.Indexer.Workers = *workers
	}
	if *batchSize > 0 {
		cfg.Indexer.BatchSize = *batchSize
	}
	if cfg.Indexer.Root == "" {
		fmt.Fprintln(os.Stderr, "corpus root is required: set indexer.root or pass -root")
		os.Exit(2)
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting scadex indexer",
		zap.String("version", version.Version),
		zap.String("env", env),
		zap.String("root", cfg.Indexer.Root),
		zap.String("index_driver", cfg.VectorIndex.Driver),
		zap.String("collection", cfg.VectorIndex.Collection),
	)

	// Cancel the run on SIGINT/SIGTERM so the current batch finishes and
	// the rest is left for the next run to resume.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	ingestMetrics := metrics.NewIngestMetrics(reg)
	metrics.RegisterEmbeddingMetrics()

	if *metricsPort > 0 {
		go serveMetrics(*metricsPort, reg, logger)
	}

	idx, err := buildIndex(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create vector index", zap.Error(err))
	}
	defer idx.Close()

	store, err := metastore.Open(cfg.Metastore.Path)
	if err != nil {
		logger.Fatal("Failed to open metastore", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	if cfg.Licenses.Path != "" {
		if err := seedLicenses(ctx, store, cfg.Licenses.Path, logger); err != nil {
			logger.Fatal("Failed to seed licenses", zap.Error(err))
		}
	}

	embedder := buildEmbedder(cfg, logger)

	// The collection dimension comes from the model itself: embed once and
	// measure. An unreachable provider is fatal before any work starts.
	dim, err := embeddinguc.ProbeDimension(ctx, embedder)
	if err != nil {
		logger.Fatal("Embedding provider unavailable", zap.Error(err))
	}
	logger.Info("Probed embedding dimension", zap.Int("dimension", dim))

	if err := idx.EnsureCollection(ctx, dim); err != nil {
		logger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	overflow, err := domain.ParseOverflowPolicy(cfg.Indexer.Overflow)
	if err != nil {
		logger.Fatal("Invalid overflow policy", zap.Error(err))
	}

	walker := selector.New(selector.Config{
		Root:                    cfg.Indexer.Root,
		Extensions:              cfg.Indexer.Extensions,
		ExcludeDirs:             cfg.Indexer.ExcludeDirs,
		MaxFileBytes:            cfg.Indexer.MaxFileBytes,
		MaxFilesPerPackage:      cfg.Indexer.MaxFilesPerPackage,
		MaxPackagesPerEcosystem: cfg.Indexer.MaxPackagesPerEcosystem,
	}, logger)

	pipeline := indexeruc.NewService(walker, embedder, idx, store, indexeruc.Config{
		Workers:   cfg.Indexer.Workers,
		QueueSize: cfg.Indexer.QueueSize,
		BatchSize: cfg.Indexer.BatchSize,
		Chunker: domain.Chunker{
			MaxChars:  cfg.Indexer.MaxCharsPerChunk,
			MaxChunks: cfg.Indexer.MaxChunksPerFile,
			Overflow:  overflow,
		},
	}, ingestMetrics, logger)

	start := time.Now()
	summary, err := pipeline.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Ingestion interrupted, rerun to resume")
			return
		}
		logger.Fatal("Ingestion failed", zap.Error(err))
	}

	total, err := store.CountChunks(ctx)
	if err != nil {
		logger.Warn("Failed to count chunks", zap.Error(err))
	}

	fmt.Printf("Ingestion finished in %s\n", time.Since(start).Round(time.Second))
	fmt.Printf("  files processed: %d (skipped %d)\n", summary.FilesProcessed, summary.FilesSkipped)
	fmt.Printf("  chunks embedded: %d (skipped %d)\n", summary.ChunksEmbedded, summary.ChunksSkipped)
	fmt.Printf("  batches committed: %d\n", summary.Batches)
	if summary.ChunksEmbedded > 0 {
		fmt.Printf("  point ids: %d-%d\n", summary.FirstPointID, summary.LastPointID)
	}
	fmt.Printf("  chunks in store: %d\n", total)
}

func buildIndex(cfg config.Config, logger *zap.Logger) (index.Index, error) {
	switch cfg.VectorIndex.Driver {
	case "qdrant":
		return qdrant.New(qdrant.Config{
			BaseURL:    cfg.VectorIndex.URL,
			Collection: cfg.VectorIndex.Collection,
			APIKey:     cfg.VectorIndex.APIKey,
		}, logger)
	case "redis":
		return indexRedis.New(indexRedis.Config{
			Addrs:      cfg.VectorIndex.Addrs,
			Password:   cfg.VectorIndex.Password,
			Collection: cfg.VectorIndex.Collection,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown vector index driver %q", cfg.VectorIndex.Driver)
	}
}

func buildEmbedder(cfg config.Config, logger *zap.Logger) domain.Embedder {
	var base domain.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:  cfg.Embedding.APIKey,
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
			Logger:  logger,
		})
	default:
		base = ollamaEmb.NewEmbedder(ollamaEmb.Config{
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
			Timeout: time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		})
	}

	return embeddinguc.NewRetryEmbedder(base, embeddinguc.RetryPolicy{
		MaxAttempts: cfg.Embedding.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Embedding.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Embedding.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:  cfg.Embedding.Retry.Multiplier,
	}, logger)
}

func seedLicenses(ctx context.Context, store *metastore.Store, path string, logger *zap.Logger) error {
	records, err := metastore.LoadLicenseFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("license file not found, skipping seed", zap.String("path", path))
			return nil
		}
		return err
	}
	if err := store.SeedLicenses(ctx, records); err != nil {
		return err
	}
	logger.Info("seeded license map", zap.Int("records", len(records)), zap.String("path", path))
	return nil
}

func serveMetrics(port int, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	// Pipeline metrics live on their own registry; embedding metrics sit on
	// the default one. Expose both.
	gatherer := prometheus.Gatherers{reg, prometheus.DefaultGatherer}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	logger.Info("Serving indexer metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("Metrics server stopped", zap.Error(err))
	}
}
