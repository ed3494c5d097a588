// Command scadex-report runs a one-off similarity query against the index
// and prints a ranked provenance report. The snippet comes from a file or
// stdin.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/config"
	"github.com/clearsrc/scadex/internal/domain"
	"github.com/clearsrc/scadex/internal/index"
	"github.com/clearsrc/scadex/internal/index/qdrant"
	indexRedis "github.com/clearsrc/scadex/internal/index/redis"
	logpkg "github.com/clearsrc/scadex/internal/logger"
	"github.com/clearsrc/scadex/internal/metastore"
	"github.com/clearsrc/scadex/internal/metrics"
	ollamaEmb "github.com/clearsrc/scadex/internal/transport/ollama"
	openaiEmb "github.com/clearsrc/scadex/internal/transport/openai"
	embeddinguc "github.com/clearsrc/scadex/internal/usecase/embedding"
	retrieveruc "github.com/clearsrc/scadex/internal/usecase/retriever"
)

func main() {
	file := flag.String("file", "", "snippet file (default: read stdin)")
	topK := flag.Int("top-k", retrieveruc.DefaultTopK, "number of matches to report")
	flag.Parse()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		fatalf("failed to load config: %v", err)
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	snippet, err := readSnippet(*file)
	if err != nil {
		fatalf("failed to read snippet: %v", err)
	}

	metrics.RegisterEmbeddingMetrics()

	idx, err := buildIndex(cfg, logger)
	if err != nil {
		fatalf("failed to create vector index: %v", err)
	}
	defer idx.Close()

	store, err := metastore.Open(cfg.Metastore.Path)
	if err != nil {
		fatalf("failed to open metastore: %v", err)
	}
	defer func() { _ = store.Close() }()

	embedder := buildEmbedder(cfg, logger)
	retriever := retrieveruc.NewService(embedder, idx, store, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := retriever.Search(ctx, snippet, *topK)
	if err != nil {
		fatalf("search failed: %v", err)
	}

	printReport(snippet, result)
}

func readSnippet(path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		return string(data), err
	}
	data, err := io.ReadAll(os.Stdin)
	return string(data), err
}

func printReport(snippet string, result retrieveruc.Result) {
	fmt.Printf("Similarity report (snippet: %d chars, %d matches)\n\n",
		result.SnippetLength, len(result.Matches))

	if len(result.Matches) == 0 {
		fmt.Println("No matches found.")
		return
	}

	for i, m := range result.Matches {
		fmt.Printf("%2d. score=%.4f  %s/%s\n", i+1, m.Score, m.Ecosystem, m.Package)
		fmt.Printf("    file:    %s (chunk %d)\n", m.FilePath, m.ChunkIndex)
		fmt.Printf("    license: %s\n", m.License)
		fmt.Printf("    point:   %d  file_fp=%s  chunk_fp=%s\n", m.PointID, short(m.FileFP), short(m.ChunkFP))
		if m.License == domain.UnknownLicense {
			fmt.Printf("    note:    no license mapping for this package\n")
		}
		fmt.Println()
	}
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
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

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
