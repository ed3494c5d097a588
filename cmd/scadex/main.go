package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/config"
	"github.com/clearsrc/scadex/internal/domain"
	"github.com/clearsrc/scadex/internal/index"
	"github.com/clearsrc/scadex/internal/index/qdrant"
	indexRedis "github.com/clearsrc/scadex/internal/index/redis"
	logpkg "github.com/clearsrc/scadex/internal/logger"
	"github.com/clearsrc/scadex/internal/metastore"
	"github.com/clearsrc/scadex/internal/metrics"
	chiTransport "github.com/clearsrc/scadex/internal/transport/chi"
	ollamaEmb "github.com/clearsrc/scadex/internal/transport/ollama"
	openaiEmb "github.com/clearsrc/scadex/internal/transport/openai"
	embeddinguc "github.com/clearsrc/scadex/internal/usecase/embedding"
	retrieveruc "github.com/clearsrc/scadex/internal/usecase/retriever"
	"github.com/clearsrc/scadex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting scadex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("index_driver", cfg.VectorIndex.Driver),
		zap.String("collection", cfg.VectorIndex.Collection),
	)

	// Vector index backend
	idx, err := buildIndex(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create vector index", zap.Error(err))
	}
	defer idx.Close()

	ctx := context.Background()
	readiness := time.Duration(cfg.VectorIndex.ReadinessTimeoutSec) * time.Second
	if err := waitForIndex(ctx, idx, readiness); err != nil {
		logger.Fatal("Vector index not ready", zap.Error(err))
	}
	logger.Info("Connected to vector index")

	// Metadata store
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

	// Register embedding metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()

	embedder := buildEmbedder(cfg, logger)

	retriever := retrieveruc.NewService(embedder, idx, store, logger)

	server := chiTransport.NewServer(retriever, pingerFor(idx), store, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildIndex creates the vector index backend selected by config.
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

// pinger is implemented by both index backends.
type pinger interface {
	Ping(ctx context.Context) error
}

func pingerFor(idx index.Index) chiTransport.Pinger {
	if p, ok := idx.(pinger); ok {
		return p
	}
	return nil
}

// waitForIndex polls the backend until it responds or timeout expires.
func waitForIndex(ctx context.Context, idx index.Index, timeout time.Duration) error {
	type waiter interface {
		WaitForReady(ctx context.Context, timeout time.Duration) error
	}
	if w, ok := idx.(waiter); ok {
		return w.WaitForReady(ctx, timeout)
	}

	p, ok := idx.(pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for vector index: %w", ctx.Err())
		case <-ticker.C:
			if err := p.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// buildEmbedder assembles the embedder chain: provider -> retry decorator.
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

// seedLicenses loads the license map file and upserts it into the store.
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

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
