// Package chi exposes the similarity search API over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/domain"
	logpkg "github.com/clearsrc/scadex/internal/logger"
	"github.com/clearsrc/scadex/internal/usecase/retriever"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Retriever answers similarity queries.
type Retriever interface {
	Search(ctx context.Context, snippet string, topK int) (retriever.Result, error)
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API server.
type Server struct {
	retriever     Retriever
	index         Pinger
	store         Pinger
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(r Retriever, index, store Pinger, logger *zap.Logger) *Server {
	s := &Server{
		retriever: r,
		index:     index,
		store:     store,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrEmptyDocument, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProviderError),
		sentinelHandler(domain.ErrCollectionUnavailable, http.StatusServiceUnavailable, codeCollectionUnavailable),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeVectorDimMismatch),
	}
	return s
}

// Routes mounts the API handlers on router.
func (s *Server) Routes(router chi.Router) {
	router.Post("/v1/similarity", s.Similarity)
	router.Get("/healthz", s.Healthz)
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
}

// Error response codes.
const (
	codeBadRequest             = "bad_request"
	codeValidationFailed       = "validation_failed"
	codeEmbeddingProviderError = "embedding_provider_error"
	codeCollectionUnavailable  = "collection_unavailable"
	codeVectorDimMismatch      = "vector_dim_mismatch"
	codeInternalError          = "internal_error"
)

type similarityRequest struct {
	Code     string `json:"code"`
	FilePath string `json:"file_path,omitempty"`
	Language string `json:"language,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

type matchItem struct {
	Score      float64 `json:"score"`
	QdrantID   uint64  `json:"qdrant_id"`
	Ecosystem  string  `json:"ecosystem"`
	Package    string  `json:"package"`
	FilePath   string  `json:"file_path"`
	ChunkIndex int     `json:"chunk_index"`
	FileFP     string  `json:"file_fp"`
	ChunkFP    string  `json:"chunk_fp"`
	License    string  `json:"license"`
}

type similarityResponse struct {
	SnippetLength int         `json:"snippet_length"`
	Matches       []matchItem `json:"matches"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Similarity handles POST /v1/similarity.
func (s *Server) Similarity(w http.ResponseWriter, r *http.Request) {
	var req similarityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Code == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "code is required")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "top_k must not be negative")
		return
	}

	result, err := s.retriever.Search(r.Context(), req.Code, req.TopK)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]matchItem, len(result.Matches))
	for i, m := range result.Matches {
		items[i] = matchItem{
			Score:      m.Score,
			QdrantID:   m.PointID,
			Ecosystem:  m.Ecosystem,
			Package:    m.Package,
			FilePath:   m.FilePath,
			ChunkIndex: m.ChunkIndex,
			FileFP:     m.FileFP,
			ChunkFP:    m.ChunkFP,
			License:    m.License,
		}
	}

	writeJSON(w, http.StatusOK, similarityResponse{
		SnippetLength: result.SnippetLength,
		Matches:       items,
	})
}

// Healthz handles GET /healthz. Degraded dependencies report 503.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	for name, p := range map[string]Pinger{"vector_index": s.index, "metastore": s.store} {
		if p == nil {
			continue
		}
		if err := p.Ping(r.Context()); err != nil {
			checks[name] = "down"
			healthy = false
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		} else {
			checks[name] = "ok"
		}
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	// Prefer the request-scoped logger (carries request_id) when present.
	logger := s.logger
	if ctxLogger, ok := logpkg.LoggerFromContext(r.Context()); ok {
		logger = ctxLogger
	}
	logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrEmptyDocument,
		domain.ErrEmbeddingProviderError,
		domain.ErrCollectionUnavailable,
		domain.ErrVectorDimMismatch,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
