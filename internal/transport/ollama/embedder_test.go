package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clearsrc/scadex/internal/domain"
)

func TestEmbed_Success(t *testing.T) {
	var gotPath string
	var gotBody embReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(embResp{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewEmbedder(Config{BaseURL: srv.URL, Model: "mxbai-embed-large:latest"})

	result, err := e.Embed(context.Background(), "def f():\nreturn 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/api/embeddings" {
		t.Errorf("path = %q, want /api/embeddings", gotPath)
	}
	if gotBody.Model != "mxbai-embed-large:latest" {
		t.Errorf("model = %q", gotBody.Model)
	}
	if gotBody.Prompt != "def f():\nreturn 1" {
		t.Errorf("prompt = %q", gotBody.Prompt)
	}
	if len(result.Embedding) != 3 || result.Embedding[1] != 0.2 {
		t.Errorf("embedding = %v", result.Embedding)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewEmbedder(Config{BaseURL: srv.URL, Model: "missing"})

	_, err := e.Embed(context.Background(), "x")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

func TestEmbed_EmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embResp{Embedding: nil})
	}))
	defer srv.Close()

	e := NewEmbedder(Config{BaseURL: srv.URL, Model: "m"})

	_, err := e.Embed(context.Background(), "x")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

func TestEmbed_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embResp{Embedding: []float32{1}})
	}))
	defer srv.Close()

	e := NewEmbedder(Config{BaseURL: srv.URL, Model: "m"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Embed(ctx, "x"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
