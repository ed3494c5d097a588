package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/domain"
	"github.com/clearsrc/scadex/internal/index"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Collection: "oss_code_embeddings"}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestEnsureCollection_CreatesWhenMissing(t *testing.T) {
	var created bool
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			http.NotFound(w, r)
		case r.Method == http.MethodPut:
			created = true
			var body struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode create body: %v", err)
			}
			if body.Vectors.Size != 1024 || body.Vectors.Distance != "Cosine" {
				t.Errorf("unexpected vectors config: %+v", body.Vectors)
			}
			w.WriteHeader(http.StatusOK)
		}
	}))

	if err := c.EnsureCollection(context.Background(), 1024); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if !created {
		t.Error("expected collection creation request")
	}
}

func TestEnsureCollection_ReusesExisting(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected %s request: existing collection must not be recreated", r.Method)
		}
		_, _ = w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":1024}}}}}`))
	}))

	// Calling twice leaves the collection untouched.
	for i := 0; i < 2; i++ {
		if err := c.EnsureCollection(context.Background(), 1024); err != nil {
			t.Fatalf("EnsureCollection call %d: %v", i+1, err)
		}
	}
}

func TestEnsureCollection_DimensionMismatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":512}}}}}`))
	}))

	err := c.EnsureCollection(context.Background(), 1024)
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestUpsert_SendsPointsWithPayload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/oss_code_embeddings/points" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Points []struct {
				ID      uint64         `json:"id"`
				Vector  []float32      `json:"vector"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Points) != 1 {
			t.Fatalf("expected 1 point, got %d", len(body.Points))
		}
		p := body.Points[0]
		if p.ID != 42 {
			t.Errorf("id = %d", p.ID)
		}
		if p.Payload["ecosystem"] != "pypi" || p.Payload["chunk_index"] != float64(3) {
			t.Errorf("unexpected payload: %v", p.Payload)
		}
		w.WriteHeader(http.StatusOK)
	}))

	err := c.Upsert(context.Background(), []index.Point{{
		ID:     42,
		Vector: []float32{0.1, 0.2},
		Payload: domain.ChunkMeta{
			Ecosystem:  "pypi",
			Package:    "requests",
			FilePath:   "pypi/requests/api.py",
			ChunkIndex: 3,
			Extension:  ".py",
			FileFP:     "aa",
			ChunkFP:    "bb",
		},
	}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestUpsert_EmptyBatchIsNoop(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))
	if err := c.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestSearch_RankedHits(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/oss_code_embeddings/points/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"result":[{"id":7,"score":0.99},{"id":3,"score":0.42}]}`))
	}))

	hits, err := c.Search(context.Background(), []float32{0.5}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != 7 || hits[0].Score != 0.99 {
		t.Errorf("first hit = %+v", hits[0])
	}
	if hits[1].ID != 3 {
		t.Errorf("second hit = %+v", hits[1])
	}
}

func TestSearch_ServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	if _, err := c.Search(context.Background(), []float32{0.5}, 5); err == nil {
		t.Fatal("expected error")
	}
}
