package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	chiRouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/domain"
	"github.com/clearsrc/scadex/internal/usecase/retriever"
)

type stubRetriever struct {
	result  retriever.Result
	err     error
	gotCode string
	gotK    int
}

func (s *stubRetriever) Search(ctx context.Context, snippet string, topK int) (retriever.Result, error) {
	s.gotCode = snippet
	s.gotK = topK
	if s.err != nil {
		return retriever.Result{}, s.err
	}
	return s.result, nil
}

type stubPinger struct{ err error }

func (p *stubPinger) Ping(ctx context.Context) error { return p.err }

func newTestRouter(r Retriever, index, store Pinger) http.Handler {
	srv := NewServer(r, index, store, zap.NewNop())
	router := chiRouter.NewRouter()
	srv.Routes(router)
	return router
}

func postSimilarity(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/similarity", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSimilarity_OK(t *testing.T) {
	ret := &stubRetriever{result: retriever.Result{
		SnippetLength: 10,
		Matches: []domain.Match{
			{Score: 0.93, PointID: 7, Ecosystem: "pypi", Package: "leftpad",
				FilePath: "pypi/leftpad/pad.py", ChunkIndex: 0,
				FileFP: "aaa", ChunkFP: "bbb", License: "MIT"},
		},
	}}
	h := newTestRouter(ret, &stubPinger{}, &stubPinger{})

	rec := postSimilarity(t, h, similarityRequest{Code: "def pad(): pass", TopK: 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ret.gotCode != "def pad(): pass" || ret.gotK != 3 {
		t.Errorf("retriever got code=%q k=%d", ret.gotCode, ret.gotK)
	}

	var resp similarityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SnippetLength != 10 || len(resp.Matches) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	m := resp.Matches[0]
	if m.QdrantID != 7 || m.License != "MIT" || m.Score != 0.93 {
		t.Errorf("match = %+v", m)
	}
}

func TestSimilarity_MatchFieldNames(t *testing.T) {
	ret := &stubRetriever{result: retriever.Result{
		SnippetLength: 1,
		Matches:       []domain.Match{{PointID: 1}},
	}}
	h := newTestRouter(ret, nil, nil)

	rec := postSimilarity(t, h, similarityRequest{Code: "x"})

	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	match := raw["matches"].([]any)[0].(map[string]any)
	for _, key := range []string{"score", "qdrant_id", "ecosystem", "package",
		"file_path", "chunk_index", "file_fp", "chunk_fp", "license"} {
		if _, ok := match[key]; !ok {
			t.Errorf("match missing field %q", key)
		}
	}
}

func TestSimilarity_MissingCode(t *testing.T) {
	h := newTestRouter(&stubRetriever{}, nil, nil)

	rec := postSimilarity(t, h, similarityRequest{TopK: 3})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSimilarity_InvalidJSON(t *testing.T) {
	h := newTestRouter(&stubRetriever{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/similarity", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSimilarity_SentinelStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"empty", fmt.Errorf("x: %w", domain.ErrEmptyDocument), http.StatusBadRequest},
		{"provider", fmt.Errorf("x: %w", domain.ErrEmbeddingProviderError), http.StatusBadGateway},
		{"collection", fmt.Errorf("x: %w", domain.ErrCollectionUnavailable), http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(&stubRetriever{err: tc.err}, nil, nil)
			rec := postSimilarity(t, h, similarityRequest{Code: "x"})
			if rec.Code != tc.status {
				t.Errorf("status = %d, want %d", rec.Code, tc.status)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if tc.name == "internal" && resp.Message != "internal error" {
				t.Errorf("internal errors must not leak details, got %q", resp.Message)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(&stubRetriever{}, &stubPinger{}, &stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthz_DegradedIndex(t *testing.T) {
	h := newTestRouter(&stubRetriever{}, &stubPinger{err: errors.New("down")}, &stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "degraded" || resp.Checks["vector_index"] != "down" {
		t.Errorf("resp = %+v", resp)
	}
}
