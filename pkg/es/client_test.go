package es

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyforge-go/internal/config"
	"studyforge-go/internal/model"
)

func newTestIndex(t *testing.T, handler http.HandlerFunc) *Index {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(config.ElasticsearchConfig{Addresses: srv.URL})
	require.NoError(t, err)
	return NewIndex(client, "document_chunks", 3)
}

func TestUpsertUsesVectorIDAndRefresh(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/document_chunks/_doc/doc-1_0", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("refresh"))
		var body model.VectorChunk
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "doc-1", body.DocumentID)
		assert.Equal(t, uint(7), body.UserID)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	err := idx.Upsert(context.Background(), model.VectorChunk{
		VectorID: "doc-1_0", DocumentID: "doc-1", UserID: 7, Vector: []float32{1, 0, 0},
	})
	require.NoError(t, err)
}

func TestUpsertErrorStatus(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	})
	err := idx.Upsert(context.Background(), model.VectorChunk{VectorID: "x_1"})
	assert.Error(t, err)
}

func TestDeleteByDocument(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/document_chunks/_delete_by_query", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("refresh"))
		assert.Equal(t, "proceed", r.URL.Query().Get("conflicts"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"document_id":"doc-9"`)
		_, _ = w.Write([]byte(`{"deleted":5}`))
	})
	require.NoError(t, idx.DeleteByDocument(context.Background(), "doc-9"))
}

func TestDeleteByDocumentMissingIndexIsNoop(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"index_not_found_exception"}`))
	})
	assert.NoError(t, idx.DeleteByDocument(context.Background(), "doc-9"))
}

func TestSearchFiltersByUserAndDocument(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/_search"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"user_id":7`)
		assert.Contains(t, string(body), `"document_id":"doc-1"`)
		_, _ = w.Write([]byte(`{"hits":{"hits":[{"_score":0.9,"_source":{"document_id":"doc-1","chunk_id":2,"text_content":"chlorophyll"}}]}}`))
	})

	hits, err := idx.Search(context.Background(), []float32{1, 0, 0}, 7, "doc-1", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].ChunkID)
	assert.Equal(t, "chlorophyll", hits[0].TextContent)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-9)
}

func TestEnsureIndexCreatesWhenMissing(t *testing.T) {
	created := false
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"dims": 3`)
			created = true
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		}
	})
	require.NoError(t, idx.EnsureIndex(context.Background()))
	assert.True(t, created)
}
