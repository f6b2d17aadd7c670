package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyforge-go/internal/config"
)

func TestCreateEmbeddingsOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)
		assert.Equal(t, 3, req.Dimensions)

		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1,0]},{"index":0,"embedding":[1,0,0]}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "text-embedding-3-small", Dimensions: 3})
	vectors, err := c.CreateEmbeddings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 0}}, vectors)
	assert.Equal(t, "text-embedding-3-small", c.Model())
}

func TestCreateEmbeddingSingle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5,0.5]}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{BaseURL: srv.URL})
	vec, err := c.CreateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
}

func TestCreateEmbeddingsErrors(t *testing.T) {
	cases := map[string]func(w http.ResponseWriter){
		"status":   func(w http.ResponseWriter) { http.Error(w, "rate limited", http.StatusTooManyRequests) },
		"mismatch": func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"data":[]}`)) },
		"empty":    func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[]}]}`)) },
	}
	for name, respond := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { respond(w) }))
			defer srv.Close()

			c := NewClient(config.EmbeddingConfig{BaseURL: srv.URL})
			_, err := c.CreateEmbeddings(context.Background(), []string{"x"})
			assert.Error(t, err)
		})
	}
}
