package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbed_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1024, req.Dimensions)

		// Return embeddings out of order to exercise index-based placement.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.2}, "index": 1},
				{"embedding": []float32{0.1}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("sk-test", "text-embedding-3-large", 1024, 5*time.Second, WithBaseURL(srv.URL))
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"liferaft", "davit"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(0.1), vecs[0][0])
	assert.Equal(t, float32(0.2), vecs[1][0])
}

func TestEmbed_EmptyInput(t *testing.T) {
	e, err := NewOpenAIEmbedder("sk-test", "", 0, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1024, e.Dimension())

	_, err = e.Embed(context.Background(), nil)
	require.Error(t, err)
}
