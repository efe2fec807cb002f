package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qdrant/go-client/qdrant"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantHost string
		wantPort int
		wantTLS  bool
	}{
		{
			name:     "cloud URL with port",
			raw:      "https://abc123.eu-central-1.aws.cloud.qdrant.io:6334",
			wantHost: "abc123.eu-central-1.aws.cloud.qdrant.io",
			wantPort: 6334,
			wantTLS:  true,
		},
		{
			name:     "plain host defaults to grpc port",
			raw:      "localhost",
			wantHost: "localhost",
			wantPort: 6334,
			wantTLS:  false,
		},
		{
			name:     "http URL",
			raw:      "http://qdrant.internal:7001",
			wantHost: "qdrant.internal",
			wantPort: 7001,
			wantTLS:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := parseEndpoint(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
			assert.Equal(t, tt.wantTLS, useTLS)
		})
	}
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(SearchOptions{}))

	f := buildFilter(SearchOptions{DocumentFilter: "SOLAS", CollectionFilter: "amendments"})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 2)

	f = buildFilter(SearchOptions{
		DocumentFilter:   "SOLAS",
		CollectionFilter: "amendments",
		SourceTypeFilter: "imo_rules",
		ChunkTypeFilter:  "content",
	})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 4)

	f = buildFilter(SearchOptions{SourceTypeFilter: "iacs_ur"})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 1)
}

func TestConvertPointsAppliesAuthorityWeight(t *testing.T) {
	points := []*qdrant.ScoredPoint{
		{
			Score: 0.8,
			Payload: map[string]*qdrant.Value{
				"chunk_id":           qdrant.NewValueString("solas-ii-1-3-2"),
				"text":               qdrant.NewValueString("Every ship shall carry..."),
				"text_for_embedding": qdrant.NewValueString("embedding text"),
				"document":           qdrant.NewValueString("SOLAS"),
				"page":               qdrant.NewValueInt(42),
			},
		},
	}

	results := convertPoints(points, 0.7)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "solas-ii-1-3-2", r.ChunkID)
	assert.Equal(t, "Every ship shall carry...", r.Text)
	assert.InDelta(t, 0.56, r.Score, 1e-6)
	assert.Equal(t, "SOLAS", r.Metadata["document"])
	assert.NotContains(t, r.Metadata, "text")
	assert.NotContains(t, r.Metadata, "text_for_embedding")
}
