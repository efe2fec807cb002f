// Package vector provides semantic search over the regulation chunk
// collections stored in Qdrant. Queries are embedded on the fly and results
// carry the chunk payload plus an authority-weighted similarity score.
package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/seaworthyhq/bvrag/pkg/config"
	"github.com/seaworthyhq/bvrag/pkg/embedder"
)

// ErrEmbedding marks a search that failed before reaching the index because
// the query could not be embedded. Callers treat it differently from an
// index outage when reporting partial retrieval.
var ErrEmbedding = errors.New("query embedding failed")

// collectionWeights maps each searchable collection to its authority weight.
// Scores from lower-authority collections are discounted before merging.
var collectionWeights = map[string]float64{
	"imo_regulations":  1.0,
	"bv_rules":         0.7,
	"iacs_resolutions": 0.85,
}

// Result is a single scored chunk returned from the vector index.
type Result struct {
	ChunkID  string
	Text     string
	Score    float64
	Metadata map[string]interface{}
}

// SearchOptions narrows a search to particular documents or collections.
// Zero values leave the corresponding dimension unfiltered.
type SearchOptions struct {
	DocumentFilter   string
	CollectionFilter string
	SourceTypeFilter string
	ChunkTypeFilter  string
	Collections      []string
}

// Searcher is the subset of Store the retriever depends on.
type Searcher interface {
	Search(ctx context.Context, queryText string, topK int, opts SearchOptions) ([]Result, error)
}

// Store performs embedded-query search against Qdrant.
type Store struct {
	client            *qdrant.Client
	embedder          embedder.Embedder
	defaultCollection string
	embedTimeout      time.Duration
}

// NewStore connects to Qdrant at the configured URL. The URL may carry an
// explicit port; TLS is inferred from the scheme.
func NewStore(cfg config.VectorConfig, emb embedder.Embedder, embedTimeout time.Duration) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant URL is required")
	}

	host, port, useTLS, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant URL %q: %w", cfg.URL, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &Store{
		client:            client,
		embedder:          emb,
		defaultCollection: cfg.Collection,
		embedTimeout:      embedTimeout,
	}, nil
}

func parseEndpoint(raw string) (host string, port int, useTLS bool, err error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()
	port = 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, err
		}
	}
	return host, port, useTLS, nil
}

// Search embeds queryText and queries each target collection, merging results
// by authority-weighted score. An embedding failure returns ErrEmbedding; a
// collection that cannot be reached is skipped so one degraded index does not
// sink the whole leg, but if every collection fails the error is surfaced.
func (s *Store) Search(ctx context.Context, queryText string, topK int, opts SearchOptions) ([]Result, error) {
	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	vectors, err := s.embedder.Embed(embedCtx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: embedder returned no vectors", ErrEmbedding)
	}
	queryVector := vectors[0]

	filter := buildFilter(opts)

	targets := opts.Collections
	if len(targets) == 0 {
		targets = []string{s.defaultCollection}
	}

	var (
		merged  []Result
		lastErr error
		queried int
	)
	for _, collection := range targets {
		exists, err := s.client.CollectionExists(ctx, collection)
		if err != nil {
			lastErr = err
			slog.Warn("Qdrant collection check failed", "collection", collection, "error", err)
			continue
		}
		if !exists {
			continue
		}

		points, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(queryVector...),
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			lastErr = err
			slog.Warn("Qdrant query failed", "collection", collection, "error", err)
			continue
		}
		queried++

		weight := 1.0
		if w, ok := collectionWeights[collection]; ok {
			weight = w
		}
		merged = append(merged, convertPoints(points, weight)...)
	}

	if queried == 0 && lastErr != nil {
		return nil, fmt.Errorf("vector search failed: %w", lastErr)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

func buildFilter(opts SearchOptions) *qdrant.Filter {
	var conditions []*qdrant.Condition
	if opts.DocumentFilter != "" {
		conditions = append(conditions, qdrant.NewMatch("document", opts.DocumentFilter))
	}
	if opts.CollectionFilter != "" {
		conditions = append(conditions, qdrant.NewMatch("collection", opts.CollectionFilter))
	}
	if opts.SourceTypeFilter != "" {
		conditions = append(conditions, qdrant.NewMatch("source_type", opts.SourceTypeFilter))
	}
	if opts.ChunkTypeFilter != "" {
		conditions = append(conditions, qdrant.NewMatch("chunk_type", opts.ChunkTypeFilter))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func convertPoints(points []*qdrant.ScoredPoint, authorityWeight float64) []Result {
	results := make([]Result, 0, len(points))
	for _, point := range points {
		metadata := make(map[string]interface{})
		for key, value := range point.Payload {
			if key == "text" || key == "text_for_embedding" {
				continue
			}
			metadata[key] = convertValue(value)
		}

		chunkID := ""
		if v, ok := metadata["chunk_id"].(string); ok {
			chunkID = v
		}

		text := ""
		if tv, ok := point.Payload["text"]; ok {
			if sv, ok := tv.Kind.(*qdrant.Value_StringValue); ok {
				text = sv.StringValue
			}
		}

		results = append(results, Result{
			ChunkID:  chunkID,
			Text:     text,
			Score:    float64(point.Score) * authorityWeight,
			Metadata: metadata,
		})
	}
	return results
}

func convertValue(value *qdrant.Value) interface{} {
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]interface{}, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = convertValue(item)
		}
		return list
	default:
		return value
	}
}

// Info reports point counts for the default collection, used by the admin
// stats endpoint.
func (s *Store) Info(ctx context.Context) (map[string]interface{}, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.defaultCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collection info: %w", err)
	}
	out := map[string]interface{}{
		"status": info.GetStatus().String(),
	}
	if info.PointsCount != nil {
		out["points_count"] = *info.PointsCount
	}
	return out, nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}
