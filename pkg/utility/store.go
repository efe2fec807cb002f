// Package utility implements a lightweight form of runtime learning for
// retrieval: per-(chunk, category) utility scores that rise when a chunk is
// cited in a confident answer and fall when it keeps getting retrieved but
// never used. Scores live in PostgreSQL and are blended into the fusion
// ranking by the reranker.
package utility

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Confidence labels attached to generated answers.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// CategoryStats summarises learned utilities for one category.
type CategoryStats struct {
	Category    string  `json:"category"`
	TotalChunks int64   `json:"total_chunks"`
	AvgUtility  float64 `json:"avg_utility"`
	AvgUses     float64 `json:"avg_uses"`
	HighUtility int64   `json:"high_utility"`
	LowUtility  int64   `json:"low_utility"`
}

// Reader is the read side of the store, all the reranker needs.
type Reader interface {
	BatchGet(ctx context.Context, chunkIDs []string, category string) (map[string]float64, error)
}

// Store persists utility scores.
type Store struct {
	pool         *pgxpool.Pool
	learningRate float64
}

// NewStore wraps an existing pool. The pool is shared with the lexical store
// since both talk to the same database.
func NewStore(pool *pgxpool.Pool, learningRate float64) *Store {
	return &Store{pool: pool, learningRate: learningRate}
}

const batchGetSQL = `
SELECT chunk_id, utility_score
FROM chunk_utilities
WHERE chunk_id = ANY($1) AND query_category = $2`

// BatchGet fetches utilities for the given chunks in one round trip. Chunks
// with no row are simply absent from the map; callers treat them as 0.5.
func (s *Store) BatchGet(ctx context.Context, chunkIDs []string, category string) (map[string]float64, error) {
	if len(chunkIDs) == 0 {
		return map[string]float64{}, nil
	}

	rows, err := s.pool.Query(ctx, batchGetSQL, chunkIDs, category)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch utilities: %w", err)
	}
	defer rows.Close()

	utilities := make(map[string]float64, len(chunkIDs))
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan utility row: %w", err)
		}
		utilities[id] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("utility rows iteration failed: %w", err)
	}
	return utilities, nil
}

// reward returns the EMA reward for one chunk given its citation status and
// the answer's confidence.
func reward(cited bool, confidence string) float64 {
	switch confidence {
	case ConfidenceHigh:
		if cited {
			return 1.0
		}
		return -0.1
	case ConfidenceMedium:
		if cited {
			return 0.5
		}
		return 0.0
	default:
		if cited {
			return 0.0
		}
		return -0.3
	}
}

const upsertSQL = `
INSERT INTO chunk_utilities (chunk_id, query_category, utility_score, use_count, success_count, last_used)
VALUES ($1, $2, $3, 1, $4, NOW())
ON CONFLICT (chunk_id, query_category)
DO UPDATE SET
    utility_score = GREATEST(0.0, LEAST(1.0,
        (1 - $5::float8) * chunk_utilities.utility_score + $5::float8 * $6::float8
    )),
    use_count = chunk_utilities.use_count + 1,
    success_count = chunk_utilities.success_count + $4,
    last_used = NOW()`

// Update applies the post-answer reward pass: one row update per retrieved
// chunk. When the answer was a low-confidence refusal, every chunk receives
// -0.5 regardless of citation. New rows start from 0.5 nudged by the first
// reward; existing rows move by EMA and stay clamped in [0, 1].
func (s *Store) Update(ctx context.Context, chunkIDs []string, cited map[string]bool, confidence string, refusal bool, category string) error {
	var firstErr error
	seen := make(map[string]struct{}, len(chunkIDs))

	for _, id := range chunkIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		r := reward(cited[id], confidence)
		if refusal && confidence == ConfidenceLow {
			r = -0.5
		}

		success := 0
		if r > 0 {
			success = 1
		}
		initial := clamp01(0.5 + r*s.learningRate)

		_, err := s.pool.Exec(ctx, upsertSQL, id, category, initial, success, s.learningRate, r)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to update utility for %s: %w", id, err)
		}
	}
	return firstErr
}

const statsSQL = `
SELECT query_category,
       COUNT(*),
       COALESCE(AVG(utility_score), 0),
       COALESCE(AVG(use_count), 0),
       COUNT(*) FILTER (WHERE utility_score > 0.7),
       COUNT(*) FILTER (WHERE utility_score < 0.3)
FROM chunk_utilities
GROUP BY query_category
ORDER BY COUNT(*) DESC`

// Stats reports per-category learning progress for the admin endpoint.
func (s *Store) Stats(ctx context.Context) ([]CategoryStats, error) {
	rows, err := s.pool.Query(ctx, statsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch utility stats: %w", err)
	}
	defer rows.Close()

	var stats []CategoryStats
	for rows.Next() {
		var cs CategoryStats
		if err := rows.Scan(&cs.Category, &cs.TotalChunks, &cs.AvgUtility, &cs.AvgUses, &cs.HighUtility, &cs.LowUtility); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats = append(stats, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats rows iteration failed: %w", err)
	}
	return stats, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
