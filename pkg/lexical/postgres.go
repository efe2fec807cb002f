// Package lexical provides full-text search over the regulations table in
// PostgreSQL. Ranking uses ts_rank_cd with cover-density normalization so
// short regulation paragraphs are not drowned out by long annexes.
package lexical

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Result is one ranked row from the regulations table.
type Result struct {
	DocID      string
	Title      string
	Breadcrumb string
	URL        string
	BodyText   string
	Score      float64
}

// Regulation is the full stored record for a single regulation page.
type Regulation struct {
	DocID      string
	URL        string
	Title      string
	Breadcrumb string
	Collection string
	Document   string
	Chapter    string
	Part       string
	Regulation string
	Paragraph  string
	BodyText   string
	PageType   string
	Version    string
	ParentID   string
}

// Searcher is the subset of Store the retriever depends on.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, documentFilter string) ([]Result, error)
	SearchByRegulationNumber(ctx context.Context, regNumber string, topK int) ([]Result, error)
}

// Store runs lexical queries against a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool for the given DSN and verifies it with a
// ping so misconfiguration fails at boot rather than on the first query.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreFromPool wraps an existing pool. Used by tests and by callers that
// share one pool across stores.
func NewStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool so sibling stores can share the
// connection budget.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

const searchSQL = `
SELECT doc_id, title, breadcrumb, url, body_text,
       ts_rank_cd(search_vector, plainto_tsquery('english', $1), 32) AS score
FROM regulations
WHERE search_vector @@ plainto_tsquery('english', $1)
  AND ($2::text = '' OR document = $2)
ORDER BY score DESC
LIMIT $3`

// Search runs a ranked full-text query. An empty documentFilter searches all
// documents.
func (s *Store) Search(ctx context.Context, query string, topK int, documentFilter string) ([]Result, error) {
	rows, err := s.pool.Query(ctx, searchSQL, query, documentFilter, topK)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer rows.Close()

	return scanResults(rows, true)
}

const regNumberSQL = `
SELECT doc_id, title, breadcrumb, url, body_text
FROM regulations
WHERE regulation ILIKE $1 OR breadcrumb ILIKE $1
LIMIT $2`

// SearchByRegulationNumber looks up pages whose regulation field or
// breadcrumb mentions the given reference, e.g. "II-1/3-2" or "Regulation 19".
func (s *Store) SearchByRegulationNumber(ctx context.Context, regNumber string, topK int) ([]Result, error) {
	pattern := "%" + regNumber + "%"
	rows, err := s.pool.Query(ctx, regNumberSQL, pattern, topK)
	if err != nil {
		return nil, fmt.Errorf("regulation number search failed: %w", err)
	}
	defer rows.Close()

	return scanResults(rows, false)
}

func scanResults(rows pgx.Rows, withScore bool) ([]Result, error) {
	var results []Result
	for rows.Next() {
		var r Result
		var err error
		if withScore {
			err = rows.Scan(&r.DocID, &r.Title, &r.Breadcrumb, &r.URL, &r.BodyText, &r.Score)
		} else {
			err = rows.Scan(&r.DocID, &r.Title, &r.Breadcrumb, &r.URL, &r.BodyText)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search rows iteration failed: %w", err)
	}
	return results, nil
}

const getRegulationSQL = `
SELECT doc_id, url, title, breadcrumb, collection, document,
       chapter, part, regulation, paragraph, body_text,
       page_type, version, parent_doc_id
FROM regulations
WHERE doc_id = $1`

// GetRegulation fetches a single regulation page by doc_id. Returns
// pgx.ErrNoRows wrapped when the page does not exist.
func (s *Store) GetRegulation(ctx context.Context, docID string) (*Regulation, error) {
	var reg Regulation
	err := s.pool.QueryRow(ctx, getRegulationSQL, docID).Scan(
		&reg.DocID, &reg.URL, &reg.Title, &reg.Breadcrumb, &reg.Collection,
		&reg.Document, &reg.Chapter, &reg.Part, &reg.Regulation, &reg.Paragraph,
		&reg.BodyText, &reg.PageType, &reg.Version, &reg.ParentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch regulation %s: %w", docID, err)
	}
	return &reg, nil
}

// Stats reports corpus-level counts for the admin endpoint.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	queries := map[string]string{
		"total_regulations":      "SELECT COUNT(*) FROM regulations",
		"total_chunks":           "SELECT COUNT(*) FROM chunks",
		"total_cross_references": "SELECT COUNT(*) FROM cross_references",
	}
	for key, q := range queries {
		var count int64
		if err := s.pool.QueryRow(ctx, q).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", key, err)
		}
		stats[key] = count
	}
	return stats, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
