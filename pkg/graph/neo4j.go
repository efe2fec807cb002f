// Package graph answers structural questions about the regulation corpus:
// parent chains, child lists, cross-references, and concept links. The graph
// lives in Neo4j with Regulation nodes connected by CHILD_OF, REFERENCES,
// INTERPRETS, AMENDS, and HAS_CONCEPT relationships.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/seaworthyhq/bvrag/pkg/config"
)

// Node is a regulation page in the graph.
type Node struct {
	DocID      string
	Title      string
	Breadcrumb string
	URL        string
	PageType   string
	Depth      int
}

// Reference is one cross-reference edge with its provenance.
type Reference struct {
	DocID        string
	Title        string
	URL          string
	AnchorText   string
	RelationType string
}

// CrossReferences groups a page's inbound and outbound reference edges.
type CrossReferences struct {
	ReferencedBy []Reference
	References   []Reference
}

// Querier is the subset of Store the retriever depends on.
type Querier interface {
	GetParentChain(ctx context.Context, docID string) ([]Node, error)
	GetCrossReferences(ctx context.Context, docID string) (*CrossReferences, error)
	GetInterpretations(ctx context.Context, docID string) ([]Reference, error)
	GetAmendments(ctx context.Context, docID string) ([]Reference, error)
	GetRelatedByConcept(ctx context.Context, concept string) ([]Node, error)
}

// Store runs read-only Cypher queries against Neo4j.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewStore connects to Neo4j and verifies connectivity at boot.
func NewStore(ctx context.Context, cfg config.GraphConfig) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j URI is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j: %w", err)
	}
	return &Store{driver: driver, database: "neo4j"}, nil
}

// GetParentChain walks CHILD_OF edges from the page up to the document root,
// capped at 20 levels. The chain is returned root-first.
func (s *Store) GetParentChain(ctx context.Context, docID string) ([]Node, error) {
	const query = `
MATCH path = (start:Regulation {doc_id: $doc_id})-[:CHILD_OF*0..20]->(ancestor:Regulation)
WHERE NOT (ancestor)-[:CHILD_OF]->()
WITH nodes(path) AS chain
UNWIND range(0, size(chain)-1) AS i
WITH chain[i] AS n, size(chain)-1-i AS depth
RETURN n.doc_id AS doc_id, n.title AS title, n.breadcrumb AS breadcrumb,
       n.url AS url, coalesce(n.page_type, '') AS page_type, depth
ORDER BY depth ASC`

	return s.queryNodes(ctx, query, map[string]any{"doc_id": docID})
}

// GetChildren returns the direct children of a page, ordered by doc_id.
func (s *Store) GetChildren(ctx context.Context, docID string) ([]Node, error) {
	const query = `
MATCH (child:Regulation)-[:CHILD_OF]->(:Regulation {doc_id: $doc_id})
RETURN child.doc_id AS doc_id, child.title AS title,
       child.breadcrumb AS breadcrumb, child.url AS url,
       coalesce(child.page_type, '') AS page_type, 1 AS depth
ORDER BY doc_id`

	return s.queryNodes(ctx, query, map[string]any{"doc_id": docID})
}

// GetCrossReferences returns pages that reference this one and pages this one
// references, capped at 20 each to bound prompt growth downstream.
func (s *Store) GetCrossReferences(ctx context.Context, docID string) (*CrossReferences, error) {
	const inbound = `
MATCH (source:Regulation)-[r:REFERENCES|INTERPRETS|AMENDS]->(:Regulation {doc_id: $doc_id})
RETURN source.doc_id AS doc_id, coalesce(source.title, '') AS title,
       coalesce(source.url, '') AS url, coalesce(r.anchor_text, '') AS anchor_text,
       type(r) AS relation_type
LIMIT 20`
	const outbound = `
MATCH (:Regulation {doc_id: $doc_id})-[r:REFERENCES|INTERPRETS|AMENDS]->(target:Regulation)
RETURN target.doc_id AS doc_id, coalesce(target.title, '') AS title,
       coalesce(target.url, '') AS url, coalesce(r.anchor_text, '') AS anchor_text,
       type(r) AS relation_type
LIMIT 20`

	referencedBy, err := s.queryReferences(ctx, inbound, map[string]any{"doc_id": docID})
	if err != nil {
		return nil, err
	}
	references, err := s.queryReferences(ctx, outbound, map[string]any{"doc_id": docID})
	if err != nil {
		return nil, err
	}
	return &CrossReferences{ReferencedBy: referencedBy, References: references}, nil
}

// GetInterpretations returns unified interpretations and clarifications that
// target the given page.
func (s *Store) GetInterpretations(ctx context.Context, docID string) ([]Reference, error) {
	const query = `
MATCH (source:Regulation)-[r:INTERPRETS]->(:Regulation {doc_id: $doc_id})
RETURN source.doc_id AS doc_id, coalesce(source.title, '') AS title,
       coalesce(source.url, '') AS url, coalesce(r.anchor_text, '') AS anchor_text,
       type(r) AS relation_type`

	return s.queryReferences(ctx, query, map[string]any{"doc_id": docID})
}

// GetAmendments returns resolutions that amend the given page.
func (s *Store) GetAmendments(ctx context.Context, docID string) ([]Reference, error) {
	const query = `
MATCH (source:Regulation)-[r:AMENDS]->(:Regulation {doc_id: $doc_id})
RETURN source.doc_id AS doc_id, coalesce(source.title, '') AS title,
       coalesce(source.url, '') AS url, coalesce(r.anchor_text, '') AS anchor_text,
       type(r) AS relation_type`

	return s.queryReferences(ctx, query, map[string]any{"doc_id": docID})
}

// GetRelatedByConcept finds regulations tagged with a named concept, e.g.
// "lifeboat" or "oil discharge monitoring".
func (s *Store) GetRelatedByConcept(ctx context.Context, concept string) ([]Node, error) {
	const query = `
MATCH (n:Regulation)-[:HAS_CONCEPT]->(c:Concept)
WHERE toLower(c.name) = toLower($name)
RETURN n.doc_id AS doc_id, n.title AS title, n.breadcrumb AS breadcrumb,
       n.url AS url, coalesce(n.page_type, '') AS page_type, 0 AS depth
LIMIT 20`

	return s.queryNodes(ctx, query, map[string]any{"name": concept})
}

func (s *Store) queryNodes(ctx context.Context, query string, params map[string]any) ([]Node, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("graph query failed: %w", err)
	}

	nodes := make([]Node, 0, len(result.Records))
	for _, record := range result.Records {
		nodes = append(nodes, Node{
			DocID:      stringField(record, "doc_id"),
			Title:      stringField(record, "title"),
			Breadcrumb: stringField(record, "breadcrumb"),
			URL:        stringField(record, "url"),
			PageType:   stringField(record, "page_type"),
			Depth:      intField(record, "depth"),
		})
	}
	return nodes, nil
}

func (s *Store) queryReferences(ctx context.Context, query string, params map[string]any) ([]Reference, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("graph query failed: %w", err)
	}

	refs := make([]Reference, 0, len(result.Records))
	for _, record := range result.Records {
		refs = append(refs, Reference{
			DocID:        stringField(record, "doc_id"),
			Title:        stringField(record, "title"),
			URL:          stringField(record, "url"),
			AnchorText:   stringField(record, "anchor_text"),
			RelationType: stringField(record, "relation_type"),
		})
	}
	return refs, nil
}

func stringField(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intField(record *neo4j.Record, key string) int {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return int(n)
}

// Close shuts down the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
