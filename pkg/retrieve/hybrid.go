// Package retrieve implements three-way hybrid retrieval: dense vector
// search, lexical full-text search, and reference-graph lookups run
// concurrently, fused with Reciprocal Rank Fusion, weighted by source
// authority, and reordered by learned utilities.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seaworthyhq/bvrag/pkg/config"
	"github.com/seaworthyhq/bvrag/pkg/graph"
	"github.com/seaworthyhq/bvrag/pkg/lexical"
	"github.com/seaworthyhq/bvrag/pkg/utility"
	"github.com/seaworthyhq/bvrag/pkg/vector"
)

// ErrUnavailable is returned when every retrieval leg failed and there is
// nothing to rank.
var ErrUnavailable = errors.New("all retrieval legs failed")

const (
	rrfK = 60
	// expandedFusionScore is the fixed score given to chunks pulled in by
	// graph expansion, low enough to sit below any directly-retrieved chunk.
	expandedFusionScore = 0.001
	// maxRerank bounds how many candidates go through the utility reranker.
	maxRerank   = 20
	topKCeiling = 15
)

var (
	regulationNameRe = regexp.MustCompile(`SOLAS|LSA|MARPOL|FSS|MSC|STCW|COLREG`)
	shipParamRe      = regexp.MustCompile(`(?i)(\d+)\s*(米|m|吨|GT|DWT)`)
)

var comparisonTerms = []string{"区别", "不同", "比较", "对比", "difference", "compare", "versus", "vs"}

// GraphContext is structural metadata attached to a candidate for the
// generator's benefit. It never affects ranking.
type GraphContext struct {
	BreadcrumbPath      string `json:"breadcrumb_path,omitempty"`
	InterpretationCount int    `json:"interpretation_count"`
	HasAmendments       bool   `json:"has_amendments"`
}

// Candidate is one ranked chunk.
type Candidate struct {
	ChunkID       string
	Text          string
	Score         float64
	FusedScore    float64
	FinalScore    float64
	UtilityScore  float64
	Sources       []string
	Metadata      map[string]interface{}
	GraphExpanded bool
	GraphContext  *GraphContext
}

// DocID returns the underlying document identifier, stripping the pseudo-ID
// prefixes used for lexical and graph candidates.
func (c *Candidate) DocID() string {
	if v, ok := c.Metadata["doc_id"].(string); ok && v != "" {
		return v
	}
	id := c.ChunkID
	id = strings.TrimPrefix(id, "bm25__")
	id = strings.TrimPrefix(id, "graph__")
	return id
}

// Request carries one retrieval call.
type Request struct {
	// Query is the original utterance, used for routing and entity extraction.
	Query string
	// EnhancedQuery is what the dense and lexical legs actually search.
	EnhancedQuery string
	TopK          int
	Strategy      string
	Category      string
	// DocumentFilter, when set, overrides the document filter derived from
	// the query route. Used by the raw search endpoint.
	DocumentFilter string
}

// Result is a retrieval batch plus its observability data.
type Result struct {
	Candidates []Candidate
	Partial    bool
	Latencies  map[string]time.Duration
}

// Reranker reorders fused candidates; satisfied by *utility.Reranker.
type Reranker interface {
	Rerank(ctx context.Context, candidates []utility.Ranked, category string) []utility.Ranked
}

// Retriever fans a query out across the three backends.
type Retriever struct {
	vector     vector.Searcher
	lexical    lexical.Searcher
	graph      graph.Querier
	reranker   Reranker
	cfg        config.RetrievalConfig
	legTimeout time.Duration
}

func NewRetriever(v vector.Searcher, l lexical.Searcher, g graph.Querier, r Reranker, cfg config.RetrievalConfig, legTimeout time.Duration) *Retriever {
	return &Retriever{
		vector:     v,
		lexical:    l,
		graph:      g,
		reranker:   r,
		cfg:        cfg,
		legTimeout: legTimeout,
	}
}

// Retrieve runs the full pipeline: strategy selection, concurrent fan-out,
// RRF fusion, authority weighting, utility reranking, depth-1 graph
// expansion, and graph-context attachment.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	route := route(req.Query)
	strategy := req.Strategy
	switch strategy {
	case StrategyKeyword, StrategySemantic, StrategyHybrid:
	default:
		// Anything else (empty, auto, or a caller-specific label) defers
		// to the router's choice.
		strategy = route.Strategy
	}

	topK := r.effectiveTopK(req)
	oversample := topK * 2

	docFilter := route.DocumentFilter
	if req.DocumentFilter != "" {
		docFilter = req.DocumentFilter
	}

	var (
		mu         sync.Mutex
		legResults = map[string][]Candidate{}
		legErrs    = map[string]error{}
		latencies  = map[string]time.Duration{}
	)

	runLeg := func(name string, fn func(ctx context.Context) ([]Candidate, error)) func() error {
		return func() error {
			legCtx, cancel := context.WithTimeout(ctx, r.legTimeout)
			defer cancel()

			legStart := time.Now()
			candidates, err := fn(legCtx)

			mu.Lock()
			defer mu.Unlock()
			latencies[name] = time.Since(legStart)
			if err != nil {
				legErrs[name] = err
				slog.Warn("Retrieval leg failed", "leg", name, "error", err)
				return nil
			}
			legResults[name] = candidates
			return nil
		}
	}

	var g errgroup.Group
	legs := 0

	if strategy == StrategyHybrid || strategy == StrategySemantic {
		legs++
		g.Go(runLeg("vector", func(ctx context.Context) ([]Candidate, error) {
			return r.vectorLeg(ctx, req.EnhancedQuery, oversample, docFilter)
		}))
	}
	if strategy == StrategyHybrid || strategy == StrategyKeyword {
		legs++
		g.Go(runLeg("lexical", func(ctx context.Context) ([]Candidate, error) {
			return r.lexicalLeg(ctx, req.EnhancedQuery, oversample, docFilter)
		}))
	}
	if strategy == StrategyHybrid {
		legs++
		g.Go(runLeg("graph", func(ctx context.Context) ([]Candidate, error) {
			return r.graphLeg(ctx, route)
		}))
	}

	_ = g.Wait()

	if len(legErrs) == legs {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, firstError(legErrs))
	}

	fused := r.fuse(legResults)
	if len(fused) == 0 && len(legErrs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, firstError(legErrs))
	}
	r.applyAuthorityWeights(fused)

	final := r.rerank(ctx, fused, req.Category, topK)
	final = r.expandGraph(ctx, final, topK)
	r.attachGraphContext(ctx, final)

	latencies["total"] = time.Since(started)

	return &Result{
		Candidates: final,
		Partial:    len(legErrs) > 0,
		Latencies:  latencies,
	}, nil
}

// effectiveTopK enlarges top_k for multi-regulation and comparison queries,
// bounded by top_k+5 and an absolute ceiling.
func (r *Retriever) effectiveTopK(req Request) int {
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	regCount := len(regulationNameRe.FindAllString(req.EnhancedQuery, -1))

	delta := 0
	switch {
	case regCount >= 3:
		delta = 5
	case regCount == 2:
		delta = 3
	}
	if delta == 0 {
		queryLower := strings.ToLower(req.Query)
		if shipParamRe.MatchString(req.Query) || containsAny(queryLower, comparisonTerms) {
			delta = 5
		}
	}

	effective := topK + delta
	if effective > topKCeiling {
		effective = topKCeiling
	}
	if effective < topK {
		effective = topK
	}
	return effective
}

func (r *Retriever) vectorLeg(ctx context.Context, query string, topK int, docFilter string) ([]Candidate, error) {
	results, err := r.vector.Search(ctx, query, topK, vector.SearchOptions{DocumentFilter: docFilter})
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(results))
	for _, res := range results {
		candidates = append(candidates, Candidate{
			ChunkID:  res.ChunkID,
			Text:     res.Text,
			Score:    res.Score,
			Metadata: res.Metadata,
		})
	}
	return candidates, nil
}

func (r *Retriever) lexicalLeg(ctx context.Context, query string, topK int, docFilter string) ([]Candidate, error) {
	results, err := r.lexical.Search(ctx, query, topK, docFilter)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(results))
	for _, res := range results {
		text := truncateRunes(res.BodyText, 2000)
		candidates = append(candidates, Candidate{
			ChunkID: "bm25__" + res.DocID,
			Text:    text,
			Score:   res.Score,
			Metadata: map[string]interface{}{
				"doc_id":     res.DocID,
				"title":      res.Title,
				"breadcrumb": res.Breadcrumb,
				"url":        res.URL,
			},
		})
	}
	return candidates, nil
}

// graphLeg contributes structurally related pages: by concept when the router
// found one, otherwise interpretations and amendments of an exactly-named
// regulation.
func (r *Retriever) graphLeg(ctx context.Context, route Route) ([]Candidate, error) {
	switch {
	case route.Concept != "":
		nodes, err := r.graph.GetRelatedByConcept(ctx, route.Concept)
		if err != nil {
			return nil, err
		}
		candidates := make([]Candidate, 0, len(nodes))
		for _, n := range nodes {
			candidates = append(candidates, Candidate{
				ChunkID: "graph__" + n.DocID,
				Text:    n.Title,
				Metadata: map[string]interface{}{
					"doc_id":     n.DocID,
					"title":      n.Title,
					"breadcrumb": n.Breadcrumb,
					"url":        n.URL,
				},
			})
		}
		return candidates, nil

	case route.RegulationRef != "":
		matches, err := r.lexical.SearchByRegulationNumber(ctx, route.RegulationRef, 1)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, nil
		}
		target := matches[0].DocID

		interps, err := r.graph.GetInterpretations(ctx, target)
		if err != nil {
			return nil, err
		}
		amends, err := r.graph.GetAmendments(ctx, target)
		if err != nil {
			return nil, err
		}

		refs := append(interps, amends...)
		candidates := make([]Candidate, 0, len(refs))
		for _, ref := range refs {
			text := ref.AnchorText
			if text == "" {
				text = ref.Title
			}
			candidates = append(candidates, Candidate{
				ChunkID: "graph__" + ref.DocID,
				Text:    text,
				Metadata: map[string]interface{}{
					"doc_id":        ref.DocID,
					"title":         ref.Title,
					"url":           ref.URL,
					"relation_type": ref.RelationType,
				},
			})
		}
		return candidates, nil
	}

	return nil, nil
}

// fuse merges the legs with Reciprocal Rank Fusion. Ranks are 1-based; a
// chunk found by several legs accumulates their contributions.
func (r *Retriever) fuse(legs map[string][]Candidate) []Candidate {
	byID := map[string]*Candidate{}
	var order []string

	for _, leg := range []string{"vector", "lexical", "graph"} {
		for i, c := range legs[leg] {
			existing, ok := byID[c.ChunkID]
			if !ok {
				copied := c
				byID[c.ChunkID] = &copied
				order = append(order, c.ChunkID)
				existing = byID[c.ChunkID]
			}
			existing.Sources = append(existing.Sources, leg)
			existing.FusedScore += 1.0 / float64(rrfK+i+1)
		}
	}

	fused := make([]Candidate, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}
	return fused
}

// sourceTypeAuthority maps a source_type payload value onto the authority
// level it carries, for chunks ingested before authority_level was written.
var sourceTypeAuthority = map[string]string{
	"imo_rules": "convention",
	"bv_rules":  "classification_rule",
	"iacs_ur":   "iacs_ur",
	"iacs_ui":   "iacs_ui",
}

// applyAuthorityWeights discounts lower-authority sources. The weight is
// keyed by the chunk's authority_level payload field; chunks that only
// carry source_type are mapped through sourceTypeAuthority.
func (r *Retriever) applyAuthorityWeights(candidates []Candidate) {
	for i := range candidates {
		level, _ := candidates[i].Metadata["authority_level"].(string)
		if level == "" {
			sourceType, _ := candidates[i].Metadata["source_type"].(string)
			level = sourceTypeAuthority[sourceType]
		}
		weight, ok := r.cfg.AuthorityWeights[level]
		if !ok {
			weight = r.cfg.DefaultAuthority
		}
		candidates[i].FusedScore *= weight
	}
}

// rerank sorts by weighted fusion score, passes the head through the utility
// reranker, and truncates to topK.
func (r *Retriever) rerank(ctx context.Context, candidates []Candidate, category string, topK int) []Candidate {
	sortByFused(candidates)

	n := topK * 2
	if n > maxRerank {
		n = maxRerank
	}
	if n > len(candidates) {
		n = len(candidates)
	}

	head := make([]utility.Ranked, n)
	for i := 0; i < n; i++ {
		head[i] = utility.Ranked{ChunkID: candidates[i].ChunkID, FusionScore: candidates[i].FusedScore}
	}

	reranked := r.reranker.Rerank(ctx, head, category)

	byID := map[string]*Candidate{}
	for i := range candidates {
		byID[candidates[i].ChunkID] = &candidates[i]
	}

	out := make([]Candidate, 0, len(candidates))
	for _, ranked := range reranked {
		c := byID[ranked.ChunkID]
		c.UtilityScore = ranked.UtilityScore
		c.FinalScore = ranked.FinalScore
		out = append(out, *c)
	}
	out = append(out, candidates[n:]...)

	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// expandGraph follows outbound cross-references of the top-5 one hop out,
// pulling in referenced pages that are not already present.
func (r *Retriever) expandGraph(ctx context.Context, candidates []Candidate, topK int) []Candidate {
	present := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		present[c.DocID()] = struct{}{}
	}

	head := len(candidates)
	if head > 5 {
		head = 5
	}

	var expanded []Candidate
	for i := 0; i < head; i++ {
		refs, err := r.graph.GetCrossReferences(ctx, candidates[i].DocID())
		if err != nil || refs == nil {
			continue
		}
		for _, ref := range refs.References {
			if _, seen := present[ref.DocID]; seen {
				continue
			}
			present[ref.DocID] = struct{}{}

			title := ref.Title
			if title == "" {
				title = ref.AnchorText
			}
			if title == "" {
				continue
			}
			matches, err := r.lexical.Search(ctx, title, 1, "")
			if err != nil || len(matches) == 0 {
				continue
			}
			m := matches[0]
			text := truncateRunes(m.BodyText, 2000)
			expanded = append(expanded, Candidate{
				ChunkID:       "bm25__" + m.DocID,
				Text:          text,
				FusedScore:    expandedFusionScore,
				FinalScore:    expandedFusionScore,
				Sources:       []string{"graph_expansion"},
				GraphExpanded: true,
				Metadata: map[string]interface{}{
					"doc_id":        m.DocID,
					"title":         m.Title,
					"breadcrumb":    m.Breadcrumb,
					"url":           m.URL,
					"relation_type": ref.RelationType,
				},
			})
		}
	}

	return append(candidates, expanded...)
}

// attachGraphContext decorates each candidate with its place in the document
// tree. Failures leave the candidate undecorated.
func (r *Retriever) attachGraphContext(ctx context.Context, candidates []Candidate) {
	for i := range candidates {
		docID := candidates[i].DocID()
		if docID == "" {
			continue
		}

		gc := &GraphContext{}

		if chain, err := r.graph.GetParentChain(ctx, docID); err == nil {
			titles := make([]string, 0, len(chain))
			for _, n := range chain {
				if n.Title != "" {
					titles = append(titles, n.Title)
				}
			}
			gc.BreadcrumbPath = strings.Join(titles, " > ")
		}
		if interps, err := r.graph.GetInterpretations(ctx, docID); err == nil {
			gc.InterpretationCount = len(interps)
		}
		if amends, err := r.graph.GetAmendments(ctx, docID); err == nil {
			gc.HasAmendments = len(amends) > 0
		}

		candidates[i].GraphContext = gc
	}
}

func sortByFused(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].FusedScore > candidates[j].FusedScore
	})
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstError(errs map[string]error) error {
	for _, err := range errs {
		return err
	}
	return nil
}
