package retrieve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaworthyhq/bvrag/pkg/classify"
	"github.com/seaworthyhq/bvrag/pkg/config"
	"github.com/seaworthyhq/bvrag/pkg/graph"
	"github.com/seaworthyhq/bvrag/pkg/lexical"
	"github.com/seaworthyhq/bvrag/pkg/utility"
	"github.com/seaworthyhq/bvrag/pkg/vector"
)

type fakeVector struct {
	results []vector.Result
	err     error
}

func (f *fakeVector) Search(_ context.Context, _ string, _ int, _ vector.SearchOptions) ([]vector.Result, error) {
	return f.results, f.err
}

type fakeLexical struct {
	results   []lexical.Result
	byRegName []lexical.Result
	err       error
}

func (f *fakeLexical) Search(_ context.Context, _ string, _ int, _ string) ([]lexical.Result, error) {
	return f.results, f.err
}

func (f *fakeLexical) SearchByRegulationNumber(_ context.Context, _ string, _ int) ([]lexical.Result, error) {
	return f.byRegName, f.err
}

type fakeGraph struct {
	crossRefs *graph.CrossReferences
	err       error
}

func (f *fakeGraph) GetParentChain(_ context.Context, _ string) ([]graph.Node, error) {
	return []graph.Node{{Title: "SOLAS"}, {Title: "Chapter III"}}, f.err
}

func (f *fakeGraph) GetCrossReferences(_ context.Context, _ string) (*graph.CrossReferences, error) {
	return f.crossRefs, f.err
}

func (f *fakeGraph) GetInterpretations(_ context.Context, _ string) ([]graph.Reference, error) {
	return nil, f.err
}

func (f *fakeGraph) GetAmendments(_ context.Context, _ string) ([]graph.Reference, error) {
	return nil, f.err
}

func (f *fakeGraph) GetRelatedByConcept(_ context.Context, _ string) ([]graph.Node, error) {
	return nil, f.err
}

type passthroughReranker struct{}

func (passthroughReranker) Rerank(_ context.Context, candidates []utility.Ranked, _ string) []utility.Ranked {
	for i := range candidates {
		candidates[i].FinalScore = candidates[i].FusionScore
		candidates[i].UtilityScore = 0.5
	}
	return candidates
}

func testConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		UtilityAlpha:   0.3,
		RRFNormCeiling: 0.1,
		AuthorityWeights: map[string]float64{
			"convention":    1.0,
			"iacs_ur":       0.85,
			"guidance_note": 0.5,
		},
		DefaultAuthority: 0.6,
	}
}

func newTestRetriever(v vector.Searcher, l lexical.Searcher, g graph.Querier) *Retriever {
	return NewRetriever(v, l, g, passthroughReranker{}, testConfig(), time.Second)
}

func TestRouteExactReferenceSelectsKeyword(t *testing.T) {
	r := route("What does SOLAS regulation II-1/3-2 require?")
	assert.Equal(t, StrategyKeyword, r.Strategy)
	assert.NotEmpty(t, r.RegulationRef)
	assert.Equal(t, "SOLAS", r.DocumentFilter)
}

func TestRouteRelationWordingForcesHybrid(t *testing.T) {
	r := route("which resolutions amend SOLAS chapter III")
	assert.Equal(t, StrategyHybrid, r.Strategy)
}

func TestRouteDefaultsToHybrid(t *testing.T) {
	r := route("lifeboat capacity")
	assert.Equal(t, StrategyHybrid, r.Strategy)
	assert.Empty(t, r.RegulationRef)
}

func TestRetrieveFusesLegs(t *testing.T) {
	v := &fakeVector{results: []vector.Result{
		{ChunkID: "chunk-a", Text: "text a", Score: 0.9, Metadata: map[string]interface{}{"doc_id": "a", "authority_level": "convention"}},
		{ChunkID: "chunk-b", Text: "text b", Score: 0.8, Metadata: map[string]interface{}{"doc_id": "b", "authority_level": "convention"}},
	}}
	l := &fakeLexical{results: []lexical.Result{
		{DocID: "c", Title: "Reg C", BodyText: "body c", Score: 1.2},
	}}
	g := &fakeGraph{}

	r := newTestRetriever(v, l, g)
	res, err := r.Retrieve(context.Background(), Request{
		Query:         "lifeboat stowage",
		EnhancedQuery: "lifeboat stowage | survival craft",
		TopK:          10,
		Strategy:      StrategyHybrid,
		Category:      utility.CategoryLifesaving,
	})
	require.NoError(t, err)
	assert.False(t, res.Partial)
	require.Len(t, res.Candidates, 3)

	// First-ranked vector candidate gets 1/61 * 1.0; the lexical one gets
	// 1/61 * 0.6 (no authority metadata).
	assert.Equal(t, "chunk-a", res.Candidates[0].ChunkID)
	assert.InDelta(t, 1.0/61.0, res.Candidates[0].FusedScore, 1e-9)
	assert.Contains(t, res.Candidates[0].Sources, "vector")

	assert.Contains(t, res.Latencies, "vector")
	assert.Contains(t, res.Latencies, "lexical")
	assert.Contains(t, res.Latencies, "total")
}

func TestRetrieveAcceptsClassifierStrategies(t *testing.T) {
	// The classifier's strategy vocabulary (broad/precise/normal) is not the
	// retriever's; any label outside keyword/semantic/hybrid must fall back
	// to the router's choice instead of launching zero legs.
	v := &fakeVector{results: []vector.Result{
		{ChunkID: "chunk-a", Text: "text a", Score: 0.9, Metadata: map[string]interface{}{"doc_id": "a"}},
	}}
	l := &fakeLexical{results: []lexical.Result{
		{DocID: "b", Title: "Reg B", BodyText: "body b", Score: 1.0},
	}}
	r := newTestRetriever(v, l, &fakeGraph{})

	queries := []string{
		"救生筏需要配备多少个",                  // applicability → "broad"
		"最小救生艇登乘高度是多少",                // specification → "precise"
		"how to test the emergency generator", // procedure → "normal"
	}
	for _, q := range queries {
		c := classify.Classify(q)
		res, err := r.Retrieve(context.Background(), Request{
			Query:         q,
			EnhancedQuery: q,
			TopK:          5,
			Strategy:      c.Strategy,
		})
		require.NoError(t, err, "strategy %q", c.Strategy)
		assert.False(t, res.Partial, "strategy %q", c.Strategy)
		assert.NotEmpty(t, res.Candidates, "strategy %q", c.Strategy)
	}
}

func TestAuthorityWeightingPrefersConventions(t *testing.T) {
	// The IACS UR chunk ranks first in the vector leg, but the convention's
	// 1.0 authority weight overtakes the UR's 0.85 after fusion. The UR chunk
	// only carries source_type, exercising the level fallback.
	v := &fakeVector{results: []vector.Result{
		{ChunkID: "chunk-ur", Text: "ur text", Score: 0.9, Metadata: map[string]interface{}{"doc_id": "ur", "source_type": "iacs_ur"}},
		{ChunkID: "chunk-conv", Text: "conv text", Score: 0.89, Metadata: map[string]interface{}{"doc_id": "conv", "authority_level": "convention"}},
	}}

	r := newTestRetriever(v, &fakeLexical{}, &fakeGraph{})
	res, err := r.Retrieve(context.Background(), Request{
		Query:         "q",
		EnhancedQuery: "q",
		TopK:          5,
		Strategy:      StrategySemantic,
	})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)

	assert.Equal(t, "chunk-conv", res.Candidates[0].ChunkID)
	assert.InDelta(t, 1.0/62.0, res.Candidates[0].FusedScore, 1e-9)
	assert.Equal(t, "chunk-ur", res.Candidates[1].ChunkID)
	assert.InDelta(t, 1.0/61.0*0.85, res.Candidates[1].FusedScore, 1e-9)
}

func TestRetrieveDeduplicatesAcrossLegs(t *testing.T) {
	v := &fakeVector{results: []vector.Result{
		{ChunkID: "bm25__x", Text: "x", Score: 0.9, Metadata: map[string]interface{}{"doc_id": "x"}},
	}}
	l := &fakeLexical{results: []lexical.Result{
		{DocID: "x", Title: "Reg X", BodyText: "x body", Score: 1.0},
	}}

	r := newTestRetriever(v, l, &fakeGraph{})
	res, err := r.Retrieve(context.Background(), Request{
		Query:         "q",
		EnhancedQuery: "q",
		TopK:          5,
		Strategy:      StrategyHybrid,
	})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)

	c := res.Candidates[0]
	assert.ElementsMatch(t, []string{"vector", "lexical"}, c.Sources)
	// Two top-rank contributions before the 0.6 default authority weight.
	assert.InDelta(t, 2.0/61.0*0.6, c.FusedScore, 1e-9)
}

func TestRetrievePartialOnSingleLegFailure(t *testing.T) {
	v := &fakeVector{err: errors.New("qdrant down")}
	l := &fakeLexical{results: []lexical.Result{
		{DocID: "y", Title: "Reg Y", BodyText: "y body", Score: 1.0},
	}}

	r := newTestRetriever(v, l, &fakeGraph{})
	res, err := r.Retrieve(context.Background(), Request{
		Query:         "q",
		EnhancedQuery: "q",
		TopK:          5,
		Strategy:      StrategyHybrid,
	})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "bm25__y", res.Candidates[0].ChunkID)
}

func TestRetrieveAllLegsFailed(t *testing.T) {
	v := &fakeVector{err: errors.New("qdrant down")}
	l := &fakeLexical{err: errors.New("postgres down")}
	g := &fakeGraph{err: errors.New("neo4j down")}

	r := newTestRetriever(v, l, g)
	_, err := r.Retrieve(context.Background(), Request{
		Query:         "q",
		EnhancedQuery: "q",
		TopK:          5,
		Strategy:      StrategyHybrid,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRetrieveGraphExpansion(t *testing.T) {
	v := &fakeVector{results: []vector.Result{
		{ChunkID: "chunk-a", Text: "a", Score: 0.9, Metadata: map[string]interface{}{"doc_id": "a"}},
	}}
	l := &fakeLexical{results: []lexical.Result{
		{DocID: "target", Title: "Referenced Reg", BodyText: "target body", Score: 0.4},
	}}
	g := &fakeGraph{crossRefs: &graph.CrossReferences{
		References: []graph.Reference{
			{DocID: "ref-1", Title: "Referenced Reg", RelationType: "REFERENCES"},
		},
	}}

	r := newTestRetriever(v, l, g)
	res, err := r.Retrieve(context.Background(), Request{
		Query:         "q",
		EnhancedQuery: "q",
		TopK:          5,
		Strategy:      StrategySemantic,
	})
	require.NoError(t, err)

	var expanded *Candidate
	for i := range res.Candidates {
		if res.Candidates[i].GraphExpanded {
			expanded = &res.Candidates[i]
		}
	}
	require.NotNil(t, expanded, "expected a graph-expanded candidate")
	assert.Equal(t, expandedFusionScore, expanded.FusedScore)
	assert.Equal(t, []string{"graph_expansion"}, expanded.Sources)
}

func TestRetrieveAttachesGraphContext(t *testing.T) {
	v := &fakeVector{results: []vector.Result{
		{ChunkID: "chunk-a", Text: "a", Score: 0.9, Metadata: map[string]interface{}{"doc_id": "a"}},
	}}

	r := newTestRetriever(v, &fakeLexical{}, &fakeGraph{})
	res, err := r.Retrieve(context.Background(), Request{
		Query:         "q",
		EnhancedQuery: "q",
		TopK:          5,
		Strategy:      StrategySemantic,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	require.NotNil(t, res.Candidates[0].GraphContext)
	assert.Equal(t, "SOLAS > Chapter III", res.Candidates[0].GraphContext.BreadcrumbPath)
}

func TestEffectiveTopK(t *testing.T) {
	r := newTestRetriever(&fakeVector{}, &fakeLexical{}, &fakeGraph{})

	// Three regulation names add 5.
	assert.Equal(t, 15, r.effectiveTopK(Request{
		Query:         "q",
		EnhancedQuery: "q | SOLAS III LSA Code MARPOL",
		TopK:          10,
	}))

	// Two add 3.
	assert.Equal(t, 8, r.effectiveTopK(Request{
		Query:         "q",
		EnhancedQuery: "q | SOLAS III LSA Code",
		TopK:          5,
	}))

	// Ship parameters add 5 but never past the ceiling.
	assert.Equal(t, 15, r.effectiveTopK(Request{
		Query:         "90米货船",
		EnhancedQuery: "90米货船",
		TopK:          12,
	}))

	// Plain queries keep their top_k.
	assert.Equal(t, 8, r.effectiveTopK(Request{
		Query:         "hello",
		EnhancedQuery: "hello",
		TopK:          8,
	}))
}
