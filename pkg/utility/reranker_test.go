package utility

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	utilities map[string]float64
	err       error
}

func (f *fakeReader) BatchGet(_ context.Context, _ []string, _ string) (map[string]float64, error) {
	return f.utilities, f.err
}

func TestRerankBlendsUtility(t *testing.T) {
	reader := &fakeReader{utilities: map[string]float64{
		"a": 0.9,
		"b": 0.1,
	}}
	r := NewReranker(reader, 0.3, 0.1)

	candidates := []Ranked{
		{ChunkID: "b", FusionScore: 0.05},
		{ChunkID: "a", FusionScore: 0.04},
	}

	out := r.Rerank(context.Background(), candidates, CategoryLifesaving)
	require.Len(t, out, 2)

	// b: 0.7*0.5 + 0.3*0.1 = 0.38; a: 0.7*0.4 + 0.3*0.9 = 0.55
	assert.Equal(t, "a", out[0].ChunkID)
	assert.InDelta(t, 0.55, out[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.38, out[1].FinalScore, 1e-9)
}

func TestRerankUnseenChunkIsNeutral(t *testing.T) {
	r := NewReranker(&fakeReader{utilities: map[string]float64{}}, 0.3, 0.1)

	out := r.Rerank(context.Background(), []Ranked{{ChunkID: "x", FusionScore: 0.1}}, CategoryGeneral)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.5, out[0].UtilityScore, 1e-9)
	// 0.7*1.0 + 0.3*0.5
	assert.InDelta(t, 0.85, out[0].FinalScore, 1e-9)
}

func TestRerankNormalizationClipsAtCeiling(t *testing.T) {
	r := NewReranker(&fakeReader{utilities: map[string]float64{}}, 0.3, 0.1)

	out := r.Rerank(context.Background(), []Ranked{{ChunkID: "x", FusionScore: 5.0}}, CategoryGeneral)
	assert.InDelta(t, 0.85, out[0].FinalScore, 1e-9)
}

func TestRerankTiesKeepFusionOrder(t *testing.T) {
	r := NewReranker(&fakeReader{utilities: map[string]float64{}}, 0.3, 0.1)

	candidates := []Ranked{
		{ChunkID: "first", FusionScore: 0.05},
		{ChunkID: "second", FusionScore: 0.05},
	}
	out := r.Rerank(context.Background(), candidates, CategoryGeneral)
	assert.Equal(t, "first", out[0].ChunkID)
	assert.Equal(t, "second", out[1].ChunkID)
}

func TestRerankStoreFailureKeepsFusionOrder(t *testing.T) {
	r := NewReranker(&fakeReader{err: errors.New("db down")}, 0.3, 0.1)

	candidates := []Ranked{
		{ChunkID: "top", FusionScore: 0.08},
		{ChunkID: "bottom", FusionScore: 0.02},
	}
	out := r.Rerank(context.Background(), candidates, CategoryFireSafety)
	require.Len(t, out, 2)
	assert.Equal(t, "top", out[0].ChunkID)
}

func TestReward(t *testing.T) {
	tests := []struct {
		cited      bool
		confidence string
		want       float64
	}{
		{true, ConfidenceHigh, 1.0},
		{true, ConfidenceMedium, 0.5},
		{true, ConfidenceLow, 0.0},
		{false, ConfidenceHigh, -0.1},
		{false, ConfidenceMedium, 0.0},
		{false, ConfidenceLow, -0.3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reward(tt.cited, tt.confidence))
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"fire pump capacity", CategoryFireSafety},
		{"救生筏数量", CategoryLifesaving},
		{"MARPOL排油监控", CategoryPollution},
		{"damage stability criteria", CategoryStability},
		{"watertight bulkhead spacing", CategoryStructure},
		{"steering gear test", CategoryMachinery},
		{"radar installation", CategoryNavigation},
		{"annual survey scope", CategorySurvey},
		{"hello", CategoryGeneral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.query), tt.query)
	}
}
