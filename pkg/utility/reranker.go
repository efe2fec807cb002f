package utility

import (
	"context"
	"log/slog"
	"sort"
)

// Ranked is one candidate passing through the reranker. FusionScore is the
// authority-weighted RRF score from retrieval; UtilityScore and FinalScore
// are filled in by Rerank.
type Ranked struct {
	ChunkID      string
	FusionScore  float64
	UtilityScore float64
	FinalScore   float64
}

// Reranker blends learned utilities into the fusion ranking.
type Reranker struct {
	reader Reader
	// alpha is the utility weight in [0, 0.5]; the rest goes to fusion.
	alpha float64
	// normCeiling is the fusion score treated as 1.0 after normalisation.
	normCeiling float64
}

func NewReranker(reader Reader, alpha, normCeiling float64) *Reranker {
	return &Reranker{reader: reader, alpha: alpha, normCeiling: normCeiling}
}

// Rerank reorders candidates by (1-α)·normalised_fusion + α·utility. Chunks
// with no learned utility sit at the neutral 0.5. The sort is stable, so ties
// keep their original fusion order. A store failure degrades to the fusion
// order rather than failing the query.
func (r *Reranker) Rerank(ctx context.Context, candidates []Ranked, category string) []Ranked {
	if len(candidates) == 0 {
		return candidates
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ChunkID)
	}

	utilities, err := r.reader.BatchGet(ctx, ids, category)
	if err != nil {
		slog.Warn("Utility lookup failed, keeping fusion order", "category", category, "error", err)
		utilities = map[string]float64{}
	}

	out := make([]Ranked, len(candidates))
	for i, c := range candidates {
		utility, ok := utilities[c.ChunkID]
		if !ok {
			utility = 0.5
		}

		norm := c.FusionScore / r.normCeiling
		if norm > 1.0 {
			norm = 1.0
		}

		c.UtilityScore = utility
		c.FinalScore = (1-r.alpha)*norm + r.alpha*utility
		out[i] = c
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinalScore > out[j].FinalScore
	})
	return out
}
