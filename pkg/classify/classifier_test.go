package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantIntent string
		wantTopK   int
		wantModel  string
	}{
		{
			name:       "applicability in Chinese",
			query:      "客船是否需要配备救生筏",
			wantIntent: IntentApplicability,
			wantTopK:   12,
			wantModel:  ModelPrimary,
		},
		{
			name:       "applicability in English",
			query:      "Do I need an oil discharge monitoring system?",
			wantIntent: IntentApplicability,
			wantTopK:   12,
			wantModel:  ModelPrimary,
		},
		{
			name:       "specification",
			query:      "What is the minimum height of the bulwark?",
			wantIntent: IntentSpecification,
			wantTopK:   5,
			wantModel:  ModelFast,
		},
		{
			name:       "comparison",
			query:      "SOLAS和MARPOL的区别",
			wantIntent: IntentComparison,
			wantTopK:   10,
			wantModel:  ModelPrimary,
		},
		{
			name:       "procedure",
			query:      "如何进行救生艇降落试验",
			wantIntent: IntentProcedure,
			wantTopK:   8,
			wantModel:  ModelPrimary,
		},
		{
			name:       "definition",
			query:      "什么是安全返港",
			wantIntent: IntentDefinition,
			wantTopK:   5,
			wantModel:  ModelFast,
		},
		{
			name:       "no trigger falls back to general",
			query:      "lifeboat davits on deck 7",
			wantIntent: IntentGeneral,
			wantTopK:   8,
			wantModel:  ModelPrimary,
		},
		{
			name:       "applicability beats comparison on precedence",
			query:      "必须比较吗",
			wantIntent: IntentApplicability,
			wantTopK:   12,
			wantModel:  ModelPrimary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.query)
			assert.Equal(t, tt.wantIntent, got.Intent)
			assert.Equal(t, tt.wantTopK, got.TopK)
			assert.Equal(t, tt.wantModel, got.ModelHint)
		})
	}
}

func TestClassifyShipInfo(t *testing.T) {
	got := Classify("90米货船需要多少个救生圈")
	assert.Equal(t, "cargo ship", got.ShipInfo.Type)
	assert.Equal(t, 90, got.ShipInfo.Length)
	assert.Equal(t, 0, got.ShipInfo.Tonnage)

	got = Classify("a bulk carrier of 500 gross tonnage")
	assert.Equal(t, "bulk carrier", got.ShipInfo.Type)
	assert.Equal(t, 500, got.ShipInfo.Tonnage)
}

func TestClassifyInternationalVoyageDefaultsToCargo(t *testing.T) {
	got := Classify("国际航行的船舶是否需要VDR")
	assert.Equal(t, "cargo ship", got.ShipInfo.Type)
}

func TestClassifyDimensionOverrideForcesApplicability(t *testing.T) {
	// "多少" alone would classify as specification, but a dimensioned ship
	// plus requirement wording is an applicability question.
	got := Classify("90米的货船需要多少救生筏")
	assert.Equal(t, IntentApplicability, got.Intent)
	assert.Equal(t, 12, got.TopK)
}

func TestHasRegulationNumber(t *testing.T) {
	assert.True(t, HasRegulationNumber("SOLAS II-1/3-2 requirements"))
	assert.True(t, HasRegulationNumber("see MSC.1/Circ.1503"))
	assert.False(t, HasRegulationNumber("lifeboat capacity rules"))
}
