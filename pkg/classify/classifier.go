// Package classify determines a query's intent and extracts ship parameters.
// Classification is pure string matching over bilingual trigger lexicons, so
// it is deterministic and adds no latency to the pipeline.
package classify

import (
	"regexp"
	"strings"
)

// Intent labels, in precedence order. When triggers for several intents match
// the same utterance, the earlier intent wins.
const (
	IntentApplicability = "applicability"
	IntentComparison    = "comparison"
	IntentSpecification = "specification"
	IntentProcedure     = "procedure"
	IntentDefinition    = "definition"
	IntentGeneral       = "general"
)

// Model hints for the generator's router.
const (
	ModelPrimary = "primary"
	ModelFast    = "fast"
)

// ShipInfo holds ship parameters found in the utterance. Length is in metres,
// tonnage in gross tons; zero means absent.
type ShipInfo struct {
	Type    string
	Length  int
	Tonnage int
}

// HasDimensions reports whether the query pinned down a hull parameter.
func (s ShipInfo) HasDimensions() bool {
	return s.Length > 0 || s.Tonnage > 0
}

// Classification is the classifier's full verdict for one utterance.
type Classification struct {
	Intent    string
	ShipInfo  ShipInfo
	Strategy  string
	TopK      int
	ModelHint string
}

type intentSpec struct {
	name     string
	triggers []string
	strategy string
	model    string
	topK     int
}

// intentSpecs is ordered by precedence; matching stops at the first hit.
var intentSpecs = []intentSpec{
	{
		name: IntentApplicability,
		triggers: []string{
			"是否需要", "需不需要", "是否适用", "适用于", "要不要",
			"必须", "强制", "需要配备", "是否要求",
			"do i need", "is it required", "does it apply",
			"must i", "is it mandatory", "applicable to",
		},
		strategy: "broad",
		model:    ModelPrimary,
		topK:     12,
	},
	{
		name: IntentComparison,
		triggers: []string{
			"区别", "不同", "比较", "对比",
			"difference", "compare", "versus", "vs",
		},
		strategy: "broad",
		model:    ModelPrimary,
		topK:     10,
	},
	{
		name: IntentSpecification,
		triggers: []string{
			"最小", "最大", "多少", "尺寸", "数量", "间距",
			"高度", "宽度", "面积", "速度", "时间",
			"minimum", "maximum", "how many", "dimension",
			"size", "spacing", "height", "width",
		},
		strategy: "precise",
		model:    ModelFast,
		topK:     5,
	},
	{
		name: IntentProcedure,
		triggers: []string{
			"怎么", "如何", "步骤", "流程", "程序", "操作",
			"how to", "procedure", "steps", "process",
		},
		strategy: "normal",
		model:    ModelPrimary,
		topK:     8,
	},
	{
		name: IntentDefinition,
		triggers: []string{
			"什么是", "定义", "解释", "含义", "是什么意思",
			"what is", "define", "meaning of", "explanation",
		},
		strategy: "precise",
		model:    ModelFast,
		topK:     5,
	},
}

// shipTypeMap maps bilingual type markers to canonical English ship types.
// First match wins.
var shipTypeMap = []struct {
	marker   string
	shipType string
}{
	{"货船", "cargo ship"},
	{"客船", "passenger ship"},
	{"油轮", "oil tanker"},
	{"散货船", "bulk carrier"},
	{"集装箱船", "container ship"},
	{"化学品船", "chemical tanker"},
	{"气体船", "gas carrier"},
	{"滚装船", "ro-ro ship"},
	{"passenger", "passenger ship"},
	{"tanker", "oil tanker"},
	{"bulk", "bulk carrier"},
	{"cargo", "cargo ship"},
}

// requirementTerms trigger the applicability override when the utterance also
// pins down a ship dimension.
var requirementTerms = []string{
	"是否", "需不需要", "需要", "要不要", "必须",
	"need", "require", "must",
}

var (
	lengthRe  = regexp.MustCompile(`(?i)(\d+)\s*(米|m|metres)`)
	tonnageRe = regexp.MustCompile(`(?i)(\d+)\s*(吨|GT|总吨|gross tonnage)`)
	numberRe  = regexp.MustCompile(`\d+`)
)

// Classify determines the intent and ship parameters of an utterance.
func Classify(query string) Classification {
	queryLower := strings.ToLower(query)

	result := Classification{
		Intent:    IntentGeneral,
		Strategy:  "normal",
		TopK:      8,
		ModelHint: ModelPrimary,
	}

	for _, spec := range intentSpecs {
		if matchesAny(queryLower, spec.triggers) {
			result.Intent = spec.name
			result.Strategy = spec.strategy
			result.TopK = spec.topK
			result.ModelHint = spec.model
			break
		}
	}

	result.ShipInfo = extractShipInfo(query, queryLower)

	// A dimensioned ship plus requirement wording is always an applicability
	// question, whatever trigger matched first.
	if result.ShipInfo.HasDimensions() && matchesAny(queryLower, requirementTerms) {
		result.Intent = IntentApplicability
		result.Strategy = "broad"
		result.TopK = 12
		result.ModelHint = ModelPrimary
	}

	return result
}

func matchesAny(queryLower string, triggers []string) bool {
	for _, t := range triggers {
		if strings.Contains(queryLower, t) {
			return true
		}
	}
	return false
}

func extractShipInfo(query, queryLower string) ShipInfo {
	var info ShipInfo

	for _, entry := range shipTypeMap {
		if strings.Contains(queryLower, entry.marker) {
			info.Type = entry.shipType
			break
		}
	}

	// "international voyage" phrasing without an explicit type almost always
	// means a cargo ship in this corpus.
	if info.Type == "" && strings.Contains(query, "国际航行") {
		info.Type = "cargo ship"
	}

	if m := lengthRe.FindStringSubmatch(query); m != nil {
		info.Length = parseInt(m[1])
	}
	if m := tonnageRe.FindStringSubmatch(query); m != nil {
		info.Tonnage = parseInt(m[1])
	}

	return info
}

func parseInt(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// HasRegulationNumber reports whether the query names an explicit regulation
// identifier such as "SOLAS II-1/3-2" or "MSC.1/Circ.1503". Used by the
// retriever's auto strategy.
var regulationIDRe = regexp.MustCompile(`(?i)(SOLAS|MARPOL|MSC|MEPC|LSA|FSS|FTP|ISM|ISPS|STCW|COLREG)[\s.]*[IVX\d]`)

func HasRegulationNumber(query string) bool {
	return regulationIDRe.MatchString(query) && numberRe.MatchString(query)
}
