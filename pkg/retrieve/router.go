package retrieve

import (
	"regexp"
	"strings"
)

// Retrieval strategies.
const (
	StrategyAuto     = "auto"
	StrategyKeyword  = "keyword"
	StrategySemantic = "semantic"
	StrategyHybrid   = "hybrid"
)

var conventions = []string{
	"SOLAS", "MARPOL", "STCW", "COLREG", "Load Lines", "Tonnage",
	"CLC", "OPRC", "AFS", "BWM", "SAR", "SUA",
}

var codes = []string{
	"ISM", "ISPS", "LSA", "FSS", "FTP", "IBC", "IGC", "IGF",
	"IMDG", "CSS", "CTU", "HSC", "MODU", "ESP", "Grain", "NOx",
	"OSV", "Polar", "SPS", "IMSBC",
}

var concepts = []string{
	"fire safety", "pollution prevention", "navigation safety",
	"life saving", "stability", "machinery", "electrical installations",
	"maritime security", "ISM audit", "port state control",
	"oil tanker", "bulk carrier", "passenger ship", "cargo ship",
	"chemical tanker", "gas carrier", "container ship", "ro-ro ship",
	"fishing vessel", "high-speed craft", "MODU", "FPSO",
	"offshore supply vessel",
}

var exactRefRe = regexp.MustCompile(
	`(?i)(SOLAS|MARPOL|STCW|COLREG|ISM|ISPS|LSA|FSS|FTP|IBC|IGC|IGF)\s*` +
		`(regulation|chapter|annex|rule|part|section)\s*` +
		`[IVXLC\d\-/.]+`)

// relationKeywords signal a question about the reference structure itself,
// which the graph leg answers better than keyword lookup.
var relationKeywords = []string{
	"哪些", "所有", "all related", "which", "修改", "amend",
	"解释", "interpret", "引用", "reference", "适用于", "apply to",
	"相关", "related", "涉及",
}

// Route is the strategy decision plus the entities extracted on the way.
type Route struct {
	Strategy       string
	DocumentFilter string
	Concept        string
	RegulationRef  string
}

// route picks a strategy for an auto query. An exact regulation reference
// flips to keyword lookup; relation wording flips back to hybrid because the
// graph leg only runs there.
func route(query string) Route {
	r := Route{Strategy: StrategyHybrid}

	if m := exactRefRe.FindString(query); m != "" {
		r.Strategy = StrategyKeyword
		r.RegulationRef = m
	}

	queryLower := strings.ToLower(query)
	for _, conv := range conventions {
		if strings.Contains(queryLower, strings.ToLower(conv)) {
			r.DocumentFilter = conv
			break
		}
	}
	if r.DocumentFilter == "" {
		for _, code := range codes {
			if strings.Contains(queryLower, strings.ToLower(code)) {
				r.DocumentFilter = code
				break
			}
		}
	}

	for _, concept := range concepts {
		if strings.Contains(queryLower, concept) {
			r.Concept = concept
			break
		}
	}

	for _, kw := range relationKeywords {
		if strings.Contains(queryLower, strings.ToLower(kw)) {
			r.Strategy = StrategyHybrid
			break
		}
	}

	return r
}
