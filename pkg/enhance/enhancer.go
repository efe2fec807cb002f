// Package enhance rewrites colloquial, mostly-Chinese queries into a form
// that matches the English regulation text in the indexes. The original query
// is always kept; expansions are appended after pipe separators so both the
// dense and lexical retrievers benefit.
package enhance

import (
	"regexp"
	"sort"
	"strings"
)

var lengthRe = regexp.MustCompile(`(?i)(\d+)\s*[米m]`)

// Enhancement is the result of expanding one query.
type Enhancement struct {
	// Query is `original | matched terms | regulation hints`, or the
	// unchanged original when nothing matched.
	Query           string
	MatchedTerms    []string
	RegulationHints []string
}

// Enhance runs the five expansion stages over the query.
func Enhance(query string) Enhancement {
	queryLower := strings.ToLower(query)

	terms := make(map[string]struct{})
	regs := make(map[string]struct{})

	// Stage 1: bilingual terminology expansion.
	for _, group := range termGroups {
		for _, trigger := range group.triggers {
			if strings.Contains(queryLower, trigger) {
				for _, t := range group.terms {
					terms[t] = struct{}{}
				}
				break
			}
		}
	}

	// Stage 2: matched terms pull in the chapters that govern them.
	for term := range terms {
		termLower := strings.ToLower(term)
		for topic, hints := range topicRegulations {
			if strings.Contains(termLower, topic) {
				for _, r := range hints {
					regs[r] = struct{}{}
				}
			}
		}
	}

	hasLSA := containsAny(queryLower, lsaKeywords)

	// Stage 3: ship type narrows LSA questions to type-specific sections.
	if containsAny(queryLower, []string{"货船", "cargo"}) {
		regs["SOLAS III/31"] = struct{}{}
		regs["SOLAS III/32"] = struct{}{}
		if hasLSA {
			regs["SOLAS III/16"] = struct{}{}
			regs["LSA Code Chapter 6"] = struct{}{}
			terms["davit-launched liferaft"] = struct{}{}
			terms["free-fall lifeboat"] = struct{}{}
		}
	}
	if containsAny(queryLower, []string{"客船", "passenger"}) {
		regs["SOLAS III/21"] = struct{}{}
		regs["SOLAS III/22"] = struct{}{}
		regs["SOLAS III/16"] = struct{}{}
	}

	// Stage 4: length thresholds. 85 m is the cargo-ship cutoff for
	// davit-launched liferafts, 80 m for stowage arrangements.
	if m := lengthRe.FindStringSubmatch(query); m != nil {
		length := parseInt(m[1])
		if hasLSA {
			if length >= 85 {
				regs["SOLAS III/31"] = struct{}{}
				terms["davit-launched liferaft"] = struct{}{}
				terms["85 metres"] = struct{}{}
				terms["free-fall lifeboat"] = struct{}{}
			}
			if length >= 80 {
				regs["SOLAS III/16"] = struct{}{}
			}
			regs["LSA Code Chapter 6"] = struct{}{}
		}
		if strings.Contains(query, "国际航行") || strings.Contains(queryLower, "international") {
			regs["SOLAS III/31"] = struct{}{}
		}
	}

	// Stage 5: per-side configuration questions.
	if containsAny(queryLower, sideKeywords) && hasLSA {
		regs["SOLAS III/31"] = struct{}{}
		regs["SOLAS III/16"] = struct{}{}
		terms["each side"] = struct{}{}
	}

	result := Enhancement{
		MatchedTerms:    sortedKeys(terms),
		RegulationHints: sortedKeys(regs),
	}

	parts := []string{query}
	if len(result.MatchedTerms) > 0 {
		parts = append(parts, strings.Join(result.MatchedTerms, " "))
	}
	if len(result.RegulationHints) > 0 {
		parts = append(parts, strings.Join(result.RegulationHints, " "))
	}
	if len(parts) > 1 {
		result.Query = strings.Join(parts, " | ")
	} else {
		result.Query = query
	}
	return result
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseInt(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
