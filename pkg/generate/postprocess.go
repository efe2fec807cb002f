package generate

import (
	"regexp"
	"strings"
)

// genericLinkPattern matches a "[ref] → imorules.com" citation whose link
// points at the bare domain instead of a specific page.
var genericLinkPattern = regexp.MustCompile(
	`\[([^\]]+)\]\s*→\s*(https?://)?(www\.)?imorules\.com[^\n]*`)

// bareGenericURL matches a generic imorules.com URL outside the bracketed
// citation form; specific page URLs carry a GUID path segment.
var bareGenericURL = regexp.MustCompile(
	`(https?://)?(www\.)?imorules\.com/?(\s|$)`)

var breadcrumbRegToken = regexp.MustCompile(
	`(?i)(SOLAS|MARPOL|STCW|COLREG|LSA|FSS|IBC|IGC|ICLL)[\s\-]*(Annex\s*)?[IVX\d\-/\.]+`)

var breadcrumbRegNumber = regexp.MustCompile(`(?i)Reg(ulation)?\s*[\d\.\-/]+`)

var breadcrumbTable = regexp.MustCompile(`(?i)Table\s*[\d\.]+`)

// fixSourceLinks replaces generic imorules.com links in the answer with the
// specific page URL from the matching source, or drops the link when no
// source matches. A missing link is better than a fake one.
func fixSourceLinks(answer string, sources []Source) string {
	urlMap := buildSourceURLMap(sources)

	answer = genericLinkPattern.ReplaceAllStringFunc(answer, func(m string) string {
		ref := genericLinkPattern.FindStringSubmatch(m)[1]
		if url := findURLForRef(ref, urlMap); url != "" {
			return "[" + ref + "] → " + url
		}
		return "[" + ref + "]"
	})

	return bareGenericURL.ReplaceAllString(answer, "$3")
}

// buildSourceURLMap indexes specific source URLs by breadcrumb and by the
// regulation tokens the breadcrumb contains.
func buildSourceURLMap(sources []Source) map[string]string {
	urlMap := map[string]string{}
	for _, src := range sources {
		if src.URL == "" || isGenericURL(src.URL) {
			continue
		}
		if key := strings.ToLower(strings.TrimSpace(src.Breadcrumb)); key != "" {
			urlMap[key] = src.URL
		}
		for _, token := range extractRegTokens(src.Breadcrumb) {
			urlMap[token] = src.URL
		}
	}
	return urlMap
}

func isGenericURL(url string) bool {
	idx := strings.Index(url, "imorules.com")
	if idx < 0 {
		return false
	}
	return !strings.Contains(url[idx:], "/") || strings.TrimRight(url[idx+len("imorules.com"):], "/") == ""
}

func extractRegTokens(breadcrumb string) []string {
	var tokens []string
	for _, re := range []*regexp.Regexp{breadcrumbRegToken, breadcrumbRegNumber, breadcrumbTable} {
		for _, m := range re.FindAllString(breadcrumb, -1) {
			tokens = append(tokens, strings.ToLower(strings.TrimSpace(m)))
		}
	}
	return tokens
}

// findURLForRef resolves a citation reference against the URL map, first by
// exact key, then by longest containment overlap, then by regulation token.
func findURLForRef(ref string, urlMap map[string]string) string {
	refLower := strings.ToLower(strings.TrimSpace(ref))
	if url, ok := urlMap[refLower]; ok {
		return url
	}

	bestURL := ""
	bestOverlap := 0
	for key, url := range urlMap {
		if strings.Contains(refLower, key) || strings.Contains(key, refLower) {
			overlap := len(key)
			if len(refLower) < overlap {
				overlap = len(refLower)
			}
			if overlap > bestOverlap {
				bestOverlap = overlap
				bestURL = url
			}
		}
	}
	if bestURL != "" {
		return bestURL
	}

	for _, token := range extractRegTokens(ref) {
		if url, ok := urlMap[token]; ok {
			return url
		}
	}
	return ""
}
