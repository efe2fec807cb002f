package generate

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// knownTableValues holds verified fire-integrity ratings for high-frequency
// lookups in the SOLAS II-2/9 bulkhead tables. Key: "9.X|(row)|(col)" with
// row ≤ col (the tables are symmetric).
var knownTableValues = map[string]string{
	// Table 9.5: cargo ships other than tankers
	"9.5|(1)|(1)": "A-0", "9.5|(1)|(2)": "A-0", "9.5|(1)|(3)": "A-60",
	"9.5|(1)|(4)": "A-0", "9.5|(1)|(5)": "A-15", "9.5|(1)|(6)": "A-60",
	"9.5|(1)|(7)": "A-15", "9.5|(1)|(8)": "A-60", "9.5|(1)|(9)": "A-60",
	"9.5|(2)|(2)": "C", "9.5|(2)|(3)": "B-0", "9.5|(2)|(4)": "B-0",
	"9.5|(2)|(5)": "B-0", "9.5|(2)|(6)": "A-60", "9.5|(2)|(7)": "A-0",
	"9.5|(2)|(8)": "A-60", "9.5|(2)|(9)": "A-0",
	"9.5|(3)|(3)": "C", "9.5|(3)|(6)": "A-60", "9.5|(3)|(7)": "A-0",
	"9.5|(3)|(8)": "A-60", "9.5|(3)|(9)": "A-0",
	"9.5|(6)|(6)": "A-0", "9.5|(6)|(9)": "A-60",
	// Table 9.7: tankers
	"9.7|(1)|(1)": "A-0", "9.7|(1)|(2)": "A-0", "9.7|(1)|(3)": "A-60",
	"9.7|(1)|(4)": "A-0", "9.7|(1)|(5)": "A-15", "9.7|(1)|(6)": "A-60",
	"9.7|(1)|(7)": "A-15", "9.7|(1)|(8)": "A-60", "9.7|(1)|(9)": "A-60",
	"9.7|(2)|(2)": "C", "9.7|(2)|(3)": "B-0", "9.7|(2)|(4)": "B-0",
	"9.7|(2)|(5)": "B-0", "9.7|(2)|(6)": "A-60", "9.7|(2)|(7)": "A-0",
	"9.7|(2)|(8)": "A-60", "9.7|(2)|(9)": "A-0",
	"9.7|(3)|(3)": "C", "9.7|(3)|(6)": "A-60", "9.7|(3)|(7)": "A-0",
	"9.7|(3)|(8)": "A-60", "9.7|(3)|(9)": "A-0",
	"9.7|(6)|(6)": "A-0", "9.7|(6)|(9)": "A-60",
	// Table 9.1: passenger ships >36 pax
	"9.1|(1)|(1)": "A-0", "9.1|(1)|(2)": "A-0", "9.1|(1)|(3)": "A-60",
	"9.1|(1)|(6)": "A-60", "9.1|(2)|(2)": "B-0", "9.1|(2)|(3)": "B-0",
	"9.1|(2)|(9)": "B-15", "9.1|(3)|(6)": "A-60", "9.1|(6)|(6)": "A-0",
	"9.1|(6)|(9)": "A-60",
	// Table 9.3: passenger ships ≤36 pax
	"9.3|(1)|(1)": "A-0", "9.3|(1)|(2)": "A-0", "9.3|(1)|(3)": "A-60",
	"9.3|(1)|(6)": "A-60", "9.3|(2)|(2)": "C", "9.3|(2)|(3)": "B-0",
	"9.3|(2)|(9)": "A-0", "9.3|(3)|(6)": "A-60", "9.3|(6)|(6)": "A-0",
	"9.3|(6)|(9)": "A-60",
}

// shipTypeValidTables maps a detected ship type onto the fire-integrity
// tables its answers may cite.
var shipTypeValidTables = map[string][]string{
	"tanker":                {"9.7", "9.8"},
	"cargo_ship_non_tanker": {"9.5", "9.6"},
	"passenger_ship":        {"9.1", "9.2", "9.3", "9.4"},
}

var (
	tableRefRe   = regexp.MustCompile(`(?i)Table\s*9\.(\d)`)
	fireRatingRe = regexp.MustCompile(`\b(A-60|A-30|A-15|A-0|B-15|B-0|C)\b`)
	boldRatingRe = regexp.MustCompile(`\*\*(A-60|A-30|A-15|A-0|B-15|B-0|C)\*\*`)

	categoryPairRe   = regexp.MustCompile(`(?s)[Cc]ategory\s*\(?(\d{1,2})\)?\s*.*?[Cc]ategory\s*\(?(\d{1,2})\)?`)
	categoryPairCNRe = regexp.MustCompile(`[（(](\d{1,2})[)）]\s*[×xX]\s*[（(](\d{1,2})[)）]`)
)

var tankerKeywords = []string{
	"tanker", "油轮", "化学品船", "成品油轮", "可燃液体", "flammable liquid", "inflammable",
}

var passengerKeywords = []string{"passenger", "客船", "客轮", "邮轮"}

var cargoKeywords = []string{
	"bulk carrier", "散货船", "集装箱船", "container ship",
	"杂货船", "general cargo", "货船", "cargo ship",
}

// tableCheck is the verdict of checkTableLookup. A non-empty Correction
// means the answer cited the wrong table or the wrong cell value and
// should be regenerated with the correction injected.
type tableCheck struct {
	shipType    string
	tablesCited []string
	correction  string
}

// detectTableShipType resolves the ship type governing a table lookup from
// the combined query and answer text. Tanker wins over the generic cargo
// keywords since every tanker query also reads as a cargo query.
func detectTableShipType(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, tankerKeywords):
		return "tanker"
	case containsAny(lower, passengerKeywords):
		return "passenger_ship"
	case containsAny(lower, cargoKeywords):
		return "cargo_ship_non_tanker"
	default:
		return ""
	}
}

func citedTables(answer string) []string {
	seen := map[string]bool{}
	var tables []string
	for _, m := range tableRefRe.FindAllStringSubmatch(answer, -1) {
		t := "9." + m[1]
		if !seen[t] {
			seen[t] = true
			tables = append(tables, t)
		}
	}
	return tables
}

// categoryPair extracts the (row, col) space categories the answer compared,
// normalized smaller-first.
func categoryPair(answer string) (int, int, bool) {
	m := categoryPairCNRe.FindStringSubmatch(answer)
	if m == nil {
		m = categoryPairRe.FindStringSubmatch(answer)
	}
	if m == nil {
		return 0, 0, false
	}
	row, col := atoiSafe(m[1]), atoiSafe(m[2])
	if row > col {
		row, col = col, row
	}
	return row, col, true
}

// answerRating picks the answer's headline fire rating, preferring the
// bold-formatted conclusion over incidental mentions.
func answerRating(answer string) string {
	if m := boldRatingRe.FindStringSubmatch(answer); m != nil {
		return m[1]
	}
	if m := fireRatingRe.FindStringSubmatch(answer); m != nil {
		return m[1]
	}
	return ""
}

// checkTableLookup validates the answer's fire-integrity table usage: the
// cited table must match the ship type, and cells with a known value must
// carry that value.
func checkTableLookup(answer, query string) tableCheck {
	check := tableCheck{
		shipType:    detectTableShipType(query + " " + answer),
		tablesCited: citedTables(answer),
	}
	if len(check.tablesCited) == 0 {
		return check
	}

	var corrections []string

	if valid := shipTypeValidTables[check.shipType]; len(valid) > 0 {
		validSet := map[string]bool{}
		for _, t := range valid {
			validSet[t] = true
		}
		for _, t := range check.tablesCited {
			if !validSet[t] {
				corrections = append(corrections, fmt.Sprintf(
					"CORRECTION: %s 应使用 Table %s，但回答引用了 Table %s。"+
						"请使用 SOLAS II-2/Reg 9 中适用于该船型的表格。",
					check.shipType, strings.Join(valid, ", Table "), t))
			}
		}
	}

	if row, col, ok := categoryPair(answer); ok {
		if rating := answerRating(answer); rating != "" {
			for _, t := range check.tablesCited {
				key := fmt.Sprintf("%s|(%d)|(%d)", t, row, col)
				if expected, known := knownTableValues[key]; known && expected != rating {
					corrections = append(corrections, fmt.Sprintf(
						"CORRECTION: 查 Table %s 第(%d)行×第(%d)列应为 %s，但回答给出 %s。正确值为 %s。",
						t, row, col, expected, rating, expected))
				}
			}
		}
	}

	check.correction = strings.Join(corrections, "\n")
	if check.correction != "" {
		slog.Warn("table lookup check failed",
			"ship_type", check.shipType,
			"tables", check.tablesCited,
			"corrections", len(corrections))
	}
	return check
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
