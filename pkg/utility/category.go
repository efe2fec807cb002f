package utility

import "strings"

// Query categories. Utilities are learned per (chunk, category) so a chunk
// that answers fire questions well is not boosted for stability questions.
const (
	CategoryFireSafety = "fire_safety"
	CategoryLifesaving = "lifesaving"
	CategoryPollution  = "pollution"
	CategoryStability  = "stability"
	CategoryStructure  = "structure"
	CategoryMachinery  = "machinery"
	CategoryNavigation = "navigation"
	CategorySurvey     = "survey"
	CategoryGeneral    = "general"
)

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryFireSafety, []string{
		"fire", "灭火", "消防", "防火", "烟雾", "探火", "sprinkler", "extinguish",
	}},
	{CategoryLifesaving, []string{
		"lifeboat", "liferaft", "lifebuoy", "lifejacket", "davit", "rescue boat",
		"救生", "释放设备", "登乘", "immersion suit", "lsa",
	}},
	{CategoryPollution, []string{
		"marpol", "oil discharge", "ballast", "sewage", "garbage", "sulphur",
		"排油", "压载水", "污水", "垃圾", "防污染",
	}},
	{CategoryStability, []string{
		"stability", "subdivision", "damage", "稳性", "破舱", "freeboard", "干舷",
	}},
	{CategoryStructure, []string{
		"bulkhead", "hull", "double bottom", "watertight", "hatch", "deck",
		"舱壁", "双壳", "水密", "船体", "开口",
	}},
	{CategoryMachinery, []string{
		"engine", "machinery", "steering gear", "generator", "boiler",
		"主机", "舵机", "发电机", "机舱",
	}},
	{CategoryNavigation, []string{
		"navigation", "radar", "gmdss", "radio", "ais", "compass", "vdr",
		"导航", "雷达", "无线电", "罗经",
	}},
	{CategorySurvey, []string{
		"survey", "inspection", "certificate", "audit",
		"检验", "证书", "审核", "发证",
	}},
}

// Categorize routes a query to its regulatory domain by keyword scan. The
// first category with a hit wins; queries with no hit are "general".
func Categorize(query string) string {
	queryLower := strings.ToLower(query)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(queryLower, kw) {
				return entry.category
			}
		}
	}
	return CategoryGeneral
}
