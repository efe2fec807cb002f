package generate

import (
	"log/slog"
	"regexp"
)

// safetyRule catches a known dangerous answer pattern. When the query
// matches the trigger and the model's answer matches the dangerous
// pattern, the surveyor-reviewed correction is injected verbatim.
type safetyRule struct {
	id        string
	trigger   *regexp.Regexp
	dangerous *regexp.Regexp
	correct   string
	prepend   bool
}

var safetyRules = []safetyRule{
	{
		id:      "liferaft_davit",
		trigger: regexp.MustCompile(`(?i)(free.?fall|自由抛落|自由降落).*(davit|降落|救生筏)`),
		dangerous: regexp.MustCompile(`(?i)(都不需要|都无需|均不需要|不需要.{0,5}davit|无需.{0,10}davit` +
			`|两舷.{0,10}不需要|两舷.{0,10}无需|都可以.{0,5}throw)`),
		correct: "⚠️ **安全修正**：即使配备了 free-fall lifeboat，根据 SOLAS III/31.1.2.2，" +
			"≥85m 货船仍须在**至少一舷**配备 davit-launched 救生筏。" +
			"Free-fall lifeboat 不免除 davit 要求。\n\n---\n\n",
		prepend: true,
	},
	{
		id:      "odme_no_limit",
		trigger: regexp.MustCompile(`(?i)(ODME|排油|oil discharge|总排油量|排放.*油轮)`),
		dangerous: regexp.MustCompile(`(没有.{0,10}(总量|排油量|排油).{0,10}(限制|限值|要求)` +
			`|无.{0,5}(总量|排油).{0,5}限` +
			`|不存在.{0,10}排油.{0,5}限)`),
		correct: "\n\n⚠️ **重要补充**：MARPOL Annex I Regulation 34 明确规定了货舱区排油限制——" +
			"每航次总排油量不得超过该批货油总量的 **1/30,000**（新船）或 1/15,000（旧船），" +
			"且瞬时排放率 ≤30 升/海里。",
	},
}

// applySafetyRules post-checks the model output against the rule table.
func applySafetyRules(answer, query string) string {
	for _, rule := range safetyRules {
		if !rule.trigger.MatchString(query) {
			continue
		}
		if !rule.dangerous.MatchString(answer) {
			continue
		}
		slog.Warn("safety rule triggered, correcting answer", "rule", rule.id)
		if rule.prepend {
			answer = rule.correct + answer
		} else {
			answer = answer + rule.correct
		}
	}
	return answer
}
