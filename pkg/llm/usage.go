package llm

import "sync"

// Per-model USD prices per token, used only for the admin cost estimate.
var modelPrices = map[string]struct{ input, output float64 }{
	"claude-sonnet-4-20250514":  {3.0 / 1_000_000, 15.0 / 1_000_000},
	"claude-haiku-4-5-20251001": {0.80 / 1_000_000, 4.0 / 1_000_000},
}

var defaultPrice = struct{ input, output float64 }{3.0 / 1_000_000, 15.0 / 1_000_000}

// ModelUsage accumulates token counts for one model.
type ModelUsage struct {
	Requests     int `json:"requests"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// UsageStats is a snapshot of process-level LLM usage.
type UsageStats struct {
	TotalRequests     int                   `json:"total_requests"`
	TotalInputTokens  int                   `json:"total_input_tokens"`
	TotalOutputTokens int                   `json:"total_output_tokens"`
	ByModel           map[string]ModelUsage `json:"by_model"`
	EstimatedCostUSD  float64               `json:"estimated_cost_usd"`
}

var (
	usageMu sync.Mutex
	usage   = map[string]ModelUsage{}
)

// RecordUsage tallies one model call. Safe for concurrent use.
func RecordUsage(model string, inputTokens, outputTokens int) {
	usageMu.Lock()
	defer usageMu.Unlock()

	u := usage[model]
	u.Requests++
	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens
	usage[model] = u
}

// GetUsageStats returns cumulative usage with a cost estimate.
func GetUsageStats() UsageStats {
	usageMu.Lock()
	defer usageMu.Unlock()

	stats := UsageStats{ByModel: make(map[string]ModelUsage, len(usage))}
	for model, u := range usage {
		stats.ByModel[model] = u
		stats.TotalRequests += u.Requests
		stats.TotalInputTokens += u.InputTokens
		stats.TotalOutputTokens += u.OutputTokens

		price, ok := modelPrices[model]
		if !ok {
			price = defaultPrice
		}
		stats.EstimatedCostUSD += float64(u.InputTokens)*price.input + float64(u.OutputTokens)*price.output
	}
	return stats
}
