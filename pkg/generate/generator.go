package generate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/seaworthyhq/bvrag/pkg/classify"
	"github.com/seaworthyhq/bvrag/pkg/llm"
	"github.com/seaworthyhq/bvrag/pkg/retrieve"
)

const (
	maxChunkChars = 1600
	historyWindow = 6

	fastMaxTokens    = 1024
	primaryMaxTokens = 2048

	fastContextTokens    = 3000
	primaryContextTokens = 5000
)

// citationPattern matches the bracketed citation form over the enumerated
// document set, e.g. [SOLAS III/31.1.4] or [MSC.1/Circ.1430].
var citationPattern = regexp.MustCompile(
	`\[(SOLAS|MARPOL|MSC|MEPC|ISM|ISPS|Resolution|LSA|FSS|FTP|STCW|COLREG)[^\]]*\]`)

// regRefPattern matches a precise regulation identifier inside a query,
// which signals a narrow lookup suitable for the fast model.
var regRefPattern = regexp.MustCompile(
	`(?i)(SOLAS|MARPOL|STCW|COLREG|ISM|ISPS|LSA|FSS|IBC|IGC)\s*[\w\-/\.]+`)

// shipParamPattern matches a hull parameter: a number followed by a
// length or tonnage unit.
var shipParamPattern = regexp.MustCompile(`(?i)\d+\s*(米|m|吨|GT|DWT|总吨|载重)`)

// complexKeywords force the primary model: comparisons, amendments and
// applicability analysis need multi-step reasoning.
var complexKeywords = []string{
	"compare", "比较", "区别", "difference", "vs", "所有相关",
	"修改", "amend", "解释", "interpret", "适用", "apply", "applicable", "豁免", "exempt",
}

var applicabilityKeywords = []string{
	"是否", "需不需要", "是否需要", "必须", "要不要",
	"do i need", "is it required", "must",
}

var shipTypeKeywords = []string{
	"货船", "客船", "油轮", "散货", "集装箱", "滚装", "国际航行",
	"cargo ship", "passenger", "tanker", "bulk carrier",
}

var relationKeywords = []string{
	"所有", "哪些", "all", "which", "compare", "区别", "关系", "relationship",
}

// refusalPhrases mark an answer that declined to commit to a grounded
// result. Matching any of them downgrades high confidence to medium.
var refusalPhrases = []string{
	"无法回答", "无法给出准确", "未检索到法规原文", "未找到直接对应的法规",
	"无法在检索到的法规原文中找到", "请务必核实",
	"unable to answer", "cannot answer", "could not find the relevant regulation",
}

// Citation is one extracted bracketed reference.
type Citation struct {
	Citation string `json:"citation"`
	Verified bool   `json:"verified"`
}

// Source is the provenance record for one retrieved chunk.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	URL        string  `json:"url"`
	Breadcrumb string  `json:"breadcrumb"`
	Score      float64 `json:"score"`
}

// Input carries everything the generator needs for one answer.
type Input struct {
	// Query is the user's raw utterance, used for safety-rule triggers.
	Query string
	// EnhancedQuery is the coreference-resolved, term-expanded query the
	// model actually answers.
	EnhancedQuery    string
	Classification   classify.Classification
	Candidates       []retrieve.Candidate
	History          []llm.Message
	UserContext      string
	PracticalContext string
}

// Output is the generated answer plus its post-processing products.
type Output struct {
	Answer     string
	Citations  []Citation
	Confidence string
	ModelUsed  string
	Sources    []Source
}

// Generator assembles the prompt, routes between the two models and
// post-processes the answer.
type Generator struct {
	provider     llm.Provider
	primaryModel string
	fastModel    string
	encoder      *tiktoken.Tiktoken
}

// NewGenerator builds a generator over the given chat provider. Token
// counting falls back to a chars/4 estimate if the BPE tables cannot
// be loaded.
func NewGenerator(provider llm.Provider, primaryModel, fastModel string) *Generator {
	enc, err := tiktoken.EncodingForModel("gpt-4")
	if err != nil {
		slog.Warn("tiktoken unavailable, using chars/4 estimate", "error", err)
		enc = nil
	}
	return &Generator{
		provider:     provider,
		primaryModel: primaryModel,
		fastModel:    fastModel,
		encoder:      enc,
	}
}

// Generate answers the query using the routed model.
func (g *Generator) Generate(ctx context.Context, in Input) (*Output, error) {
	return g.GenerateWithModel(ctx, in, g.RouteModel(in))
}

// GenerateWithModel answers the query with an explicit model, used by the
// pipeline for the cross-model retry after a provider failure.
func (g *Generator) GenerateWithModel(ctx context.Context, in Input, model string) (*Output, error) {
	isFast := model == g.fastModel

	maxTokens := primaryMaxTokens
	contextBudget := primaryContextTokens
	if isFast {
		maxTokens = fastMaxTokens
		contextBudget = fastContextTokens
	}

	system := g.buildSystem(in, isFast)
	contextText := g.buildContext(in.Candidates, contextBudget)

	var parts []string
	parts = append(parts, "## 检索到的法规内容\n\n"+contextText)
	if in.PracticalContext != "" {
		parts = append(parts, in.PracticalContext)
	}
	parts = append(parts, "## 用户问题\n\n"+in.EnhancedQuery)
	userMessage := strings.Join(parts, "\n\n")

	messages := make([]llm.Message, 0, historyWindow+1)
	if n := len(in.History); n > historyWindow {
		messages = append(messages, in.History[n-historyWindow:]...)
	} else {
		messages = append(messages, in.History...)
	}
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})

	slog.Debug("generation request",
		"model", model,
		"candidates", len(in.Candidates),
		"context_tokens", g.countTokens(userMessage),
		"history", len(messages)-1)

	result, err := g.provider.Chat(ctx, llm.ChatRequest{
		Model:     model,
		System:    system,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate with %s: %w", model, err)
	}

	answer := result.Text
	if tc := checkTableLookup(answer, in.Query); tc.correction != "" {
		corrected := userMessage + "\n\nIMPORTANT CORRECTIONS:\n" + tc.correction +
			"\n\nPlease regenerate your answer with these corrections applied."
		retryMessages := append(messages[:len(messages)-1:len(messages)-1],
			llm.Message{Role: "user", Content: corrected})
		retry, rerr := g.provider.Chat(ctx, llm.ChatRequest{
			Model:     model,
			System:    system,
			Messages:  retryMessages,
			MaxTokens: maxTokens,
		})
		if rerr != nil {
			slog.Error("table-correction regeneration failed", "error", rerr)
		} else {
			answer = retry.Text
		}
	}

	sources := buildSources(in.Candidates)
	answer = applySafetyRules(answer, in.Query)
	answer = fixSourceLinks(answer, sources)

	confidence := assessConfidence(in.Candidates)
	if confidence == "high" && IsRefusal(answer) {
		confidence = "medium"
	}

	return &Output{
		Answer:     answer,
		Citations:  ExtractCitations(answer),
		Confidence: confidence,
		ModelUsed:  model,
		Sources:    sources,
	}, nil
}

// RouteModel picks primary or fast for the given input. The classifier's
// hint is the starting point; promotion signals always win over demotion
// signals.
func (g *Generator) RouteModel(in Input) string {
	model := g.primaryModel
	if in.Classification.ModelHint == classify.ModelFast {
		model = g.fastModel
	}

	query := in.EnhancedQuery
	lower := strings.ToLower(query)

	promote := containsAny(lower, complexKeywords) ||
		containsAny(lower, applicabilityKeywords) ||
		containsAny(lower, shipTypeKeywords) ||
		shipParamPattern.MatchString(query) ||
		len([]rune(query)) > 60
	if promote {
		return g.primaryModel
	}

	demote := regRefPattern.MatchString(query) ||
		topScore(in.Candidates) > 0.75 ||
		(len(strings.Fields(query)) < 15 && !containsAny(lower, relationKeywords))
	if demote {
		return g.fastModel
	}
	return model
}

// OtherModel returns the model the router did not pick, for the retry path.
func (g *Generator) OtherModel(model string) string {
	if model == g.fastModel {
		return g.primaryModel
	}
	return g.fastModel
}

func (g *Generator) buildSystem(in Input, isFast bool) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	lang := detectLanguage(in.EnhancedQuery)
	b.WriteString(languageInstructions[lang])

	if isFast {
		b.WriteString(fastLengthInstruction)
	} else {
		b.WriteString(primaryLengthInstruction)
	}

	if in.UserContext != "" {
		b.WriteString("\n\n## 用户偏好\n")
		b.WriteString(in.UserContext)
	}

	ship := in.Classification.ShipInfo
	if in.Classification.Intent == classify.IntentApplicability &&
		(ship.Type != "" || ship.HasDimensions()) {
		b.WriteString("\n\n## 用户船舶信息")
		if ship.Type != "" {
			fmt.Fprintf(&b, "\n- 船型: %s", ship.Type)
		}
		if ship.Length > 0 {
			fmt.Fprintf(&b, "\n- 船长: %d米", ship.Length)
		}
		if ship.Tonnage > 0 {
			fmt.Fprintf(&b, "\n- 总吨: %dGT", ship.Tonnage)
		}
		b.WriteString("\n请根据这些参数给出明确的适用性判断。")
	}
	return b.String()
}

// buildContext renders candidates as evidence blocks under a token budget.
// Each block carries the breadcrumb and source URL so the model can emit
// specific links, and graph-side interpretation counts become a hint line.
func (g *Generator) buildContext(candidates []retrieve.Candidate, budget int) string {
	var blocks []string
	total := 0

	for i := range candidates {
		c := &candidates[i]
		text := truncateRunes(c.Text, maxChunkChars)

		tokens := g.countTokens(text)
		if total+tokens > budget {
			break
		}
		total += tokens

		breadcrumb, _ := c.Metadata["breadcrumb"].(string)
		url, _ := c.Metadata["url"].(string)
		blocks = append(blocks, fmt.Sprintf("**[%s]** (Source: %s)\n%s", breadcrumb, url, text))

		if gc := c.GraphContext; gc != nil && gc.InterpretationCount > 0 {
			blocks = append(blocks, fmt.Sprintf(
				"*Note: %d unified interpretation(s) available for this regulation.*",
				gc.InterpretationCount))
		}
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

func (g *Generator) countTokens(text string) int {
	if g.encoder != nil {
		return len(g.encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// ExtractCitations pulls bracketed regulation references out of an answer,
// first occurrence wins.
func ExtractCitations(answer string) []Citation {
	var citations []Citation
	seen := map[string]bool{}
	for _, m := range citationPattern.FindAllString(answer, -1) {
		if seen[m] {
			continue
		}
		seen[m] = true
		citations = append(citations, Citation{Citation: m, Verified: true})
	}
	return citations
}

// IsRefusal reports whether the answer declined to give a grounded result.
func IsRefusal(answer string) bool {
	lower := strings.ToLower(answer)
	for _, p := range refusalPhrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// assessConfidence maps the best candidate score onto the closed label set.
func assessConfidence(candidates []retrieve.Candidate) string {
	top := topScore(candidates)
	switch {
	case len(candidates) == 0:
		return "low"
	case top > 0.85:
		return "high"
	case top > 0.60:
		return "medium"
	default:
		return "low"
	}
}

// combinedScore prefers the backend similarity score and falls back to the
// blended fusion score for candidates that only went through RRF.
func combinedScore(c *retrieve.Candidate) float64 {
	if c.Score > 0 {
		return c.Score
	}
	return c.FinalScore
}

func topScore(candidates []retrieve.Candidate) float64 {
	top := 0.0
	for i := range candidates {
		if s := combinedScore(&candidates[i]); s > top {
			top = s
		}
	}
	return top
}

func buildSources(candidates []retrieve.Candidate) []Source {
	sources := make([]Source, 0, len(candidates))
	seen := map[string]bool{}
	for i := range candidates {
		c := &candidates[i]
		if seen[c.ChunkID] {
			continue
		}
		seen[c.ChunkID] = true
		url, _ := c.Metadata["url"].(string)
		breadcrumb, _ := c.Metadata["breadcrumb"].(string)
		sources = append(sources, Source{
			ChunkID:    c.ChunkID,
			URL:        url,
			Breadcrumb: breadcrumb,
			Score:      combinedScore(c),
		})
	}
	return sources
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
