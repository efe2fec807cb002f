package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seaworthyhq/bvrag/pkg/llm"
)

// pronounIndicators gate coreference resolution: without one of these the
// query is taken at face value.
var pronounIndicators = []string{
	"这个", "那个", "该", "它", "上面", "之前", "其", "此", "前面",
	"this", "that", "it", "the above", "same", "these", "those", "aforementioned",
}

const summarizePrompt = "Summarize this maritime regulation Q&A in 2-3 sentences, " +
	"preserving regulation references and topics."

const coreferencePrompt = "Given context: active_regulations=%s, last exchanges:\n%s\n" +
	"Rewrite query '%s' to be self-contained, in the same language as the query.\n" +
	"Return ONLY the rewritten query."

// ContextBuilder turns a session into LLM messages and resolves follow-up
// queries against the conversation.
type ContextBuilder struct {
	provider     llm.Provider
	fastModel    string
	maxTurns     int
	corefTimeout time.Duration
}

func NewContextBuilder(provider llm.Provider, fastModel string, maxTurns int, corefTimeout time.Duration) *ContextBuilder {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &ContextBuilder{
		provider:     provider,
		fastModel:    fastModel,
		maxTurns:     maxTurns,
		corefTimeout: corefTimeout,
	}
}

// BuildContext returns the message history to hand the generator and the
// query with coreferences resolved. When the history exceeds 2·maxTurns
// messages, the early portion is collapsed into a one-shot summary.
func (b *ContextBuilder) BuildContext(ctx context.Context, session *Session, currentQuery string) ([]llm.Message, string) {
	window := b.maxTurns * 2

	var messages []llm.Message
	if len(session.Turns) > window {
		early := session.Turns[:len(session.Turns)-window]
		summary := b.summarize(ctx, early)
		messages = append(messages,
			llm.Message{Role: "user", Content: fmt.Sprintf("[Earlier conversation summary: %s]", summary)},
			llm.Message{Role: "assistant", Content: "I understand the context from our earlier discussion."},
		)
	}

	start := len(session.Turns) - window
	if start < 0 {
		start = 0
	}
	for _, turn := range session.Turns[start:] {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}

	return messages, b.ResolveCoreferences(ctx, session, currentQuery)
}

// ResolveCoreferences applies the three-layer scheme: detect anaphora by
// lexicon, inject a context prefix from the working set, then attempt one
// cheap-model rewrite which is accepted only when it looks sane.
func (b *ContextBuilder) ResolveCoreferences(ctx context.Context, session *Session, query string) string {
	if !hasPronoun(query) || len(session.ActiveRegulations) == 0 {
		return query
	}

	prefixed := b.injectPrefix(session, query)

	rewritten := b.rewrite(ctx, session, query)
	if accepted(query, rewritten) {
		slog.Info("Coreference resolved by rewrite", "query", query, "rewritten", rewritten)
		return rewritten
	}
	return prefixed
}

func hasPronoun(query string) bool {
	queryLower := strings.ToLower(query)
	for _, p := range pronounIndicators {
		if strings.Contains(queryLower, p) {
			return true
		}
	}
	return false
}

// injectPrefix prepends the regulations the conversation was just about,
// preferring the last assistant turn's retrieval set over the session-level
// working set.
func (b *ContextBuilder) injectPrefix(session *Session, query string) string {
	regs := session.ActiveRegulations
	if last := session.LastAssistantTurn(); last != nil && len(last.Metadata.RetrievedRegulations) > 0 {
		regs = last.Metadata.RetrievedRegulations
	}
	if len(regs) > 5 {
		regs = regs[len(regs)-5:]
	}
	return fmt.Sprintf("[Context: the previous question was about %s] %s", strings.Join(regs, ", "), query)
}

func (b *ContextBuilder) rewrite(ctx context.Context, session *Session, query string) string {
	if b.provider == nil {
		return ""
	}

	regs := session.ActiveRegulations
	if len(regs) > 5 {
		regs = regs[len(regs)-5:]
	}

	var exchanges []string
	start := len(session.Turns) - 6
	if start < 0 {
		start = 0
	}
	for _, turn := range session.Turns[start:] {
		exchanges = append(exchanges, fmt.Sprintf("%s: %s", turn.Role, truncateRunes(turn.Content, 200)))
	}

	prompt := fmt.Sprintf(coreferencePrompt, strings.Join(regs, ", "), strings.Join(exchanges, "\n"), query)

	callCtx, cancel := context.WithTimeout(ctx, b.corefTimeout)
	defer cancel()

	result, err := b.provider.Chat(callCtx, llm.ChatRequest{
		Model:     b.fastModel,
		MaxTokens: 200,
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		slog.Warn("Coreference rewrite failed", "error", err)
		return ""
	}
	return strings.TrimSpace(result.Text)
}

// accepted keeps rewrites that are plausibly the same question: at least 5
// characters and between 0.3x and 3x the original length.
func accepted(original, rewritten string) bool {
	if rewritten == "" {
		return false
	}
	origLen := len([]rune(original))
	rewLen := len([]rune(rewritten))
	if rewLen < 5 {
		return false
	}
	if float64(rewLen) < 0.3*float64(origLen) || float64(rewLen) > 3.0*float64(origLen) {
		return false
	}
	return true
}

func (b *ContextBuilder) summarize(ctx context.Context, turns []Turn) string {
	const fallback = "Previous maritime regulation discussion."
	if b.provider == nil {
		return fallback
	}

	var lines []string
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, truncateRunes(t.Content, 300)))
	}

	callCtx, cancel := context.WithTimeout(ctx, b.corefTimeout)
	defer cancel()

	result, err := b.provider.Chat(callCtx, llm.ChatRequest{
		Model:     b.fastModel,
		MaxTokens: 200,
		Messages: []llm.Message{{
			Role:    "user",
			Content: summarizePrompt + "\n\n" + strings.Join(lines, "\n"),
		}},
	})
	if err != nil {
		slog.Warn("History summarization failed", "error", err)
		return fallback
	}
	if s := strings.TrimSpace(result.Text); s != "" {
		return s
	}
	return fallback
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
