package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaworthyhq/bvrag/pkg/llm"
)

type fakeProvider struct {
	text string
	err  error
}

func (f *fakeProvider) Chat(_ context.Context, _ llm.ChatRequest) (*llm.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Result{Text: f.text}, nil
}

func sessionWithRegs(regs ...string) *Session {
	return &Session{
		SessionID:         "s1",
		UserID:            "u1",
		ActiveRegulations: regs,
		Turns: []Turn{
			{Role: "user", Content: "货船救生筏要求"},
			{Role: "assistant", Content: "见 [SOLAS III/31]", Metadata: TurnMetadata{
				RetrievedRegulations: []string{"SOLAS III/31"},
			}},
		},
	}
}

func TestResolveCoreferencesNoPronounPassesThrough(t *testing.T) {
	b := NewContextBuilder(&fakeProvider{text: "should not be used"}, "fast", 10, time.Second)
	got := b.ResolveCoreferences(context.Background(), sessionWithRegs("SOLAS III/31"), "客船救生圈数量")
	assert.Equal(t, "客船救生圈数量", got)
}

func TestResolveCoreferencesEmptyWorkingSetPassesThrough(t *testing.T) {
	b := NewContextBuilder(&fakeProvider{text: "rewrite"}, "fast", 10, time.Second)
	session := &Session{SessionID: "s1"}
	got := b.ResolveCoreferences(context.Background(), session, "它适用于客船吗")
	assert.Equal(t, "它适用于客船吗", got)
}

func TestResolveCoreferencesAcceptsSaneRewrite(t *testing.T) {
	b := NewContextBuilder(&fakeProvider{text: "SOLAS III/31 适用于客船吗"}, "fast", 10, time.Second)
	got := b.ResolveCoreferences(context.Background(), sessionWithRegs("SOLAS III/31"), "它适用于客船吗")
	assert.Equal(t, "SOLAS III/31 适用于客船吗", got)
}

func TestResolveCoreferencesFallsBackToPrefixOnBadRewrite(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
	}{
		{"model error", &fakeProvider{err: errors.New("timeout")}},
		{"too short", &fakeProvider{text: "ok"}},
		{"too long", &fakeProvider{text: strings.Repeat("长", 200)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewContextBuilder(tt.provider, "fast", 10, time.Second)
			got := b.ResolveCoreferences(context.Background(), sessionWithRegs("SOLAS III/31"), "它适用于客船吗")
			assert.True(t, strings.HasPrefix(got, "[Context: the previous question was about SOLAS III/31]"))
			assert.True(t, strings.HasSuffix(got, "它适用于客船吗"))
		})
	}
}

func TestBuildContextShortHistory(t *testing.T) {
	b := NewContextBuilder(&fakeProvider{}, "fast", 10, time.Second)
	session := sessionWithRegs("SOLAS III/31")

	messages, enhanced := b.BuildContext(context.Background(), session, "客船呢")
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.NotEmpty(t, enhanced)
}

func TestBuildContextSummarizesEarlyTurns(t *testing.T) {
	b := NewContextBuilder(&fakeProvider{text: "Discussed liferaft rules under SOLAS III."}, "fast", 2, time.Second)

	session := &Session{SessionID: "s1"}
	for i := 0; i < 6; i++ {
		session.Turns = append(session.Turns,
			Turn{Role: "user", Content: fmt.Sprintf("question %d", i)},
			Turn{Role: "assistant", Content: fmt.Sprintf("answer %d", i)},
		)
	}

	messages, _ := b.BuildContext(context.Background(), session, "next question")

	// 2 summary messages + the last 4 turns.
	require.Len(t, messages, 6)
	assert.Contains(t, messages[0].Content, "[Earlier conversation summary:")
	assert.Contains(t, messages[0].Content, "SOLAS III")
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "question 4", messages[2].Content)
}

func TestPushLRU(t *testing.T) {
	list := []string{}
	for _, v := range []string{"a", "b", "c", "a"} {
		list = pushLRU(list, v, 3)
	}
	assert.Equal(t, []string{"b", "c", "a"}, list)

	list = pushLRU(list, "d", 3)
	assert.Equal(t, []string{"c", "a", "d"}, list)
}

func TestExtractCitations(t *testing.T) {
	text := "根据 [SOLAS III/31.1.4] 和 [LSA Code Chapter 6]，另见 [SOLAS III/31.1.4]。"
	refs := ExtractCitations(text)
	assert.Equal(t, []string{"SOLAS III/31.1.4", "LSA Code Chapter 6"}, refs)

	assert.Empty(t, ExtractCitations("no citations here"))
}
