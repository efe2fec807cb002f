package voice

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepareTTSText_StripsMarkdown(t *testing.T) {
	answer := "**结论**：需要配备。\n\n" +
		"> SOLAS III/31.1.4 原文\n\n" +
		"- 两舷各一\n" +
		"详见 https://www.imorules.com/solas 链接。\n\n" +
		"参考来源\n[SOLAS III/31]"

	got := PrepareTTSText(answer, 1500)

	assert.NotContains(t, got, "**")
	assert.NotContains(t, got, ">")
	assert.NotContains(t, got, "https://")
	assert.NotContains(t, got, "参考来源")
	assert.Contains(t, got, "结论")
}

func TestPrepareTTSText_TruncatesAtSentence(t *testing.T) {
	answer := strings.Repeat("这是一个很长的句子。", 300)

	got := PrepareTTSText(answer, 100)

	runes := []rune(got)
	assert.LessOrEqual(t, len(runes), 100)
	assert.Equal(t, '。', runes[len(runes)-1])
}

func TestPrepareTTSText_KeepsBracketContent(t *testing.T) {
	got := PrepareTTSText("依据 [SOLAS II-1/3-6] 的要求。", 1500)
	assert.Contains(t, got, "SOLAS II-1/3-6")
	assert.NotContains(t, got, "[")
}
