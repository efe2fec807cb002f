package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `- id: liferaft_davit
  title: 货船两舷吊架降落救生筏配置
  keywords:
    - liferaft
    - 救生筏
    - davit
  terms:
    - davit-launched liferaft
  regulations:
    - SOLAS III/31
    - LSA Code Chapter 6
  ship_types:
    - cargo ship
  correct_interpretation: 85米及以上货船每舷救生筏须由吊架降落
  common_mistake: 认为抛投式救生筏可以替代吊架降落式
  typical_configurations:
    - 85m以上货船：每舷1具吊架降落救生筏
  decision_tree:
    - 船长是否大于等于85米
    - 是则每舷配置吊架降落救生筏

- id: fire_pump_isolation
  title: 应急消防泵隔离阀要求
  keywords:
    - fire pump
    - 消防泵
  regulations:
    - SOLAS II-2
  scope_required:
    - isolation
    - 隔离
  correct_interpretation: 应急消防泵吸口须独立于机舱主消防管系
`

func writeTestKB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "entries.yaml"), []byte(sampleYAML), 0o644)
	require.NoError(t, err)
	return dir
}

func TestNewIndexLoadsEntries(t *testing.T) {
	idx, err := NewIndex(writeTestKB(t))
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
}

func TestNewIndexMissingDirIsEmpty(t *testing.T) {
	idx, err := NewIndex(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestQueryKeywordMatch(t *testing.T) {
	idx, err := NewIndex(writeTestKB(t))
	require.NoError(t, err)

	entries := idx.Query("90米货船救生筏配置", nil, nil)
	require.Len(t, entries, 1)
	assert.Equal(t, "liferaft_davit", entries[0].ID)
}

func TestQueryRegulationBothSidesScoresHigher(t *testing.T) {
	idx, err := NewIndex(writeTestKB(t))
	require.NoError(t, err)

	// Hinted and present in the query: still returned with only the
	// regulation signal.
	entries := idx.Query("SOLAS III/31 requirements", nil, []string{"SOLAS III/31"})
	require.NotEmpty(t, entries)
	assert.Equal(t, "liferaft_davit", entries[0].ID)
}

func TestQueryScopeGate(t *testing.T) {
	idx, err := NewIndex(writeTestKB(t))
	require.NoError(t, err)

	// "fire pump" keyword matches, but the entry requires isolation wording.
	entries := idx.Query("fire pump capacity", nil, nil)
	assert.Empty(t, entries)

	entries = idx.Query("fire pump isolation valve", nil, nil)
	require.Len(t, entries, 1)
	assert.Equal(t, "fire_pump_isolation", entries[0].ID)
}

func TestQueryNoWeakMatches(t *testing.T) {
	idx, err := NewIndex(writeTestKB(t))
	require.NoError(t, err)

	// A matched term alone scores 1, below the relevance threshold.
	entries := idx.Query("ventilation requirements", []string{"davit-launched liferaft"}, nil)
	assert.Empty(t, entries)
}

func TestFormatMarkdown(t *testing.T) {
	idx, err := NewIndex(writeTestKB(t))
	require.NoError(t, err)

	entries := idx.Query("货船救生筏", nil, nil)
	require.NotEmpty(t, entries)

	md := FormatMarkdown(entries)
	assert.Contains(t, md, "## 验船实务参考")
	assert.Contains(t, md, "### 货船两舷吊架降落救生筏配置")
	assert.Contains(t, md, "**适用法规**: SOLAS III/31, LSA Code Chapter 6")
	assert.Contains(t, md, "**判断逻辑**:")

	assert.Empty(t, FormatMarkdown(nil))
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := writeTestKB(t)
	idx, err := NewIndex(dir)
	require.NoError(t, err)
	require.Equal(t, 2, idx.Len())

	extra := `- id: extra
  title: extra entry
  keywords: [extra]
  regulations: [MARPOL]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte(extra), 0o644))
	require.NoError(t, idx.Reload())
	assert.Equal(t, 3, idx.Len())
}
