// Package knowledge loads surveyor practical-knowledge entries from YAML and
// scores them against incoming queries. Matching entries are rendered as a
// Markdown block and injected into the generation context alongside the
// retrieved regulation chunks.
package knowledge

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Entry is one piece of practical knowledge: how a regulation is actually
// applied during survey, and what gets misread.
type Entry struct {
	ID                    string   `yaml:"id"`
	Title                 string   `yaml:"title"`
	Keywords              []string `yaml:"keywords"`
	Terms                 []string `yaml:"terms"`
	Regulations           []string `yaml:"regulations"`
	ShipTypes             []string `yaml:"ship_types"`
	ScopeRequired         []string `yaml:"scope_required"`
	CorrectInterpretation string   `yaml:"correct_interpretation"`
	CommonMistake         string   `yaml:"common_mistake"`
	TypicalConfigurations []string `yaml:"typical_configurations"`
	DecisionTree          []string `yaml:"decision_tree"`
}

// minScore keeps weak single-signal matches (e.g. ship type alone appearing
// in an unrelated question) out of the context.
const minScore = 2

// Index holds the loaded entries and their inverted indexes. Safe for
// concurrent use; Reload swaps the whole state under the lock.
type Index struct {
	dir string

	mu           sync.RWMutex
	byID         map[string]*Entry
	keywordIndex map[string][]string
	regIndex     map[string][]string

	watcher *fsnotify.Watcher
}

// NewIndex loads all *.yaml files under dir. A missing directory is not an
// error; the index is simply empty.
func NewIndex(dir string) (*Index, error) {
	idx := &Index{dir: dir}
	if err := idx.Reload(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Reload re-reads the knowledge directory and atomically replaces the
// in-memory state.
func (idx *Index) Reload() error {
	byID := map[string]*Entry{}
	keywordIndex := map[string][]string{}
	regIndex := map[string][]string{}

	files, err := filepath.Glob(filepath.Join(idx.dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("failed to list knowledge dir: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			slog.Error("Failed to read knowledge file", "file", file, "error", err)
			continue
		}

		var entries []Entry
		if err := yaml.Unmarshal(data, &entries); err != nil {
			slog.Error("Failed to parse knowledge file", "file", file, "error", err)
			continue
		}

		for i := range entries {
			entry := &entries[i]
			if entry.ID == "" {
				entry.ID = strings.TrimSuffix(filepath.Base(file), ".yaml")
			}
			byID[entry.ID] = entry
			for _, kw := range entry.Keywords {
				k := strings.ToLower(kw)
				keywordIndex[k] = append(keywordIndex[k], entry.ID)
			}
			for _, reg := range entry.Regulations {
				k := strings.ToLower(reg)
				regIndex[k] = append(regIndex[k], entry.ID)
			}
		}
	}

	idx.mu.Lock()
	idx.byID = byID
	idx.keywordIndex = keywordIndex
	idx.regIndex = regIndex
	idx.mu.Unlock()

	slog.Info("Practical knowledge loaded", "entries", len(byID), "dir", idx.dir)
	return nil
}

// Len reports the number of loaded entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byID)
}

// Query scores entries against the query and the enhancer's output, returning
// at most 3 entries. Scoring is additive: keyword hit +2, regulation named by
// both the enhancer and the entry +3, regulation on either side +2, matched
// term +1, ship type +2. Entries with scope_required must also match a scope
// word or they are dropped.
func (idx *Index) Query(userQuery string, matchedTerms, regulationHints []string) []*Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	queryLower := strings.ToLower(userQuery)
	scores := map[string]int{}

	for kw, ids := range idx.keywordIndex {
		if strings.Contains(queryLower, kw) {
			for _, id := range ids {
				scores[id] += 2
			}
		}
	}

	hintSet := make(map[string]struct{}, len(regulationHints))
	for _, r := range regulationHints {
		hintSet[strings.ToLower(r)] = struct{}{}
	}
	for reg, ids := range idx.regIndex {
		_, hinted := hintSet[reg]
		inQuery := strings.Contains(queryLower, reg)
		var pts int
		switch {
		case hinted && inQuery:
			pts = 3
		case hinted || inQuery:
			pts = 2
		}
		if pts > 0 {
			for _, id := range ids {
				scores[id] += pts
			}
		}
	}

	termSet := make(map[string]struct{}, len(matchedTerms))
	for _, t := range matchedTerms {
		termSet[strings.ToLower(t)] = struct{}{}
	}
	for id, entry := range idx.byID {
		for _, term := range entry.Terms {
			if _, ok := termSet[strings.ToLower(term)]; ok {
				scores[id]++
			}
		}
		for _, st := range entry.ShipTypes {
			if strings.Contains(queryLower, strings.ToLower(st)) {
				scores[id] += 2
			}
		}
	}

	// Scope gate.
	for id := range scores {
		entry := idx.byID[id]
		if len(entry.ScopeRequired) == 0 {
			continue
		}
		inScope := false
		for _, sw := range entry.ScopeRequired {
			if strings.Contains(queryLower, strings.ToLower(sw)) {
				inScope = true
				break
			}
		}
		if !inScope {
			delete(scores, id)
		}
	}

	type scored struct {
		id    string
		score int
	}
	ranked := make([]scored, 0, len(scores))
	for id, score := range scores {
		if score >= minScore {
			ranked = append(ranked, scored{id, score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	results := make([]*Entry, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, idx.byID[r.id])
	}
	return results
}

// FormatMarkdown renders entries as the Markdown block injected into the LLM
// context. The headings are in Chinese to match the answer language of the
// primary user base.
func FormatMarkdown(entries []*Entry) string {
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## 验船实务参考（来自资深验船师经验）\n\n")
	for _, entry := range entries {
		fmt.Fprintf(&b, "### %s\n", entry.Title)
		fmt.Fprintf(&b, "**适用法规**: %s\n", strings.Join(entry.Regulations, ", "))
		if entry.CorrectInterpretation != "" {
			fmt.Fprintf(&b, "**正确理解**: %s\n", entry.CorrectInterpretation)
		}
		if entry.CommonMistake != "" {
			fmt.Fprintf(&b, "**常见误解**: %s\n", entry.CommonMistake)
		}
		if len(entry.TypicalConfigurations) > 0 {
			b.WriteString("**典型配置**:\n")
			for _, cfg := range entry.TypicalConfigurations {
				fmt.Fprintf(&b, "- %s\n", cfg)
			}
		}
		if len(entry.DecisionTree) > 0 {
			b.WriteString("**判断逻辑**:\n")
			for _, step := range entry.DecisionTree {
				fmt.Fprintf(&b, "- %s\n", step)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Watch reloads the index whenever a YAML file in the directory changes.
// Call Close to stop watching.
func (idx *Index) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create knowledge watcher: %w", err)
	}
	if err := watcher.Add(idx.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", idx.dir, err)
	}
	idx.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".yaml") {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := idx.Reload(); err != nil {
					slog.Error("Knowledge reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Knowledge watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher if one is running.
func (idx *Index) Close() error {
	if idx.watcher != nil {
		return idx.watcher.Close()
	}
	return nil
}
