package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mfenderov/compound-learning/internal/storage"
)

// RebuildManifests regenerates every manifest from the store: the global
// manifest covering all scopes, plus one per repo that has learnings.
// Manifests are derived artifacts, rewritten wholesale on every pass.
// Returns the paths written.
func (ix *Indexer) RebuildManifests() ([]string, error) {
	all, err := ix.store.All(storage.ScopeFilter{All: true})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	byScope := map[string][]storage.Learning{}
	for _, l := range all {
		key := "global"
		if l.Scope == storage.ScopeRepo && l.Repo != "" {
			key = l.Repo
		}
		byScope[key] = append(byScope[key], l)
	}

	var written []string

	globalPath := filepath.Join(ix.globalDir, ManifestFilename)
	if err := writeManifest(globalPath, globalSections(byScope)); err != nil {
		return written, fmt.Errorf("writing global manifest: %w", err)
	}
	written = append(written, globalPath)

	for repo, learnings := range byScope {
		if repo == "global" {
			continue
		}
		// The repo's learnings directory is where its files live.
		dir := filepath.Dir(learnings[0].FilePath)
		path := filepath.Join(dir, ManifestFilename)
		sections := formatScopeSection("Repo Learnings: "+repo, learnings)
		if err := writeManifest(path, sections); err != nil {
			log.Warn("writing repo manifest failed", "repo", repo, "error", err)
			continue
		}
		written = append(written, path)
	}

	sort.Strings(written)
	return written, nil
}

func globalSections(byScope map[string][]storage.Learning) []string {
	var lines []string
	if global := byScope["global"]; len(global) > 0 {
		lines = append(lines, formatScopeSection("Global Learnings", global)...)
	}

	repos := make([]string, 0, len(byScope))
	for repo := range byScope {
		if repo != "global" {
			repos = append(repos, repo)
		}
	}
	sort.Strings(repos)
	for _, repo := range repos {
		lines = append(lines, formatScopeSection("Repo Learnings: "+repo, byScope[repo])...)
	}
	return lines
}

func writeManifest(path string, sections []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("# Learnings Manifest\n")
	b.WriteString("Generated: " + time.Now().UTC().Format("2006-01-02T15:04:05Z") + "\n\n")
	b.WriteString(strings.Join(sections, "\n"))
	b.WriteString("\n")

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

const maxSampleKeywords = 6

type topicSummary struct {
	count       int
	corrections int
	keywords    map[string]int
}

// formatScopeSection renders one scope's topic table. Corrections are
// learnings whose type is gotcha/security or whose content reads like a
// "don't do X" note; they get a warning count in the table.
func formatScopeSection(title string, learnings []storage.Learning) []string {
	topics := map[string]*topicSummary{}
	total, corrections := 0, 0

	for _, l := range learnings {
		t := topics[l.Topic]
		if t == nil {
			t = &topicSummary{keywords: map[string]int{}}
			topics[l.Topic] = t
		}
		t.count++
		total++
		if l.IsCorrection() || IsCorrectionContent(l.Content) {
			t.corrections++
			corrections++
		}
		for _, kw := range l.KeywordList() {
			t.keywords[kw]++
		}
	}

	header := fmt.Sprintf("## %s (%d total)", title, total)
	if corrections > 0 {
		header = fmt.Sprintf("## %s (%d total, %d corrections)", title, total, corrections)
	}

	lines := []string{header, "", "| Topic | Count | Sample Keywords |", "|-------|-------|-----------------|"}

	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if topics[names[i]].count != topics[names[j]].count {
			return topics[names[i]].count > topics[names[j]].count
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		t := topics[name]
		count := fmt.Sprintf("%d", t.count)
		if t.corrections > 0 {
			count = fmt.Sprintf("%d (%d⚠️)", t.count, t.corrections)
		}
		lines = append(lines, fmt.Sprintf("| %s | %s | %s |", name, count, strings.Join(topKeywords(t.keywords), ", ")))
	}

	lines = append(lines, "")
	return lines
}

// topKeywords returns the most frequent keywords, ties broken lexically.
func topKeywords(freq map[string]int) []string {
	kws := make([]string, 0, len(freq))
	for kw := range freq {
		kws = append(kws, kw)
	}
	sort.Slice(kws, func(i, j int) bool {
		if freq[kws[i]] != freq[kws[j]] {
			return freq[kws[i]] > freq[kws[j]]
		}
		return kws[i] < kws[j]
	})
	if len(kws) > maxSampleKeywords {
		kws = kws[:maxSampleKeywords]
	}
	return kws
}
