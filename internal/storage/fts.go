package storage

import (
	"fmt"
	"strings"
)

// KeywordMatch is one full-text hit with its BM25 rank (lower is better).
type KeywordMatch struct {
	Learning
	Rank float64
}

type ftsRow struct {
	Learning
	Rank float64 `db:"rank"`
}

// SearchKeywords runs an FTS5 query over learning content, scoped through
// the filter. The raw query is rewritten into quoted OR terms so user input
// can't inject FTS syntax.
func (s *Store) SearchKeywords(query string, filter ScopeFilter, limit int) ([]KeywordMatch, error) {
	ftsQuery := prepareFTSQuery(query)
	if ftsQuery == "" {
		return []KeywordMatch{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	cond, args := filter.where("l")
	args = append([]any{ftsQuery}, args...)
	args = append(args, limit)

	// FTS5 only accepts the table name, never an alias, on the left of
	// MATCH, so learnings_fts stays unaliased here.
	var rows []ftsRow
	err := s.db.Select(&rows, `
		SELECT l.*, learnings_fts.rank
		FROM learnings_fts
		JOIN learnings l ON l.id = learnings_fts.id
		WHERE learnings_fts MATCH ? AND `+cond+`
		ORDER BY learnings_fts.rank
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	matches := make([]KeywordMatch, len(rows))
	for i, r := range rows {
		matches[i] = KeywordMatch{Learning: r.Learning, Rank: r.Rank}
	}
	return matches, nil
}

// prepareFTSQuery converts free text into a safe FTS5 query: each word is
// double-quoted and the words are OR-joined, so any one matching term
// surfaces the learning.
func prepareFTSQuery(query string) string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		quoted = append(quoted, `"`+w+`"`)
	}
	return strings.Join(quoted, " OR ")
}
