// Package search answers learning queries: scope-aware semantic search
// with tiered confidence buckets, and a low-noise peek mode for mid-task
// lookups.
package search

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/mfenderov/compound-learning/internal/config"
	"github.com/mfenderov/compound-learning/internal/embedding"
	"github.com/mfenderov/compound-learning/internal/scope"
	"github.com/mfenderov/compound-learning/internal/storage"
)

// Status values returned at the service boundary. Callers branch on these,
// so "nothing found" and "something broke" stay distinct.
const (
	StatusSuccess   = "success"
	StatusNoResults = "no_results"
	StatusFound     = "found"
	StatusEmpty     = "empty"
	StatusError     = "error"
)

// Result is one search hit. MatchedKeyword is set only by peek, naming
// the keyword that produced the hit's best distance.
type Result struct {
	ID             string  `json:"id"`
	Content        string  `json:"content"`
	Summary        string  `json:"summary"`
	FilePath       string  `json:"file_path"`
	Scope          string  `json:"scope"`
	Repo           string  `json:"repo,omitempty"`
	Topic          string  `json:"topic"`
	Type           string  `json:"type"`
	Distance       float64 `json:"distance"`
	MatchedKeyword string  `json:"matched_keyword,omitempty"`
}

// Response is the discriminated result of a search: a status plus tiered
// buckets. Error carries detail only when Status is "error".
type Response struct {
	Status           string   `json:"status"`
	HighConfidence   []Result `json:"high_confidence"`
	PossiblyRelevant []Result `json:"possibly_relevant"`
	ReposSearched    []string `json:"repos_searched"`
	Error            string   `json:"error,omitempty"`
}

// candidateCount is how many neighbors the index returns before tiering
// discards the irrelevant tail.
const candidateCount = 10

// defaultPeekCap bounds peek results: a mid-task interjection should show
// at most a couple of learnings.
const defaultPeekCap = 2

// Service orchestrates query embedding, the similarity index, and tier
// bucketing.
type Service struct {
	store    *storage.Store
	embedder embedding.Embedder
	cfg      config.Learnings
}

// New creates a search service.
func New(store *storage.Store, embedder embedding.Embedder, cfg config.Learnings) *Service {
	return &Service{store: store, embedder: embedder, cfg: cfg}
}

// Search runs a standard semantic search from the given working directory.
// Backend failures come back as a structured error response, never a panic
// or a naked error the caller must distinguish from "no results".
func (s *Service) Search(ctx context.Context, query, cwd string) Response {
	filter := s.scopeFor(cwd)
	query, tagFilter, topicFilter := parseFilters(query)

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return Response{Status: StatusError, Error: "embedding query: " + err.Error()}
	}

	matches, err := s.store.QueryVector(vec, filter, nil, candidateCount)
	if err != nil {
		return Response{Status: StatusError, Error: "querying index: " + err.Error()}
	}

	matches = applyFilters(matches, tagFilter, topicFilter)
	matches = s.rerank(query, matches)

	resp := Response{Status: StatusSuccess}
	repos := map[string]bool{}
	for _, m := range matches {
		switch {
		case m.Distance < s.cfg.HighConfidenceThreshold:
			resp.HighConfidence = append(resp.HighConfidence, toResult(m))
		case m.Distance < s.cfg.PossiblyRelevantThreshold:
			resp.PossiblyRelevant = append(resp.PossiblyRelevant, toResult(m))
		default:
			continue
		}
		if m.Repo != "" {
			repos[m.Repo] = true
		}
	}

	for repo := range repos {
		resp.ReposSearched = append(resp.ReposSearched, repo)
	}
	sort.Strings(resp.ReposSearched)

	if len(resp.HighConfidence) == 0 && len(resp.PossiblyRelevant) == 0 {
		resp.Status = StatusNoResults
	}
	return resp
}

// Keywords runs a full-text keyword search restricted to the scopes
// visible from the working directory, same visibility rules as Search.
func (s *Service) Keywords(query, cwd string, limit int) ([]storage.KeywordMatch, error) {
	return s.store.SearchKeywords(query, s.scopeFor(cwd), limit)
}

// PeekRequest is the input to a peek search.
type PeekRequest struct {
	Keywords   []string
	Cwd        string
	ExcludeIDs []string
	MaxResults int
}

// Peek searches each keyword independently and in parallel, merges the
// results keeping the lowest distance per learning, and returns a small
// cap of the best hits. Excluded ids never appear. An embedding failure
// for one keyword drops that keyword, not the whole peek; peek fails open.
func (s *Service) Peek(ctx context.Context, req PeekRequest) Response {
	if len(req.Keywords) == 0 {
		return Response{Status: StatusEmpty}
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = defaultPeekCap
	}
	filter := s.scopeFor(req.Cwd)

	// The index is read-only during search, so keyword queries are safe to
	// run concurrently.
	perKeyword := make([][]storage.Match, len(req.Keywords))
	var wg sync.WaitGroup
	for i, kw := range req.Keywords {
		wg.Add(1)
		go func(i int, kw string) {
			defer wg.Done()
			vec, err := s.embedder.Embed(ctx, kw)
			if err != nil {
				log.Debug("peek keyword embedding failed", "keyword", kw, "error", err)
				return
			}
			matches, err := s.store.QueryVector(vec, filter, req.ExcludeIDs, candidateCount)
			if err != nil {
				log.Debug("peek keyword query failed", "keyword", kw, "error", err)
				return
			}
			perKeyword[i] = matches
		}(i, kw)
	}
	wg.Wait()

	// Union by id, keeping each learning's best distance across keywords
	// and remembering which keyword produced it.
	type peekHit struct {
		storage.Match
		keyword string
	}
	best := map[string]peekHit{}
	for i, matches := range perKeyword {
		for _, m := range matches {
			if prev, ok := best[m.ID]; !ok || m.Distance < prev.Distance {
				best[m.ID] = peekHit{Match: m, keyword: req.Keywords[i]}
			}
		}
	}

	merged := make([]peekHit, 0, len(best))
	for _, m := range best {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Distance != merged[j].Distance {
			return merged[i].Distance < merged[j].Distance
		}
		return merged[i].ID < merged[j].ID
	})

	// High-confidence hits first; backfill from the possibly-relevant tier
	// only when the cap has room left.
	toPeekResult := func(h peekHit) Result {
		r := toResult(h.Match)
		r.MatchedKeyword = h.keyword
		return r
	}
	var picked []Result
	for _, m := range merged {
		if m.Distance < s.cfg.HighConfidenceThreshold && len(picked) < limit {
			picked = append(picked, toPeekResult(m))
		}
	}
	for _, m := range merged {
		if len(picked) >= limit {
			break
		}
		if m.Distance >= s.cfg.HighConfidenceThreshold && m.Distance < s.cfg.PossiblyRelevantThreshold {
			picked = append(picked, toPeekResult(m))
		}
	}

	if len(picked) == 0 {
		return Response{Status: StatusEmpty}
	}
	return Response{Status: StatusFound, HighConfidence: picked}
}

// parseFilters pulls tag: and topic: prefixes out of a query, returning
// the remaining free text. "tag:docker compose networking" searches
// "compose networking" restricted to learnings tagged docker.
func parseFilters(query string) (clean, tagFilter, topicFilter string) {
	var rest []string
	for _, w := range strings.Fields(query) {
		switch {
		case strings.HasPrefix(strings.ToLower(w), "tag:"):
			tagFilter = strings.ToLower(w[len("tag:"):])
		case strings.HasPrefix(strings.ToLower(w), "topic:"):
			topicFilter = strings.ToLower(w[len("topic:"):])
		default:
			rest = append(rest, w)
		}
	}
	// Queries without filter prefixes pass through untouched, whitespace
	// and all, so the embedded text is exactly what the caller sent.
	if tagFilter == "" && topicFilter == "" {
		return query, "", ""
	}
	clean = strings.Join(rest, " ")
	// A pure filter query still needs text to embed.
	if clean == "" {
		clean = strings.TrimSpace(tagFilter + " " + topicFilter)
	}
	return clean, tagFilter, topicFilter
}

func applyFilters(matches []storage.Match, tagFilter, topicFilter string) []storage.Match {
	if tagFilter == "" && topicFilter == "" {
		return matches
	}
	var kept []storage.Match
	for _, m := range matches {
		if topicFilter != "" && strings.ToLower(m.Topic) != topicFilter {
			continue
		}
		if tagFilter != "" && !hasTag(m.TagList(), tagFilter) {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.ToLower(t) == want {
			return true
		}
	}
	return false
}

// scopeFor resolves the visible repos for a working directory.
func (s *Service) scopeFor(cwd string) storage.ScopeFilter {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}
	return storage.ScopeFilter{Repos: scope.Hierarchy(cwd, home)}
}

// rerank nudges distances by keyword overlap between the query and each
// learning's tags and keywords, then restores ascending order. A learning
// sharing terms with the query beats an equally-distant one that doesn't.
func (s *Service) rerank(query string, matches []storage.Match) []storage.Match {
	terms := queryTerms(query)
	if len(terms) == 0 || s.cfg.KeywordBoostWeight <= 0 {
		return matches
	}

	for i, m := range matches {
		overlap := termOverlap(terms, append(m.TagList(), m.KeywordList()...))
		matches[i].Distance = m.Distance * (1 - s.cfg.KeywordBoostWeight*overlap)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	return matches
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "what": true, "when": true, "where": true, "which": true,
	"with": true,
}

func queryTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if w != "" && !stopwords[w] {
			terms = append(terms, w)
		}
	}
	return terms
}

// termOverlap is the fraction of query terms found in the learning's
// tag/keyword vocabulary.
func termOverlap(terms, vocab []string) float64 {
	set := map[string]bool{}
	for _, v := range vocab {
		set[strings.ToLower(v)] = true
	}
	hits := 0
	for _, t := range terms {
		if set[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func toResult(m storage.Match) Result {
	return Result{
		ID:       m.ID,
		Content:  m.Content,
		Summary:  m.Summary,
		FilePath: m.FilePath,
		Scope:    m.Scope,
		Repo:     m.Repo,
		Topic:    m.Topic,
		Type:     m.Type,
		Distance: m.Distance,
	}
}
