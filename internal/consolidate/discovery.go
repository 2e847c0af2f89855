// Package consolidate maintains the learning store: finding near-duplicate
// and outdated learnings, and executing merge/delete/archive/rescope
// actions with mandatory backups.
package consolidate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mfenderov/compound-learning/internal/config"
	"github.com/mfenderov/compound-learning/internal/storage"
)

// Discovery modes.
const (
	ModeAll        = "all"
	ModeDuplicates = "duplicates"
	ModeOutdated   = "outdated"
)

// Descriptor identifies one learning in a discovery report.
type Descriptor struct {
	ID       string `json:"id"`
	FilePath string `json:"file_path"`
	Summary  string `json:"summary"`
	Topic    string `json:"topic"`
	Scope    string `json:"scope"`
	Repo     string `json:"repo,omitempty"`
}

// Cluster is a group of near-duplicate learnings.
type Cluster struct {
	Learnings []Descriptor `json:"learnings"`
}

// OutdatedHit is a learning whose text contains outdated markers.
type OutdatedHit struct {
	Descriptor
	Markers []string `json:"markers"`
}

// Report is the read-only result of a discovery pass. Nothing is mutated;
// a human or agent reviews this before any action runs.
type Report struct {
	Duplicates []Cluster     `json:"duplicates,omitempty"`
	Outdated   []OutdatedHit `json:"outdated,omitempty"`
}

// Discoverer finds consolidation candidates.
type Discoverer struct {
	store *storage.Store
	cfg   config.Consolidation
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(store *storage.Store, cfg config.Consolidation) *Discoverer {
	return &Discoverer{store: store, cfg: cfg}
}

// Discover runs the requested discovery mode. limit caps the number of
// duplicate clusters and outdated hits independently; zero means no cap.
func (d *Discoverer) Discover(mode string, limit int) (Report, error) {
	var report Report

	if mode == ModeAll || mode == ModeDuplicates {
		clusters, err := d.Duplicates()
		if err != nil {
			return report, err
		}
		report.Duplicates = capClusters(clusters, limit)
	}
	if mode == ModeAll || mode == ModeOutdated {
		hits, err := d.Outdated()
		if err != nil {
			return report, err
		}
		if limit > 0 && len(hits) > limit {
			hits = hits[:limit]
		}
		report.Outdated = hits
	}
	if mode != ModeAll && mode != ModeDuplicates && mode != ModeOutdated {
		return report, fmt.Errorf("unknown discovery mode %q", mode)
	}
	return report, nil
}

// Duplicates clusters learnings whose pairwise distance is below the
// duplicate threshold. Clustering is connected components over the
// below-threshold edges: a chain of near-duplicates forms one cluster even
// when its endpoints aren't directly below threshold.
func (d *Discoverer) Duplicates() ([]Cluster, error) {
	learnings, vectors, err := d.store.AllEmbeddings(storage.ScopeFilter{All: true})
	if err != nil {
		return nil, err
	}

	uf := newUnionFind(len(learnings))
	for i := range learnings {
		for j := i + 1; j < len(learnings); j++ {
			if storage.CosineDistance(vectors[i], vectors[j]) < d.cfg.DuplicateThreshold {
				uf.union(i, j)
			}
		}
	}

	groups := map[int][]int{}
	for i := range learnings {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	var clusters []Cluster
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		c := Cluster{Learnings: make([]Descriptor, len(members))}
		for k, idx := range members {
			c.Learnings[k] = describe(learnings[idx])
		}
		sort.Slice(c.Learnings, func(a, b int) bool {
			return c.Learnings[a].FilePath < c.Learnings[b].FilePath
		})
		clusters = append(clusters, c)
	}

	sort.Slice(clusters, func(a, b int) bool {
		return clusters[a].Learnings[0].FilePath < clusters[b].Learnings[0].FilePath
	})
	return clusters, nil
}

// Outdated scans learning text for the configured marker phrases,
// case-insensitively, and reports which markers hit.
func (d *Discoverer) Outdated() ([]OutdatedHit, error) {
	all, err := d.store.All(storage.ScopeFilter{All: true})
	if err != nil {
		return nil, err
	}

	var hits []OutdatedHit
	for _, l := range all {
		lower := strings.ToLower(l.Content)
		var markers []string
		for _, marker := range d.cfg.OutdatedKeywords {
			if strings.Contains(lower, strings.ToLower(marker)) {
				markers = append(markers, marker)
			}
		}
		if len(markers) > 0 {
			hits = append(hits, OutdatedHit{Descriptor: describe(l), Markers: markers})
		}
	}
	return hits, nil
}

func describe(l storage.Learning) Descriptor {
	return Descriptor{
		ID:       l.ID,
		FilePath: l.FilePath,
		Summary:  l.Summary,
		Topic:    l.Topic,
		Scope:    l.Scope,
		Repo:     l.Repo,
	}
}

func capClusters(clusters []Cluster, limit int) []Cluster {
	if limit > 0 && len(clusters) > limit {
		return clusters[:limit]
	}
	return clusters
}

// unionFind with path compression, small enough to not warrant a dependency.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[rb] = ra
	}
}
