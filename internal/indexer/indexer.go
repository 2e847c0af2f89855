package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mfenderov/compound-learning/internal/embedding"
	"github.com/mfenderov/compound-learning/internal/storage"
)

// learningNamespace seeds deterministic id derivation so the same file
// path always maps to the same document id.
var learningNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// DocumentID derives the stable id for a learning from its canonical
// absolute path.
func DocumentID(canonicalPath string) string {
	return uuid.NewSHA1(learningNamespace, []byte(canonicalPath)).String()
}

// Indexer synchronizes learning files on disk into the store.
type Indexer struct {
	store     *storage.Store
	embedder  embedding.Embedder
	globalDir string
}

// New creates an Indexer writing to store with vectors from embedder.
func New(store *storage.Store, embedder embedding.Embedder, globalDir string) *Indexer {
	return &Indexer{store: store, embedder: embedder, globalDir: globalDir}
}

// Result summarizes an indexing pass.
type Result struct {
	Indexed   int      `json:"indexed"`
	Pruned    int      `json:"pruned"`
	Errors    int      `json:"errors"`
	Manifests []string `json:"manifests"`
}

// Index runs a full pass: discover, parse, embed, upsert, prune, and
// regenerate manifests. Per-file failures are logged and skipped; the pass
// continues. Cancellation is checked between files, so an interrupted pass
// leaves every already-upserted file intact.
func (ix *Indexer) Index(ctx context.Context, cwd string) (Result, error) {
	var res Result

	sources, err := Discover(ix.globalDir, cwd)
	if err != nil {
		return res, fmt.Errorf("discovering learning files: %w", err)
	}
	log.Info("discovered learning files", "count", len(sources))

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := ix.indexOne(ctx, src); err != nil {
			log.Warn("skipping learning file", "path", src.Path, "error", err)
			res.Errors++
			continue
		}
		res.Indexed++
	}

	pruned, err := ix.prune()
	if err != nil {
		return res, fmt.Errorf("pruning deleted files: %w", err)
	}
	res.Pruned = pruned

	manifests, err := ix.RebuildManifests()
	if err != nil {
		return res, fmt.Errorf("regenerating manifests: %w", err)
	}
	res.Manifests = manifests

	return res, nil
}

// IndexFile indexes a single file, resolving its scope from the path the
// same way a full pass would.
func (ix *Indexer) IndexFile(ctx context.Context, path string) error {
	canonical := canonicalize(path)

	src := Source{Path: canonical, Scope: storage.ScopeGlobal}
	canonicalGlobal := canonicalize(ix.globalDir)
	if !strings.HasPrefix(canonical, canonicalGlobal+string(os.PathSeparator)) {
		src.Scope = storage.ScopeRepo
		src.Repo = repoNameFor(canonicalize(learningsDirOf(canonical)))
	}

	return ix.indexOne(ctx, src)
}

// learningsDirOf walks up from a file path to its containing
// [repo]/.projects/learnings directory. Falls back to the file's own
// directory when the path doesn't follow that layout.
func learningsDirOf(path string) string {
	dir := filepath.Dir(path)
	for probe := dir; ; {
		if filepath.Base(probe) == "learnings" && filepath.Base(filepath.Dir(probe)) == ".projects" {
			return probe
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return dir
		}
		probe = parent
	}
}

func (ix *Indexer) indexOne(ctx context.Context, src Source) error {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}
	content := string(data)

	meta := Parse(content)

	vec, err := ix.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	learning := storage.Learning{
		ID:       DocumentID(src.Path),
		Content:  content,
		Scope:    src.Scope,
		Repo:     src.Repo,
		FilePath: src.Path,
		Topic:    meta.Topic,
		Tags:     strings.Join(meta.Tags, ","),
		Keywords: strings.Join(meta.Keywords, ","),
		Type:     meta.Type,
		Summary:  meta.Summary,
	}
	return ix.store.Upsert(learning, vec)
}

// prune removes records whose source file no longer exists on disk. This
// is routine sync, not a destructive user action, so no backup is taken.
func (ix *Indexer) prune() (int, error) {
	all, err := ix.store.All(storage.ScopeFilter{All: true})
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, l := range all {
		if _, err := os.Stat(l.FilePath); os.IsNotExist(err) {
			stale = append(stale, l.ID)
			log.Info("pruning deleted learning", "path", l.FilePath)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := ix.store.Delete(stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}
