package indexer_test

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mfenderov/compound-learning/internal/indexer"
	"github.com/mfenderov/compound-learning/internal/storage"
)

// stubEmbedder derives a deterministic unit vector from the text so tests
// run without an embedding backend.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float64, 8)
	for i := range vec {
		vec[i] = float64(sum[i]) + 1
	}
	return vec, nil
}

type fixture struct {
	store     *storage.Store
	ix        *indexer.Indexer
	globalDir string
	workDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	globalDir := filepath.Join(root, "learnings")
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	workDir := filepath.Join(root, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}

	store, err := storage.NewStore(filepath.Join(root, "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &fixture{
		store:     store,
		ix:        indexer.New(store, stubEmbedder{}, globalDir),
		globalDir: globalDir,
		workDir:   workDir,
	}
}

func (f *fixture) writeGlobal(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.globalDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIndex_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.writeGlobal(t, "note.md", "# Note\n**Topic:** testing\na useful note about fixtures\n")

	for i := 0; i < 2; i++ {
		res, err := f.ix.Index(context.Background(), f.workDir)
		if err != nil {
			t.Fatalf("Index pass %d failed: %v", i, err)
		}
		if res.Indexed != 1 {
			t.Errorf("pass %d: expected 1 indexed, got %d", i, res.Indexed)
		}
	}

	count, err := f.store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 record after double index, got %d", count)
	}
}

func TestIndex_PrunesDeletedFiles(t *testing.T) {
	f := newFixture(t)
	path := f.writeGlobal(t, "doomed.md", "# Doomed\nthis learning file will be removed\n")

	if _, err := f.ix.Index(context.Background(), f.workDir); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	res, err := f.ix.Index(context.Background(), f.workDir)
	if err != nil {
		t.Fatalf("second Index failed: %v", err)
	}
	if res.Pruned != 1 {
		t.Errorf("expected 1 pruned, got %d", res.Pruned)
	}

	count, err := f.store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected empty store after prune, got %d", count)
	}
}

func TestIndex_RepoScopeFromAncestorWalk(t *testing.T) {
	f := newFixture(t)

	repoRoot := filepath.Join(f.workDir, "my-service")
	nested := filepath.Join(repoRoot, "cmd", "api")
	learningsDir := filepath.Join(repoRoot, ".projects", "learnings")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(learningsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(learningsDir, "note.md"), []byte("# Note\na repo-scoped learning about this service\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Indexing from a nested directory still finds the ancestor's learnings.
	if _, err := f.ix.Index(context.Background(), nested); err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	all, err := f.store.All(storage.ScopeFilter{All: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 learning, got %d", len(all))
	}
	if all[0].Scope != storage.ScopeRepo || all[0].Repo != "my-service" {
		t.Errorf("expected repo scope my-service, got %s/%s", all[0].Scope, all[0].Repo)
	}
}

func TestIndex_SkipsUnreadableFileAndContinues(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	f := newFixture(t)
	f.writeGlobal(t, "good.md", "# Good\na perfectly fine learning body\n")
	bad := f.writeGlobal(t, "bad.md", "# Bad\nwill be made unreadable\n")
	if err := os.Chmod(bad, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(bad, 0o644) })

	res, err := f.ix.Index(context.Background(), f.workDir)
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if res.Indexed != 1 || res.Errors != 1 {
		t.Errorf("expected 1 indexed and 1 error, got %d/%d", res.Indexed, res.Errors)
	}
}

func TestIndex_ManifestExcludedFromIndexing(t *testing.T) {
	f := newFixture(t)
	f.writeGlobal(t, "note.md", "# Note\nsomething worth keeping around here\n")

	// Two passes: the first generates MANIFEST.md, the second must not
	// index it as a learning.
	for i := 0; i < 2; i++ {
		if _, err := f.ix.Index(context.Background(), f.workDir); err != nil {
			t.Fatalf("Index failed: %v", err)
		}
	}

	count, err := f.store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("manifest was indexed as a learning: count %d", count)
	}
}

func TestIndex_ManifestContent(t *testing.T) {
	f := newFixture(t)
	f.writeGlobal(t, "auth.md", "# Auth\n**Type:** gotcha\n**Topic:** authentication\n**Tags:** jwt\nnever store tokens in localstorage\n")
	f.writeGlobal(t, "db.md", "# DB\n**Topic:** database\nalways run migrations inside a transaction\n")

	res, err := f.ix.Index(context.Background(), f.workDir)
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if len(res.Manifests) != 1 {
		t.Fatalf("expected 1 manifest, got %v", res.Manifests)
	}

	data, err := os.ReadFile(filepath.Join(f.globalDir, "MANIFEST.md"))
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	manifest := string(data)

	for _, want := range []string{"# Learnings Manifest", "Global Learnings", "authentication", "database", "⚠️"} {
		if !strings.Contains(manifest, want) {
			t.Errorf("manifest missing %q:\n%s", want, manifest)
		}
	}
}

func TestIndexFile_SingleGlobalFile(t *testing.T) {
	f := newFixture(t)
	path := f.writeGlobal(t, "single.md", "# Single\njust this one file gets indexed now\n")

	if err := f.ix.IndexFile(context.Background(), path); err != nil {
		t.Fatalf("IndexFile failed: %v", err)
	}

	all, err := f.store.All(storage.ScopeFilter{All: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Scope != storage.ScopeGlobal {
		t.Errorf("expected one global learning, got %+v", all)
	}
}

func TestIndex_CancelledBetweenFiles(t *testing.T) {
	f := newFixture(t)
	f.writeGlobal(t, "a.md", "# A\nfirst learning body sits right here\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.ix.Index(ctx, f.workDir); err == nil {
		t.Error("expected context error from cancelled pass")
	}
}
