package consolidate_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mfenderov/compound-learning/internal/consolidate"
	"github.com/mfenderov/compound-learning/internal/indexer"
	"github.com/mfenderov/compound-learning/internal/storage"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float64, 8)
	for i := range vec {
		vec[i] = float64(sum[i]) + 1
	}
	return vec, nil
}

type actionFixture struct {
	store       *storage.Store
	actions     *consolidate.Actions
	globalDir   string
	archiveRoot string
}

func newActionFixture(t *testing.T) *actionFixture {
	t.Helper()
	root := t.TempDir()

	globalDir := filepath.Join(root, "learnings")
	archiveRoot := filepath.Join(root, "archive")
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		t.Fatal(err)
	}

	store, err := storage.NewStore(filepath.Join(root, "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &actionFixture{
		store:       store,
		actions:     consolidate.NewActions(store, stubEmbedder{}, archiveRoot, globalDir),
		globalDir:   globalDir,
		archiveRoot: archiveRoot,
	}
}

// addLearning writes a real file under the global dir and indexes it, so
// actions have both a record and a source file to operate on.
func (f *actionFixture) addLearning(t *testing.T, name, content string) (string, string) {
	t.Helper()
	path := filepath.Join(f.globalDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		canonical = path
	}
	id := indexer.DocumentID(canonical)
	l := storage.Learning{
		ID: id, Content: content, Scope: storage.ScopeGlobal,
		FilePath: canonical, Topic: "other", Type: "pattern",
	}
	vec, _ := stubEmbedder{}.Embed(context.Background(), content)
	if err := f.store.Upsert(l, vec); err != nil {
		t.Fatal(err)
	}
	return id, canonical
}

func (f *actionFixture) backupDirToday() string {
	return filepath.Join(f.archiveRoot, time.Now().UTC().Format("2006-01-02"))
}

func TestDelete_BackupBeforeRemoval(t *testing.T) {
	f := newActionFixture(t)
	content := "# Note\nthe exact bytes that must survive deletion\n"
	id, path := f.addLearning(t, "note.md", content)

	res := f.actions.Delete([]string{id})

	if res.Status != consolidate.ActionSuccess {
		t.Fatalf("expected success, got %s: %+v", res.Status, res.Outcomes)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("source file still exists after delete")
	}

	backup := res.Outcomes[0].BackupPath
	if !strings.HasPrefix(backup, f.backupDirToday()) {
		t.Errorf("backup %s not under dated directory %s", backup, f.backupDirToday())
	}
	data, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if !bytes.Equal(data, []byte(content)) {
		t.Error("backup is not byte-identical to the original")
	}

	remaining, err := f.store.Get([]string{id})
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Error("record still in store after delete")
	}
}

func TestDelete_BackupCollisionGetsSuffix(t *testing.T) {
	f := newActionFixture(t)
	id1, _ := f.addLearning(t, "note.md", "first version body text\n")
	res1 := f.actions.Delete([]string{id1})
	id2, _ := f.addLearning(t, "note.md", "second version body text\n")
	res2 := f.actions.Delete([]string{id2})

	b1, b2 := res1.Outcomes[0].BackupPath, res2.Outcomes[0].BackupPath
	if b1 == b2 {
		t.Fatalf("second backup overwrote the first: %s", b1)
	}
	if filepath.Base(b2) != "note_1.md" {
		t.Errorf("expected collision suffix note_1.md, got %s", filepath.Base(b2))
	}
}

func TestDelete_MissingSourceIsPartialNotFatal(t *testing.T) {
	f := newActionFixture(t)
	good, _ := f.addLearning(t, "good.md", "a learning with its file intact\n")
	orphan, orphanPath := f.addLearning(t, "orphan.md", "file about to vanish\n")
	if err := os.Remove(orphanPath); err != nil {
		t.Fatal(err)
	}

	res := f.actions.Delete([]string{orphan, good})

	if res.Status != consolidate.ActionPartial {
		t.Fatalf("expected partial, got %s", res.Status)
	}
	byID := map[string]consolidate.Outcome{}
	for _, o := range res.Outcomes {
		byID[o.ID] = o
	}
	// The orphan's backup cannot be taken, so its delete hard-stops; the
	// other id still goes through.
	if byID[orphan].Status != consolidate.ActionError {
		t.Errorf("expected orphan to fail, got %+v", byID[orphan])
	}
	if byID[good].Status != consolidate.ActionSuccess {
		t.Errorf("expected good to succeed, got %+v", byID[good])
	}

	remaining, err := f.store.Get([]string{orphan})
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 {
		t.Error("orphan record removed despite failed backup")
	}
}

func TestArchive_RelocatesContent(t *testing.T) {
	f := newActionFixture(t)
	content := "# Keeper\ncontent that moves to the archive\n"
	id, path := f.addLearning(t, "keeper.md", content)

	res := f.actions.Archive([]string{id})

	if res.Status != consolidate.ActionSuccess {
		t.Fatalf("expected success, got %s", res.Status)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("source file still in active directory")
	}
	data, err := os.ReadFile(res.Outcomes[0].BackupPath)
	if err != nil {
		t.Fatalf("archived copy missing: %v", err)
	}
	if string(data) != content {
		t.Error("archived copy differs from original")
	}
}

func TestRescope_DeleteOldInsertNew(t *testing.T) {
	f := newActionFixture(t)
	id, _ := f.addLearning(t, "movable.md", "# Movable\nthis learning changes scope\n")

	repoRoot := filepath.Join(t.TempDir(), "target-repo")
	res := f.actions.Rescope(id, storage.ScopeRepo, repoRoot)

	if res.Status != consolidate.ActionSuccess {
		t.Fatalf("expected success, got %s: %+v", res.Status, res.Outcomes)
	}

	// Old id gone, new id present with repo scope and the moved path.
	old, err := f.store.Get([]string{id})
	if err != nil {
		t.Fatal(err)
	}
	if len(old) != 0 {
		t.Error("old record survived rescope")
	}

	all, err := f.store.All(storage.ScopeFilter{All: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly 1 record, got %d", len(all))
	}
	moved := all[0]
	if moved.ID == id {
		t.Error("rescope kept the path-derived id despite the path change")
	}
	if moved.Scope != storage.ScopeRepo || moved.Repo != "target-repo" {
		t.Errorf("unexpected scope %s/%s", moved.Scope, moved.Repo)
	}
	wantDir := filepath.Join(repoRoot, ".projects", "learnings")
	if filepath.Dir(moved.FilePath) != wantDir {
		t.Errorf("file not moved into %s: %s", wantDir, moved.FilePath)
	}
	if _, err := os.Stat(moved.FilePath); err != nil {
		t.Errorf("moved file missing: %v", err)
	}
}

func TestMerge_PreservesContentAndRemovesOriginals(t *testing.T) {
	f := newActionFixture(t)
	id1, path1 := f.addLearning(t, "jwt-cookies-2026-01-16.md", "# JWT\nstore jwt in httponly cookies always\n")
	id2, path2 := f.addLearning(t, "jwt-cookies-2026-01-17.md", "# JWT again\nsame advice with samesite strict added\n")

	res := f.actions.Merge(context.Background(), consolidate.MergeRequest{
		IDs:  []string{id1, id2},
		Name: "jwt-authentication",
	})

	if res.Status != consolidate.ActionSuccess {
		t.Fatalf("expected success, got %s: %+v", res.Status, res.Outcomes)
	}

	data, err := os.ReadFile(res.NewFile)
	if err != nil {
		t.Fatalf("merged file missing: %v", err)
	}
	merged := string(data)
	for _, want := range []string{
		"# jwt-authentication",
		"## Source: jwt-cookies-2026-01-16.md",
		"## Source: jwt-cookies-2026-01-17.md",
		"httponly cookies",
		"samesite strict",
	} {
		if !strings.Contains(merged, want) {
			t.Errorf("merged file missing %q", want)
		}
	}

	for _, p := range []string{path1, path2} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("original %s still exists", p)
		}
	}
	for _, o := range res.Outcomes {
		if o.BackupPath == "" {
			t.Errorf("original %s removed without a backup path", o.ID)
			continue
		}
		if _, err := os.Stat(o.BackupPath); err != nil {
			t.Errorf("backup for %s missing: %v", o.ID, err)
		}
	}

	all, err := f.store.All(storage.ScopeFilter{All: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != res.NewID {
		t.Errorf("expected only the merged record, got %d records", len(all))
	}
}

func TestMerge_DryRunWritesNothing(t *testing.T) {
	f := newActionFixture(t)
	id1, path1 := f.addLearning(t, "a.md", "first learning body for the dry run\n")
	id2, _ := f.addLearning(t, "b.md", "second learning body for the dry run\n")

	res := f.actions.Merge(context.Background(), consolidate.MergeRequest{
		IDs:    []string{id1, id2},
		Name:   "combined",
		DryRun: true,
	})

	if !res.DryRun || res.Status != consolidate.ActionSuccess {
		t.Fatalf("unexpected dry-run result: %+v", res)
	}
	if res.NewFile == "" {
		t.Error("dry run did not report the planned file path")
	}
	if _, err := os.Stat(res.NewFile); !os.IsNotExist(err) {
		t.Error("dry run wrote the merged file")
	}
	if _, err := os.Stat(path1); err != nil {
		t.Error("dry run removed an original")
	}

	count, err := f.store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("dry run changed the store: count %d", count)
	}
}

func TestMerge_DuplicateIDsCollapse(t *testing.T) {
	f := newActionFixture(t)
	id1, _ := f.addLearning(t, "a.md", "first body for the duplicate id merge\n")
	id2, _ := f.addLearning(t, "b.md", "second body for the duplicate id merge\n")

	res := f.actions.Merge(context.Background(), consolidate.MergeRequest{
		IDs:  []string{id1, id1, id2},
		Name: "combined",
	})

	if res.Status != consolidate.ActionSuccess {
		t.Fatalf("expected success, got %s: %+v", res.Status, res.Outcomes)
	}
	if len(res.Outcomes) != 2 {
		t.Errorf("expected 2 outcomes after dedupe, got %d", len(res.Outcomes))
	}
	data, err := os.ReadFile(res.NewFile)
	if err != nil {
		t.Fatalf("merged file missing: %v", err)
	}
	if strings.Count(string(data), "## Source: a.md") != 1 {
		t.Error("duplicated id produced a repeated source section")
	}

	// The same id repeated is still only one learning, not a mergeable pair.
	id3, path3 := f.addLearning(t, "c.md", "lone learning body\n")
	res = f.actions.Merge(context.Background(), consolidate.MergeRequest{
		IDs:  []string{id3, id3},
		Name: "solo",
	})
	if res.Status != consolidate.ActionError {
		t.Errorf("expected error for a single distinct id, got %s", res.Status)
	}
	if _, err := os.Stat(path3); err != nil {
		t.Error("failed merge touched the source file")
	}
}

func TestMerge_MissingIDFailsBeforeAnyWrite(t *testing.T) {
	f := newActionFixture(t)
	id1, path1 := f.addLearning(t, "a.md", "only learning present in the store\n")

	res := f.actions.Merge(context.Background(), consolidate.MergeRequest{
		IDs:  []string{id1, "missing-id"},
		Name: "combined",
	})

	if res.Status != consolidate.ActionError {
		t.Fatalf("expected error, got %s", res.Status)
	}
	if _, err := os.Stat(path1); err != nil {
		t.Error("failed merge removed an original")
	}
}

func TestGet_ReturnsFullContent(t *testing.T) {
	f := newActionFixture(t)
	id, _ := f.addLearning(t, "full.md", "# Full\nevery byte comes back for review\n")

	got, err := f.actions.Get([]string{id})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || !strings.Contains(got[0].Content, "every byte") {
		t.Errorf("unexpected result: %+v", got)
	}
}
