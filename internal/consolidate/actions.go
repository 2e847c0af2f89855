package consolidate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mfenderov/compound-learning/internal/embedding"
	"github.com/mfenderov/compound-learning/internal/indexer"
	"github.com/mfenderov/compound-learning/internal/storage"
)

// Per-action and overall statuses.
const (
	ActionSuccess = "success"
	ActionPartial = "partial"
	ActionError   = "error"
)

// Outcome reports one id's fate within a batch action.
type Outcome struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	BackupPath string `json:"backup_path,omitempty"`
}

// Result is the discriminated outcome of a batch action: "success" only
// when every id succeeded, "partial" on a mixed batch.
type Result struct {
	Status   string    `json:"status"`
	Outcomes []Outcome `json:"outcomes"`
}

// MergeResult extends Result with the merge's output file.
type MergeResult struct {
	Result
	NewFile string `json:"new_file,omitempty"`
	NewID   string `json:"new_id,omitempty"`
	DryRun  bool   `json:"dry_run,omitempty"`
}

// Actions executes consolidation mutations. Every destructive step backs
// up the source file first; a failed backup hard-stops that id.
type Actions struct {
	store       *storage.Store
	embedder    embedding.Embedder
	archiveRoot string
	globalDir   string
}

// NewActions creates an Actions executor.
func NewActions(store *storage.Store, embedder embedding.Embedder, archiveRoot, globalDir string) *Actions {
	return &Actions{store: store, embedder: embedder, archiveRoot: archiveRoot, globalDir: globalDir}
}

// Get fetches full learnings for review before a destructive action.
func (a *Actions) Get(ids []string) ([]storage.Learning, error) {
	return a.store.Get(ids)
}

// Delete backs up each id's source file, then removes the file and the
// store record. Ids are processed independently: one failure never blocks
// the rest.
func (a *Actions) Delete(ids []string) Result {
	return a.removeEach(ids, false)
}

// Archive relocates each learning's file into the dated archive directory
// and removes it from the store. The archived copy is the content's new
// home, not a safety duplicate, but the mechanics match Delete: copy
// first, remove only after the copy is confirmed.
func (a *Actions) Archive(ids []string) Result {
	return a.removeEach(ids, true)
}

func (a *Actions) removeEach(ids []string, archive bool) Result {
	var outcomes []Outcome
	for _, id := range ids {
		outcomes = append(outcomes, a.removeOne(id, archive))
	}
	return Result{Status: overall(outcomes), Outcomes: outcomes}
}

func (a *Actions) removeOne(id string, archive bool) Outcome {
	learnings, err := a.store.Get([]string{id})
	if err != nil {
		return Outcome{ID: id, Status: ActionError, Error: err.Error()}
	}
	if len(learnings) == 0 {
		return Outcome{ID: id, Status: ActionError, Error: "not found"}
	}
	l := learnings[0]

	backup, err := backupFile(a.archiveRoot, l.FilePath)
	if err != nil {
		// No confirmed backup, the file stays untouched.
		return Outcome{ID: id, Status: ActionError, Error: "backup failed: " + err.Error()}
	}

	if err := os.Remove(l.FilePath); err != nil && !os.IsNotExist(err) {
		return Outcome{ID: id, Status: ActionError, Error: "removing file: " + err.Error(), BackupPath: backup}
	}
	if err := a.store.Delete([]string{id}); err != nil {
		return Outcome{ID: id, Status: ActionError, Error: "removing record: " + err.Error(), BackupPath: backup}
	}

	verb := "deleted"
	if archive {
		verb = "archived"
	}
	log.Info(verb+" learning", "id", id, "file", l.FilePath, "backup", backup)
	return Outcome{ID: id, Status: ActionSuccess, BackupPath: backup}
}

// Rescope moves one learning's source file into the target scope's
// learnings directory. The id derives from the path, so this is an
// explicit delete-old/insert-new transition reusing the stored embedding;
// the content is unchanged and is not re-embedded.
func (a *Actions) Rescope(id, targetScope, targetRepoRoot string) Result {
	outcome := a.rescopeOne(id, targetScope, targetRepoRoot)
	return Result{Status: overall([]Outcome{outcome}), Outcomes: []Outcome{outcome}}
}

func (a *Actions) rescopeOne(id, targetScope, targetRepoRoot string) Outcome {
	learnings, err := a.store.Get([]string{id})
	if err != nil {
		return Outcome{ID: id, Status: ActionError, Error: err.Error()}
	}
	if len(learnings) == 0 {
		return Outcome{ID: id, Status: ActionError, Error: "not found"}
	}
	l := learnings[0]

	var destDir, repo string
	switch targetScope {
	case storage.ScopeGlobal:
		destDir = a.globalDir
	case storage.ScopeRepo:
		if targetRepoRoot == "" {
			return Outcome{ID: id, Status: ActionError, Error: "rescope to repo requires a target repo root"}
		}
		destDir = filepath.Join(targetRepoRoot, ".projects", "learnings")
		repo = filepath.Base(targetRepoRoot)
	default:
		return Outcome{ID: id, Status: ActionError, Error: fmt.Sprintf("unknown scope %q", targetScope)}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Outcome{ID: id, Status: ActionError, Error: "creating target directory: " + err.Error()}
	}

	vec, err := a.store.GetEmbedding(id)
	if err != nil {
		return Outcome{ID: id, Status: ActionError, Error: err.Error()}
	}

	data, err := os.ReadFile(l.FilePath)
	if err != nil {
		return Outcome{ID: id, Status: ActionError, Error: "reading source: " + err.Error()}
	}

	dest := availableName(destDir, filepath.Base(l.FilePath))
	if err := writeFileSync(dest, data); err != nil {
		return Outcome{ID: id, Status: ActionError, Error: "writing target: " + err.Error()}
	}
	if err := os.Remove(l.FilePath); err != nil {
		return Outcome{ID: id, Status: ActionError, Error: "removing source: " + err.Error()}
	}
	if resolved, err := filepath.EvalSymlinks(dest); err == nil {
		dest = resolved
	}

	moved := l
	moved.ID = indexer.DocumentID(dest)
	moved.Scope = targetScope
	moved.Repo = repo
	moved.FilePath = dest

	if err := a.store.Delete([]string{id}); err != nil {
		return Outcome{ID: id, Status: ActionError, Error: "removing old record: " + err.Error()}
	}
	if err := a.store.Upsert(moved, vec); err != nil {
		return Outcome{ID: id, Status: ActionError, Error: "inserting rescoped record: " + err.Error()}
	}

	log.Info("rescoped learning", "id", id, "new_id", moved.ID, "file", dest)
	return Outcome{ID: id, Status: ActionSuccess}
}

// MergeRequest describes a merge action.
type MergeRequest struct {
	IDs       []string
	Name      string
	OutputDir string // overrides the scope-derived destination
	DryRun    bool
}

// Merge concatenates the learnings into one new dated file with per-source
// attribution headers, indexes the merged document, then backs up and
// removes each original. Dry-run reports the plan without touching disk or
// store.
func (a *Actions) Merge(ctx context.Context, req MergeRequest) MergeResult {
	req.IDs = dedupe(req.IDs)
	if len(req.IDs) < 2 {
		return MergeResult{Result: Result{Status: ActionError, Outcomes: []Outcome{
			{Status: ActionError, Error: "merge needs at least two ids"},
		}}}
	}
	if req.Name == "" {
		return MergeResult{Result: Result{Status: ActionError, Outcomes: []Outcome{
			{Status: ActionError, Error: "merge needs a name"},
		}}}
	}

	learnings, err := a.store.Get(req.IDs)
	if err != nil {
		return MergeResult{Result: Result{Status: ActionError, Outcomes: []Outcome{
			{Status: ActionError, Error: err.Error()},
		}}}
	}
	if len(learnings) != len(req.IDs) {
		found := map[string]bool{}
		for _, l := range learnings {
			found[l.ID] = true
		}
		var outcomes []Outcome
		for _, id := range req.IDs {
			if !found[id] {
				outcomes = append(outcomes, Outcome{ID: id, Status: ActionError, Error: "not found"})
			}
		}
		return MergeResult{Result: Result{Status: ActionError, Outcomes: outcomes}}
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = a.globalDir
	}
	dest := availableName(outDir, fmt.Sprintf("%s-%s.md", req.Name, time.Now().UTC().Format("2006-01-02")))

	if req.DryRun {
		outcomes := make([]Outcome, len(learnings))
		for i, l := range learnings {
			outcomes[i] = Outcome{ID: l.ID, Status: ActionSuccess}
		}
		return MergeResult{
			Result:  Result{Status: ActionSuccess, Outcomes: outcomes},
			NewFile: dest,
			DryRun:  true,
		}
	}

	content := mergedContent(req.Name, learnings)

	vec, err := a.embedder.Embed(ctx, content)
	if err != nil {
		return MergeResult{Result: Result{Status: ActionError, Outcomes: []Outcome{
			{Status: ActionError, Error: "embedding merged content: " + err.Error()},
		}}}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return MergeResult{Result: Result{Status: ActionError, Outcomes: []Outcome{
			{Status: ActionError, Error: "creating output directory: " + err.Error()},
		}}}
	}
	if err := writeFileSync(dest, []byte(content)); err != nil {
		return MergeResult{Result: Result{Status: ActionError, Outcomes: []Outcome{
			{Status: ActionError, Error: "writing merged file: " + err.Error()},
		}}}
	}
	// Resolve symlinks so the stored id matches what a later index pass
	// derives for the same file.
	if resolved, err := filepath.EvalSymlinks(dest); err == nil {
		dest = resolved
	}

	meta := indexer.Parse(content)
	scope, repo := scopeForDir(a.globalDir, outDir)
	merged := storage.Learning{
		ID:       indexer.DocumentID(dest),
		Content:  content,
		Scope:    scope,
		Repo:     repo,
		FilePath: dest,
		Topic:    meta.Topic,
		Tags:     strings.Join(meta.Tags, ","),
		Keywords: strings.Join(meta.Keywords, ","),
		Type:     meta.Type,
		Summary:  meta.Summary,
	}
	if err := a.store.Upsert(merged, vec); err != nil {
		return MergeResult{Result: Result{Status: ActionError, Outcomes: []Outcome{
			{Status: ActionError, Error: "indexing merged learning: " + err.Error()},
		}}}
	}

	// Originals go last: the merged document exists and is indexed before
	// anything is removed.
	var outcomes []Outcome
	for _, l := range learnings {
		outcomes = append(outcomes, a.removeOne(l.ID, false))
	}

	log.Info("merged learnings", "count", len(learnings), "file", dest)
	return MergeResult{
		Result:  Result{Status: overall(outcomes), Outcomes: outcomes},
		NewFile: dest,
		NewID:   merged.ID,
	}
}

// dedupe drops repeated and empty ids, keeping first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// mergedContent builds the merge output: a title, then each source's
// content under an attribution header.
func mergedContent(name string, learnings []storage.Learning) string {
	var b strings.Builder
	b.WriteString("# " + name + "\n\n")
	for _, l := range learnings {
		b.WriteString("## Source: " + filepath.Base(l.FilePath) + "\n\n")
		b.WriteString(strings.TrimRight(l.Content, "\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}

// scopeForDir infers the scope of a destination directory: anything under
// the global directory is global, a [repo]/.projects/learnings path is
// that repo's scope.
func scopeForDir(globalDir, dir string) (string, string) {
	if dir == globalDir || strings.HasPrefix(dir, globalDir+string(os.PathSeparator)) {
		return storage.ScopeGlobal, ""
	}
	if filepath.Base(dir) == "learnings" && filepath.Base(filepath.Dir(dir)) == ".projects" {
		repoRoot := filepath.Dir(filepath.Dir(dir))
		return storage.ScopeRepo, filepath.Base(repoRoot)
	}
	return storage.ScopeGlobal, ""
}

func overall(outcomes []Outcome) string {
	success, failed := 0, 0
	for _, o := range outcomes {
		if o.Status == ActionSuccess {
			success++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return ActionSuccess
	case success == 0:
		return ActionError
	default:
		return ActionPartial
	}
}
