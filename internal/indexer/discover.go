package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/mfenderov/compound-learning/internal/scope"
	"github.com/mfenderov/compound-learning/internal/storage"
)

// ManifestFilename is generated by the indexer and never indexed as a
// learning itself.
const ManifestFilename = "MANIFEST.md"

// excludeGlobs filters out build artifacts and dependency trees that may
// appear below a learnings directory via symlinks.
var excludeGlobs = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/.venv/**",
	"**/venv/**",
	"**/.cache/**",
	"**/build/**",
	"**/dist/**",
	"**/__pycache__/**",
	"**/.next/**",
	"**/.nuxt/**",
	"**/vendor/**",
}

// Source is one learning file found on disk, with the scope it belongs to.
type Source struct {
	Path  string // canonical absolute path
	Scope string // storage.ScopeGlobal or storage.ScopeRepo
	Repo  string // repo name, empty for global
}

// Discover enumerates learning files: everything under the global
// directory, plus every `.projects/learnings/` directory found walking
// upward from cwd toward the filesystem root. Symlinked paths are resolved
// so the same file reached two ways indexes once.
func Discover(globalDir, cwd string) ([]Source, error) {
	seen := map[string]bool{}
	var sources []Source

	canonicalGlobal := canonicalize(globalDir)
	for _, path := range collectMarkdown(canonicalGlobal) {
		if !seen[path] {
			seen[path] = true
			sources = append(sources, Source{Path: path, Scope: storage.ScopeGlobal})
		}
	}

	for _, dir := range ancestorLearningDirs(cwd) {
		canonical := canonicalize(dir)
		if strings.HasPrefix(canonical, canonicalGlobal+string(filepath.Separator)) || canonical == canonicalGlobal {
			continue // global dir handled above
		}
		repo := repoNameFor(canonical)
		for _, path := range collectMarkdown(canonical) {
			if !seen[path] {
				seen[path] = true
				sources = append(sources, Source{Path: path, Scope: storage.ScopeRepo, Repo: repo})
			}
		}
	}

	return sources, nil
}

// ancestorLearningDirs walks from cwd up to the root, collecting each
// ancestor's .projects/learnings directory. Git worktrees resolve to the
// main repository's directory.
func ancestorLearningDirs(cwd string) []string {
	var dirs []string
	seen := map[string]bool{}

	add := func(root string) {
		dir := filepath.Join(root, ".projects", "learnings")
		if seen[dir] {
			return
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	if root := scope.RepoRoot(cwd); root != "" {
		add(root)
	}

	dir := cwd
	for {
		add(dir)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return dirs
}

// repoNameFor extracts the repo name from a canonical learnings directory,
// which sits at [repo]/.projects/learnings.
func repoNameFor(learningsDir string) string {
	repoRoot := filepath.Dir(filepath.Dir(learningsDir))
	name := filepath.Base(repoRoot)
	if name == "/" || name == "." {
		return "unknown"
	}
	return name
}

// collectMarkdown gathers every .md file under dir, excluding the manifest
// and anything matching the exclusion globs. Sorted for deterministic
// indexing order.
func collectMarkdown(dir string) []string {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".md") || filepath.Base(path) == ManifestFilename {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		if excluded(filepath.ToSlash(rel)) {
			return nil
		}
		files = append(files, canonicalize(path))
		return nil
	})
	if err != nil {
		log.Debug("walking learnings directory failed", "dir", dir, "error", err)
	}
	sort.Strings(files)
	return files
}

func excluded(relPath string) bool {
	for _, glob := range excludeGlobs {
		if ok, _ := doublestar.Match(glob, relPath); ok {
			return true
		}
	}
	return false
}

// canonicalize resolves symlinks so id derivation is stable across aliased
// paths. Falls back to the cleaned absolute path when resolution fails.
func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
