// Package scope resolves which repositories are visible from a working
// directory. Repo-scoped learnings live in a .projects/learnings directory
// at the repo root; global learnings are always visible.
package scope

import (
	"os"
	"path/filepath"
	"strings"
)

const learningsSubdir = ".projects/learnings"

// Hierarchy walks up from cwd to home (or the filesystem root) and collects
// the name of every directory that has a .projects/learnings directory.
// Git worktrees resolve to the main checkout's repo name so both produce
// the same scope.
func Hierarchy(cwd, home string) []string {
	var repos []string
	seen := make(map[string]bool)

	add := func(dir string) {
		if dir == home {
			return
		}
		name := filepath.Base(dir)
		if name == "" || name == "/" || seen[name] {
			return
		}
		if dirExists(filepath.Join(dir, learningsSubdir)) {
			repos = append(repos, name)
			seen[name] = true
		}
	}

	// Worktree-aware: the main repo root first, so a worktree cwd scopes
	// to the same repo name as the primary checkout.
	if root := RepoRoot(cwd); root != "" {
		add(root)
	}

	current, err := filepath.Abs(cwd)
	if err != nil {
		current = cwd
	}
	if resolved, err := filepath.EvalSymlinks(current); err == nil {
		current = resolved
	}

	for {
		add(current)
		if current == home {
			break
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return repos
}

// RepoRoot returns the repository root containing cwd, resolving git
// worktrees back to the main checkout. Returns "" when cwd is not inside
// a git repository.
func RepoRoot(cwd string) string {
	check, err := filepath.Abs(cwd)
	if err != nil {
		return ""
	}

	for {
		gitPath := filepath.Join(check, ".git")
		info, err := os.Stat(gitPath)
		if err == nil {
			if info.IsDir() {
				return check
			}
			// .git file: worktree marker pointing at the main repo's
			// .git/worktrees/<name> directory.
			if gitdir := readGitdir(gitPath); gitdir != "" {
				marker := string(os.PathSeparator) + filepath.Join(".git", "worktrees") + string(os.PathSeparator)
				if idx := strings.Index(gitdir, marker); idx != -1 {
					return gitdir[:idx]
				}
			}
			return check
		}

		parent := filepath.Dir(check)
		if parent == check {
			return ""
		}
		check = parent
	}
}

// RepoName returns the basename of the resolved repo root, or "" when cwd
// is not inside a repository.
func RepoName(cwd string) string {
	root := RepoRoot(cwd)
	if root == "" {
		return ""
	}
	return filepath.Base(root)
}

func readGitdir(gitFile string) string {
	data, err := os.ReadFile(gitFile)
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(data))
	if strings.HasPrefix(content, "gitdir: ") {
		return strings.TrimPrefix(content, "gitdir: ")
	}
	return ""
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
