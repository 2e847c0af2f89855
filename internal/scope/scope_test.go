package scope

import (
	"os"
	"path/filepath"
	"testing"
)

func mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHierarchy_AncestorWalk(t *testing.T) {
	home := t.TempDir()
	// home/projects/my-service has learnings, the nested api dir does not.
	repo := filepath.Join(home, "projects", "my-service")
	nested := filepath.Join(repo, "cmd", "api")
	mkdirs(t,
		filepath.Join(repo, ".projects", "learnings"),
		nested,
	)

	repos := Hierarchy(nested, home)
	if len(repos) != 1 || repos[0] != "my-service" {
		t.Errorf("expected [my-service], got %v", repos)
	}
}

func TestHierarchy_MultipleAncestors(t *testing.T) {
	home := t.TempDir()
	outer := filepath.Join(home, "monorepo")
	inner := filepath.Join(outer, "services", "billing")
	mkdirs(t,
		filepath.Join(outer, ".projects", "learnings"),
		filepath.Join(inner, ".projects", "learnings"),
	)

	repos := Hierarchy(inner, home)
	if len(repos) != 2 {
		t.Fatalf("expected 2 repos, got %v", repos)
	}
	seen := map[string]bool{}
	for _, r := range repos {
		seen[r] = true
	}
	if !seen["billing"] || !seen["monorepo"] {
		t.Errorf("missing expected repos: %v", repos)
	}
}

func TestHierarchy_HomeIsNotARepo(t *testing.T) {
	home := t.TempDir()
	// A learnings dir directly under home is the global store, not a repo.
	work := filepath.Join(home, "somedir")
	mkdirs(t,
		filepath.Join(home, ".projects", "learnings"),
		work,
	)

	repos := Hierarchy(work, home)
	if len(repos) != 0 {
		t.Errorf("expected no repos, got %v", repos)
	}
}

func TestRepoRoot_GitDirectory(t *testing.T) {
	root := t.TempDir()
	repo := filepath.Join(root, "myrepo")
	sub := filepath.Join(repo, "pkg", "deep")
	mkdirs(t, filepath.Join(repo, ".git"), sub)

	got := RepoRoot(sub)
	want, _ := filepath.Abs(repo)
	if got != want {
		t.Errorf("RepoRoot = %q, want %q", got, want)
	}
	if RepoName(sub) != "myrepo" {
		t.Errorf("RepoName = %q", RepoName(sub))
	}
}

func TestRepoRoot_WorktreeResolvesToMain(t *testing.T) {
	root := t.TempDir()
	main := filepath.Join(root, "mainrepo")
	worktree := filepath.Join(root, "feature-branch")
	mkdirs(t, filepath.Join(main, ".git", "worktrees", "feature-branch"), worktree)

	gitFile := filepath.Join(worktree, ".git")
	content := "gitdir: " + filepath.Join(main, ".git", "worktrees", "feature-branch") + "\n"
	if err := os.WriteFile(gitFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got := RepoRoot(worktree)
	if got != main {
		t.Errorf("worktree resolved to %q, want %q", got, main)
	}
	if RepoName(worktree) != "mainrepo" {
		t.Errorf("RepoName = %q, want mainrepo", RepoName(worktree))
	}
}

func TestRepoRoot_NotARepo(t *testing.T) {
	dir := t.TempDir()
	if got := RepoRoot(dir); got != "" {
		t.Errorf("expected empty root, got %q", got)
	}
}

func TestHierarchy_WorktreeScopesToMainRepo(t *testing.T) {
	home := t.TempDir()
	main := filepath.Join(home, "mainrepo")
	worktree := filepath.Join(home, "worktrees", "fix")
	mkdirs(t,
		filepath.Join(main, ".git", "worktrees", "fix"),
		filepath.Join(main, ".projects", "learnings"),
		worktree,
	)
	content := "gitdir: " + filepath.Join(main, ".git", "worktrees", "fix") + "\n"
	if err := os.WriteFile(filepath.Join(worktree, ".git"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	repos := Hierarchy(worktree, home)
	if len(repos) != 1 || repos[0] != "mainrepo" {
		t.Errorf("expected [mainrepo], got %v", repos)
	}
}
