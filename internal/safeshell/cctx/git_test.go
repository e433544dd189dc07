package cctx

import (
	"os"
	"path/filepath"
	"testing"
)

func initFakeRepo(t *testing.T, root, headContent string) {
	t.Helper()
	gitDir := filepath.Join(root, ".git")
	if err := os.MkdirAll(gitDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte(headContent), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestDetectGitOnBranch(t *testing.T) {
	root := t.TempDir()
	initFakeRepo(t, root, "ref: refs/heads/main\n")

	gotRoot, branch, detached := detectGit(root)
	if gotRoot != root {
		t.Errorf("root = %q, want %q", gotRoot, root)
	}
	if branch != "main" {
		t.Errorf("branch = %q, want %q", branch, "main")
	}
	if detached {
		t.Error("expected not detached")
	}
}

func TestDetectGitDetachedHead(t *testing.T) {
	root := t.TempDir()
	initFakeRepo(t, root, "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2\n")

	_, branch, detached := detectGit(root)
	if branch != "" {
		t.Errorf("branch = %q, want empty on detached HEAD", branch)
	}
	if !detached {
		t.Error("expected detached = true")
	}
}

func TestDetectGitWalksUpwardFromSubdirectory(t *testing.T) {
	root := t.TempDir()
	initFakeRepo(t, root, "ref: refs/heads/develop\n")

	nested := filepath.Join(root, "pkg", "sub")
	if err := os.MkdirAll(nested, 0700); err != nil {
		t.Fatal(err)
	}

	gotRoot, branch, _ := detectGit(nested)
	if gotRoot != root {
		t.Errorf("root = %q, want %q", gotRoot, root)
	}
	if branch != "develop" {
		t.Errorf("branch = %q, want %q", branch, "develop")
	}
}

func TestDetectGitOutsideRepo(t *testing.T) {
	root := t.TempDir()
	gotRoot, branch, detached := detectGit(root)
	if gotRoot != "" || branch != "" || detached {
		t.Fatalf("expected empty result outside a repo, got root=%q branch=%q detached=%v", gotRoot, branch, detached)
	}
}

func TestDetectGitWorktreeFile(t *testing.T) {
	root := t.TempDir()
	realGitDir := filepath.Join(root, ".real-git")
	if err := os.MkdirAll(realGitDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(realGitDir, "HEAD"), []byte("ref: refs/heads/worktree-branch\n"), 0600); err != nil {
		t.Fatal(err)
	}

	worktree := filepath.Join(root, "worktree")
	if err := os.MkdirAll(worktree, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(worktree, ".git"), []byte("gitdir: "+realGitDir+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	gotRoot, branch, _ := detectGit(worktree)
	if gotRoot != worktree {
		t.Errorf("root = %q, want %q", gotRoot, worktree)
	}
	if branch != "worktree-branch" {
		t.Errorf("branch = %q, want %q", branch, "worktree-branch")
	}
}

func TestGitCacheCachesResult(t *testing.T) {
	root := t.TempDir()
	initFakeRepo(t, root, "ref: refs/heads/cached\n")

	cache := NewGitCache()
	r1, b1, _ := cache.Lookup(root)
	if r1 != root || b1 != "cached" {
		t.Fatalf("first lookup = (%q, %q), want (%q, %q)", r1, b1, root, "cached")
	}

	// Remove the repo on disk; a cached (unexpired) entry must still be served.
	os.RemoveAll(filepath.Join(root, ".git"))
	r2, b2, _ := cache.Lookup(root)
	if r2 != root || b2 != "cached" {
		t.Fatalf("cached lookup = (%q, %q), want the cached (%q, %q)", r2, b2, root, "cached")
	}
}
