package cctx

import (
	"os"
	"path/filepath"
	"strings"
)

// detectGit walks upward from dir looking for the first ".git" entry (a
// directory for an ordinary repository, or a file containing "gitdir: ..."
// for a worktree), then reads HEAD to determine the current branch.
//
// It returns the worktree root (the directory that contains .git), the
// branch name (empty on detached HEAD or outside a repo), and whether HEAD
// is detached. Adapted from the upward-walk and worktree-aware HEAD parsing
// used by the sandbox package's git preset discovery.
func detectGit(dir string) (root, branch string, detached bool) {
	cur := dir
	for {
		gitPath := filepath.Join(cur, ".git")
		info, err := os.Lstat(gitPath)
		if err == nil {
			gitDir, ok := resolveGitDir(gitPath, info, cur)
			if ok {
				b, d, err := readHead(gitDir)
				if err == nil {
					return cur, b, d
				}
				return cur, "", false
			}
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return "", "", false
		}
		cur = parent
	}
}

// resolveGitDir turns a ".git" path (directory or worktree file) into the
// actual git directory to read HEAD from.
func resolveGitDir(gitPath string, info os.FileInfo, worktreeRoot string) (string, bool) {
	if info.IsDir() {
		return gitPath, true
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", false
	}

	line := strings.TrimSpace(string(data))
	const prefix = "gitdir:"
	if !strings.HasPrefix(strings.ToLower(line), prefix) {
		return "", false
	}

	gitDirPath := strings.TrimSpace(line[len(prefix):])
	if gitDirPath == "" {
		return "", false
	}
	if !filepath.IsAbs(gitDirPath) {
		gitDirPath = filepath.Join(worktreeRoot, gitDirPath)
	}
	gitDirPath = filepath.Clean(gitDirPath)

	if st, err := os.Stat(gitDirPath); err != nil || !st.IsDir() {
		return "", false
	}
	return gitDirPath, true
}

// readHead reads <gitDir>/HEAD and reports the branch name (if any) and
// whether the repository is in detached-HEAD state.
func readHead(gitDir string) (branch string, detached bool, err error) {
	data, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", false, err
	}

	line := strings.TrimSpace(string(data))
	const refPrefix = "ref: "
	if after, ok := strings.CutPrefix(line, refPrefix); ok {
		ref := strings.TrimSpace(after)
		const headsPrefix = "refs/heads/"
		if name, ok := strings.CutPrefix(ref, headsPrefix); ok && name != "" {
			return name, false, nil
		}
		// A ref outside refs/heads/ (e.g. a bisect or rebase ref) has no
		// meaningful branch name but is not detached in the classic sense.
		return "", false, nil
	}

	// No "ref: " prefix means HEAD holds a raw commit SHA: detached.
	return "", true, nil
}
