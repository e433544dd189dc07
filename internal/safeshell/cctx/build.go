package cctx

import "path/filepath"

// Builder constructs Command Contexts, sharing a GitCache across calls so
// that repeated evaluations against the same working directory reuse recent
// git detection results.
type Builder struct {
	git *GitCache
}

// NewBuilder returns a Builder with a fresh git-detection cache.
func NewBuilder() *Builder {
	return &Builder{git: NewGitCache()}
}

// Build constructs a Context for one evaluation. workingDir is made absolute
// (best-effort; left as-is if it cannot be resolved) before git detection.
func (b *Builder) Build(rawCommand, workingDir string, env map[string]string, role Role) *Context {
	abs, err := filepath.Abs(workingDir)
	if err != nil {
		abs = workingDir
	}

	root, branch, detached := b.git.Lookup(abs)

	return &Context{
		RawCommand: rawCommand,
		Args:       Tokenize(rawCommand),
		WorkingDir: abs,
		GitRoot:    root,
		GitBranch:  branch,
		Detached:   detached,
		Env:        env,
		Role:       role,
	}
}
