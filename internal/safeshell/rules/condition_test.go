package rules

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/cctx"
)

// decodeCondition unmarshals doc and compiles any regex it carries,
// mirroring the two-step load-then-compile sequence Rule.Compile() performs
// in production: UnmarshalYAML itself never compiles regexes, so that a bad
// one can't abort the whole rule file's parse.
func decodeCondition(t *testing.T, doc string) Condition {
	t.Helper()
	var c Condition
	if err := yaml.Unmarshal([]byte(doc), &c); err != nil {
		t.Fatalf("UnmarshalYAML(%q): %v", doc, err)
	}
	if err := c.compile(); err != nil {
		t.Fatalf("compile(%q): %v", doc, err)
	}
	return c
}

func TestConditionCommandContains(t *testing.T) {
	c := decodeCondition(t, `command_contains: "--force"`)
	ctx := &cctx.Context{RawCommand: "git push --force origin main"}
	if !c.Evaluate(ctx) {
		t.Fatal("expected command_contains to match")
	}
	ctx2 := &cctx.Context{RawCommand: "git push origin main"}
	if c.Evaluate(ctx2) {
		t.Fatal("expected command_contains not to match")
	}
}

func TestConditionCommandMatchesRegex(t *testing.T) {
	c := decodeCondition(t, `command_matches: "^rm\\s+-rf"`)
	if !c.Evaluate(&cctx.Context{RawCommand: "rm -rf /tmp/x"}) {
		t.Fatal("expected regex to match")
	}
	if c.Evaluate(&cctx.Context{RawCommand: "rm /tmp/x"}) {
		t.Fatal("expected regex not to match a plain rm")
	}
}

func TestConditionGitBranchIn(t *testing.T) {
	c := decodeCondition(t, `git_branch_in: ["main", "master"]`)
	inRepo := &cctx.Context{GitRoot: "/repo", GitBranch: "main"}
	if !c.Evaluate(inRepo) {
		t.Fatal("expected main branch to match git_branch_in")
	}
	other := &cctx.Context{GitRoot: "/repo", GitBranch: "feature/x"}
	if c.Evaluate(other) {
		t.Fatal("expected feature branch not to match")
	}
	notRepo := &cctx.Context{GitBranch: "main"}
	if c.Evaluate(notRepo) {
		t.Fatal("expected git_branch_in to be false outside a repo")
	}
}

func TestConditionInGitRepo(t *testing.T) {
	c := decodeCondition(t, `in_git_repo: true`)
	if !c.Evaluate(&cctx.Context{GitRoot: "/repo"}) {
		t.Fatal("expected in_git_repo: true to match when inside a repo")
	}
	if c.Evaluate(&cctx.Context{}) {
		t.Fatal("expected in_git_repo: true not to match outside a repo")
	}
}

func TestConditionFileExists(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Makefile"), []byte(""), 0600); err != nil {
		t.Fatal(err)
	}
	c := decodeCondition(t, `file_exists: "Makefile"`)
	if !c.Evaluate(&cctx.Context{WorkingDir: dir}) {
		t.Fatal("expected file_exists to find the Makefile")
	}
	if c.Evaluate(&cctx.Context{WorkingDir: t.TempDir()}) {
		t.Fatal("expected file_exists to be false in a directory without the file")
	}
}

func TestConditionEnvEquals(t *testing.T) {
	c := decodeCondition(t, "env_equals:\n  name: CI\n  value: \"true\"\n")
	if !c.Evaluate(&cctx.Context{Env: map[string]string{"CI": "true"}}) {
		t.Fatal("expected env_equals to match")
	}
	if c.Evaluate(&cctx.Context{Env: map[string]string{"CI": "false"}}) {
		t.Fatal("expected env_equals not to match a different value")
	}
}

func TestConditionUnmarshalYAMLDoesNotCompileRegex(t *testing.T) {
	var c Condition
	if err := yaml.Unmarshal([]byte(`command_matches: "(unclosed"`), &c); err != nil {
		t.Fatalf("UnmarshalYAML must accept an invalid regex without error, got: %v", err)
	}
	if c.compiled != nil {
		t.Fatal("expected UnmarshalYAML not to compile the regex")
	}
	if err := c.compile(); err == nil {
		t.Fatal("expected compile() to report the invalid regex")
	}
	if c.Evaluate(&cctx.Context{RawCommand: "anything"}) {
		t.Fatal("expected an uncompiled/invalid regex condition never to match")
	}
}

func TestConditionUnrecognizedKeyErrors(t *testing.T) {
	var c Condition
	err := yaml.Unmarshal([]byte(`bash: "rm -rf /"`), &c)
	if err == nil {
		t.Fatal("expected an error for a legacy bash-string condition")
	}
}

func TestConditionFingerprintIsStableAndDistinguishing(t *testing.T) {
	a := decodeCondition(t, `command_contains: "--force"`)
	b := decodeCondition(t, `command_contains: "--force"`)
	c := decodeCondition(t, `command_contains: "--hard"`)

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("expected identical conditions to fingerprint identically")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("expected different payloads to fingerprint differently")
	}
}
