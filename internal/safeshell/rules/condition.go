package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/cctx"
)

// ConditionKind tags which variant a Condition holds. Modeled as a proper
// discriminated union (the YAML source uses a single-key-mapping shorthand
// per variant; this type makes that explicit), the same way the teacher's
// CommandRule encodes its string/bool shorthand as an explicit Kind field.
type ConditionKind int

const (
	CommandMatches ConditionKind = iota + 1
	CommandContains
	CommandStartswith
	GitBranchIn
	GitBranchMatches
	InGitRepo
	PathMatches
	FileExists
	EnvEquals
)

var conditionKeys = map[ConditionKind]string{
	CommandMatches:    "command_matches",
	CommandContains:   "command_contains",
	CommandStartswith: "command_startswith",
	GitBranchIn:       "git_branch_in",
	GitBranchMatches:  "git_branch_matches",
	InGitRepo:         "in_git_repo",
	PathMatches:       "path_matches",
	FileExists:        "file_exists",
	EnvEquals:         "env_equals",
}

// EnvEqualsValue is the payload of an env_equals condition.
type EnvEqualsValue struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Condition is a tagged sum over the nine structured predicate variants of
// the rule schema. Exactly one of the typed fields is meaningful, selected
// by Kind. Regex-bearing variants carry a pre-compiled pattern, compiled
// once at load time and reused across evaluations.
type Condition struct {
	Kind ConditionKind

	Regex        string // command_matches, git_branch_matches, path_matches
	Contains     string // command_contains
	Startswith   string // command_startswith
	BranchNames  []string
	InRepo       bool
	RelPath      string // file_exists
	EnvCheck     EnvEqualsValue

	compiled *regexp.Regexp
}

// UnmarshalYAML dispatches on whichever single recognized key is present in
// the mapping node, rejecting legacy bash-string shorthand conditions
// (the original implementation's evaluator.py executes bash strings; this
// port only ever accepts the structured form condition_types.py defines).
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("condition must be a mapping, got %v", node.Kind)
	}

	raw := map[string]yaml.Node{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		raw[node.Content[i].Value] = *node.Content[i+1]
	}

	switch {
	case has(raw, "command_matches"):
		var v string
		if err := raw["command_matches"].Decode(&v); err != nil {
			return err
		}
		c.Kind = CommandMatches
		c.Regex = v
	case has(raw, "command_contains"):
		var v string
		if err := raw["command_contains"].Decode(&v); err != nil {
			return err
		}
		c.Kind = CommandContains
		c.Contains = v
	case has(raw, "command_startswith"):
		var v string
		if err := raw["command_startswith"].Decode(&v); err != nil {
			return err
		}
		c.Kind = CommandStartswith
		c.Startswith = v
	case has(raw, "git_branch_in"):
		var v []string
		if err := raw["git_branch_in"].Decode(&v); err != nil {
			return err
		}
		c.Kind = GitBranchIn
		c.BranchNames = v
	case has(raw, "git_branch_matches"):
		var v string
		if err := raw["git_branch_matches"].Decode(&v); err != nil {
			return err
		}
		c.Kind = GitBranchMatches
		c.Regex = v
	case has(raw, "in_git_repo"):
		var v bool
		if err := raw["in_git_repo"].Decode(&v); err != nil {
			return err
		}
		c.Kind = InGitRepo
		c.InRepo = v
	case has(raw, "path_matches"):
		var v string
		if err := raw["path_matches"].Decode(&v); err != nil {
			return err
		}
		c.Kind = PathMatches
		c.Regex = v
	case has(raw, "file_exists"):
		var v string
		if err := raw["file_exists"].Decode(&v); err != nil {
			return err
		}
		c.Kind = FileExists
		c.RelPath = v
	case has(raw, "env_equals"):
		var v EnvEqualsValue
		if err := raw["env_equals"].Decode(&v); err != nil {
			return err
		}
		c.Kind = EnvEquals
		c.EnvCheck = v
	default:
		return fmt.Errorf("condition has no recognized key (legacy bash-string conditions are not supported)")
	}

	return nil
}

// MarshalYAML re-encodes the condition back to its single-key mapping form.
func (c Condition) MarshalYAML() (interface{}, error) {
	switch c.Kind {
	case CommandMatches:
		return map[string]string{"command_matches": c.Regex}, nil
	case CommandContains:
		return map[string]string{"command_contains": c.Contains}, nil
	case CommandStartswith:
		return map[string]string{"command_startswith": c.Startswith}, nil
	case GitBranchIn:
		return map[string][]string{"git_branch_in": c.BranchNames}, nil
	case GitBranchMatches:
		return map[string]string{"git_branch_matches": c.Regex}, nil
	case InGitRepo:
		return map[string]bool{"in_git_repo": c.InRepo}, nil
	case PathMatches:
		return map[string]string{"path_matches": c.Regex}, nil
	case FileExists:
		return map[string]string{"file_exists": c.RelPath}, nil
	case EnvEquals:
		return map[string]EnvEqualsValue{"env_equals": c.EnvCheck}, nil
	default:
		return nil, fmt.Errorf("condition has unset kind")
	}
}

// compile pre-compiles any regex this condition variant carries. Called from
// Rule.Compile() at load time, never from UnmarshalYAML: a bad regex must
// disable only the owning rule (logged, dropped by compileAndFilter), not
// abort parsing of the whole rule file. Invalid regexes leave c.compiled nil,
// which Evaluate treats as "never matches".
func (c *Condition) compile() error {
	switch c.Kind {
	case CommandMatches, GitBranchMatches, PathMatches:
		re, err := regexp.Compile(c.Regex)
		if err != nil {
			return fmt.Errorf("invalid regex %q: %w", c.Regex, err)
		}
		c.compiled = re
	}
	return nil
}

// Evaluate is a pure function of the context: no condition performs I/O
// more expensive than a stat (file_exists), matching the determinism
// invariant in the testable-properties section.
func (c *Condition) Evaluate(ctx *cctx.Context) bool {
	switch c.Kind {
	case CommandMatches:
		return c.compiled != nil && c.compiled.MatchString(ctx.RawCommand)
	case CommandContains:
		return strings.Contains(ctx.RawCommand, c.Contains)
	case CommandStartswith:
		return strings.HasPrefix(ctx.RawCommand, c.Startswith)
	case GitBranchIn:
		if !ctx.InGitRepo() {
			return false
		}
		for _, name := range c.BranchNames {
			if name == ctx.GitBranch {
				return true
			}
		}
		return false
	case GitBranchMatches:
		if !ctx.InGitRepo() || c.compiled == nil {
			return false
		}
		return c.compiled.MatchString(ctx.GitBranch)
	case InGitRepo:
		return ctx.InGitRepo() == c.InRepo
	case PathMatches:
		return c.compiled != nil && c.compiled.MatchString(ctx.WorkingDir)
	case FileExists:
		_, err := os.Stat(filepath.Join(ctx.WorkingDir, c.RelPath))
		return err == nil
	case EnvEquals:
		return ctx.Env[c.EnvCheck.Name] == c.EnvCheck.Value
	default:
		return false
	}
}

func has(m map[string]yaml.Node, key string) bool {
	_, ok := m[key]
	return ok
}

// Fingerprint returns a stable string identifying this condition's variant
// and payload, used as part of the condition-result cache key.
func (c *Condition) Fingerprint() string {
	key := conditionKeys[c.Kind]
	switch c.Kind {
	case CommandMatches, GitBranchMatches, PathMatches:
		return key + ":" + c.Regex
	case CommandContains:
		return key + ":" + c.Contains
	case CommandStartswith:
		return key + ":" + c.Startswith
	case GitBranchIn:
		return key + ":" + strings.Join(c.BranchNames, ",")
	case InGitRepo:
		return key + ":" + fmt.Sprint(c.InRepo)
	case FileExists:
		return key + ":" + c.RelPath
	case EnvEquals:
		return key + ":" + c.EnvCheck.Name + "=" + c.EnvCheck.Value
	default:
		return key
	}
}
