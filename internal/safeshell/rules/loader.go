package rules

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// RepoRuleRelPath is the path, relative to a repository root, that the
// loader searches for when discovering repo-local rules.
const RepoRuleRelPath = ".safeshell/rules.yaml"

// Loader merges the built-in, user-global, and repo-local rule tiers.
//
// Override policy (security-critical): global overrides may modify
// built-ins; repo overrides are never applied — they are logged and
// discarded, because a malicious repository must not be able to weaken
// protections defined upstream. Repo *rules* (not overrides) are additive
// and always accepted, since they can only add restrictions.
type Loader struct {
	Logger         *logrus.Logger
	GlobalRulesPath string
}

// NewLoader constructs a Loader. logger may be nil, in which case a
// discarding logger is used.
func NewLoader(logger *logrus.Logger, globalRulesPath string) *Loader {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Loader{Logger: logger, GlobalRulesPath: globalRulesPath}
}

// LoadResult is the outcome of one Load call: the merged, compiled rule
// list and the set of source files that were read (for mtime-based cache
// invalidation in C9).
type LoadResult struct {
	Rules        []Rule
	SourceFiles  []string
}

// Load performs the full three-tier load for the given working directory.
func (l *Loader) Load(workingDir string) (*LoadResult, error) {
	builtinSet, err := parseSet(builtinRulesYAML, "<builtin>")
	if err != nil {
		return nil, fmt.Errorf("builtin rules: %w", err)
	}

	rules := append([]Rule{}, builtinSet.Rules...)
	var sourceFiles []string
	var err2 error

	rules, err2 = applyOverrides(rules, builtinSet.Overrides, "<builtin>")
	if err2 != nil {
		return nil, err2
	}

	if l.GlobalRulesPath != "" {
		if st, err := os.Stat(l.GlobalRulesPath); err == nil && !st.IsDir() {
			globalSet, err := l.loadFile(l.GlobalRulesPath)
			if err != nil {
				return nil, err
			}
			rules = append(rules, globalSet.Rules...)
			sourceFiles = append(sourceFiles, l.GlobalRulesPath)

			// Global overrides may modify anything loaded so far
			// (built-in or earlier global rules).
			rules, err2 = applyOverrides(rules, globalSet.Overrides, l.GlobalRulesPath)
			if err2 != nil {
				return nil, err2
			}
		}
	}

	if repoPath, ok := FindRepoRules(workingDir); ok {
		repoSet, err := l.loadFile(repoPath)
		if err != nil {
			return nil, err
		}
		rules = append(rules, repoSet.Rules...)
		sourceFiles = append(sourceFiles, repoPath)

		if len(repoSet.Overrides) > 0 {
			l.Logger.WithField("file", repoPath).Warn("repo rule file contains overrides; ignoring (repo rules are additive-only)")
		}
	}

	rules = l.compileAndFilter(rules)

	if err := checkUniqueNames(rules); err != nil {
		return nil, err
	}

	return &LoadResult{Rules: rules, SourceFiles: sourceFiles}, nil
}

// loadFile reads and parses one YAML rule file, validating every rule and
// override it declares. An empty file loads as zero rules / zero overrides.
func (l *Loader) loadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file %q: %w", path, err)
	}
	return parseSet(data, path)
}

func parseSet(data []byte, sourceName string) (*Set, error) {
	if len(data) == 0 {
		return &Set{}, nil
	}
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing rule file %q: %w", sourceName, err)
	}
	for i := range set.Rules {
		if err := set.Rules[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", sourceName, err)
		}
	}
	for i := range set.Overrides {
		if err := set.Overrides[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", sourceName, err)
		}
	}
	return &set, nil
}

// applyOverrides applies overrides against rules, returning a new slice
// with any override-disabled rules removed. Referencing a missing rule
// name is a load error (fatal), per §4.1.
func applyOverrides(rules []Rule, overrides []Override, sourceName string) ([]Rule, error) {
	index := make(map[string]int, len(rules))
	for i, r := range rules {
		index[r.Name] = i
	}

	disabled := make(map[string]bool)
	for _, o := range overrides {
		i, ok := index[o.Name]
		if !ok {
			return nil, fmt.Errorf("%s: override references unknown rule %q", sourceName, o.Name)
		}
		if drop := o.Apply(&rules[i]); drop {
			disabled[o.Name] = true
		}
	}
	if len(disabled) == 0 {
		return rules, nil
	}

	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !disabled[r.Name] {
			out = append(out, r)
		}
	}
	return out, nil
}

// compileAndFilter compiles each rule's directory regex and condition
// regexes, dropping (with a warning) any rule with an uncompilable one —
// not fatal for the load.
func (l *Loader) compileAndFilter(in []Rule) []Rule {
	out := make([]Rule, 0, len(in))
	for _, r := range in {
		if err := r.Compile(); err != nil {
			l.Logger.WithError(err).WithField("rule", r.Name).Warn("dropping rule with invalid regex")
			continue
		}
		out = append(out, r)
	}
	return out
}

func checkUniqueNames(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule name %q in merged rule set", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// FindRepoRules walks upward from workingDir looking for .safeshell/rules.yaml,
// stopping at the first filesystem root encountered.
func FindRepoRules(workingDir string) (string, bool) {
	cur := workingDir
	for {
		candidate := filepath.Join(cur, RepoRuleRelPath)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", false
		}
		cur = parent
	}
}
