package rules

import (
	"fmt"
	"regexp"
)

// Action is the decision a matched rule prescribes.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionRequireApproval Action = "require_approval"
	ActionRedirect        Action = "redirect"
)

// priority maps an Action to its position in the aggregation order, most
// restrictive first: deny > require_approval > redirect > allow.
var priority = map[Action]int{
	ActionDeny:            0,
	ActionRequireApproval: 1,
	ActionRedirect:        2,
	ActionAllow:           3,
}

// RuleContext restricts which caller role a rule applies to.
type RuleContext string

const (
	ContextAll       RuleContext = "all"
	ContextAIOnly    RuleContext = "ai_only"
	ContextHumanOnly RuleContext = "human_only"
)

// Rule is a named declarative policy: an executable filter, optional
// directory/condition gates, an action, and a user-facing message.
type Rule struct {
	Name          string      `yaml:"name"`
	Commands      []string    `yaml:"commands"`
	Directory     string      `yaml:"directory,omitempty"`
	Conditions    []Condition `yaml:"conditions,omitempty"`
	Action        Action      `yaml:"action"`
	RuleContext   RuleContext `yaml:"context,omitempty"`
	Message       string      `yaml:"message,omitempty"`
	AllowOverride bool        `yaml:"allow_override,omitempty"`
	RedirectTo    string      `yaml:"redirect_to,omitempty"`

	compiledDirectory *regexp.Regexp // nil if Directory is empty or fails to compile
	directoryBad      bool           // true if Directory was non-empty but failed to compile
}

// Validate checks the structural invariants of a single rule. It does not
// compile the directory regex (see Compile) — that failure is handled as a
// per-rule warning, not a load error.
func (r *Rule) Validate() error {
	if len(r.Commands) == 0 {
		return fmt.Errorf("rule %q: commands must be non-empty", r.Name)
	}
	if r.Action == ActionRedirect && r.RedirectTo == "" {
		return fmt.Errorf("rule %q: redirect_to is required when action=redirect", r.Name)
	}
	switch r.Action {
	case ActionAllow, ActionDeny, ActionRequireApproval, ActionRedirect:
	default:
		return fmt.Errorf("rule %q: invalid action %q", r.Name, r.Action)
	}
	if r.RuleContext == "" {
		r.RuleContext = ContextAll
	}
	switch r.RuleContext {
	case ContextAll, ContextAIOnly, ContextHumanOnly:
	default:
		return fmt.Errorf("rule %q: invalid context %q", r.Name, r.RuleContext)
	}
	return nil
}

// Compile pre-compiles the directory regex and every condition regex this
// rule carries, if any. A rule with any uncompilable regex is not fatal for
// the load: it is marked bad (directory) or left uncompiled (conditions,
// which Evaluate treats as never-matching) and the caller is expected to
// drop the whole rule with a logged warning rather than abort the load.
func (r *Rule) Compile() (warning error) {
	if r.Directory != "" {
		re, err := regexp.Compile(r.Directory)
		if err != nil {
			r.directoryBad = true
			warning = fmt.Errorf("rule %q: invalid directory regex %q: %w", r.Name, r.Directory, err)
		} else {
			r.compiledDirectory = re
		}
	}

	for i := range r.Conditions {
		if err := r.Conditions[i].compile(); err != nil && warning == nil {
			warning = fmt.Errorf("rule %q: invalid condition regex: %w", r.Name, err)
		}
	}

	return warning
}

// Override carries a modification (or disabling) of a previously defined
// rule, applied at load time.
type Override struct {
	Name          string       `yaml:"name"`
	Disabled      *bool        `yaml:"disabled,omitempty"`
	Action        *Action      `yaml:"action,omitempty"`
	Message       *string      `yaml:"message,omitempty"`
	RuleContext   *RuleContext `yaml:"context,omitempty"`
	AllowOverride *bool        `yaml:"allow_override,omitempty"`
}

// Validate checks that an override modifies at least one field.
func (o *Override) Validate() error {
	if o.Disabled == nil && o.Action == nil && o.Message == nil && o.RuleContext == nil && o.AllowOverride == nil {
		return fmt.Errorf("override %q: must set disabled or at least one other field", o.Name)
	}
	return nil
}

// Apply mutates target in place according to the override's set fields.
// Returns whether target should be dropped entirely (Disabled = true).
func (o *Override) Apply(target *Rule) (disabled bool) {
	if o.Disabled != nil && *o.Disabled {
		return true
	}
	if o.Action != nil {
		target.Action = *o.Action
	}
	if o.Message != nil {
		target.Message = *o.Message
	}
	if o.RuleContext != nil {
		target.RuleContext = *o.RuleContext
	}
	if o.AllowOverride != nil {
		target.AllowOverride = *o.AllowOverride
	}
	return false
}

// Set is an ordered list of rules plus a list of overrides, as parsed from
// one YAML rule file.
type Set struct {
	Rules     []Rule     `yaml:"rules"`
	Overrides []Override `yaml:"overrides"`
}
