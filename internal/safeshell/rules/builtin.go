package rules

import _ "embed"

// builtinRulesYAML holds the rules embedded in the binary itself. The actual
// bundled rule content is out of scope for this core (spec.md §1 lists
// "the bundled rule YAML content" among the external collaborators); this
// embed exists only to exercise the built-in load tier end to end, and ships
// a minimal, conservative starter set.
//
//go:embed builtin.yaml
var builtinRulesYAML []byte
