package rules

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/cctx"
)

// Decision is the final verdict of an evaluation.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionDeny            Decision = "deny"
	DecisionRequireApproval Decision = "require_approval"
)

// Result is the outcome of evaluating a Command Context against a rule set.
type Result struct {
	Decision      Decision
	RuleName      string
	Reason        string
	AllowOverride bool
	RedirectTo    string // set only when the winning rule's action was redirect
}

// Evaluator evaluates command contexts against an indexed rule set. The
// commands field of each rule is the fast-path filter: any command whose
// executable is not a key of the index is allowed immediately without
// evaluating any condition.
type Evaluator struct {
	rules            []Rule
	commandIndex     map[string][]*Rule
	conditionCache   *ConditionCache
	logger           *logrus.Logger
	conditionTimeout time.Duration // 0 means unbounded
}

// NewEvaluator builds the command index over rules. conditionCache may be
// nil, in which case condition results are not cached at all: every
// condition reached is evaluated afresh, including identical conditions
// shared by several rules.
func NewEvaluator(rules []Rule, conditionCache *ConditionCache, logger *logrus.Logger) *Evaluator {
	e := &Evaluator{
		rules:          rules,
		commandIndex:   make(map[string][]*Rule),
		conditionCache: conditionCache,
		logger:         logger,
	}
	for i := range e.rules {
		r := &e.rules[i]
		for _, cmd := range r.Commands {
			e.commandIndex[cmd] = append(e.commandIndex[cmd], r)
		}
	}
	return e
}

// SetConditionTimeout bounds how long any single condition's Evaluate call
// may run before checkCondition gives up on it and treats the rule as not
// matching, the safety valve described in spec.md §4.3 (condition_timeout_ms).
// A zero duration (the default) leaves condition evaluation unbounded.
func (e *Evaluator) SetConditionTimeout(d time.Duration) {
	e.conditionTimeout = d
}

// Evaluate runs the fast path, per-rule matching, and priority aggregation
// described in spec.md §4.2.
func (e *Evaluator) Evaluate(ctx *cctx.Context) Result {
	executable := ctx.Executable()

	candidates, ok := e.commandIndex[executable]
	if !ok || executable == "" {
		return Result{Decision: DecisionAllow, RuleName: "rules", Reason: "No rules apply to this command"}
	}

	var matched []*Rule
	for _, r := range candidates {
		if e.matches(r, ctx) {
			matched = append(matched, r)
		}
	}

	if len(matched) == 0 {
		return Result{Decision: DecisionAllow, RuleName: "rules", Reason: "No rules matched this command"}
	}

	return e.aggregate(matched)
}

// matches reports whether rule r applies to ctx: role compatible, directory
// regex matches (if any), and every condition holds in declared order with
// short-circuit on the first false.
func (e *Evaluator) matches(r *Rule, ctx *cctx.Context) bool {
	switch r.RuleContext {
	case ContextAIOnly:
		if ctx.Role != cctx.RoleAI {
			return false
		}
	case ContextHumanOnly:
		if ctx.Role != cctx.RoleHuman {
			return false
		}
	}

	if r.Directory != "" {
		if r.directoryBad || r.compiledDirectory == nil {
			return false
		}
		if !r.compiledDirectory.MatchString(ctx.WorkingDir) {
			return false
		}
	}

	for i := range r.Conditions {
		if !e.checkCondition(&r.Conditions[i], ctx) {
			return false
		}
	}
	return true
}

// checkCondition evaluates one condition, consulting the shared condition
// cache when present. A condition that panics is never reachable here
// (Evaluate is called from the daemon's recovering connection handler), but
// Evaluate treats any false result uniformly with a failed condition: the
// rule simply does not match.
func (e *Evaluator) checkCondition(c *Condition, ctx *cctx.Context) bool {
	if e.conditionCache == nil {
		return e.evaluateWithTimeout(c, ctx)
	}

	fp := c.Fingerprint()
	if result, ok := e.conditionCache.Get(fp, ctx.RawCommand, ctx.WorkingDir); ok {
		return result
	}
	result := e.evaluateWithTimeout(c, ctx)
	e.conditionCache.Set(fp, ctx.RawCommand, ctx.WorkingDir, result)
	return result
}

// evaluateWithTimeout runs c.Evaluate(ctx), bounding it by conditionTimeout
// when one is set. A condition that is still running past the deadline is
// treated as false (the rule does not match on it) and a warning is logged;
// the goroutine is left to finish on its own since Condition.Evaluate has no
// cancellation hook.
func (e *Evaluator) evaluateWithTimeout(c *Condition, ctx *cctx.Context) bool {
	if e.conditionTimeout <= 0 {
		return c.Evaluate(ctx)
	}

	done := make(chan bool, 1)
	go func() {
		done <- c.Evaluate(ctx)
	}()

	select {
	case result := <-done:
		return result
	case <-time.After(e.conditionTimeout):
		if e.logger != nil {
			e.logger.WithField("condition", c.Kind).Warn("condition evaluation exceeded condition_timeout_ms; treating as not matched")
		}
		return false
	}
}

// aggregate picks the most restrictive rule among matched, per the priority
// order deny > require_approval > redirect > allow.
func (e *Evaluator) aggregate(matched []*Rule) Result {
	winner := matched[0]
	for _, r := range matched[1:] {
		if priority[r.Action] < priority[winner.Action] {
			winner = r
		}
	}

	decision := DecisionAllow
	switch winner.Action {
	case ActionDeny:
		decision = DecisionDeny
	case ActionRequireApproval:
		decision = DecisionRequireApproval
	case ActionRedirect, ActionAllow:
		decision = DecisionAllow
	}

	result := Result{
		Decision:      decision,
		RuleName:      winner.Name,
		Reason:        winner.Message,
		AllowOverride: winner.AllowOverride,
	}
	if winner.Action == ActionRedirect {
		result.RedirectTo = winner.RedirectTo
	}
	return result
}
