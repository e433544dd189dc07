package daemon

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/approval"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/cctx"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/events"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/rules"
)

// Manager wires the Command Context builder, the rule cache/evaluator, the
// approval manager, session memory, and the event bus into the single
// request_rule flow described for one evaluate request. It holds no network
// state; Server holds one and drives it per accepted connection.
type Manager struct {
	Bus            *events.Bus
	RuleCache      *rules.RuleCache
	ConditionCache *rules.ConditionCache
	Builder        *cctx.Builder
	Approvals      *approval.Manager
	Memory         *approval.SessionMemory
	Logger         *logrus.Logger

	defaultApprovalTimeout time.Duration
	conditionTimeout       time.Duration // 0 means unbounded; see SetConditionTimeout
	commandsProcessed      int64
	startedAt              time.Time
	enabled                int32 // atomic; 1 = enforcing (default), 0 = bypass via set_enabled(false)
}

// NewManager constructs a Manager from already-built collaborators.
func NewManager(bus *events.Bus, ruleCache *rules.RuleCache, conditionCache *rules.ConditionCache, builder *cctx.Builder, approvals *approval.Manager, memory *approval.SessionMemory, defaultApprovalTimeout time.Duration, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		Bus:                    bus,
		RuleCache:              ruleCache,
		ConditionCache:         conditionCache,
		Builder:                builder,
		Approvals:              approvals,
		Memory:                 memory,
		Logger:                 logger,
		defaultApprovalTimeout: defaultApprovalTimeout,
		startedAt:              time.Now(),
		enabled:                1,
	}
}

// SetEnabled toggles rule enforcement; disabled allows every command without
// evaluating any rule, for the monitor's set_enabled control command.
func (m *Manager) SetEnabled(enabled bool) {
	if enabled {
		atomic.StoreInt32(&m.enabled, 1)
	} else {
		atomic.StoreInt32(&m.enabled, 0)
	}
}

// SetConditionTimeout bounds how long any single rule condition's evaluation
// may run (config.ConditionTimeoutMS), the safety valve described in
// spec.md §4.3. Applied to every Evaluator Evaluate constructs. A zero
// duration (the default) leaves condition evaluation unbounded.
func (m *Manager) SetConditionTimeout(d time.Duration) {
	m.conditionTimeout = d
}

// Enabled reports the current enforcement state.
func (m *Manager) Enabled() bool {
	return atomic.LoadInt32(&m.enabled) != 0
}

// CommandsProcessed returns the total number of evaluate requests handled so
// far, for status reporting.
func (m *Manager) CommandsProcessed() int64 {
	return atomic.LoadInt64(&m.commandsProcessed)
}

// Uptime returns the time elapsed since the manager was constructed.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startedAt)
}

// role maps the wire execution_context string to a cctx.Role, defaulting to
// ai (the common caller) on an empty or unrecognized value.
func role(executionContext string) cctx.Role {
	if executionContext == string(cctx.RoleHuman) {
		return cctx.RoleHuman
	}
	return cctx.RoleAI
}

// Evaluate runs one command through context-build, rule evaluation, session
// memory, and (if required) the blocking approval flow. intermediate is
// invoked zero or more times with a status message while an approval is
// pending; it is never invoked once Evaluate returns the final Response.
func (m *Manager) Evaluate(req Request, clientPID int, intermediate func(Response)) Response {
	atomic.AddInt64(&m.commandsProcessed, 1)

	if !m.Enabled() {
		return Response{
			Success:       true,
			FinalDecision: string(rules.DecisionAllow),
			ShouldExecute: true,
		}
	}

	cmdctx := m.Builder.Build(req.Command, req.WorkingDir, req.Env, role(req.ExecutionContext))

	if m.Bus != nil {
		m.Bus.Publish(events.NewCommandReceived(req.Command, cmdctx.WorkingDir, clientPID))
	}

	ruleSet, err := m.RuleCache.Get(cmdctx.WorkingDir)
	if err != nil {
		m.Logger.WithError(err).WithField("working_dir", cmdctx.WorkingDir).Error("rule load failed")
		msg := fmt.Sprintf("rule load error: %v", err)
		return Response{Success: false, ErrorMessage: &msg}
	}

	if m.Bus != nil {
		m.Bus.Publish(events.NewEvaluationStarted(req.Command, len(ruleSet)))
	}

	evaluator := rules.NewEvaluator(ruleSet, m.ConditionCache, m.Logger)
	evaluator.SetConditionTimeout(m.conditionTimeout)
	result := evaluator.Evaluate(cmdctx)

	baseCommand := cmdctx.Executable()

	if result.Decision == rules.DecisionRequireApproval {
		if m.Memory.IsPreApproved(result.RuleName, baseCommand) {
			result.Decision = rules.DecisionAllow
			result.Reason = "Pre-approved by session memory"
		} else if m.Memory.IsPreDenied(result.RuleName, baseCommand) {
			result.Decision = rules.DecisionDeny
			result.Reason = "Pre-denied by session memory"
		}
	}

	if m.Bus != nil {
		m.Bus.Publish(events.NewEvaluationCompleted(req.Command, string(result.Decision), result.RuleName, result.Reason))
	}

	resultEntry := RuleResultEntry{RuleName: result.RuleName, Decision: string(result.Decision)}

	switch result.Decision {
	case rules.DecisionAllow:
		return Response{
			Success:       true,
			Results:       []RuleResultEntry{resultEntry},
			FinalDecision: string(result.Decision),
			ShouldExecute: true,
		}

	case rules.DecisionDeny:
		msg := result.Reason
		if msg == "" {
			msg = fmt.Sprintf("Blocked by rule %q", result.RuleName)
		}
		return Response{
			Success:       true,
			Results:       []RuleResultEntry{resultEntry},
			FinalDecision: string(result.Decision),
			ShouldExecute: false,
			DenialMessage: &msg,
		}

	case rules.DecisionRequireApproval:
		if intermediate != nil {
			intermediate(IntermediateResponse(fmt.Sprintf("Waiting for approval: %s", result.Reason)))
		}

		outcome, denialReason := m.Approvals.RequestApproval(req.Command, result.RuleName, result.Reason, m.defaultApprovalTimeout, cmdctx.WorkingDir, clientPID)

		switch outcome {
		case approval.Approved, approval.ApprovedRemember:
			if outcome == approval.ApprovedRemember {
				m.Memory.RememberApproval(result.RuleName, baseCommand)
			}
			return Response{
				Success:       true,
				Results:       []RuleResultEntry{resultEntry},
				FinalDecision: string(rules.DecisionAllow),
				ShouldExecute: true,
			}
		default: // Denied, DeniedRemember, TimedOut
			if outcome == approval.DeniedRemember {
				m.Memory.RememberDenial(result.RuleName, baseCommand)
			}
			msg := denialReason
			if msg == "" {
				msg = result.Reason
			}
			return Response{
				Success:       true,
				Results:       []RuleResultEntry{resultEntry},
				FinalDecision: string(rules.DecisionDeny),
				ShouldExecute: false,
				DenialMessage: &msg,
			}
		}

	default:
		msg := fmt.Sprintf("unrecognized decision %q", result.Decision)
		return Response{Success: false, ErrorMessage: &msg}
	}
}
