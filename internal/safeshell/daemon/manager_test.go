package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/approval"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/cctx"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/events"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/rules"
)

func newTestManager(t *testing.T, rulesYAML string, approvalTimeout time.Duration) (*Manager, *events.Bus) {
	t.Helper()
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(rulesPath, []byte(rulesYAML), 0600); err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus(nil)
	ruleCache := rules.NewRuleCache(rules.NewLoader(nil, rulesPath))
	conditionCache := rules.NewConditionCache(time.Second, 100)
	builder := cctx.NewBuilder()
	approvals := approval.NewManager(bus, approvalTimeout, nil)
	memory := approval.NewSessionMemory(time.Hour)

	return NewManager(bus, ruleCache, conditionCache, builder, approvals, memory, approvalTimeout, nil), bus
}

func TestManagerEvaluateAllow(t *testing.T) {
	m, _ := newTestManager(t, "rules: []\n", time.Second)
	resp := m.Evaluate(Request{Type: "evaluate", Command: "ls -la", WorkingDir: t.TempDir()}, 0, nil)
	if !resp.Success || !resp.ShouldExecute {
		t.Fatalf("resp = %+v, want success+should_execute for an unmatched command", resp)
	}
}

func TestManagerEvaluateDeny(t *testing.T) {
	m, _ := newTestManager(t, `
rules:
  - name: deny-curl
    commands: ["curl"]
    action: deny
    message: "curl is not allowed"
`, time.Second)

	resp := m.Evaluate(Request{Type: "evaluate", Command: "curl http://example.com", WorkingDir: t.TempDir()}, 0, nil)
	if resp.ShouldExecute {
		t.Fatal("expected ShouldExecute = false for a denied command")
	}
	if resp.DenialMessage == nil || *resp.DenialMessage != "curl is not allowed" {
		t.Fatalf("DenialMessage = %v, want %q", resp.DenialMessage, "curl is not allowed")
	}
}

func TestManagerEvaluateRequireApprovalThenApproved(t *testing.T) {
	m, bus := newTestManager(t, `
rules:
  - name: approve-wget
    commands: ["wget"]
    action: require_approval
    message: "confirm download"
`, 2*time.Second)

	bus.Subscribe(func(ev events.Event) {
		if ev.Type != events.TypeApprovalNeeded {
			return
		}
		id := ev.Data.(events.ApprovalNeededData).ApprovalID
		m.Approvals.Approve(id, false)
	})

	var intermediates []Response
	resp := m.Evaluate(Request{Type: "evaluate", Command: "wget http://example.com/x", WorkingDir: t.TempDir()}, 0, func(r Response) {
		intermediates = append(intermediates, r)
	})

	if !resp.Success || !resp.ShouldExecute {
		t.Fatalf("resp = %+v, want success+should_execute after approval", resp)
	}
	if len(intermediates) == 0 {
		t.Fatal("expected at least one intermediate status message while awaiting approval")
	}
}

func TestManagerEvaluateRequireApprovalTimeoutDenies(t *testing.T) {
	m, _ := newTestManager(t, `
rules:
  - name: approve-wget
    commands: ["wget"]
    action: require_approval
    message: "confirm download"
`, 20*time.Millisecond)

	resp := m.Evaluate(Request{Type: "evaluate", Command: "wget http://example.com/x", WorkingDir: t.TempDir()}, 0, nil)
	if resp.ShouldExecute {
		t.Fatal("expected a timed-out approval to deny execution")
	}
}

func TestManagerSessionMemoryShortCircuitsApproval(t *testing.T) {
	m, bus := newTestManager(t, `
rules:
  - name: approve-wget
    commands: ["wget"]
    action: require_approval
    message: "confirm download"
`, 2*time.Second)

	bus.Subscribe(func(ev events.Event) {
		if ev.Type != events.TypeApprovalNeeded {
			return
		}
		id := ev.Data.(events.ApprovalNeededData).ApprovalID
		m.Approvals.Approve(id, true) // remember = true
	})

	dir := t.TempDir()
	first := m.Evaluate(Request{Type: "evaluate", Command: "wget http://example.com/x", WorkingDir: dir}, 0, nil)
	if !first.ShouldExecute {
		t.Fatalf("first request should have been approved: %+v", first)
	}

	// No approval_needed subscriber needed the second time; session memory
	// should resolve it immediately.
	second := m.Evaluate(Request{Type: "evaluate", Command: "wget http://example.com/y", WorkingDir: dir}, 0, func(Response) {
		t.Fatal("should not need an intermediate status once session memory pre-approves this rule+command")
	})
	if !second.ShouldExecute {
		t.Fatalf("second request should be auto-allowed by session memory: %+v", second)
	}
}

func TestManagerSetEnabledBypassesEvaluation(t *testing.T) {
	m, _ := newTestManager(t, `
rules:
  - name: deny-everything
    commands: ["ls"]
    action: deny
`, time.Second)

	m.SetEnabled(false)
	resp := m.Evaluate(Request{Type: "evaluate", Command: "ls", WorkingDir: t.TempDir()}, 0, nil)
	if !resp.ShouldExecute {
		t.Fatal("expected set_enabled(false) to bypass rule evaluation entirely")
	}

	m.SetEnabled(true)
	resp = m.Evaluate(Request{Type: "evaluate", Command: "ls", WorkingDir: t.TempDir()}, 0, nil)
	if resp.ShouldExecute {
		t.Fatal("expected enforcement to resume once re-enabled")
	}
}

func TestManagerSetConditionTimeoutTreatsSlowConditionAsNotMatched(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Makefile"), []byte(""), 0600); err != nil {
		t.Fatal(err)
	}

	m, _ := newTestManager(t, `
rules:
  - name: deny-on-makefile
    commands: ["ls"]
    action: deny
    conditions:
      - file_exists: "Makefile"
`, time.Second)
	m.SetConditionTimeout(1 * time.Nanosecond)

	resp := m.Evaluate(Request{Type: "evaluate", Command: "ls", WorkingDir: dir}, 0, nil)
	if !resp.ShouldExecute {
		t.Fatal("expected an unreasonably short condition timeout to make the condition evaluate as not matched, allowing the command")
	}
}
