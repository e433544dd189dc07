package approval

import (
	"testing"
	"time"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/events"
)

func TestManagerApproveUnblocksRequestApproval(t *testing.T) {
	bus := events.NewBus(nil)
	m := NewManager(bus, time.Second, nil)

	var approvalID string
	sub := bus.Subscribe(func(ev events.Event) {
		if ev.Type != events.TypeApprovalNeeded {
			return
		}
		data := ev.Data.(events.ApprovalNeededData)
		approvalID = data.ApprovalID
		m.Approve(approvalID, false)
	})
	defer bus.Unsubscribe(sub)

	result, _ := m.RequestApproval("rm -rf /tmp/x", "destructive", "matches rule", time.Second, "/tmp", 1234)
	if result != Approved {
		t.Fatalf("result = %q, want %q", result, Approved)
	}
	if approvalID == "" {
		t.Fatal("approval_needed event never delivered an approval id")
	}
	if m.PendingCount() != 0 {
		t.Fatalf("pending count = %d, want 0 after resolution", m.PendingCount())
	}
}

func TestManagerDenyReportsReason(t *testing.T) {
	bus := events.NewBus(nil)
	m := NewManager(bus, time.Second, nil)

	bus.Subscribe(func(ev events.Event) {
		if ev.Type != events.TypeApprovalNeeded {
			return
		}
		data := ev.Data.(events.ApprovalNeededData)
		m.Deny(data.ApprovalID, "no, too dangerous", false)
	})

	result, reason := m.RequestApproval("rm -rf /", "destructive", "matches rule", time.Second, "/", 1)
	if result != Denied {
		t.Fatalf("result = %q, want %q", result, Denied)
	}
	if reason != "no, too dangerous" {
		t.Fatalf("reason = %q, want %q", reason, "no, too dangerous")
	}
}

func TestManagerTimeout(t *testing.T) {
	m := NewManager(nil, 20*time.Millisecond, nil)
	result, reason := m.RequestApproval("echo hi", "ask", "reason", 20*time.Millisecond, "/tmp", 0)
	if result != TimedOut {
		t.Fatalf("result = %q, want %q", result, TimedOut)
	}
	if reason == "" {
		t.Fatal("expected a non-empty timeout reason")
	}
}

func TestManagerDoubleResolveIsRejected(t *testing.T) {
	bus := events.NewBus(nil)
	m := NewManager(bus, time.Second, nil)

	var id string
	bus.Subscribe(func(ev events.Event) {
		if ev.Type != events.TypeApprovalNeeded {
			return
		}
		id = ev.Data.(events.ApprovalNeededData).ApprovalID
		m.Approve(id, false)
	})

	m.RequestApproval("ls", "rule", "reason", time.Second, "/tmp", 0)

	if m.Deny(id, "too late", false) {
		t.Fatal("Deny on an already-resolved approval id should return false")
	}
	if m.Approve(id, false) {
		t.Fatal("Approve on an already-resolved approval id should return false")
	}
}

func TestManagerApproveUnknownIDReturnsFalse(t *testing.T) {
	m := NewManager(nil, time.Second, nil)
	if m.Approve("does-not-exist", false) {
		t.Fatal("Approve on an unknown id should return false")
	}
}
