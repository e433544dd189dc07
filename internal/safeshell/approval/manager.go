// Package approval implements the approval manager (C5): registering
// pending require_approval decisions, publishing approval_needed /
// approval_resolved events, and rendezvousing with the blocked evaluation
// via a one-shot channel, the same channel-of-one shape used across the
// example pack's own approval gates.
package approval

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/events"
)

// Result is the outcome of a resolved (or timed-out) approval request.
type Result string

const (
	Approved         Result = "approved"
	ApprovedRemember Result = "approved_remember"
	Denied           Result = "denied"
	DeniedRemember   Result = "denied_remember"
	TimedOut         Result = "timeout"
)

const defaultApprovalTimeout = 300 * time.Second

type outcome struct {
	result       Result
	denialReason string
}

// Pending is one approval request awaiting resolution.
type Pending struct {
	ID         string
	Command    string
	RuleName   string
	Reason     string
	Timeout    time.Duration
	WorkingDir string
	ClientPID  int
	CreatedAt  time.Time

	waiter   chan outcome // buffered(1); exactly one producer ever sends
	resolved bool         // guarded by Manager.mu
	timer    *time.Timer
}

// Manager manages pending approval requests: it creates a waiter,
// publishes approval_needed, and blocks the caller until approve/deny/
// timeout resolves it.
type Manager struct {
	mu             sync.Mutex
	pending        map[string]*Pending
	bus            *events.Bus
	defaultTimeout time.Duration
	logger         *logrus.Logger
}

// NewManager constructs an approval manager publishing onto bus. A zero
// defaultTimeout uses the package default of 300s.
func NewManager(bus *events.Bus, defaultTimeout time.Duration, logger *logrus.Logger) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = defaultApprovalTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		pending:        make(map[string]*Pending),
		bus:            bus,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// PendingCount returns the number of currently pending approvals.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// RequestApproval registers a pending approval, publishes approval_needed,
// starts its timeout, and blocks until resolved. timeout <= 0 uses the
// manager's default.
func (m *Manager) RequestApproval(command, ruleName, reason string, timeout time.Duration, workingDir string, clientPID int) (Result, string) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	id := uuid.NewString()

	p := &Pending{
		ID:         id,
		Command:    command,
		RuleName:   ruleName,
		Reason:     reason,
		Timeout:    timeout,
		WorkingDir: workingDir,
		ClientPID:  clientPID,
		CreatedAt:  time.Now(),
		waiter:     make(chan outcome, 1),
	}

	m.mu.Lock()
	m.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() { m.resolve(id, TimedOut, "Approval timed out") })
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{"approval_id": id, "command": command, "timeout": timeout}).
		Info("approval requested")

	if m.bus != nil {
		m.bus.Publish(events.NewApprovalNeeded(id, command, ruleName, reason, workingDir, clientPID))
	}

	out := <-p.waiter

	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{"approval_id": id, "result": out.result}).Info("approval resolved")
	return out.result, out.denialReason
}

// Approve resolves a pending approval as approved. Returns false if the id
// is unknown or already resolved.
func (m *Manager) Approve(id string, remember bool) bool {
	result := Approved
	if remember {
		result = ApprovedRemember
	}
	return m.resolveWithEvent(id, result, "", true, "")
}

// Deny resolves a pending approval as denied. Returns false if the id is
// unknown or already resolved.
func (m *Manager) Deny(id string, reason string, remember bool) bool {
	result := Denied
	if remember {
		result = DeniedRemember
	}
	return m.resolveWithEvent(id, result, reason, false, reason)
}

// resolveWithEvent is the shared path for explicit approve/deny calls (as
// opposed to timeout, which always denies). It publishes approval_resolved
// strictly before unblocking the waiter, per the approval-rendezvous
// invariant, regardless of Go's real (non-cooperative) goroutine scheduling.
func (m *Manager) resolveWithEvent(id string, result Result, denialReason string, approved bool, eventReason string) bool {
	p, ok := m.markResolved(id)
	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}

	if m.bus != nil {
		m.bus.Publish(events.NewApprovalResolved(id, approved, eventReason, p.WorkingDir, p.ClientPID))
	}
	p.waiter <- outcome{result: result, denialReason: denialReason}
	return true
}

// resolve is the timeout path: identical ordering guarantee (publish
// before unblock).
func (m *Manager) resolve(id string, result Result, denialReason string) {
	p, ok := m.markResolved(id)
	if !ok {
		return
	}
	if m.bus != nil {
		m.bus.Publish(events.NewApprovalResolved(id, false, denialReason, p.WorkingDir, p.ClientPID))
	}
	p.waiter <- outcome{result: result, denialReason: denialReason}
}

// markResolved atomically finds an unresolved pending entry and flags it
// resolved, so only one of {Approve, Deny, timeout} ever sends on its
// waiter channel.
func (m *Manager) markResolved(id string) (*Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok || p.resolved {
		return nil, false
	}
	p.resolved = true
	return p, true
}

// GetPending returns the pending approval for id, if any.
func (m *Manager) GetPending(id string) (*Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	return p, ok
}

// ListPending returns a snapshot of all pending approvals.
func (m *Manager) ListPending() []*Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Pending, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p)
	}
	return out
}
