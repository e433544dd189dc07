// Package events implements the daemon's in-process pub/sub event bus and
// the typed event payloads published during command evaluation.
package events

import "time"

// Type tags which payload an Event carries.
type Type string

const (
	TypeCommandReceived     Type = "command_received"
	TypeEvaluationStarted   Type = "evaluation_started"
	TypeEvaluationCompleted Type = "evaluation_completed"
	TypeApprovalNeeded      Type = "approval_needed"
	TypeApprovalResolved    Type = "approval_resolved"
	TypeDaemonStatus        Type = "daemon_status"
)

// Event is a typed message with a UTC timestamp and a per-type payload.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// CommandReceivedData is the payload of a command_received event.
type CommandReceivedData struct {
	Command    string `json:"cmd"`
	WorkingDir string `json:"working_dir"`
	ClientPID  int    `json:"client_pid,omitempty"`
}

// EvaluationStartedData is the payload of an evaluation_started event.
type EvaluationStartedData struct {
	Command   string `json:"cmd"`
	RuleCount int    `json:"rule_count"`
}

// EvaluationCompletedData is the payload of an evaluation_completed event.
type EvaluationCompletedData struct {
	Command        string  `json:"cmd"`
	FinalDecision  string  `json:"final_decision"`
	RuleName       *string `json:"rule_name,omitempty"`
	Reason         *string `json:"reason,omitempty"`
}

// ApprovalNeededData is the payload of an approval_needed event.
type ApprovalNeededData struct {
	ApprovalID    string  `json:"approval_id"`
	Command       string  `json:"cmd"`
	RuleName      string  `json:"rule_name"`
	Reason        string  `json:"reason"`
	WorkingDir    *string `json:"working_dir,omitempty"`
	ClientPID     *int    `json:"client_pid,omitempty"`
	ChallengeCode *string `json:"challenge_code,omitempty"`
}

// ApprovalResolvedData is the payload of an approval_resolved event.
type ApprovalResolvedData struct {
	ApprovalID string  `json:"approval_id"`
	Approved   bool    `json:"approved"`
	Reason     *string `json:"reason,omitempty"`
	WorkingDir *string `json:"working_dir,omitempty"`
	ClientPID  *int    `json:"client_pid,omitempty"`
}

// DaemonStatusData is the payload of a daemon_status event.
type DaemonStatusData struct {
	Status            string  `json:"status"`
	UptimeSeconds     float64 `json:"uptime_s"`
	CommandsProcessed int     `json:"commands_processed"`
	ActiveMonitors    int     `json:"active_monitors"`
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// NewCommandReceived builds a command_received event.
func NewCommandReceived(command, workingDir string, clientPID int) Event {
	return Event{Type: TypeCommandReceived, Timestamp: time.Now().UTC(), Data: CommandReceivedData{
		Command: command, WorkingDir: workingDir, ClientPID: clientPID,
	}}
}

// NewEvaluationStarted builds an evaluation_started event.
func NewEvaluationStarted(command string, ruleCount int) Event {
	return Event{Type: TypeEvaluationStarted, Timestamp: time.Now().UTC(), Data: EvaluationStartedData{
		Command: command, RuleCount: ruleCount,
	}}
}

// NewEvaluationCompleted builds an evaluation_completed event.
func NewEvaluationCompleted(command, finalDecision string, ruleName, reason string) Event {
	d := EvaluationCompletedData{Command: command, FinalDecision: finalDecision}
	if ruleName != "" {
		d.RuleName = strPtr(ruleName)
	}
	if reason != "" {
		d.Reason = strPtr(reason)
	}
	return Event{Type: TypeEvaluationCompleted, Timestamp: time.Now().UTC(), Data: d}
}

// NewApprovalNeeded builds an approval_needed event. workingDir and
// clientPID are optional (zero value omitted).
func NewApprovalNeeded(approvalID, command, ruleName, reason, workingDir string, clientPID int) Event {
	d := ApprovalNeededData{ApprovalID: approvalID, Command: command, RuleName: ruleName, Reason: reason}
	if workingDir != "" {
		d.WorkingDir = strPtr(workingDir)
	}
	if clientPID != 0 {
		d.ClientPID = intPtr(clientPID)
	}
	return Event{Type: TypeApprovalNeeded, Timestamp: time.Now().UTC(), Data: d}
}

// NewApprovalResolved builds an approval_resolved event.
func NewApprovalResolved(approvalID string, approved bool, reason, workingDir string, clientPID int) Event {
	d := ApprovalResolvedData{ApprovalID: approvalID, Approved: approved}
	if reason != "" {
		d.Reason = strPtr(reason)
	}
	if workingDir != "" {
		d.WorkingDir = strPtr(workingDir)
	}
	if clientPID != 0 {
		d.ClientPID = intPtr(clientPID)
	}
	return Event{Type: TypeApprovalResolved, Timestamp: time.Now().UTC(), Data: d}
}

// NewDaemonStatus builds a daemon_status event.
func NewDaemonStatus(status string, uptimeSeconds float64, commandsProcessed, activeMonitors int) Event {
	return Event{Type: TypeDaemonStatus, Timestamp: time.Now().UTC(), Data: DaemonStatusData{
		Status: status, UptimeSeconds: uptimeSeconds, CommandsProcessed: commandsProcessed, ActiveMonitors: activeMonitors,
	}}
}
