package daemon

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/events"
)

// handleMonitorConn services one long-lived observer connection: it
// subscribes a callback that frames every published event onto conn, sends
// a welcome message, then loops reading monitor commands until the
// connection closes.
func (s *Server) handleMonitorConn(conn net.Conn) {
	defer conn.Close()

	id := uuid.NewString()
	var writeMu sync.Mutex

	subID := s.bus.Subscribe(func(ev events.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = WriteMessage(conn, MonitorEventFrame{Type: "event", Event: ev})
	})

	s.registerMonitor(id, func() { s.bus.Unsubscribe(subID) })
	defer s.unregisterMonitor(id)

	writeMu.Lock()
	_ = WriteMessage(conn, map[string]interface{}{"type": "welcome", "monitor_id": id})
	writeMu.Unlock()

	reader := bufio.NewReader(conn)
	for {
		var cmd MonitorCommand
		if err := ReadMessage(reader, &cmd); err != nil {
			if err != io.EOF {
				s.logger.WithError(err).Debug("monitor connection: malformed command")
			}
			return
		}

		resp := s.dispatchMonitorCommand(cmd)

		writeMu.Lock()
		err := WriteMessage(conn, resp)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (s *Server) registerMonitor(id string, unsubscribe func()) {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	s.monitors[id] = unsubscribe
}

func (s *Server) unregisterMonitor(id string) {
	s.monitorsMu.Lock()
	unsub, ok := s.monitors[id]
	delete(s.monitors, id)
	s.monitorsMu.Unlock()
	if ok {
		unsub()
	}
}

// dispatchMonitorCommand recovers from any panic inside command handling,
// isolating one misbehaving command from the connection and from every
// other connection.
func (s *Server) dispatchMonitorCommand(cmd MonitorCommand) (resp MonitorResponse) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("recovered panic while handling monitor command")
			errMsg := "internal error"
			resp = MonitorResponse{Success: false, Error: &errMsg}
		}
	}()

	switch cmd.Type {
	case "ping":
		msg := "pong"
		return MonitorResponse{Success: true, Message: &msg}

	case "approve":
		if cmd.ApprovalID == nil {
			errMsg := "approval_id is required"
			return MonitorResponse{Success: false, Error: &errMsg}
		}
		ok := s.manager.Approvals.Approve(*cmd.ApprovalID, cmd.Remember)
		if !ok {
			errMsg := "unknown or already-resolved approval_id"
			return MonitorResponse{Success: false, Error: &errMsg}
		}
		msg := "approved"
		return MonitorResponse{Success: true, Message: &msg}

	case "deny":
		if cmd.ApprovalID == nil {
			errMsg := "approval_id is required"
			return MonitorResponse{Success: false, Error: &errMsg}
		}
		reason := ""
		if cmd.Reason != nil {
			reason = *cmd.Reason
		}
		ok := s.manager.Approvals.Deny(*cmd.ApprovalID, reason, cmd.Remember)
		if !ok {
			errMsg := "unknown or already-resolved approval_id"
			return MonitorResponse{Success: false, Error: &errMsg}
		}
		msg := "denied"
		return MonitorResponse{Success: true, Message: &msg}

	case "set_enabled":
		if cmd.Enabled == nil {
			errMsg := "enabled is required"
			return MonitorResponse{Success: false, Error: &errMsg}
		}
		s.manager.SetEnabled(*cmd.Enabled)
		msg := "enabled set"
		return MonitorResponse{Success: true, Message: &msg}

	case "reload_rules":
		s.manager.RuleCache.Invalidate("")
		if s.bus != nil {
			s.bus.Publish(events.NewDaemonStatus("rules_reloaded", s.manager.Uptime().Seconds(), int(s.manager.CommandsProcessed()), s.ActiveMonitors()))
		}
		msg := "rule cache invalidated"
		return MonitorResponse{Success: true, Message: &msg}

	case "get_status":
		msg := statusSummary(s)
		return MonitorResponse{Success: true, Message: &msg}

	default:
		errMsg := "unknown monitor command: " + cmd.Type
		return MonitorResponse{Success: false, Error: &errMsg}
	}
}

func statusSummary(s *Server) string {
	enabled := "enabled"
	if !s.manager.Enabled() {
		enabled = "disabled"
	}
	return "status: " + enabled
}
