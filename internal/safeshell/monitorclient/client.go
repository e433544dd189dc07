// Package monitorclient implements an observer connection to the daemon's
// monitor socket (C8): it receives the welcome message, dispatches incoming
// events to registered callbacks, and issues commands (approve/deny/ping/
// etc.) synchronously, one in flight at a time per the wire protocol's "one
// response per command" contract.
package monitorclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/daemon"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/events"
)

// reencode converts the generically-decoded Event field (a
// map[string]interface{} after json.Unmarshal into an `interface{}` slot)
// back into a typed events.Event by round-tripping through JSON.
func reencode(raw interface{}) (events.Event, error) {
	var ev events.Event
	data, err := json.Marshal(raw)
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// EventCallback is invoked once per received event. A panic inside a
// callback is isolated and logged; it never stops delivery to other
// callbacks or terminates the receive loop.
type EventCallback func(events.Event)

// DisconnectHandler is invoked once when the receive loop ends because the
// daemon closed the connection.
type DisconnectHandler func(error)

// Client is a connected monitor observer. Use Connect to construct one.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *logrus.Logger

	writeMu sync.Mutex // serializes command/response round-trips

	callbacksMu sync.Mutex
	callbacks   []EventCallback

	onDisconnect DisconnectHandler
}

// Connect dials addr (a Unix socket path) and reads the welcome frame. It
// does not start the receive loop; call Run for that. logger may be nil.
func Connect(addr string, logger *logrus.Logger) (*Client, error) {
	conn, err := net.Dial("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to monitor socket: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &Client{conn: conn, reader: bufio.NewReader(conn), logger: logger}

	var welcome map[string]interface{}
	if err := daemon.ReadMessage(c.reader, &welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading welcome: %w", err)
	}

	return c, nil
}

// OnEvent registers a callback invoked for every subsequently received
// event. Call before Run.
func (c *Client) OnEvent(cb EventCallback) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// OnDisconnect registers the handler invoked once when the daemon closes
// the connection.
func (c *Client) OnDisconnect(h DisconnectHandler) {
	c.onDisconnect = h
}

// Run drains event frames until the connection closes, dispatching each to
// every registered callback. It should run in its own goroutine; command
// round-trips (Approve/Deny/Ping/...) may be issued concurrently from
// another goroutine since writes are serialized internally.
//
// Interleaving note: the daemon frames both event pushes and command
// responses on the same stream, distinguished by the "type" field; a frame
// arriving here whose type is not "event" (such as a command response) is
// logged and not delivered to callbacks.
func (c *Client) Run() {
	for {
		var frame daemon.MonitorEventFrame
		if err := daemon.ReadMessage(c.reader, &frame); err != nil {
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			return
		}
		if frame.Type != "event" {
			c.logger.WithField("type", frame.Type).Warn("monitor client: non-event frame on the receive loop; not delivered")
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame daemon.MonitorEventFrame) {
	c.callbacksMu.Lock()
	cbs := make([]EventCallback, len(c.callbacks))
	copy(cbs, c.callbacks)
	c.callbacksMu.Unlock()

	data, err := reencode(frame.Event)
	if err != nil {
		c.logger.WithError(err).Warn("monitor client: failed to decode event frame")
		return
	}

	for _, cb := range cbs {
		c.invoke(cb, data)
	}
}

// invoke calls cb, recovering from any panic so one callback's failure
// never prevents delivery to the rest.
func (c *Client) invoke(cb EventCallback, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Error("monitor event callback panicked")
		}
	}()
	cb(ev)
}

// sendCommand writes cmd and synchronously awaits its one response.
func (c *Client) sendCommand(cmd daemon.MonitorCommand) (daemon.MonitorResponse, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := daemon.WriteMessage(c.conn, cmd); err != nil {
		return daemon.MonitorResponse{}, fmt.Errorf("sending monitor command: %w", err)
	}
	var resp daemon.MonitorResponse
	if err := daemon.ReadMessage(c.reader, &resp); err != nil {
		return daemon.MonitorResponse{}, fmt.Errorf("reading monitor response: %w", err)
	}
	return resp, nil
}

// Approve synchronously sends an approve command and awaits the daemon's
// MonitorResponse, per SPEC_FULL.md §4.7 (unlike the
// reference client's fire-and-forget approve/deny).
func (c *Client) Approve(approvalID string, remember bool) (daemon.MonitorResponse, error) {
	return c.sendCommand(daemon.MonitorCommand{Type: "approve", ApprovalID: &approvalID, Remember: remember})
}

// Deny synchronously sends a deny command and awaits the response.
func (c *Client) Deny(approvalID, reason string, remember bool) (daemon.MonitorResponse, error) {
	return c.sendCommand(daemon.MonitorCommand{Type: "deny", ApprovalID: &approvalID, Reason: &reason, Remember: remember})
}

// Ping checks daemon liveness over the monitor socket.
func (c *Client) Ping() (daemon.MonitorResponse, error) {
	return c.sendCommand(daemon.MonitorCommand{Type: "ping"})
}

// SetEnabled toggles rule enforcement daemon-wide.
func (c *Client) SetEnabled(enabled bool) (daemon.MonitorResponse, error) {
	return c.sendCommand(daemon.MonitorCommand{Type: "set_enabled", Enabled: &enabled})
}

// ReloadRules invalidates the daemon's rule cache.
func (c *Client) ReloadRules() (daemon.MonitorResponse, error) {
	return c.sendCommand(daemon.MonitorCommand{Type: "reload_rules"})
}

// GetStatus requests a daemon status summary.
func (c *Client) GetStatus() (daemon.MonitorResponse, error) {
	return c.sendCommand(daemon.MonitorCommand{Type: "get_status"})
}

// Close disconnects from the monitor socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
