// Package hook implements the external hook adapter (C13): a stdin-JSON
// bridge for host tool-call hooks (Claude Code style). It forwards a Bash
// tool invocation's command through the request channel in check-only mode
// and maps the daemon's decision onto host-expected exit codes, failing open
// on any adapter-local error so a misconfigured hook never hangs the host.
package hook

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/daemon"
)

// ToolCall is the subset of a host tool-call hook's stdin payload this
// adapter understands: a tool name and, for Bash invocations, its command.
type ToolCall struct {
	ToolName  string `json:"tool_name"`
	ToolInput struct {
		Command string `json:"command"`
	} `json:"tool_input"`
	CWD string `json:"cwd"`
}

// Exit codes per spec.md §6.
const (
	ExitAllow = 0
	ExitBlock = 2
)

// Options configures one hook invocation.
type Options struct {
	SocketPath string
	Env        map[string]string
	Stdin      io.Reader
	Stderr     io.Writer
	Timeout    time.Duration
}

// Run reads one ToolCall from Stdin, evaluates its command (if it is a Bash
// invocation) against the daemon, and returns the exit code the host should
// see. Any failure to parse input, locate the tool call, or reach the
// daemon is treated as fail-open: ExitAllow.
func Run(opts Options) int {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}

	var call ToolCall
	if err := json.NewDecoder(opts.Stdin).Decode(&call); err != nil {
		fmt.Fprintf(opts.Stderr, "safeshell hook: failed to parse tool call, allowing: %v\n", err)
		return ExitAllow
	}

	if call.ToolName != "Bash" || call.ToolInput.Command == "" {
		return ExitAllow
	}

	decision, denial, err := evaluate(opts, call)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "safeshell hook: daemon unreachable, allowing: %v\n", err)
		return ExitAllow
	}

	if decision == "deny" {
		fmt.Fprintf(opts.Stderr, "safeshell: %s\n", denial)
		return ExitBlock
	}
	return ExitAllow
}

// evaluate connects to the request socket and runs a single evaluate round
// trip, draining any intermediate responses before the final one. A
// require_approval decision is not short-circuited: the hook keeps reading
// until the daemon's approval flow resolves (approved, denied, or timed out)
// and the final response arrives. opts.Timeout bounds only the dial.
func evaluate(opts Options, call ToolCall) (decision string, denialMessage string, err error) {
	conn, err := net.DialTimeout("unix", opts.SocketPath, opts.Timeout)
	if err != nil {
		return "", "", err
	}
	defer conn.Close()

	req := daemon.Request{
		Type:             "evaluate",
		Command:          call.ToolInput.Command,
		WorkingDir:       call.CWD,
		Env:              opts.Env,
		ExecutionContext: "ai",
	}
	if err := daemon.WriteMessage(conn, req); err != nil {
		return "", "", err
	}

	reader := bufio.NewReader(conn)
	for {
		var resp daemon.Response
		if err := daemon.ReadMessage(reader, &resp); err != nil {
			return "", "", err
		}
		if resp.IsIntermediate {
			continue
		}
		if !resp.Success {
			msg := "internal daemon error"
			if resp.ErrorMessage != nil {
				msg = *resp.ErrorMessage
			}
			return "", "", fmt.Errorf("%s", msg)
		}
		if resp.ShouldExecute {
			return "allow", "", nil
		}
		msg := "Command blocked by policy"
		if resp.DenialMessage != nil {
			msg = *resp.DenialMessage
		}
		return "deny", msg, nil
	}
}
