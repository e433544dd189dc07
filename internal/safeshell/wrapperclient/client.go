// Package wrapperclient implements the short-lived process that forwards
// one shell command to the daemon's request socket, drains intermediate
// status messages, and acts on the final verdict (C7).
package wrapperclient

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/config"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/daemon"
)

// Options configures one wrapper invocation.
type Options struct {
	SocketPath          string
	Command             string
	WorkingDir          string
	Env                 map[string]string
	ExecutionContext    string // "ai" or "human"
	UnreachableBehavior config.UnreachableBehavior
	DelegateShell       string
	AutoStart           bool
	AutoStartArgv       []string // argv to spawn the daemon, e.g. {binary, "daemon"}
	AutoStartWait       time.Duration
	Stdin               io.Reader
	Stdout              io.Writer
	Stderr              io.Writer
}

// Run forwards Command to the daemon and returns the process exit code: the
// executed command's own exit code on success, 1 if blocked or the daemon
// is unreachable under fail_closed.
func Run(opts Options) int {
	if opts.AutoStartWait <= 0 {
		opts.AutoStartWait = 3 * time.Second
	}

	conn, err := dial(opts)
	if err != nil {
		return handleUnreachable(opts, err)
	}
	defer conn.Close()

	req := daemon.Request{
		Type:             "evaluate",
		Command:          opts.Command,
		WorkingDir:       opts.WorkingDir,
		Env:              opts.Env,
		ExecutionContext: opts.ExecutionContext,
	}
	if err := daemon.WriteMessage(conn, req); err != nil {
		fmt.Fprintf(opts.Stderr, "safeshell: failed to send request: %v\n", err)
		return handleUnreachable(opts, err)
	}

	reader := bufio.NewReader(conn)
	for {
		var resp daemon.Response
		if err := daemon.ReadMessage(reader, &resp); err != nil {
			fmt.Fprintf(opts.Stderr, "safeshell: daemon connection lost: %v\n", err)
			return handleUnreachable(opts, err)
		}

		if resp.IsIntermediate {
			if resp.StatusMessage != nil {
				fmt.Fprintf(opts.Stderr, "safeshell: %s\n", *resp.StatusMessage)
			}
			continue
		}

		if !resp.Success {
			msg := "internal daemon error"
			if resp.ErrorMessage != nil {
				msg = *resp.ErrorMessage
			}
			fmt.Fprintf(opts.Stderr, "safeshell: %s\n", msg)
			return 1
		}

		if resp.ShouldExecute {
			return execute(opts)
		}

		msg := "Command blocked by policy"
		if resp.DenialMessage != nil {
			msg = *resp.DenialMessage
		}
		fmt.Fprintf(opts.Stderr, "safeshell: %s\n", msg)
		return 1
	}
}

// dial connects to the daemon socket, spawning the daemon and polling for
// its socket if AutoStart is set and the first dial fails for any reason
// (absent or stale socket alike).
func dial(opts Options) (net.Conn, error) {
	conn, err := net.DialTimeout("unix", opts.SocketPath, 500*time.Millisecond)
	if err == nil {
		return conn, nil
	}
	if !opts.AutoStart || len(opts.AutoStartArgv) == 0 {
		return nil, err
	}

	cmd := exec.Command(opts.AutoStartArgv[0], opts.AutoStartArgv[1:]...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if startErr := cmd.Start(); startErr != nil {
		return nil, fmt.Errorf("auto-starting daemon: %w", startErr)
	}

	deadline := time.Now().Add(opts.AutoStartWait)
	for time.Now().Before(deadline) {
		conn, err = net.DialTimeout("unix", opts.SocketPath, 200*time.Millisecond)
		if err == nil {
			return conn, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("daemon did not become reachable within %s", opts.AutoStartWait)
}

// handleUnreachable applies the unreachable_behavior policy when the daemon
// cannot be reached at all (dial failure or mid-request disconnect).
func handleUnreachable(opts Options, cause error) int {
	if opts.UnreachableBehavior == config.FailOpen {
		fmt.Fprintf(opts.Stderr, "safeshell: daemon unreachable (%v); executing under fail-open policy\n", cause)
		return execute(opts)
	}
	fmt.Fprintf(opts.Stderr, "safeshell: daemon unreachable (%v); blocking under fail-closed policy\n", cause)
	return 1
}

// execute hands the raw command off to the configured real shell,
// inheriting stdio and environment, and returns its exit code unmodified.
func execute(opts Options) int {
	shell := opts.DelegateShell
	if shell == "" {
		shell = "/bin/bash"
	}
	cmd := exec.Command(shell, "-c", opts.Command)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(opts.Stderr, "safeshell: failed to execute command: %v\n", err)
		return 1
	}
	return 0
}
