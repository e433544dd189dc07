package wrapperclient

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/config"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/daemon"
)

// fakeDaemon listens on a temp unix socket and serves one connection with a
// scripted list of responses, then closes.
func fakeDaemon(t *testing.T, responses []daemon.Response) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "daemon.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()

		reader := bufio.NewReader(conn)
		var req daemon.Request
		if err := daemon.ReadMessage(reader, &req); err != nil {
			return
		}
		for _, resp := range responses {
			daemon.WriteMessage(conn, resp)
		}
	}()
	return sockPath
}

func TestRunAllowedExecutesCommand(t *testing.T) {
	sockPath := fakeDaemon(t, []daemon.Response{{Success: true, ShouldExecute: true}})

	var stdout, stderr bytes.Buffer
	code := Run(Options{
		SocketPath:    sockPath,
		Command:       "exit 0",
		WorkingDir:    t.TempDir(),
		DelegateShell: "/bin/sh",
		Stdout:        &stdout,
		Stderr:        &stderr,
	})
	if code != 0 {
		t.Errorf("exit code = %d, want 0; stderr=%s", code, stderr.String())
	}
}

func TestRunDeniedBlocksExecution(t *testing.T) {
	msg := "no curl allowed"
	sockPath := fakeDaemon(t, []daemon.Response{{Success: true, ShouldExecute: false, DenialMessage: &msg}})

	var stdout, stderr bytes.Buffer
	code := Run(Options{
		SocketPath:    sockPath,
		Command:       "curl http://x",
		WorkingDir:    t.TempDir(),
		DelegateShell: "/bin/sh",
		Stdout:        &stdout,
		Stderr:        &stderr,
	})
	if code != 1 {
		t.Errorf("exit code = %d, want 1 for a denied command", code)
	}
	if !bytes.Contains(stderr.Bytes(), []byte(msg)) {
		t.Errorf("stderr = %q, want it to contain the denial message", stderr.String())
	}
}

func TestRunPropagatesExecutedCommandExitCode(t *testing.T) {
	sockPath := fakeDaemon(t, []daemon.Response{{Success: true, ShouldExecute: true}})

	var stdout, stderr bytes.Buffer
	code := Run(Options{
		SocketPath:    sockPath,
		Command:       "exit 7",
		WorkingDir:    t.TempDir(),
		DelegateShell: "/bin/sh",
		Stdout:        &stdout,
		Stderr:        &stderr,
	})
	if code != 7 {
		t.Errorf("exit code = %d, want 7 to be propagated from the delegate shell", code)
	}
}

func TestRunDrainsIntermediateStatusMessages(t *testing.T) {
	status := "waiting for approval"
	sockPath := fakeDaemon(t, []daemon.Response{
		{Success: true, IsIntermediate: true, StatusMessage: &status},
		{Success: true, ShouldExecute: true},
	})

	var stdout, stderr bytes.Buffer
	code := Run(Options{
		SocketPath:    sockPath,
		Command:       "exit 0",
		WorkingDir:    t.TempDir(),
		DelegateShell: "/bin/sh",
		Stdout:        &stdout,
		Stderr:        &stderr,
	})
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !bytes.Contains(stderr.Bytes(), []byte(status)) {
		t.Errorf("stderr = %q, want it to contain the intermediate status message", stderr.String())
	}
}

func TestRunFailOpenExecutesWhenDaemonUnreachable(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run(Options{
		SocketPath:          filepath.Join(t.TempDir(), "nonexistent.sock"),
		Command:             "exit 0",
		WorkingDir:          t.TempDir(),
		DelegateShell:       "/bin/sh",
		UnreachableBehavior: config.FailOpen,
		Stdout:              &stdout,
		Stderr:              &stderr,
	})
	if code != 0 {
		t.Errorf("exit code = %d, want 0 under fail-open when the daemon is unreachable", code)
	}
}

func TestRunFailClosedBlocksWhenDaemonUnreachable(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run(Options{
		SocketPath:          filepath.Join(t.TempDir(), "nonexistent.sock"),
		Command:             "exit 0",
		WorkingDir:          t.TempDir(),
		DelegateShell:       "/bin/sh",
		UnreachableBehavior: config.FailClosed,
		Stdout:              &stdout,
		Stderr:              &stderr,
	})
	if code != 1 {
		t.Errorf("exit code = %d, want 1 under fail-closed when the daemon is unreachable", code)
	}
}

func TestDialAutoStartsDaemon(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "daemon.sock")

	// The spawned "daemon" is a shell script that only sleeps; the socket
	// comes from a unix listener this test opens out of band shortly after,
	// simulating a real daemon's startup side effect.
	script := filepath.Join(dir, "fake-daemon.sh")
	os.WriteFile(script, []byte("#!/bin/sh\nsleep 2\n"), 0755)

	go func() {
		time.Sleep(150 * time.Millisecond)
		ln, err := net.Listen("unix", sockPath)
		if err != nil {
			return
		}
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		ln.Close()
	}()

	conn, err := dial(Options{
		SocketPath:    sockPath,
		AutoStart:     true,
		AutoStartArgv: []string{"/bin/sh", script},
		AutoStartWait: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}
