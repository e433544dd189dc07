package daemon

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// removeStaleSocket removes path if either it does not exist or a dial
// against it fails (the only reliable signal that the previous daemon that
// bound it is gone), per the startup staleness check.
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %q: %w", path, err)
	}

	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socket %q is already in use by a running daemon", path)
	}
	return os.Remove(path)
}

// bindUnixSocket removes a stale socket at path, binds a fresh listener, and
// chmods it to 0600 so only the owning user can connect.
func bindUnixSocket(path string) (net.Listener, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding socket %q: %w", path, err)
	}
	if err := unix.Chmod(path, 0600); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod socket %q: %w", path, err)
	}
	return l, nil
}

// writePIDFile writes the current process id to path, overwriting any
// previous (necessarily stale, since removeStaleSocket already confirmed no
// live daemon owns the sockets) contents.
func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// removePIDFile best-effort removes the pid file during shutdown.
func removePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
