//go:build linux

package daemon

import (
	"net"

	"golang.org/x/sys/unix"
)

// unixPeerPID resolves the connecting process id via SO_PEERCRED, used to
// populate client_pid on published events. Returns 0 on any failure —
// client_pid is diagnostic only, never load-bearing for a decision.
func unixPeerPID(uc *net.UnixConn) int {
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0
	}
	var pid int
	_ = raw.Control(func(fd uintptr) {
		cred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err != nil {
			return
		}
		pid = int(cred.Pid)
	})
	return pid
}
