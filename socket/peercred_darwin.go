//go:build darwin

package socket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerPID returns the pid of the process on the other end of conn using
// LOCAL_PEERPID.
func peerPID(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("failed to access socket: %w", err)
	}
	var pid int
	var pidErr error
	if err := raw.Control(func(fd uintptr) {
		pid, pidErr = unix.GetsockoptInt(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERPID)
	}); err != nil {
		return 0, fmt.Errorf("failed to access socket: %w", err)
	}
	if pidErr != nil {
		return 0, fmt.Errorf("failed to read peer pid: %w", pidErr)
	}
	return pid, nil
}
