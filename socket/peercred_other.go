//go:build !linux && !darwin

package socket

import (
	"fmt"
	"net"
	"runtime"
)

func peerPID(*net.UnixConn) (int, error) {
	return 0, fmt.Errorf("peer credentials are not supported on %s", runtime.GOOS)
}
