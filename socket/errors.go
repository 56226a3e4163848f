package socket

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// ErrSocketInUse is returned by Listen when another agent already answers on
// the socket path.
var ErrSocketInUse = errors.New("socket is in use by another agent")

// IsExpectedCloseError reports whether err is a normal connection termination:
// EOF, a closed connection, a broken pipe or a connection reset.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
