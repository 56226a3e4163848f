//go:build unix

package socket

import "golang.org/x/sys/unix"

// restrictUmask makes newly created files owner-only and returns a function
// that restores the previous mask. The mask is process-wide.
func restrictUmask() func() {
	old := unix.Umask(0o077)
	return func() { unix.Umask(old) }
}
