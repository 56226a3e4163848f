//go:build darwin

package provenance

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const bundleExecutableMarker = ".app/Contents/MacOS/"

// sysctlInspector reads the process table with sysctl. Visible applications
// are executables inside an application bundle; signatures are checked with
// codesign(1).
type sysctlInspector struct{}

func newPlatformInspector() ProcessInspector {
	return sysctlInspector{}
}

func (sysctlInspector) Process(pid int) (ProcessInfo, error) {
	kp, err := unix.SysctlKinfoProc("kern.proc.pid", pid)
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if int(kp.Proc.P_pid) != pid {
		return ProcessInfo{}, fmt.Errorf("failed to find process %d", pid)
	}
	return ProcessInfo{
		PID:            pid,
		PPID:           int(kp.Eproc.Ppid),
		Name:           unix.ByteSliceToString(kp.Proc.P_comm[:]),
		ExecutablePath: executablePath(pid),
	}, nil
}

// executablePath reads the exec path that kern.procargs2 places after argc.
func executablePath(pid int) string {
	raw, err := unix.SysctlRaw("kern.procargs2", pid)
	if err != nil || len(raw) < 4 {
		return ""
	}
	// skip argc
	rest := raw[4:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		rest = rest[:i]
	}
	return string(rest)
}

func (sysctlInspector) Application(info ProcessInfo) (Application, bool) {
	i := strings.Index(info.ExecutablePath, bundleExecutableMarker)
	if i < 0 {
		return Application{}, false
	}
	bundle := info.ExecutablePath[:i+len(".app")]
	return Application{
		Name: strings.TrimSuffix(filepath.Base(bundle), ".app"),
		Path: bundle,
	}, true
}

func (sysctlInspector) CodeSignatureValid(info ProcessInfo) bool {
	if info.ExecutablePath == "" {
		return false
	}
	return exec.Command("/usr/bin/codesign", "--verify", "--strict", info.ExecutablePath).Run() == nil
}

// IconPath returns the bundle's AppIcon.icns when present, otherwise the
// bundle itself, from which the notification layer can ask for an icon.
func (sysctlInspector) IconPath(app Application) string {
	icon := filepath.Join(app.Path, "Contents", "Resources", "AppIcon.icns")
	if _, err := os.Stat(icon); err == nil {
		return icon
	}
	return app.Path
}
