//go:build linux

package provenance

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// procInspector reads the process table from /proc. Visible applications are
// those with an XDG desktop entry. Linux has no code signing, so signatures
// are never valid.
type procInspector struct {
	fs      procfs.FS
	fsErr   error
	desktop *desktopIndex
}

func newPlatformInspector() ProcessInspector {
	return NewProcInspector(procfs.DefaultMountPoint, xdgApplicationDirs())
}

// NewProcInspector creates an inspector reading procfs at mountPoint and
// desktop entries from applicationDirs.
func NewProcInspector(mountPoint string, applicationDirs []string) ProcessInspector {
	fs, err := procfs.NewFS(mountPoint)
	return &procInspector{
		fs:      fs,
		fsErr:   err,
		desktop: newDesktopIndex(applicationDirs),
	}
}

func (p *procInspector) Process(pid int) (ProcessInfo, error) {
	if p.fsErr != nil {
		return ProcessInfo{}, fmt.Errorf("failed to open procfs: %w", p.fsErr)
	}
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("failed to read stat for process %d: %w", pid, err)
	}
	// The executable link is unreadable for other users' processes; the
	// record is still useful without it.
	exe, _ := proc.Executable()
	return ProcessInfo{
		PID:            pid,
		PPID:           stat.PPID,
		Name:           stat.Comm,
		ExecutablePath: exe,
	}, nil
}

func (p *procInspector) Application(info ProcessInfo) (Application, bool) {
	entry, ok := p.desktop.lookup(info.ExecutablePath, info.Name)
	if !ok {
		return Application{}, false
	}
	return Application{Name: entry.Name, Path: entry.Path}, true
}

func (p *procInspector) CodeSignatureValid(ProcessInfo) bool {
	return false
}

// IconPath returns the Icon value of the application's desktop entry, which
// is either an absolute path or an icon theme name.
func (p *procInspector) IconPath(app Application) string {
	entry, ok := p.desktop.entry(app.Path)
	if !ok {
		return ""
	}
	return entry.Icon
}
