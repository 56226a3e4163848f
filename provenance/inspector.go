package provenance

import "errors"

// ErrUnsupported is returned by inspectors on platforms without a process table API.
var ErrUnsupported = errors.New("process inspection is not supported on this platform")

// ProcessInfo is the raw process table entry for a pid.
type ProcessInfo struct {
	PID            int
	PPID           int
	Name           string
	ExecutablePath string
}

// Application is a user-visible application identity.
type Application struct {
	Name string
	// Path is the bundle or desktop entry the application was resolved from.
	Path string
}

// ProcessInspector queries the operating system's process table.
type ProcessInspector interface {
	// Process looks up pid in the process table.
	Process(pid int) (ProcessInfo, error)

	// Application reports whether the process is a visible application.
	Application(info ProcessInfo) (Application, bool)

	// CodeSignatureValid reports whether the process executable carries a
	// valid code signature. Unsigned and ad-hoc signed binaries, and platforms
	// without code signing, report false.
	CodeSignatureValid(info ProcessInfo) bool
}

// IconResolver is implemented by inspectors that can locate an icon for an
// application. The tracer caches the result per application path.
type IconResolver interface {
	IconPath(app Application) string
}

// NewInspector returns the ProcessInspector for the running platform.
func NewInspector() ProcessInspector {
	return newPlatformInspector()
}
