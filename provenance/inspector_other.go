//go:build !linux && !darwin

package provenance

type unsupportedInspector struct{}

func newPlatformInspector() ProcessInspector {
	return unsupportedInspector{}
}

func (unsupportedInspector) Process(int) (ProcessInfo, error) {
	return ProcessInfo{}, ErrUnsupported
}

func (unsupportedInspector) Application(ProcessInfo) (Application, bool) {
	return Application{}, false
}

func (unsupportedInspector) CodeSignatureValid(ProcessInfo) bool {
	return false
}
