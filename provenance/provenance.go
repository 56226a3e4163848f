// Package provenance reconstructs which processes are responsible for a
// connection to the agent by walking the peer's parent process chain.
//
// Provenance is advisory. It is shown to users and handed to witnesses, but a
// failed lookup never aborts a request.
package provenance

import "log/slog"

// Process is one hop in a provenance chain.
type Process struct {
	PID                int
	Name               string
	AppName            string
	IconPath           string
	ExecutablePath     string
	CodeSignatureValid bool
	// ParentPID is nil when the process has no parent or its parent could not
	// be determined.
	ParentPID *int
}

// DisplayName prefers the application name over the process name.
func (p Process) DisplayName() string {
	if p.AppName != "" {
		return p.AppName
	}
	return p.Name
}

// Provenance is the chain of processes behind a request, starting at the
// connecting peer. It is computed once per connection and never modified.
type Provenance struct {
	Chain []Process
}

// Origin returns the last, deepest resolved process of the chain.
func (p Provenance) Origin() Process {
	if len(p.Chain) == 0 {
		return Process{}
	}
	return p.Chain[len(p.Chain)-1]
}

// Intact reports whether every process in the chain has a valid code signature.
func (p Provenance) Intact() bool {
	if len(p.Chain) == 0 {
		return false
	}
	for _, proc := range p.Chain {
		if !proc.CodeSignatureValid {
			return false
		}
	}
	return true
}

// LogValue renders the provenance compactly for structured logs.
func (p Provenance) LogValue() slog.Value {
	origin := p.Origin()
	return slog.GroupValue(
		slog.String("origin", origin.DisplayName()),
		slog.Int("origin_pid", origin.PID),
		slog.String("origin_path", origin.ExecutablePath),
		slog.Int("depth", len(p.Chain)),
		slog.Bool("intact", p.Intact()),
	)
}
