// Package plugin loads signature policies. A policy is consulted by the
// agent's witness before and after every signature and decides whether the
// request may proceed. Policies are loaded through a registry of loaders keyed
// by kind, so that formats other than WASM can be added without touching the
// agent.
package plugin

import (
	"context"

	"github.com/joncooperworks/secretagent/provenance"
)

// Phase names the point in a signature a policy is evaluated at. It is also
// the name of the function a WASM policy exports for that phase.
type Phase string

const (
	PhasePreSignature  Phase = "pre_signature"
	PhasePostSignature Phase = "post_signature"
)

// Process is one hop of the requesting process chain as seen by a policy.
type Process struct {
	PID                int    `json:"pid"`
	Name               string `json:"name"`
	AppName            string `json:"app_name,omitempty"`
	ExecutablePath     string `json:"executable_path,omitempty"`
	CodeSignatureValid bool   `json:"code_signature_valid"`
}

// Event describes a signature to a policy.
type Event struct {
	Phase       Phase     `json:"phase"`
	Secret      string    `json:"secret"`
	Store       string    `json:"store"`
	Fingerprint string    `json:"fingerprint"`
	Intact      bool      `json:"intact"`
	Chain       []Process `json:"chain"`
}

// NewEvent builds an Event from a provenance chain.
func NewEvent(phase Phase, secret, store, fingerprint string, prov provenance.Provenance) Event {
	chain := make([]Process, 0, len(prov.Chain))
	for _, p := range prov.Chain {
		chain = append(chain, Process{
			PID:                p.PID,
			Name:               p.Name,
			AppName:            p.AppName,
			ExecutablePath:     p.ExecutablePath,
			CodeSignatureValid: p.CodeSignatureValid,
		})
	}
	return Event{
		Phase:       phase,
		Secret:      secret,
		Store:       store,
		Fingerprint: fingerprint,
		Intact:      prov.Intact(),
		Chain:       chain,
	}
}

// Verdict is a policy's answer.
type Verdict struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Policy decides whether signatures may proceed.
type Policy interface {
	// Name identifies the policy in logs.
	Name() string

	// Evaluate returns the policy's verdict for event. An error means the
	// policy could not decide; callers treat it as a refusal before signing.
	Evaluate(ctx context.Context, event Event) (Verdict, error)

	// Close releases the policy's resources.
	Close() error
}
