package witness

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/joncooperworks/secretagent/agent"
	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/provenance"
)

var _ agent.Witness = (*Rules)(nil)

// Rules only lets signatures proceed for requests from allowed applications.
//
// Patterns are globs matched against the origin's executable path and its
// application name. "*" does not cross a path separator; "**" does.
type Rules struct {
	patterns      []glob.Glob
	sources       []string
	requireIntact bool
}

// NewRules compiles patterns. With no patterns every origin is allowed. With
// requireIntact set, requests whose process chain could not be verified end
// to end are refused.
func NewRules(patterns []string, requireIntact bool) (*Rules, error) {
	r := &Rules{requireIntact: requireIntact}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid origin pattern %q: %w", pattern, err)
		}
		r.patterns = append(r.patterns, g)
		r.sources = append(r.sources, pattern)
	}
	return r, nil
}

func (r *Rules) PreSignature(_ context.Context, _ keystore.Secret, _ keystore.SecretStore, prov provenance.Provenance) error {
	if r.requireIntact && !prov.Intact() {
		return ErrIncompleteChain
	}
	if len(r.patterns) == 0 {
		return nil
	}

	origin := prov.Origin()
	for _, g := range r.patterns {
		if origin.ExecutablePath != "" && g.Match(origin.ExecutablePath) {
			return nil
		}
		if origin.AppName != "" && g.Match(origin.AppName) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (pid %d)", ErrOriginNotAllowed, origin.DisplayName(), origin.PID)
}

func (r *Rules) PostSignature(context.Context, keystore.Secret, keystore.SecretStore, provenance.Provenance) error {
	return nil
}

// Patterns returns the source patterns in the order they were given.
func (r *Rules) Patterns() []string {
	return append([]string(nil), r.sources...)
}
