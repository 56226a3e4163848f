package witness

import (
	"context"
	"fmt"

	"github.com/joncooperworks/secretagent/agent"
	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/plugin"
	"github.com/joncooperworks/secretagent/provenance"
)

var _ agent.Witness = (*Policy)(nil)

// Policy consults a policy plugin around each signature.
type Policy struct {
	policy plugin.Policy
}

// NewPolicy wraps p.
func NewPolicy(p plugin.Policy) *Policy {
	return &Policy{policy: p}
}

func (p *Policy) PreSignature(ctx context.Context, secret keystore.Secret, store keystore.SecretStore, prov provenance.Provenance) error {
	return p.evaluate(ctx, plugin.PhasePreSignature, secret, store, prov)
}

func (p *Policy) PostSignature(ctx context.Context, secret keystore.Secret, store keystore.SecretStore, prov provenance.Provenance) error {
	return p.evaluate(ctx, plugin.PhasePostSignature, secret, store, prov)
}

func (p *Policy) evaluate(ctx context.Context, phase plugin.Phase, secret keystore.Secret, store keystore.SecretStore, prov provenance.Provenance) error {
	event := plugin.NewEvent(phase, secret.Name, store.Name(), fingerprint(secret), prov)
	verdict, err := p.policy.Evaluate(ctx, event)
	if err != nil {
		return fmt.Errorf("policy %s failed: %w", p.policy.Name(), err)
	}
	if !verdict.Allow {
		return fmt.Errorf("%w %s: %s", ErrPolicyDenied, p.policy.Name(), verdict.Reason)
	}
	return nil
}

// Close releases the wrapped policy.
func (p *Policy) Close() error {
	return p.policy.Close()
}
