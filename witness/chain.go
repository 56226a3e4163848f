package witness

import (
	"context"
	"errors"

	"github.com/joncooperworks/secretagent/agent"
	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/provenance"
)

var _ agent.Witness = Chain(nil)

// Chain runs several witnesses in order. The first pre-signature objection
// wins and later witnesses are not consulted. Every post-signature hook runs.
type Chain []agent.Witness

func (c Chain) PreSignature(ctx context.Context, secret keystore.Secret, store keystore.SecretStore, prov provenance.Provenance) error {
	for _, w := range c {
		if err := w.PreSignature(ctx, secret, store, prov); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) PostSignature(ctx context.Context, secret keystore.Secret, store keystore.SecretStore, prov provenance.Provenance) error {
	var errs []error
	for _, w := range c {
		if err := w.PostSignature(ctx, secret, store, prov); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
