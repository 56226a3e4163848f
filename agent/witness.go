package agent

import (
	"context"

	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/provenance"
)

// Witness observes signatures. PreSignature runs before the store is asked to
// sign; returning an error refuses the request. PostSignature runs after a
// signature was produced and cannot undo it.
type Witness interface {
	PreSignature(ctx context.Context, secret keystore.Secret, store keystore.SecretStore, prov provenance.Provenance) error
	PostSignature(ctx context.Context, secret keystore.Secret, store keystore.SecretStore, prov provenance.Provenance) error
}
