package keystore

import (
	"context"
	"errors"

	"github.com/joncooperworks/secretagent/provenance"
)

var (
	// ErrSecretNotFound is returned when a store is asked to sign with a secret it does not hold.
	ErrSecretNotFound = errors.New("secret not found in store")
	// ErrSigningFailed wraps backend failures during a sign operation.
	ErrSigningFailed = errors.New("signing failed")
	// ErrUnsupportedKey is returned when a backend holds a key the agent cannot advertise.
	ErrUnsupportedKey = errors.New("unsupported key")
)

// SecretStore is a backend that holds secrets and signs with them.
//
// Stores own their key material; the agent only ever sees Secret values and
// signature bytes. Implementations must be safe for concurrent use.
type SecretStore interface {
	// ID returns a stable identifier for the signing backend. Requests for
	// secrets that require user interaction are serialized per ID.
	ID() string

	// Name returns a human readable store name used in logs.
	Name() string

	// Secrets returns the currently loaded secrets in the store's natural order.
	Secrets() []Secret

	// Sign signs data with the given secret on behalf of the traced requester.
	// It may block on user interaction. ECDSA signatures are returned as an
	// ASN.1 DER Ecdsa-Sig-Value; RSA signatures are PKCS#1 v1.5 over
	// SHA-512; ML-DSA signatures are raw.
	Sign(ctx context.Context, data []byte, secret Secret, prov provenance.Provenance) ([]byte, error)

	// Reload re-reads secrets from the backend.
	Reload(ctx context.Context) error
}
