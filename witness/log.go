// Package witness provides agent.Witness implementations: an audit log,
// origin rules, policy plugins and a chain combining them.
package witness

import (
	"context"
	"log/slog"

	"github.com/joncooperworks/secretagent/agent"
	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/crypto/openssh"
	"github.com/joncooperworks/secretagent/provenance"
)

var _ agent.Witness = (*Log)(nil)

// Log records every signature request and every produced signature. It never
// objects.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log writing to logger.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) PreSignature(ctx context.Context, secret keystore.Secret, store keystore.SecretStore, prov provenance.Provenance) error {
	l.logger.InfoContext(ctx, "signature requested", l.attrs(secret, store, prov)...)
	return nil
}

func (l *Log) PostSignature(ctx context.Context, secret keystore.Secret, store keystore.SecretStore, prov provenance.Provenance) error {
	l.logger.InfoContext(ctx, "signature produced", l.attrs(secret, store, prov)...)
	return nil
}

func (l *Log) attrs(secret keystore.Secret, store keystore.SecretStore, prov provenance.Provenance) []any {
	return []any{
		"secret", secret.Name,
		"store", store.Name(),
		"fingerprint", fingerprint(secret),
		"origin", prov.Origin().DisplayName(),
		"provenance", prov,
	}
}

// fingerprint returns the SHA256 fingerprint of secret, or "" if its key type
// cannot be encoded.
func fingerprint(secret keystore.Secret) string {
	blob, err := openssh.PublicKeyBlob(secret)
	if err != nil {
		return ""
	}
	return openssh.FingerprintSHA256(blob)
}
