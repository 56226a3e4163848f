package overlay

import (
	"fmt"
	"strings"

	"github.com/joncooperworks/secretagent/crypto/openssh"
)

const certificateSuffix = "-cert-v01@openssh.com"

// reducibleTypes are the certificate types ReducedPublicKey understands.
var reducibleTypes = map[string]bool{
	"ecdsa-sha2-nistp256" + certificateSuffix: true,
	"ecdsa-sha2-nistp384" + certificateSuffix: true,
	"ecdsa-sha2-nistp521" + certificateSuffix: true,
}

// IsCertificate reports whether blob starts with an OpenSSH certificate type.
func IsCertificate(blob []byte) bool {
	typ, err := openssh.NewReader(blob).ReadString()
	return err == nil && strings.HasSuffix(string(typ), certificateSuffix)
}

// ReducedPublicKey extracts the plain public key blob embedded in an ECDSA
// OpenSSH certificate, so that a client presenting the certificate can be
// matched against the key a store holds.
//
// The certificate starts with string(type), string(nonce), string(curve),
// string(point); everything after the point is ignored.
func ReducedPublicKey(certificate []byte) ([]byte, error) {
	r := openssh.NewReader(certificate)
	typ, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParsingFailed, err)
	}
	if !reducibleTypes[string(typ)] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}
	if _, err := r.ReadString(); err != nil {
		return nil, fmt.Errorf("%w: nonce: %w", ErrParsingFailed, err)
	}
	curve, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("%w: curve: %w", ErrParsingFailed, err)
	}
	point, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("%w: point: %w", ErrParsingFailed, err)
	}

	keyType := strings.TrimSuffix(string(typ), certificateSuffix)
	if keyType != "ecdsa-sha2-"+string(curve) {
		return nil, fmt.Errorf("%w: curve %q does not match %q", ErrParsingFailed, curve, keyType)
	}

	blob := openssh.AppendString(nil, []byte(keyType))
	blob = openssh.AppendString(blob, curve)
	return openssh.AppendString(blob, point), nil
}
