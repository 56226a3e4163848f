package openssh

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/joncooperworks/secretagent/crypto/keystore"
)

// Key type identifiers as they appear on the wire.
const (
	KeyAlgoECDSA256 = "ecdsa-sha2-nistp256"
	KeyAlgoECDSA384 = "ecdsa-sha2-nistp384"
	KeyAlgoRSA      = "ssh-rsa"
	KeyAlgoMLDSA65  = "ssh-mldsa-65"
	KeyAlgoMLDSA87  = "ssh-mldsa-87"

	// SigAlgoRSASHA512 is the only RSA signature format the agent emits.
	SigAlgoRSASHA512 = "rsa-sha2-512"
)

// KeyTypeIdentifier returns the OpenSSH key type string for kt.
func KeyTypeIdentifier(kt keystore.KeyType) (string, error) {
	switch {
	case kt.Algorithm == keystore.ECDSA && kt.Size == 256:
		return KeyAlgoECDSA256, nil
	case kt.Algorithm == keystore.ECDSA && kt.Size == 384:
		return KeyAlgoECDSA384, nil
	case kt.Algorithm == keystore.RSA && (kt.Size == 2048 || kt.Size == 3072 || kt.Size == 4096):
		return KeyAlgoRSA, nil
	case kt.Algorithm == keystore.MLDSA && kt.Size == 65:
		return KeyAlgoMLDSA65, nil
	case kt.Algorithm == keystore.MLDSA && kt.Size == 87:
		return KeyAlgoMLDSA87, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedKeyType, kt)
	}
}

// curveIdentifier returns the curve name embedded in ECDSA blobs, such as "nistp256".
func curveIdentifier(size int) string {
	return fmt.Sprintf("nistp%d", size)
}

// PublicKeyBlob encodes a secret's public key in the OpenSSH wire format.
func PublicKeyBlob(secret keystore.Secret) ([]byte, error) {
	id, err := KeyTypeIdentifier(secret.KeyType)
	if err != nil {
		return nil, err
	}

	blob := AppendString(nil, []byte(id))
	switch secret.KeyType.Algorithm {
	case keystore.ECDSA:
		blob = AppendString(blob, []byte(curveIdentifier(secret.KeyType.Size)))
		blob = AppendString(blob, secret.PublicKey)
	case keystore.RSA:
		e, n, err := rsaComponents(secret.PublicKey)
		if err != nil {
			return nil, err
		}
		blob = AppendString(blob, e)
		blob = AppendString(blob, n)
	case keystore.MLDSA:
		blob = AppendString(blob, secret.PublicKey)
	}
	return blob, nil
}

// rsaComponents extracts the exponent and modulus from a PKCS#1 RSAPublicKey
// of 2048 bits or more by fixed offsets:
//
//	30 82 LL LL            SEQUENCE
//	02 82 NN NN <modulus>  INTEGER n (with its leading 0x00)
//	02 EE <exponent>       INTEGER e
//
// The modulus keeps its leading zero byte, which makes it a valid mpint.
func rsaComponents(der []byte) (e, n []byte, err error) {
	if len(der) < 8 || der[0] != 0x30 || der[1] != 0x82 || der[4] != 0x02 || der[5] != 0x82 {
		return nil, nil, fmt.Errorf("%w: unexpected RSA public key layout", ErrUnsupportedKeyType)
	}
	nLen := int(der[6])<<8 | int(der[7])
	nEnd := 8 + nLen
	if len(der) < nEnd+2 || der[nEnd] != 0x02 {
		return nil, nil, fmt.Errorf("%w: RSA modulus", ErrTruncated)
	}
	eLen := int(der[nEnd+1])
	eStart := nEnd + 2
	if len(der) != eStart+eLen {
		return nil, nil, fmt.Errorf("%w: RSA exponent", ErrTruncated)
	}
	return der[eStart:], der[8:nEnd], nil
}

// AuthorizedKey renders the secret as an authorized_keys line:
// "<type> <base64 blob>" followed by the comment, if any.
func AuthorizedKey(secret keystore.Secret, comment string) (string, error) {
	blob, err := PublicKeyBlob(secret)
	if err != nil {
		return "", err
	}
	id, _ := KeyTypeIdentifier(secret.KeyType)
	fields := []string{id, base64.StdEncoding.EncodeToString(blob)}
	if comment != "" {
		fields = append(fields, comment)
	}
	return strings.Join(fields, " "), nil
}
