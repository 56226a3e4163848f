package openssh

import (
	"fmt"
	"math/big"

	"github.com/joncooperworks/secretagent/crypto/keystore"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// SignatureBlob converts a store signature into the OpenSSH signature
// encoding: string(format) followed by string(blob). The sign response wraps
// the result in one more length prefix.
//
// ECDSA signatures must be an ASN.1 DER Ecdsa-Sig-Value. RSA signatures are
// labelled rsa-sha2-512. ML-DSA signatures are carried as-is.
func SignatureBlob(secret keystore.Secret, sig []byte) ([]byte, error) {
	id, err := KeyTypeIdentifier(secret.KeyType)
	if err != nil {
		return nil, err
	}

	switch secret.KeyType.Algorithm {
	case keystore.ECDSA:
		r, s, err := ecdsaHalves(sig, secret.KeyType.Size)
		if err != nil {
			return nil, err
		}
		mr, err := Mpint(r)
		if err != nil {
			return nil, fmt.Errorf("r: %w", err)
		}
		ms, err := Mpint(s)
		if err != nil {
			return nil, fmt.Errorf("s: %w", err)
		}
		inner := AppendString(AppendString(nil, mr), ms)
		return AppendString(AppendString(nil, []byte(id)), inner), nil
	case keystore.RSA:
		if len(sig) == 0 {
			return nil, fmt.Errorf("%w: empty RSA signature", ErrInvalidSignature)
		}
		return AppendString(AppendString(nil, []byte(SigAlgoRSASHA512)), sig), nil
	default:
		if len(sig) == 0 {
			return nil, fmt.Errorf("%w: empty signature", ErrInvalidSignature)
		}
		return AppendString(AppendString(nil, []byte(id)), sig), nil
	}
}

// Mpint applies the SSH mpint rule to an unsigned big-endian integer: all
// leading zero bytes are dropped, then a single 0x00 is prepended if the high
// bit of the first remaining byte is set. Zero is rejected.
func Mpint(b []byte) ([]byte, error) {
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	b = b[i:]
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty integer", ErrInvalidSignature)
	}
	out := make([]byte, 0, len(b)+1)
	if b[0]&0x80 != 0 {
		out = append(out, 0x00)
	}
	return append(out, b...), nil
}

// ecdsaHalves splits a DER ECDSA signature into r and s. Each half must be
// positive and fit the curve's coordinate size.
func ecdsaHalves(sig []byte, bits int) (r, s []byte, err error) {
	r, s, ok := parseDERSignature(sig)
	if !ok {
		return nil, nil, fmt.Errorf("%w: not a DER ecdsa-%d signature", ErrInvalidSignature, bits)
	}
	size := (bits + 7) / 8
	if len(r) > size || len(s) > size {
		return nil, nil, fmt.Errorf("%w: integer too large for ecdsa-%d", ErrInvalidSignature, bits)
	}
	return r, s, nil
}

func parseDERSignature(sig []byte) (r, s []byte, ok bool) {
	var (
		inner  cryptobyte.String
		rv, sv = new(big.Int), new(big.Int)
	)
	input := cryptobyte.String(sig)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(rv) || !inner.ReadASN1Integer(sv) || !inner.Empty() {
		return nil, nil, false
	}
	if rv.Sign() <= 0 || sv.Sign() <= 0 {
		return nil, nil, false
	}
	return rv.Bytes(), sv.Bytes(), true
}
