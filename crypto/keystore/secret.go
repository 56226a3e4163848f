package keystore

import (
	"bytes"
	"fmt"
)

// Algorithm identifies the signature algorithm family of a Secret.
type Algorithm int

const (
	// ECDSA secrets carry an uncompressed SEC1 point as their public key.
	ECDSA Algorithm = iota + 1
	// RSA secrets carry a PKCS#1 DER RSAPublicKey as their public key.
	RSA
	// MLDSA secrets carry the raw encoded ML-DSA public key.
	MLDSA
)

func (a Algorithm) String() string {
	switch a {
	case ECDSA:
		return "ecdsa"
	case RSA:
		return "rsa"
	case MLDSA:
		return "mldsa"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// KeyType pairs an algorithm with its size. For ECDSA and RSA the size is the
// key length in bits; for ML-DSA it is the parameter set (65 or 87).
type KeyType struct {
	Algorithm Algorithm
	Size      int
}

func (k KeyType) String() string {
	return fmt.Sprintf("%s-%d", k.Algorithm, k.Size)
}

// AuthenticationRequirement describes what a store demands of the user before a
// secret may be used.
type AuthenticationRequirement int

const (
	AuthenticationUnknown AuthenticationRequirement = iota
	AuthenticationNone
	PresenceRequired
	BiometryPinned
)

func (a AuthenticationRequirement) String() string {
	switch a {
	case AuthenticationNone:
		return "none"
	case PresenceRequired:
		return "presence-required"
	case BiometryPinned:
		return "biometry-pinned"
	default:
		return "unknown"
	}
}

// ParseAuthenticationRequirement maps a configuration string to an
// AuthenticationRequirement. The empty string means AuthenticationNone.
func ParseAuthenticationRequirement(s string) (AuthenticationRequirement, error) {
	switch s {
	case "", "none":
		return AuthenticationNone, nil
	case "presence-required", "presence":
		return PresenceRequired, nil
	case "biometry-pinned", "biometry":
		return BiometryPinned, nil
	case "unknown":
		return AuthenticationUnknown, nil
	default:
		return AuthenticationUnknown, fmt.Errorf("unknown authentication requirement: %q", s)
	}
}

// Interactive reports whether using a secret with this requirement may prompt
// the user. Unknown requirements are treated as interactive.
func (a AuthenticationRequirement) Interactive() bool {
	return a != AuthenticationNone
}

// Secret is a store-owned signing key, referenced by value.
//
// ID is unique within its store. PublicKey is immutable for the lifetime of the
// secret and is encoded per Algorithm (see the Algorithm constants).
type Secret struct {
	ID             []byte
	Name           string
	PublicKey      []byte
	KeyType        KeyType
	Authentication AuthenticationRequirement
}

// Equal reports whether two secrets have the same identifier and public key.
func (s Secret) Equal(other Secret) bool {
	return bytes.Equal(s.ID, other.ID) && bytes.Equal(s.PublicKey, other.PublicKey)
}
