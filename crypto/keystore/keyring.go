package keystore

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/99designs/keyring"
	"github.com/joncooperworks/secretagent/provenance"
	"golang.org/x/term"
)

func init() {
	RegisterStore("keyring", func(opts Options) (SecretStore, error) {
		return NewKeyringStore(opts)
	})
}

// DefaultService is the keyring service name used when none is configured.
const DefaultService = "secretagent"

// KeyringStore implements SecretStore on top of the OS keystore (macOS
// Keychain, Secret Service, KWallet, Windows Credential Manager, pass, or an
// encrypted file). Each keyring item holds one PEM encoded ECDSA private key.
//
// The store only reads items; keys are provisioned with the platform's own
// tooling.
type KeyringStore struct {
	id     string
	name   string
	ring   keyring.Keyring
	auth   AuthenticationRequirement
	logger *slog.Logger

	mu      sync.RWMutex
	secrets []Secret
	keys    map[string]*ecdsa.PrivateKey
}

// NewKeyringStore opens the keyring described by opts.
// Uses SECRETAGENT_KEYCHAIN, if set, as the macOS keychain name; otherwise the
// default login keychain is used.
func NewKeyringStore(opts Options) (*KeyringStore, error) {
	service := opts.Service
	if service == "" {
		service = DefaultService
	}

	backends := make([]keyring.BackendType, 0, len(opts.Backends))
	for _, b := range opts.Backends {
		backends = append(backends, keyring.BackendType(b))
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              service,
		AllowedBackends:          backends,
		KeychainName:             os.Getenv("SECRETAGENT_KEYCHAIN"),
		KeychainTrustApplication: true,
		KWalletAppID:             service,
		KWalletFolder:            service,
		LibSecretCollectionName:  service,
		FileDir:                  opts.FileDir,
		FilePasswordFunc:         filePasswordFunc(opts.PasswordEnv),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}

	opts.Service = service
	return NewKeyringStoreWithRing(ring, opts), nil
}

// NewKeyringStoreWithRing wraps an already opened keyring. Secrets are not
// loaded until Reload is called.
func NewKeyringStoreWithRing(ring keyring.Keyring, opts Options) *KeyringStore {
	service := opts.Service
	if service == "" {
		service = DefaultService
	}
	return &KeyringStore{
		id:     "keyring:" + service,
		name:   opts.name(),
		ring:   ring,
		auth:   opts.Authentication,
		logger: opts.logger(),
		keys:   make(map[string]*ecdsa.PrivateKey),
	}
}

// filePasswordFunc returns the password source for the encrypted file backend.
// A named environment variable wins; otherwise the user is prompted when
// stdin is a terminal.
func filePasswordFunc(env string) keyring.PromptFunc {
	if env != "" {
		return func(string) (string, error) {
			pw, ok := os.LookupEnv(env)
			if !ok {
				return "", fmt.Errorf("keyring password variable %s is not set", env)
			}
			return pw, nil
		}
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return keyring.TerminalPrompt
	}
	return func(string) (string, error) {
		return "", errors.New("no keyring password source available")
	}
}

func (k *KeyringStore) ID() string   { return k.id }
func (k *KeyringStore) Name() string { return k.name }

// Secrets returns the loaded secrets ordered by keyring item key.
func (k *KeyringStore) Secrets() []Secret {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]Secret, len(k.secrets))
	copy(out, k.secrets)
	return out
}

// Reload re-reads every item in the keyring. Items that do not hold a usable
// ECDSA key are logged and skipped.
func (k *KeyringStore) Reload(ctx context.Context) error {
	ids, err := k.ring.Keys()
	if err != nil {
		return fmt.Errorf("failed to list keys from keyring: %w", err)
	}
	sort.Strings(ids)

	secrets := make([]Secret, 0, len(ids))
	keys := make(map[string]*ecdsa.PrivateKey, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := k.ring.Get(id)
		if err != nil {
			k.logger.Warn("failed to get key from keyring", "store", k.name, "key", id, "error", err)
			continue
		}
		priv, err := parsePrivateKeyPEM(item.Data)
		if err != nil {
			k.logger.Warn("skipping keyring item", "store", k.name, "key", id, "error", err)
			continue
		}
		secret, err := ecdsaSecret(id, item.Label, priv, k.auth)
		if err != nil {
			k.logger.Warn("skipping keyring item", "store", k.name, "key", id, "error", err)
			continue
		}
		secrets = append(secrets, secret)
		keys[id] = priv
	}

	k.mu.Lock()
	k.secrets = secrets
	k.keys = keys
	k.mu.Unlock()

	k.logger.Debug("loaded secrets", "store", k.name, "count", len(secrets))
	return nil
}

// Sign produces a DER encoded ECDSA signature over the curve's matching SHA-2 digest.
func (k *KeyringStore) Sign(ctx context.Context, data []byte, secret Secret, _ provenance.Provenance) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.RLock()
	priv, ok := k.keys[string(secret.ID)]
	k.mu.RUnlock()
	if !ok {
		return nil, ErrSecretNotFound
	}
	sig, err := signECDSA(priv, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	return sig, nil
}

// parsePrivateKeyPEM decodes a PKCS#8 or SEC1 ECDSA private key.
func parsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	defer zeroize(block.Bytes)

	// Try PKCS8 format
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		if ecdsaKey, ok := key.(*ecdsa.PrivateKey); ok {
			return ecdsaKey, nil
		}
		return nil, fmt.Errorf("%w: key is not ECDSA", ErrUnsupportedKey)
	}

	// Try EC private key format
	ecKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return ecKey, nil
}

// ecdsaSecret describes priv as a Secret. Only P-256 and P-384 are advertised.
func ecdsaSecret(id, label string, priv *ecdsa.PrivateKey, auth AuthenticationRequirement) (Secret, error) {
	size := priv.Curve.Params().BitSize
	if size != 256 && size != 384 {
		return Secret{}, fmt.Errorf("%w: ecdsa-%d", ErrUnsupportedKey, size)
	}
	pub, err := priv.PublicKey.ECDH()
	if err != nil {
		return Secret{}, fmt.Errorf("failed to encode public key: %w", err)
	}
	name := label
	if name == "" {
		name = id
	}
	return Secret{
		ID:             []byte(id),
		Name:           name,
		PublicKey:      pub.Bytes(),
		KeyType:        KeyType{Algorithm: ECDSA, Size: size},
		Authentication: auth,
	}, nil
}

func signECDSA(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	var digest []byte
	switch priv.Curve.Params().BitSize {
	case 256:
		sum := sha256.Sum256(data)
		digest = sum[:]
	case 384:
		sum := sha512.Sum384(data)
		digest = sum[:]
	default:
		return nil, ErrUnsupportedKey
	}
	return ecdsa.SignASN1(rand.Reader, priv, digest)
}
