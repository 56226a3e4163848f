package keystore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/joncooperworks/secretagent/provenance"
)

// MockStore is an in-memory implementation of SecretStore for testing.
// It signs with real ECDSA keys so signatures verify against the advertised
// public keys. This is exported so it can be used by tests in other packages.
type MockStore struct {
	id   string
	name string

	mu          sync.Mutex
	secrets     []Secret
	keys        map[string]*ecdsa.PrivateKey
	pending     []Secret
	signCalls   int
	reloadCalls int
	signErr     error
	onSign      func()
}

// NewMockStore creates an empty in-memory store.
func NewMockStore(id string) *MockStore {
	return &MockStore{
		id:   id,
		name: id,
		keys: make(map[string]*ecdsa.PrivateKey),
	}
}

// AddECDSA generates and adds a P-256 or P-384 secret.
func (m *MockStore) AddECDSA(name string, bits int, auth AuthenticationRequirement) (Secret, error) {
	var curve elliptic.Curve
	switch bits {
	case 256:
		curve = elliptic.P256()
	case 384:
		curve = elliptic.P384()
	default:
		return Secret{}, fmt.Errorf("%w: ecdsa-%d", ErrUnsupportedKey, bits)
	}
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return Secret{}, err
	}
	return m.AddKey(name, priv, auth)
}

// AddKey adds an existing ECDSA private key as a secret.
func (m *MockStore) AddKey(name string, priv *ecdsa.PrivateKey, auth AuthenticationRequirement) (Secret, error) {
	secret, err := ecdsaSecret(name, name, priv, auth)
	if err != nil {
		return Secret{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets = append(m.secrets, secret)
	m.keys[name] = priv
	return secret, nil
}

// AddSecret adds a secret with no private key. Signing with it fails; it is
// useful for listing-only tests such as RSA or ML-DSA advertisement.
func (m *MockStore) AddSecret(secret Secret) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets = append(m.secrets, secret)
}

// StageForReload holds secrets back until the next Reload, simulating a
// backend that loads lazily.
func (m *MockStore) StageForReload(secrets ...Secret) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, secrets...)
}

// SetSignError makes every subsequent Sign call fail with err.
func (m *MockStore) SetSignError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signErr = err
}

// OnSign registers a hook run at the start of each Sign call.
func (m *MockStore) OnSign(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSign = fn
}

// SignCalls returns the number of Sign invocations.
func (m *MockStore) SignCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signCalls
}

// ReloadCalls returns the number of Reload invocations.
func (m *MockStore) ReloadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloadCalls
}

func (m *MockStore) ID() string   { return m.id }
func (m *MockStore) Name() string { return m.name }

func (m *MockStore) Secrets() []Secret {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Secret, len(m.secrets))
	copy(out, m.secrets)
	return out
}

func (m *MockStore) Reload(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCalls++
	m.secrets = append(m.secrets, m.pending...)
	m.pending = nil
	return nil
}

func (m *MockStore) Sign(ctx context.Context, data []byte, secret Secret, _ provenance.Provenance) ([]byte, error) {
	m.mu.Lock()
	m.signCalls++
	hook := m.onSign
	signErr := m.signErr
	priv, ok := m.keys[string(secret.ID)]
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if signErr != nil {
		return nil, signErr
	}
	if !ok {
		return nil, ErrSecretNotFound
	}
	return signECDSA(priv, data)
}
