package keystore

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"sync"

	"github.com/joncooperworks/secretagent/provenance"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

func init() {
	RegisterStore("proxy", func(opts Options) (SecretStore, error) {
		return NewProxyStore(opts)
	})
}

// ProxyStore implements SecretStore by forwarding to an upstream SSH agent.
// ECDSA P-256/P-384 and RSA keys held by the upstream agent are advertised;
// other key types are skipped.
type ProxyStore struct {
	id     string
	name   string
	auth   AuthenticationRequirement
	logger *slog.Logger
	dial   func(ctx context.Context) (net.Conn, error)

	mu      sync.RWMutex
	secrets []Secret
	keys    map[string]ssh.PublicKey
}

// NewProxyStore creates a store backed by the agent listening on opts.Socket,
// falling back to SSH_AUTH_SOCK.
func NewProxyStore(opts Options) (*ProxyStore, error) {
	socket := opts.Socket
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}
	if socket == "" {
		return nil, errors.New("proxy store requires an upstream agent socket")
	}
	if opts.Name == "" {
		opts.Name = "Proxy SSH Agent"
	}
	var d net.Dialer
	return NewProxyStoreWithDialer(func(ctx context.Context) (net.Conn, error) {
		return d.DialContext(ctx, "unix", socket)
	}, "proxy:"+socket, opts), nil
}

// NewProxyStoreWithDialer creates a proxy store that reaches the upstream
// agent through dial. Each operation opens its own connection.
func NewProxyStoreWithDialer(dial func(ctx context.Context) (net.Conn, error), id string, opts Options) *ProxyStore {
	return &ProxyStore{
		id:     id,
		name:   opts.name(),
		auth:   opts.Authentication,
		logger: opts.logger(),
		dial:   dial,
		keys:   make(map[string]ssh.PublicKey),
	}
}

func (p *ProxyStore) ID() string   { return p.id }
func (p *ProxyStore) Name() string { return p.name }

func (p *ProxyStore) Secrets() []Secret {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Secret, len(p.secrets))
	copy(out, p.secrets)
	return out
}

// Reload lists the upstream agent's keys.
func (p *ProxyStore) Reload(ctx context.Context) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to upstream agent: %w", err)
	}
	defer conn.Close()

	listed, err := agent.NewClient(conn).List()
	if err != nil {
		return fmt.Errorf("failed to list upstream keys: %w", err)
	}

	secrets := make([]Secret, 0, len(listed))
	keys := make(map[string]ssh.PublicKey, len(listed))
	for _, key := range listed {
		pub, err := ssh.ParsePublicKey(key.Blob)
		if err != nil {
			p.logger.Warn("skipping upstream key", "store", p.name, "error", err)
			continue
		}
		secret, err := proxySecret(key, pub, p.auth)
		if err != nil {
			p.logger.Debug("skipping upstream key", "store", p.name, "type", pub.Type(), "error", err)
			continue
		}
		secrets = append(secrets, secret)
		keys[string(secret.ID)] = pub
	}

	p.mu.Lock()
	p.secrets = secrets
	p.keys = keys
	p.mu.Unlock()
	return nil
}

// Sign asks the upstream agent to sign. ECDSA signatures are converted to DER
// and RSA signatures are requested as rsa-sha2-512.
func (p *ProxyStore) Sign(ctx context.Context, data []byte, secret Secret, _ provenance.Provenance) ([]byte, error) {
	p.mu.RLock()
	pub, ok := p.keys[string(secret.ID)]
	p.mu.RUnlock()
	if !ok {
		return nil, ErrSecretNotFound
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to upstream agent: %w", ErrSigningFailed, err)
	}
	defer conn.Close()

	var flags agent.SignatureFlags
	if secret.KeyType.Algorithm == RSA {
		flags = agent.SignatureFlagRsaSha512
	}
	sig, err := agent.NewClient(conn).SignWithFlags(pub, data, flags)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	switch secret.KeyType.Algorithm {
	case ECDSA:
		return ecdsaSignatureDER(sig.Blob)
	case RSA:
		if sig.Format != ssh.KeyAlgoRSASHA512 {
			return nil, fmt.Errorf("%w: upstream returned %s signature", ErrSigningFailed, sig.Format)
		}
		return sig.Blob, nil
	default:
		return nil, ErrUnsupportedKey
	}
}

func proxySecret(key *agent.Key, pub ssh.PublicKey, auth AuthenticationRequirement) (Secret, error) {
	cpk, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return Secret{}, ErrUnsupportedKey
	}
	name := key.Comment
	if name == "" {
		name = pub.Type()
	}
	secret := Secret{ID: key.Blob, Name: name, Authentication: auth}

	switch k := cpk.CryptoPublicKey().(type) {
	case *ecdsa.PublicKey:
		size := k.Curve.Params().BitSize
		if size != 256 && size != 384 {
			return Secret{}, fmt.Errorf("%w: ecdsa-%d", ErrUnsupportedKey, size)
		}
		point, err := k.ECDH()
		if err != nil {
			return Secret{}, err
		}
		secret.PublicKey = point.Bytes()
		secret.KeyType = KeyType{Algorithm: ECDSA, Size: size}
	case *rsa.PublicKey:
		size := k.N.BitLen()
		if size != 2048 && size != 3072 && size != 4096 {
			return Secret{}, fmt.Errorf("%w: rsa-%d", ErrUnsupportedKey, size)
		}
		secret.PublicKey = x509.MarshalPKCS1PublicKey(k)
		secret.KeyType = KeyType{Algorithm: RSA, Size: size}
	default:
		return Secret{}, ErrUnsupportedKey
	}
	return secret, nil
}

// ecdsaSignatureDER converts an SSH ECDSA signature blob (mpint r, mpint s)
// into an ASN.1 DER Ecdsa-Sig-Value.
func ecdsaSignatureDER(blob []byte) ([]byte, error) {
	var rs struct {
		R *big.Int
		S *big.Int
	}
	if err := ssh.Unmarshal(blob, &rs); err != nil {
		return nil, fmt.Errorf("%w: malformed upstream signature: %w", ErrSigningFailed, err)
	}
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(rs.R)
		b.AddASN1BigInt(rs.S)
	})
	return b.Bytes()
}
