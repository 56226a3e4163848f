// Package overlay associates secrets with OpenSSH certificates stored on disk.
//
// A certificate for a secret lives in the public key directory under the
// secret's MD5 fingerprint with the colons removed, suffixed "-cert.pub".
// When one exists the agent advertises the certificate instead of the bare key.
package overlay

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/crypto/openssh"
)

const (
	certificateFileSuffix = "-cert.pub"
	defaultCacheSize      = 256
)

// Entry is a certificate advertised in place of a secret's public key.
type Entry struct {
	Blob []byte
	Name string
}

type cacheEntry struct {
	entry Entry
	err   error
}

// Overlay resolves certificate files for secrets. Results are cached by
// fingerprint until Invalidate is called.
type Overlay struct {
	dir    string
	cache  *lru.Cache[string, cacheEntry]
	logger *slog.Logger
}

// Option configures an Overlay.
type Option func(*Overlay)

// WithLogger sets the overlay's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Overlay) { o.logger = logger }
}

// WithCacheSize sets how many lookups are remembered.
func WithCacheSize(size int) Option {
	return func(o *Overlay) {
		if size > 0 {
			o.cache, _ = lru.New[string, cacheEntry](size)
		}
	}
}

// New creates an Overlay reading certificates from dir.
func New(dir string, opts ...Option) *Overlay {
	cache, _ := lru.New[string, cacheEntry](defaultCacheSize)
	o := &Overlay{
		dir:    dir,
		cache:  cache,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dir returns the directory certificates are read from.
func (o *Overlay) Dir() string {
	return o.dir
}

// CertificatePath returns where the certificate for a key with the given MD5
// fingerprint is expected.
func (o *Overlay) CertificatePath(fingerprintMD5 string) string {
	return filepath.Join(o.dir, strings.ReplaceAll(fingerprintMD5, ":", "")+certificateFileSuffix)
}

// Lookup returns the certificate entry for secret. It returns ErrDoesNotExist
// when there is no certificate file and ErrParsingFailed when the file is
// malformed.
func (o *Overlay) Lookup(secret keystore.Secret) (Entry, error) {
	blob, err := openssh.PublicKeyBlob(secret)
	if err != nil {
		return Entry{}, err
	}
	fingerprint := openssh.FingerprintMD5(blob)

	if cached, ok := o.cache.Get(fingerprint); ok {
		return cached.entry, cached.err
	}

	path := o.CertificatePath(fingerprint)
	entry, err := readCertificate(path, secret.Name)
	if err == nil || errors.Is(err, ErrDoesNotExist) {
		o.cache.Add(fingerprint, cacheEntry{entry: entry, err: err})
	}
	if err == nil {
		o.logger.Debug("loaded certificate", "secret", secret.Name, "path", path)
	}
	return entry, err
}

// Invalidate forgets every cached lookup.
func (o *Overlay) Invalidate() {
	o.cache.Purge()
}

func readCertificate(path, fallbackName string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrDoesNotExist
		}
		return Entry{}, fmt.Errorf("failed to read certificate: %w", err)
	}
	return ParseCertificateLine(data, fallbackName)
}

// ParseCertificateLine parses "<type> <base64> [comment]". The comment, or
// fallbackName when there is none, becomes the entry name.
func ParseCertificateLine(data []byte, fallbackName string) (Entry, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Entry{}, fmt.Errorf("%w: want at least 2 fields, have %d", ErrParsingFailed, len(fields))
	}
	blob, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrParsingFailed, err)
	}
	name := fallbackName
	if len(fields) > 2 {
		name = strings.Join(fields[2:], " ")
	}
	return Entry{Blob: blob, Name: name}, nil
}
