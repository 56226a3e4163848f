package overlay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/crypto/openssh"
)

// PublicKeyPath returns where WritePublicKeys puts the secret's public key:
// its MD5 fingerprint without colons, suffixed ".pub".
func PublicKeyPath(dir string, secret keystore.Secret) (string, error) {
	blob, err := openssh.PublicKeyBlob(secret)
	if err != nil {
		return "", err
	}
	name := strings.ReplaceAll(openssh.FingerprintMD5(blob), ":", "") + ".pub"
	return filepath.Join(dir, name), nil
}

// WritePublicKeys writes one authorized_keys line per secret into dir so
// scripts and ssh's IdentityFile can reference the keys. With clear set, the
// directory is emptied of public key files first; certificates are kept.
// Secrets that cannot be encoded are skipped and reported in the returned error.
func WritePublicKeys(dir string, secrets []keystore.Secret, clear bool) error {
	if clear {
		if err := removePublicKeys(dir); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create public key directory: %w", err)
	}

	var errs []error
	for _, secret := range secrets {
		path, err := PublicKeyPath(dir, secret)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", secret.Name, err))
			continue
		}
		line, err := openssh.AuthorizedKey(secret, secret.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", secret.Name, err))
			continue
		}
		if err := os.WriteFile(path, []byte(line+"\n"), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("failed to write public key for %s: %w", secret.Name, err))
		}
	}
	return errors.Join(errs...)
}

func removePublicKeys(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.pub"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if strings.HasSuffix(path, certificateFileSuffix) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}
