package overlay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/crypto/openssh"
	"golang.org/x/crypto/ssh"
)

// newCertifiedSecret returns a secret and an OpenSSH user certificate for it.
func newCertifiedSecret(t *testing.T, curve elliptic.Curve) (keystore.Secret, *ssh.Certificate) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	store := keystore.NewMockStore("overlay-test")
	secret, err := store.AddKey("Work Key", priv, keystore.AuthenticationNone)
	if err != nil {
		t.Fatalf("AddKey() error = %v", err)
	}
	return secret, signCertificate(t, &priv.PublicKey)
}

func signCertificate(t *testing.T, key interface{}) *ssh.Certificate {
	t.Helper()
	pub, err := ssh.NewPublicKey(key)
	if err != nil {
		t.Fatalf("NewPublicKey() error = %v", err)
	}
	_, caKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	ca, err := ssh.NewSignerFromKey(caKey)
	if err != nil {
		t.Fatalf("NewSignerFromKey() error = %v", err)
	}
	cert := &ssh.Certificate{
		Key:             pub,
		CertType:        ssh.UserCert,
		KeyId:           "work",
		ValidPrincipals: []string{"deploy"},
		ValidBefore:     ssh.CertTimeInfinity,
	}
	if err := cert.SignCert(rand.Reader, ca); err != nil {
		t.Fatalf("SignCert() error = %v", err)
	}
	return cert
}

func certificateLine(cert *ssh.Certificate, comment string) string {
	line := cert.Type() + " " + base64.StdEncoding.EncodeToString(cert.Marshal())
	if comment != "" {
		line += " " + comment
	}
	return line + "\n"
}

func TestReducedPublicKey(t *testing.T) {
	for _, curve := range []elliptic.Curve{elliptic.P256(), elliptic.P384()} {
		t.Run(curve.Params().Name, func(t *testing.T) {
			secret, cert := newCertifiedSecret(t, curve)
			reduced, err := ReducedPublicKey(cert.Marshal())
			if err != nil {
				t.Fatalf("ReducedPublicKey() error = %v", err)
			}
			want, err := openssh.PublicKeyBlob(secret)
			if err != nil {
				t.Fatalf("PublicKeyBlob() error = %v", err)
			}
			if !bytes.Equal(reduced, want) {
				t.Error("ReducedPublicKey() does not equal the secret's public key blob")
			}
			if !IsCertificate(cert.Marshal()) {
				t.Error("IsCertificate(cert) = false, want true")
			}
			if IsCertificate(want) {
				t.Error("IsCertificate(plain key) = true, want false")
			}
		})
	}
}

func TestReducedPublicKey_Errors(t *testing.T) {
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	edCert := signCertificate(t, edPub)

	truncated := openssh.AppendString(nil, []byte("ecdsa-sha2-nistp256-cert-v01@openssh.com"))
	truncated = openssh.AppendString(truncated, []byte("nonce"))

	mismatched := openssh.AppendString(nil, []byte("ecdsa-sha2-nistp256-cert-v01@openssh.com"))
	mismatched = openssh.AppendString(mismatched, []byte("nonce"))
	mismatched = openssh.AppendString(mismatched, []byte("nistp384"))
	mismatched = openssh.AppendString(mismatched, []byte{0x04})

	tests := []struct {
		name    string
		blob    []byte
		wantErr error
	}{
		{"ed25519 certificate", edCert.Marshal(), ErrUnsupportedType},
		{"plain key", openssh.AppendString(nil, []byte("ecdsa-sha2-nistp256")), ErrUnsupportedType},
		{"empty", nil, ErrParsingFailed},
		{"missing point", truncated, ErrParsingFailed},
		{"curve mismatch", mismatched, ErrParsingFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReducedPublicKey(tt.blob); !errors.Is(err, tt.wantErr) {
				t.Errorf("ReducedPublicKey() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseCertificateLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName string
		wantErr  error
	}{
		{"with comment", "ecdsa-sha2-nistp256-cert-v01@openssh.com AAAA deploy@ci", "deploy@ci", nil},
		{"comment with spaces", "type AAAA my work key\n", "my work key", nil},
		{"without comment", "type AAAA", "Fallback", nil},
		{"one field", "type", "", ErrParsingFailed},
		{"empty", "", "", ErrParsingFailed},
		{"bad base64", "type !!!! comment", "", ErrParsingFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := ParseCertificateLine([]byte(tt.input), "Fallback")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseCertificateLine() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCertificateLine() error = %v", err)
			}
			if entry.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", entry.Name, tt.wantName)
			}
		})
	}
}

func TestOverlay_Lookup(t *testing.T) {
	dir := t.TempDir()
	o := New(dir)
	secret, cert := newCertifiedSecret(t, elliptic.P256())

	blob, _ := openssh.PublicKeyBlob(secret)
	path := o.CertificatePath(openssh.FingerprintMD5(blob))
	if filepath.Dir(path) != dir || strings.Contains(filepath.Base(path), ":") || !strings.HasSuffix(path, "-cert.pub") {
		t.Fatalf("CertificatePath() = %s", path)
	}

	if _, err := o.Lookup(secret); !errors.Is(err, ErrDoesNotExist) {
		t.Fatalf("Lookup() without file error = %v, want ErrDoesNotExist", err)
	}

	if err := os.WriteFile(path, []byte(certificateLine(cert, "deploy-cert")), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := o.Lookup(secret); !errors.Is(err, ErrDoesNotExist) {
		t.Errorf("Lookup() before Invalidate error = %v, want cached ErrDoesNotExist", err)
	}

	o.Invalidate()
	entry, err := o.Lookup(secret)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !bytes.Equal(entry.Blob, cert.Marshal()) {
		t.Error("Lookup() blob does not match certificate")
	}
	if entry.Name != "deploy-cert" {
		t.Errorf("Lookup() name = %q, want %q", entry.Name, "deploy-cert")
	}
}

func TestOverlay_MalformedNotCached(t *testing.T) {
	dir := t.TempDir()
	o := New(dir)
	secret, cert := newCertifiedSecret(t, elliptic.P384())
	blob, _ := openssh.PublicKeyBlob(secret)
	path := o.CertificatePath(openssh.FingerprintMD5(blob))

	if err := os.WriteFile(path, []byte("garbage\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := o.Lookup(secret); !errors.Is(err, ErrParsingFailed) {
		t.Fatalf("Lookup() error = %v, want ErrParsingFailed", err)
	}

	if err := os.WriteFile(path, []byte(certificateLine(cert, "")), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	entry, err := o.Lookup(secret)
	if err != nil {
		t.Fatalf("Lookup() after fix error = %v", err)
	}
	if entry.Name != secret.Name {
		t.Errorf("Lookup() name = %q, want secret name %q", entry.Name, secret.Name)
	}
}

func TestOverlay_UnsupportedSecret(t *testing.T) {
	o := New(t.TempDir())
	secret := keystore.Secret{KeyType: keystore.KeyType{Algorithm: keystore.ECDSA, Size: 521}}
	if _, err := o.Lookup(secret); !errors.Is(err, openssh.ErrUnsupportedKeyType) {
		t.Errorf("Lookup() error = %v, want ErrUnsupportedKeyType", err)
	}
}

func TestOverlay_Watch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "PublicKeys")
	o := New(dir)
	secret, cert := newCertifiedSecret(t, elliptic.P256())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	}()

	// Wait for the directory to be created by Watch.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Watch() did not create the directory")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := o.Lookup(secret); !errors.Is(err, ErrDoesNotExist) {
		t.Fatalf("Lookup() error = %v, want ErrDoesNotExist", err)
	}

	blob, _ := openssh.PublicKeyBlob(secret)
	path := o.CertificatePath(openssh.FingerprintMD5(blob))
	for {
		if err := os.WriteFile(path, []byte(certificateLine(cert, "watched")), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if entry, err := o.Lookup(secret); err == nil {
			if entry.Name != "watched" {
				t.Errorf("Lookup() name = %q, want %q", entry.Name, "watched")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("certificate change did not invalidate the cache")
		}
	}
}

func TestWritePublicKeys(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "PublicKeys")
	store := keystore.NewMockStore("publish")
	first, err := store.AddECDSA("Laptop Key", 256, keystore.AuthenticationNone)
	if err != nil {
		t.Fatalf("AddECDSA() error = %v", err)
	}
	second, _ := store.AddECDSA("Server Key", 384, keystore.AuthenticationNone)
	unsupported := keystore.Secret{Name: "Legacy", KeyType: keystore.KeyType{Algorithm: keystore.RSA, Size: 1024}}

	err = WritePublicKeys(dir, []keystore.Secret{first, second, unsupported}, false)
	if !errors.Is(err, openssh.ErrUnsupportedKeyType) {
		t.Errorf("WritePublicKeys() error = %v, want ErrUnsupportedKeyType for the legacy key", err)
	}

	for _, secret := range []keystore.Secret{first, second} {
		path, err := PublicKeyPath(dir, secret)
		if err != nil {
			t.Fatalf("PublicKeyPath() error = %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		pub, comment, _, _, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			t.Fatalf("ParseAuthorizedKey() error = %v", err)
		}
		want, _ := openssh.PublicKeyBlob(secret)
		if !bytes.Equal(pub.Marshal(), want) {
			t.Errorf("%s: written key does not match", secret.Name)
		}
		if comment != secret.Name {
			t.Errorf("comment = %q, want %q", comment, secret.Name)
		}
	}

	certPath := filepath.Join(dir, "0123-cert.pub")
	if err := os.WriteFile(certPath, []byte("cert"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := WritePublicKeys(dir, []keystore.Secret{second}, true); err != nil {
		t.Fatalf("WritePublicKeys(clear) error = %v", err)
	}
	firstPath, _ := PublicKeyPath(dir, first)
	if _, err := os.Stat(firstPath); !os.IsNotExist(err) {
		t.Errorf("clear kept %s", firstPath)
	}
	if _, err := os.Stat(certPath); err != nil {
		t.Errorf("clear removed certificate: %v", err)
	}
}
