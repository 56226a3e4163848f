package keystore

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/joncooperworks/secretagent/provenance"
)

func pemItem(t *testing.T, key, label string, curve elliptic.Curve) (keyring.Item, *ecdsa.PrivateKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}
	return keyring.Item{
		Key:   key,
		Label: label,
		Data:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
	}, priv
}

func TestKeyringStore_Reload(t *testing.T) {
	itemB, _ := pemItem(t, "b-key", "Deploy Key", elliptic.P384())
	itemA, privA := pemItem(t, "a-key", "", elliptic.P256())

	sec1Der, err := x509.MarshalECPrivateKey(privA)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey() error = %v", err)
	}
	itemC := keyring.Item{Key: "c-key", Data: pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1Der})}
	p521, _ := pemItem(t, "d-key", "", elliptic.P521())
	garbage := keyring.Item{Key: "e-key", Data: []byte("not a key")}

	ring := keyring.NewArrayKeyring([]keyring.Item{itemB, itemA, itemC, p521, garbage})
	store := NewKeyringStoreWithRing(ring, Options{Name: "Test Keyring", Authentication: PresenceRequired})

	if got := store.Secrets(); len(got) != 0 {
		t.Fatalf("Secrets() before Reload = %d, want 0", len(got))
	}
	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	secrets := store.Secrets()
	if len(secrets) != 3 {
		t.Fatalf("len(Secrets()) = %d, want 3", len(secrets))
	}
	wantIDs := []string{"a-key", "b-key", "c-key"}
	for i, id := range wantIDs {
		if string(secrets[i].ID) != id {
			t.Errorf("Secrets()[%d].ID = %s, want %s", i, secrets[i].ID, id)
		}
		if secrets[i].Authentication != PresenceRequired {
			t.Errorf("Secrets()[%d].Authentication = %s, want %s", i, secrets[i].Authentication, PresenceRequired)
		}
	}
	if secrets[0].Name != "a-key" {
		t.Errorf("unlabelled Name = %q, want key id", secrets[0].Name)
	}
	if secrets[1].Name != "Deploy Key" || secrets[1].KeyType.Size != 384 {
		t.Errorf("Secrets()[1] = %s %s, want Deploy Key ecdsa-384", secrets[1].Name, secrets[1].KeyType)
	}
	if !bytes.Equal(secrets[0].PublicKey, secrets[2].PublicKey) {
		t.Error("PKCS#8 and SEC1 encodings of the same key produced different public keys")
	}
	if len(secrets[0].PublicKey) != 65 || secrets[0].PublicKey[0] != 0x04 {
		t.Errorf("PublicKey is not an uncompressed P-256 point: %x", secrets[0].PublicKey[:1])
	}
	if store.ID() != "keyring:"+DefaultService {
		t.Errorf("ID() = %s, want keyring:%s", store.ID(), DefaultService)
	}

	// A second reload must see the same items.
	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("second Reload() error = %v", err)
	}
	if len(store.Secrets()) != 3 {
		t.Errorf("len(Secrets()) after second Reload = %d, want 3", len(store.Secrets()))
	}
}

func TestKeyringStore_Sign(t *testing.T) {
	item, priv := pemItem(t, "signer", "Signer", elliptic.P256())
	store := NewKeyringStoreWithRing(keyring.NewArrayKeyring([]keyring.Item{item}), Options{})
	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	secret := store.Secrets()[0]

	data := []byte("challenge")
	sig, err := store.Sign(context.Background(), data, secret, provenance.Provenance{})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(&priv.PublicKey, digest[:], sig) {
		t.Error("Sign() produced a signature that does not verify")
	}

	unknown := Secret{ID: []byte("missing")}
	if _, err := store.Sign(context.Background(), data, unknown, provenance.Provenance{}); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Sign(unknown) error = %v, want ErrSecretNotFound", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Sign(ctx, data, secret, provenance.Provenance{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Sign(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestRegistry(t *testing.T) {
	kinds := ListRegisteredKinds()
	for _, want := range []string{"keyring", "proxy"} {
		found := false
		for _, k := range kinds {
			if k == want {
				found = true
			}
		}
		if !found {
			t.Errorf("ListRegisteredKinds() = %v, missing %s", kinds, want)
		}
	}

	if _, err := GetStoreFactory("tpm"); err == nil {
		t.Error("GetStoreFactory(tpm) error = nil, want error")
	}
	if _, err := NewStore(context.Background(), Options{Kind: "tpm"}); err == nil {
		t.Error("NewStore(tpm) error = nil, want error")
	}

	RegisterStore("test-mock", func(opts Options) (SecretStore, error) {
		m := NewMockStore(opts.Name)
		m.StageForReload(Secret{ID: []byte("staged"), Name: "staged"})
		return m, nil
	})
	store, err := NewStore(context.Background(), Options{Kind: "test-mock", Name: "mock"})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if len(store.Secrets()) != 1 {
		t.Errorf("NewStore() loaded %d secrets, want 1", len(store.Secrets()))
	}
}

func TestStoreList_Order(t *testing.T) {
	first := NewMockStore("first")
	second := NewMockStore("second")
	a, err := first.AddECDSA("a", 256, AuthenticationNone)
	if err != nil {
		t.Fatalf("AddECDSA() error = %v", err)
	}
	b, _ := first.AddECDSA("b", 384, AuthenticationNone)
	c, _ := second.AddECDSA("c", 256, AuthenticationNone)

	list := NewStoreList(first, nil, second)
	if len(list.Stores()) != 2 {
		t.Fatalf("len(Stores()) = %d, want 2", len(list.Stores()))
	}

	all := list.AllSecrets()
	want := []Secret{a, b, c}
	if len(all) != len(want) {
		t.Fatalf("len(AllSecrets()) = %d, want %d", len(all), len(want))
	}
	for i := range want {
		if !all[i].Secret.Equal(want[i]) {
			t.Errorf("AllSecrets()[%d] = %s, want %s", i, all[i].Secret.Name, want[i].Name)
		}
	}
	if all[2].Store.ID() != "second" {
		t.Errorf("AllSecrets()[2].Store = %s, want second", all[2].Store.ID())
	}

	if s, ok := list.Lookup("second"); !ok || s != second {
		t.Error("Lookup(second) did not return the registered store")
	}
	if _, ok := list.Lookup("third"); ok {
		t.Error("Lookup(third) ok = true, want false")
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(ReloadEvent{StoreID: "keyring:secretagent", Source: "test"})

	for i, ch := range []<-chan ReloadEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.StoreID != "keyring:secretagent" || ev.AllStores() {
				t.Errorf("subscriber %d got %+v", i, ev)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}

	cancel1()
	cancel1()
	if _, ok := <-ch1; ok {
		t.Error("channel still open after unsubscribe")
	}

	// Publishing to a full subscriber must not block.
	for i := 0; i < subscriberBuffer*2; i++ {
		b.Publish(ReloadEvent{})
	}
	if len(ch2) != subscriberBuffer {
		t.Errorf("len(ch2) = %d, want %d", len(ch2), subscriberBuffer)
	}
}

func TestParseAuthenticationRequirement(t *testing.T) {
	tests := []struct {
		in      string
		want    AuthenticationRequirement
		wantErr bool
	}{
		{"", AuthenticationNone, false},
		{"none", AuthenticationNone, false},
		{"presence-required", PresenceRequired, false},
		{"biometry", BiometryPinned, false},
		{"unknown", AuthenticationUnknown, false},
		{"pin", AuthenticationUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAuthenticationRequirement(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAuthenticationRequirement() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAuthenticationRequirement() = %s, want %s", got, tt.want)
			}
			if !tt.wantErr && got.Interactive() != (got != AuthenticationNone) {
				t.Errorf("Interactive() = %v for %s", got.Interactive(), got)
			}
		})
	}
}

func TestZeroize(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	zeroize(b)
	if !bytes.Equal(b, make([]byte, 4)) {
		t.Errorf("zeroize() left %x", b)
	}
}
