package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSignHashRecoversAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := Keccak256([]byte("price payload"))
	sig, err := key.SignHash(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	addr, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !addr.Equal(key.PubKey().Address()) {
		t.Fatalf("recovered %s, want %s", addr, key.PubKey().Address())
	}

	other := Keccak256([]byte("tampered"))
	tampered, err := RecoverAddress(other, sig)
	if err == nil && tampered.Equal(addr) {
		t.Fatalf("signature verified against a different digest")
	}
	if _, err := RecoverAddress(digest, sig[:64]); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for short signature, got %v", err)
	}
}

func TestAddressBech32RoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := key.PubKey().Address()
	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %s vs %s", decoded, addr)
	}
	if _, err := NewAddress(AuthorityPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected short address to be rejected")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "authority.keystore")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.PubKey().Address().Equal(key.PubKey().Address()) {
		t.Fatalf("loaded key does not match saved key")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}

func TestLoadOrCreateKeystore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "authority.keystore")
	created, fresh, err := LoadOrCreateKeystore(path, "secret")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !fresh {
		t.Fatalf("expected a new key on first call")
	}
	loaded, fresh, err := LoadOrCreateKeystore(path, "secret")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh {
		t.Fatalf("expected the existing key to be reused")
	}
	if !loaded.PubKey().Address().Equal(created.PubKey().Address()) {
		t.Fatalf("reloaded key differs from created key")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("unexpected keystore permissions %o", perm)
	}
}
