package crypto

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	encoded := addr.String()
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode %q: %v", encoded, err)
	}
	if !decoded.Equal(addr) || decoded.Prefix() != AccountPrefix {
		t.Fatalf("round trip mismatch: %s vs %s", decoded, addr)
	}
}

func TestZeroAddress(t *testing.T) {
	var zero Address
	if !zero.IsZero() || zero.String() != "" {
		t.Fatalf("expected zero address to be empty")
	}
	if !AddressFromArray(AccountPrefix, [AddressLength]byte{}).IsZero() {
		t.Fatalf("zero array should produce the zero address")
	}
	if zero.Equal(DeriveAddress([]byte("x"))) {
		t.Fatalf("zero address must not equal a derived address")
	}
}

func TestDeriveAddressIsDeterministicAndSeparated(t *testing.T) {
	a := DeriveAddress([]byte("user"), []byte("abc"))
	b := DeriveAddress([]byte("user"), []byte("abc"))
	if !a.Equal(b) {
		t.Fatalf("derivation not deterministic")
	}
	c := DeriveAddress([]byte("use"), []byte("rabc"))
	if a.Equal(c) {
		t.Fatalf("seed boundaries must affect the derived address")
	}
	if a.Prefix() != ProgramPrefix {
		t.Fatalf("expected program prefix, got %s", a.Prefix())
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "admin.keystore")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if !bytes.Equal(loaded.Bytes(), key.Bytes()) {
		t.Fatalf("loaded key mismatch")
	}
	addr, err := KeystoreAddress(path)
	if err != nil {
		t.Fatalf("keystore address: %v", err)
	}
	if !addr.Equal(key.PubKey().Address()) {
		t.Fatalf("expected %s, got %s", key.PubKey().Address(), addr)
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
