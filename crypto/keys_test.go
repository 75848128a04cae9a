package crypto

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Raw() != addr.Raw() {
		t.Fatalf("round trip mismatch: %x != %x", decoded.Raw(), addr.Raw())
	}
	if decoded.Prefix() != POWPrefix {
		t.Fatalf("unexpected prefix %s", decoded.Prefix())
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "not-an-address", "pow1qqqq"} {
		if _, err := DecodeAddress(input); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected ErrInvalidAddress for %q, got %v", input, err)
		}
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	foreign := NewAddress("eth", make([]byte, AddressLength))
	if _, err := DecodeAddress(foreign.String()); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected prefix rejection, got %v", err)
	}
}

func TestDeriveAddressIsDeterministic(t *testing.T) {
	a := DeriveAddress("escrow/custody")
	b := DeriveAddress("escrow/custody")
	c := DeriveAddress("escrow/other")
	if a.Raw() != b.Raw() {
		t.Fatalf("derived addresses differ")
	}
	if a.Raw() == c.Raw() {
		t.Fatalf("different labels produced the same address")
	}
	if a.IsZero() {
		t.Fatalf("derived address should not be zero")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "worker.json")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address().Raw() != key.PubKey().Address().Raw() {
		t.Fatalf("loaded key does not match")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
