package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestRoundTrip(t *testing.T) {
	enc, err := NewAESGCM(testKey())
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	sealed, err := enc.Encrypt("s3cret-password")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if sealed == "s3cret-password" {
		t.Fatalf("ciphertext must differ from plaintext")
	}
	plain, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "s3cret-password" {
		t.Fatalf("expected round trip, got %q", plain)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc, _ := NewAESGCM(testKey())
	sealed, _ := enc.Encrypt("password")
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	if _, err := enc.Decrypt(base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Fatalf("tampered ciphertext must not decrypt")
	}
}

func TestKeySizeEnforced(t *testing.T) {
	if _, err := NewAESGCM([]byte("short")); err == nil {
		t.Fatalf("expected key size error")
	}
}

func TestKeyFromString(t *testing.T) {
	raw := string(testKey())
	key, err := KeyFromString(raw)
	if err != nil || len(key) != 32 {
		t.Fatalf("raw key: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(testKey())
	key, err = KeyFromString(encoded)
	if err != nil || string(key) != raw {
		t.Fatalf("base64 key: %v", err)
	}
	if _, err := KeyFromString(strings.Repeat("x", 10)); err == nil {
		t.Fatalf("expected error for bad key")
	}
}
