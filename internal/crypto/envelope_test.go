package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func encryptFor(t *testing.T, key *rsa.PrivateKey, plaintext string) string {
	t.Helper()
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, &key.PublicKey, []byte(plaintext), nil)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(ct)
}

func TestDecryptBodyRoundTrip(t *testing.T) {
	key := testKey(t)
	encrypted := encryptFor(t, key, "meet at noon")

	got := DecryptBody(encrypted, "", true, false, key, nil)
	if got != "meet at noon" {
		t.Errorf("DecryptBody = %q, want original plaintext", got)
	}
}

func TestDecryptBodySelfAuthoredBypass(t *testing.T) {
	key := testKey(t)
	encrypted := encryptFor(t, key, "secret")

	// The author already holds the plaintext; no decryption happens even
	// though ciphertext is present.
	got := DecryptBody(encrypted, "secret", true, true, key, nil)
	if got != "secret" {
		t.Errorf("DecryptBody = %q, want plaintext passthrough", got)
	}
}

func TestDecryptBodyNonConfidentialBypass(t *testing.T) {
	got := DecryptBody("", "hello group", false, false, nil, nil)
	if got != "hello group" {
		t.Errorf("DecryptBody = %q, want plaintext passthrough", got)
	}
}

func TestDecryptBodyMissingKeyFallsBack(t *testing.T) {
	if got := DecryptBody("Y2lwaGVy", "", true, false, nil, nil); got != "Y2lwaGVy" {
		t.Errorf("got %q, want ciphertext shown as text when key is absent", got)
	}
	if got := DecryptBody("", "plain", true, false, nil, nil); got != "plain" {
		t.Errorf("got %q, want plaintext fallback when ciphertext is absent", got)
	}
}

func TestDecryptBodyWrongKeySentinel(t *testing.T) {
	sender := testKey(t)
	eavesdropper := testKey(t)
	encrypted := encryptFor(t, sender, "for your eyes only")

	got := DecryptBody(encrypted, "", true, false, eavesdropper, nil)
	if got != FailedSentinel {
		t.Errorf("DecryptBody = %q, want %q for wrong key", got, FailedSentinel)
	}
}

func TestDecryptBodyCorruptCiphertextSentinel(t *testing.T) {
	key := testKey(t)
	if got := DecryptBody("!!not-base64!!", "", true, false, key, nil); got != FailedSentinel {
		t.Errorf("got %q, want sentinel for malformed base64", got)
	}
	if got := DecryptBody(base64.StdEncoding.EncodeToString([]byte("junk")), "", true, false, key, nil); got != FailedSentinel {
		t.Errorf("got %q, want sentinel for corrupt ciphertext", got)
	}
}

func TestParsePrivateKeyPKCS1(t *testing.T) {
	key := testKey(t)
	pemText := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))

	parsed, err := ParsePrivateKey(pemText)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.N.Cmp(key.N) != 0 {
		t.Error("parsed key does not match original")
	}
}

func TestParsePrivateKeyPKCS8(t *testing.T) {
	key := testKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	parsed, err := ParsePrivateKey(pemText)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.N.Cmp(key.N) != 0 {
		t.Error("parsed key does not match original")
	}
}

func TestParsePrivateKeyGarbage(t *testing.T) {
	if _, err := ParsePrivateKey("not a key"); err == nil {
		t.Error("expected error for non-PEM input")
	}
}
