package security

import (
	"bytes"
	cryptorand "crypto/rand"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateChannelKey()
	if err != nil {
		t.Fatalf("GenerateChannelKey failed: %v", err)
	}

	plaintext := []byte("hello, channel")
	nonce, ciphertext, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	got, err := Decrypt(key, nonce, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key1, _ := GenerateChannelKey()
	key2, _ := GenerateChannelKey()

	nonce, ciphertext, err := Encrypt(key1, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := Decrypt(key2, nonce, ciphertext); err == nil {
		t.Error("Decrypt with wrong key should fail")
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key, _ := GenerateChannelKey()
	nonce, ciphertext, err := Encrypt(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	tampered := make([]byte, len(ciphertext))
	copy(tampered, ciphertext)
	tampered[0] ^= 0xFF

	if _, err := Decrypt(key, nonce, tampered); err == nil {
		t.Error("Decrypt of tampered ciphertext should fail")
	}
}

func TestSealOpenAnonymousRoundTrip(t *testing.T) {
	pub, priv, err := box.GenerateKey(cryptorand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	message := []byte("channel-key-bytes-go-here")
	sealed, err := SealAnonymous(pub, message)
	if err != nil {
		t.Fatalf("SealAnonymous failed: %v", err)
	}

	opened, err := OpenAnonymous(pub, priv, sealed)
	if err != nil {
		t.Fatalf("OpenAnonymous failed: %v", err)
	}
	if !bytes.Equal(opened, message) {
		t.Errorf("round trip mismatch: got %q, want %q", opened, message)
	}
}

func TestOpenAnonymousWrongRecipientFails(t *testing.T) {
	pub1, _, err := box.GenerateKey(cryptorand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	pub2, priv2, err := box.GenerateKey(cryptorand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	sealed, err := SealAnonymous(pub1, []byte("for recipient 1 only"))
	if err != nil {
		t.Fatalf("SealAnonymous failed: %v", err)
	}

	if _, err := OpenAnonymous(pub2, priv2, sealed); err == nil {
		t.Error("OpenAnonymous with the wrong keypair should fail")
	}
}
