// Package security implements the symmetric and sealed-envelope primitives
// private channels use: XChaCha20-Poly1305 for message content, and
// anonymous-sender NaCl boxes for distributing channel keys via invites.
package security

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length in bytes of a channel's symmetric content key.
const KeySize = chacha20poly1305.KeySize // 32

// GenerateChannelKey produces a fresh random 256-bit key for a new private
// channel.
func GenerateChannelKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("security: generate channel key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under key using XChaCha20-Poly1305 with a random
// nonce. It returns the nonce and ciphertext separately, matching the wire
// envelope's "content" (ciphertext) and "nonce" fields (§6 message schema).
func Encrypt(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("security: init aead: %w", err)
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("security: generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// Decrypt opens a ciphertext produced by Encrypt. A failure here (wrong key,
// tampered ciphertext, mismatched nonce) always means the caller silently
// drops the message rather than raising an error to the user — per §7, a
// private-channel message that fails to decrypt is simply not ours to read.
func Decrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("security: init aead: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("security: bad nonce length %d", len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: open failed: %w", err)
	}
	return plaintext, nil
}
