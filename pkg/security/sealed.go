package security

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// SealAnonymous encrypts message to recipientPublicKey using an ephemeral,
// throwaway sender keypair generated fresh for this call. The result carries
// no trace of who sealed it — exactly the property invite envelopes need:
// anyone with a recipient's encryption public key can seal a key for them,
// but only that recipient can open it.
func SealAnonymous(recipientPublicKey *[32]byte, message []byte) ([]byte, error) {
	sealed, err := box.SealAnonymous(nil, message, recipientPublicKey, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("security: seal anonymous: %w", err)
	}
	return sealed, nil
}

// OpenAnonymous decrypts a box produced by SealAnonymous using the
// recipient's full keypair. A failure here means the envelope was not
// addressed to this identity, or was corrupted in transit; callers treat it
// as a silent drop, not an error surfaced to the user.
func OpenAnonymous(recipientPublicKey, recipientPrivateKey *[32]byte, sealed []byte) ([]byte, error) {
	message, ok := box.OpenAnonymous(nil, sealed, recipientPublicKey, recipientPrivateKey)
	if !ok {
		return nil, fmt.Errorf("security: open anonymous: authentication failed")
	}
	return message, nil
}
