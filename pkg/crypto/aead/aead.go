// Package aead provides the one-shot authenticated encryption envelope
// used to key every session: ChaCha20-Poly1305 over a 32-byte key,
// producing nonce‖ciphertext on the wire.
package aead

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/umbra-chat/umbra/pkg/umbraerr"
)

const (
	// KeySize is the required symmetric key length.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the random nonce length prepended to every ciphertext.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the Poly1305 authentication tag length appended by Seal.
	TagSize = 16
	// Overhead is the total bytes added to the plaintext by Seal.
	Overhead = NonceSize + TagSize
)

// Seal encrypts plaintext under key, returning nonce‖ciphertext. The
// nonce is fresh and random for every call.
func Seal(key [KeySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", umbraerr.ErrInvalidKeyLength, err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce generation: %v", umbraerr.ErrEncryption, err)
	}

	out := aead.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

// Open decrypts a nonce‖ciphertext envelope produced by Seal. It fails
// with ErrDecryption if the input is too short, the tag is invalid, or
// the key is wrong.
//
// The returned plaintext is a plain []byte, not a zeroizing container;
// callers that need the latter must wipe it themselves. The teacher's
// own symmetric package returns plaintext the same way.
func Open(key [KeySize]byte, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", umbraerr.ErrInvalidKeyLength, err)
	}

	if len(sealed) < NonceSize {
		return nil, fmt.Errorf("%w: envelope shorter than nonce", umbraerr.ErrDecryption)
	}

	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", umbraerr.ErrDecryption, err)
	}

	return plaintext, nil
}

// SealWithKey accepts a variable-length key slice, validating it is
// exactly KeySize bytes before sealing.
func SealWithKey(key []byte, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", umbraerr.ErrInvalidKeyLength, len(key), KeySize)
	}
	var k [KeySize]byte
	copy(k[:], key)
	return Seal(k, plaintext)
}

// OpenWithKey accepts a variable-length key slice, validating it is
// exactly KeySize bytes before opening.
func OpenWithKey(key []byte, sealed []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", umbraerr.ErrInvalidKeyLength, len(key), KeySize)
	}
	var k [KeySize]byte
	copy(k[:], key)
	return Open(k, sealed)
}
