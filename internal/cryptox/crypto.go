// Package cryptox seals small secrets (private cross-signing keys, the backup
// recovery key) before they are written to the store.
//
// A 32-byte key is derived from a passphrase with argon2id. Sealed values are
// base64(nonce || AES-256-GCM ciphertext) so they fit the TEXT columns that
// hold the plain values when no passphrase is configured.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/shared"
	"golang.org/x/crypto/argon2"
)

const (
	KeySize  = 32
	SaltSize = 16
)

var ErrSealedValue = errors.New("malformed sealed value")

// DeriveMasterKey stretches password with salt into a KeySize key.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// MakeVerifier returns a value that identifies masterKey without revealing it.
// It is stored next to the salt to detect a wrong passphrase on open.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// CheckVerifier reports whether masterKey matches a stored verifier.
func CheckVerifier(masterKey, verifier []byte) bool {
	return subtle.ConstantTimeCompare(MakeVerifier(masterKey), verifier) == 1
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with key and encodes the result as a string.
func Seal(plaintext string, key []byte) (string, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}

	nonce, err := shared.RandomBytes(aesgcm.NonceSize())
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := aesgcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func Open(sealed string, key []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedValue, err)
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}

	ns := aesgcm.NonceSize()
	if len(raw) < ns {
		return "", ErrSealedValue
	}

	plaintext, err := aesgcm.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed value: %w", err)
	}
	return string(plaintext), nil
}
