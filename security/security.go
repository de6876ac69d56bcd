// Package security provides at-rest key hashing and AES-256-GCM encryption
// for cached entries. Grounded on the teacher's security.go (hashKey/
// initEncryption/encrypt/decrypt), pulled out of the root package into a
// standalone, independently testable package and generalized to operate on
// the store.EncodeEntry wire format rather than the teacher's raw []byte.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keyLength = 32
)

// HashKey converts a cache key to its SHA-256 hash representation. Applying
// this before handing keys to a storage backend means the backend never
// sees the plaintext URL being cached.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Encryptor wraps an AES-256-GCM cipher derived from a passphrase via
// scrypt.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor derives a 32-byte key from passphrase via scrypt and builds
// an AES-256-GCM AEAD from it.
func NewEncryptor(passphrase string) (*Encryptor, error) {
	// Fixed salt: the passphrase itself is the secret; a random per-install
	// salt would need its own durable storage, which this package doesn't
	// own. Callers needing per-entry salts should derive distinct
	// passphrases upstream.
	salt := sha256.Sum256([]byte("cachekit-security-salt-v1"))
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("security: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: new gcm: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// Encrypt seals data, prepending a freshly generated nonce.
func (e *Encryptor) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens data sealed by Encrypt.
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("security: ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt: %w", err)
	}
	return plaintext, nil
}
