package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Cipher seals and opens opaque blobs stored outside the ledger
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryption handles AES-256-GCM encryption of record blobs
type AESEncryption struct {
	aead cipher.AEAD
}

// NewAESEncryption derives a 256-bit key from passphrase
func NewAESEncryption(passphrase string) (*AESEncryption, error) {
	if passphrase == "" {
		return nil, errors.New("encryption key is required")
	}
	key := sha256.Sum256([]byte(passphrase))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher block: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESEncryption{aead: gcm}, nil
}

// Encrypt seals plaintext, prefixing the random nonce
func (a *AESEncryption) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return a.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt
func (a *AESEncryption) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := a.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := a.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// Plaintext is a Cipher that stores blobs unchanged
type Plaintext struct{}

func (Plaintext) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (Plaintext) Decrypt(c []byte) ([]byte, error) { return c, nil }

// HashData returns the hex SHA-256 digest of data
func HashData(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
